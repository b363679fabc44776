package uploader

import (
	"time"

	"github.com/BITBCI/EmoSense/internal/frame"
)

// Payload is the classification request body. Series are raw sample
// values; the classifier owns unit conversion so firmware gain changes
// never silently shift its inputs.
type Payload struct {
	Timestamp  string     `json:"timestamp"`
	SampleRate float64    `json:"sample_rate"`
	DataLength int        `json:"data_length"`
	EEGData    []float64  `json:"eeg_data"`
	PPGRedData []uint32   `json:"ppg_red_data"`
	PPGIRData  []uint32   `json:"ppg_ir_data"`
	IMUData    [][4]int32 `json:"imu_data"`
}

// Response is the classifier's answer for a 200 status.
type Response struct {
	Status     string         `json:"status"`
	Emotion    string         `json:"emotion"`
	Confidence float64        `json:"confidence"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

// BuildPayload flattens a sample window into the request shape.
func BuildPayload(samples []frame.Sample, sampleRate float64, now time.Time) Payload {
	p := Payload{
		Timestamp:  now.Format(time.RFC3339Nano),
		SampleRate: sampleRate,
		DataLength: len(samples),
		EEGData:    make([]float64, len(samples)),
		PPGRedData: make([]uint32, len(samples)),
		PPGIRData:  make([]uint32, len(samples)),
		IMUData:    make([][4]int32, len(samples)),
	}
	for i, s := range samples {
		p.EEGData[i] = float64(s.NeuralRaw)
		p.PPGRedData[i] = s.OpticalRed
		p.PPGIRData[i] = s.OpticalIR
		p.IMUData[i] = s.Orientation
	}
	return p
}
