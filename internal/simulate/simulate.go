// Package simulate produces synthetic headset samples: an alpha-band
// EEG trace, a pulse-train PPG with systolic peak and dicrotic notch,
// and a slowly drifting orientation. The generator emits the same raw
// code ranges a real headset would, so the display, filter, and upload
// paths exercise identical math against simulated and live sources.
package simulate

import (
	"math"
	"math/rand"
	"time"

	"github.com/BITBCI/EmoSense/internal/frame"
	"github.com/BITBCI/EmoSense/internal/stream"
)

// Defaults for the synthetic subject.
const (
	DEFAULT_SAMPLE_RATE = 500 // Hz
	DEFAULT_HEART_RATE  = 70  // BPM
	DEFAULT_ALPHA_FREQ  = 10  // Hz, mid alpha band
)

// Scaling into raw code space. Neural codes are sign-folded 16-bit like
// the high-gain ADC; optical codes sit mid-range of the 24-bit ADC.
const (
	eegAmplitude     = 1200
	opticalBaseline  = 120000
	opticalAmplitude = 30000
	opticalMax       = 1<<24 - 1

	// The red LED rides higher and noisier than the infrared one.
	redGain  = 1.3
	irGain   = 0.9
	redNoise = 0.02
	irNoise  = 0.015

	orientationScale = 1 << 30
)

// Config tunes the generator. Zero fields use defaults; Seed 0 draws a
// time-based seed so repeated runs differ unless pinned.
type Config struct {
	SampleRate float64
	HeartRate  float64
	AlphaFreq  float64
	Seed       int64
}

// Generator produces sequential synthetic samples with uniform,
// self-supplied timestamps. Not safe for concurrent use; the sim source
// is its only caller.
type Generator struct {
	sampleRate float64
	heartRate  float64
	alphaFreq  float64
	step       time.Duration
	start      time.Time
	rng        *rand.Rand
	idx        int64
}

var _ stream.SampleGenerator = (*Generator)(nil)

// NewGenerator builds a generator whose first sample is stamped start.
func NewGenerator(cfg Config, start time.Time) *Generator {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DEFAULT_SAMPLE_RATE
	}
	if cfg.HeartRate <= 0 {
		cfg.HeartRate = DEFAULT_HEART_RATE
	}
	if cfg.AlphaFreq <= 0 {
		cfg.AlphaFreq = DEFAULT_ALPHA_FREQ
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{
		sampleRate: cfg.SampleRate,
		heartRate:  cfg.HeartRate,
		alphaFreq:  cfg.AlphaFreq,
		step:       time.Duration(float64(time.Second) / cfg.SampleRate),
		start:      start,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// SampleRate reports the generator's rate in Hz.
func (g *Generator) SampleRate() float64 { return g.sampleRate }

// Next returns the next n samples in sequence.
func (g *Generator) Next(n int) []frame.Sample {
	out := make([]frame.Sample, n)
	period := 60.0 / g.heartRate

	for i := range out {
		t := float64(g.idx) / g.sampleRate
		phase := math.Mod(t, period) / period
		pulse := PulseTemplate(phase)

		neural := int32(math.Round(AlphaWave(t, g.alphaFreq) * eegAmplitude))

		optical := opticalBaseline + opticalAmplitude*pulse
		red := optical*redGain + g.rng.NormFloat64()*optical*redNoise
		ir := optical*irGain + g.rng.NormFloat64()*optical*irNoise

		q := driftQuaternion(t)

		out[i] = frame.Sample{
			Timestamp:  g.start.Add(time.Duration(g.idx) * g.step),
			NeuralRaw:  uint16(neural),
			OpticalRed: clampOptical(red),
			OpticalIR:  clampOptical(ir),
			Orientation: [4]int32{
				int32(math.Round(q.Q0 * orientationScale)),
				int32(math.Round(q.Q1 * orientationScale)),
				int32(math.Round(q.Q2 * orientationScale)),
				int32(math.Round(q.Q3 * orientationScale)),
			},
		}
		g.idx++
	}
	return out
}

// PulseTemplate returns the pulse waveform at phase in [0,1): a sharp
// systolic rise, a decline, a dicrotic bump, then an exponential decay
// back to baseline. Values stay in [0,1].
func PulseTemplate(phase float64) float64 {
	switch {
	case phase < 0.15:
		s := math.Sin(phase / 0.15 * math.Pi / 2)
		return s * s
	case phase < 0.35:
		return 1.0 - (phase-0.15)/0.2*0.7
	case phase < 0.45:
		return 0.3 + 0.15*math.Sin((phase-0.35)/0.1*math.Pi)
	default:
		return 0.3 * math.Exp(-(phase-0.45)/0.3*5)
	}
}

// AlphaWave returns a synthetic EEG value at time t seconds: the alpha
// fundamental plus a second harmonic and a theta-ish undertone.
func AlphaWave(t, freq float64) float64 {
	return math.Sin(2*math.Pi*freq*t) +
		0.3*math.Sin(2*math.Pi*freq*2*t) +
		0.1*math.Sin(2*math.Pi*freq*0.5*t)
}

// driftQuaternion models a seated wearer: small roll/pitch sway and a
// very slow yaw rotation.
func driftQuaternion(t float64) frame.Quaternion {
	roll := 0.10 * math.Sin(2*math.Pi*0.05*t)
	pitch := 0.08 * math.Sin(2*math.Pi*0.03*t+1)
	yaw := 2 * math.Pi * 0.01 * t
	return quaternionFromEuler(roll, pitch, yaw)
}

func quaternionFromEuler(roll, pitch, yaw float64) frame.Quaternion {
	cr, sr := math.Cos(roll/2), math.Sin(roll/2)
	cp, sp := math.Cos(pitch/2), math.Sin(pitch/2)
	cy, sy := math.Cos(yaw/2), math.Sin(yaw/2)
	return frame.Quaternion{
		Q0: cr*cp*cy + sr*sp*sy,
		Q1: sr*cp*cy - cr*sp*sy,
		Q2: cr*sp*cy + sr*cp*sy,
		Q3: cr*cp*sy - sr*sp*cy,
	}
}

func clampOptical(v float64) uint32 {
	if v <= 0 {
		return 0
	}
	if v >= opticalMax {
		return opticalMax
	}
	return uint32(math.Round(v))
}
