package uploader

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/BITBCI/EmoSense/internal/frame"
)

func TestBuildPayload(t *testing.T) {
	samples := []frame.Sample{
		{NeuralRaw: 5, OpticalRed: 100, OpticalIR: 200, Orientation: [4]int32{1, -2, 3, -4}},
		{NeuralRaw: 6, OpticalRed: 101, OpticalIR: 201, Orientation: [4]int32{5, 6, 7, 8}},
	}
	at := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	got := BuildPayload(samples, 500, at)

	want := Payload{
		Timestamp:  "2025-03-14T09:26:53Z",
		SampleRate: 500,
		DataLength: 2,
		EEGData:    []float64{5, 6},
		PPGRedData: []uint32{100, 101},
		PPGIRData:  []uint32{200, 201},
		IMUData:    [][4]int32{{1, -2, 3, -4}, {5, 6, 7, 8}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Payload mismatch (-want +got):\n%s", diff)
	}
}

// TestPayloadWireKeys pins the JSON contract: exactly these keys, imu
// rows as four-element arrays, and empty windows as [] rather than null.
func TestPayloadWireKeys(t *testing.T) {
	p := BuildPayload([]frame.Sample{{Orientation: [4]int32{1, 2, 3, 4}}}, 500, time.Unix(0, 0).UTC())
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	keys := []string{"timestamp", "sample_rate", "data_length", "eeg_data", "ppg_red_data", "ppg_ir_data", "imu_data"}
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			t.Errorf("Missing key %q", k)
		}
	}
	if len(m) != len(keys) {
		t.Errorf("Payload has %d keys, want %d", len(m), len(keys))
	}

	var imu [][]int32
	if err := json.Unmarshal(m["imu_data"], &imu); err != nil {
		t.Fatalf("imu_data shape: %v", err)
	}
	if len(imu) != 1 || len(imu[0]) != 4 {
		t.Fatalf("imu_data = %v, want one row of four", imu)
	}

	empty, err := json.Marshal(BuildPayload(nil, 500, time.Unix(0, 0)))
	if err != nil {
		t.Fatalf("Marshal empty: %v", err)
	}
	if strings.Contains(string(empty), "null") {
		t.Errorf("Empty window marshals null series: %s", empty)
	}
}

func TestResponseDecode(t *testing.T) {
	body := `{"status":"success","emotion":"sad","confidence":0.64,` +
		`"details":{"model":"v2"},"timestamp":"2025-03-14T09:26:53Z"}`
	var r Response
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if r.Status != "success" || r.Emotion != "sad" {
		t.Errorf("Decoded %q/%q", r.Status, r.Emotion)
	}
	if r.Confidence != 0.64 {
		t.Errorf("Confidence = %v", r.Confidence)
	}
	if r.Details["model"] != "v2" {
		t.Errorf("Details = %v", r.Details)
	}
}
