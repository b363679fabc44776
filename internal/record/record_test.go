package record

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/BITBCI/EmoSense/internal/frame"
)

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func testSample(ts time.Time, neural uint16) frame.Sample {
	return frame.Sample{
		Timestamp:   ts,
		NeuralRaw:   neural,
		OpticalRed:  200000,
		OpticalIR:   150000,
		Orientation: [4]int32{1073741824, -215827, 33114, -7},
	}
}

func TestRecorderFormat(t *testing.T) {
	var buf bytes.Buffer
	r, err := NewRecorder(nopWriteCloser{&buf}, "test.csv")
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	base := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	for i := 0; i < 3; i++ {
		s := testSample(base.Add(time.Duration(i)*2*time.Millisecond), uint16(100+i))
		if err := r.Add(s); err != nil {
			t.Fatalf("Add(%d): %v", i, err)
		}
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	records, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	if err != nil {
		t.Fatalf("parse output: %v", err)
	}
	want := [][]string{
		{"timestamp", "neural_raw", "optical_red", "optical_ir", "q0", "q1", "q2", "q3"},
		{"0.000000", "100", "200000", "150000", "1073741824", "-215827", "33114", "-7"},
		{"0.002000", "101", "200000", "150000", "1073741824", "-215827", "33114", "-7"},
		{"0.004000", "102", "200000", "150000", "1073741824", "-215827", "33114", "-7"},
	}
	if diff := cmp.Diff(want, records); diff != "" {
		t.Errorf("session rows mismatch (-want +got):\n%s", diff)
	}
}

func TestRecorderOffsetsFromFirstSample(t *testing.T) {
	var buf bytes.Buffer
	r, err := NewRecorder(nopWriteCloser{&buf}, "test.csv")
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	// The session start is the first sample's timestamp, not the time
	// the recorder was created.
	base := time.Date(2025, 3, 14, 10, 0, 5, 0, time.UTC)
	if err := r.Add(testSample(base, 1)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add(testSample(base.Add(1500*time.Millisecond), 2)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	records, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	if err != nil {
		t.Fatalf("parse output: %v", err)
	}
	if got := records[1][0]; got != "0.000000" {
		t.Errorf("first offset = %q, want 0.000000", got)
	}
	if got := records[2][0]; got != "1.500000" {
		t.Errorf("second offset = %q, want 1.500000", got)
	}
}

func TestRecorderStopped(t *testing.T) {
	var buf bytes.Buffer
	r, err := NewRecorder(nopWriteCloser{&buf}, "test.csv")
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	if err := r.Add(testSample(time.Now(), 1)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Errorf("second Stop = %v, want nil", err)
	}
	if err := r.Add(testSample(time.Now(), 2)); !errors.Is(err, ErrStopped) {
		t.Errorf("Add after Stop = %v, want ErrStopped", err)
	}
	if got := r.Count(); got != 1 {
		t.Errorf("Count = %d, want 1", got)
	}
}

func TestCreateSessionLifecycle(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	path := DefaultSessionPath(t.TempDir(), now)
	if base := filepath.Base(path); base != "data_record_20250314_092653.csv" {
		t.Fatalf("session file name = %q", base)
	}

	r, err := CreateSession(path)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if r.Path() != path {
		t.Errorf("Path = %q, want %q", r.Path(), path)
	}
	for i := 0; i < 5; i++ {
		s := testSample(now.Add(time.Duration(i)*2*time.Millisecond), uint16(i))
		if err := r.Add(s); err != nil {
			t.Fatalf("Add(%d): %v", i, err)
		}
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	rows, err := LoadCSVFile(path)
	if err != nil {
		t.Fatalf("LoadCSVFile: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("loaded %d rows, want 5", len(rows))
	}
	if rows[0].Offset != 0 {
		t.Errorf("rows[0].Offset = %v, want 0", rows[0].Offset)
	}
	if rows[4].Offset != 0.008 {
		t.Errorf("rows[4].Offset = %v, want 0.008", rows[4].Offset)
	}
	if rows[4].NeuralRaw != 4 {
		t.Errorf("rows[4].NeuralRaw = %d, want 4", rows[4].NeuralRaw)
	}
}

func TestExportCSVRoundTrip(t *testing.T) {
	base := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	samples := []frame.Sample{
		{Timestamp: base, NeuralRaw: 40000, OpticalRed: 1, OpticalIR: 2, Orientation: [4]int32{1, 2, 3, 4}},
		{Timestamp: base.Add(2 * time.Millisecond), NeuralRaw: 7, OpticalRed: 16777215, OpticalIR: 0, Orientation: [4]int32{-1, -2, -3, -4}},
	}

	var buf bytes.Buffer
	if err := ExportCSV(&buf, samples); err != nil {
		t.Fatalf("ExportCSV: %v", err)
	}
	rows, err := LoadCSV(&buf)
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}

	want := []Row{
		{Offset: 0, NeuralRaw: 40000, OpticalRed: 1, OpticalIR: 2, Orientation: [4]int32{1, 2, 3, 4}},
		{Offset: 0.002, NeuralRaw: 7, OpticalRed: 16777215, OpticalIR: 0, Orientation: [4]int32{-1, -2, -3, -4}},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestExportCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := ExportCSV(&buf, nil); err != nil {
		t.Fatalf("ExportCSV: %v", err)
	}
	if got := buf.String(); got != "timestamp,neural_raw,optical_red,optical_ir,q0,q1,q2,q3\n" {
		t.Errorf("empty export = %q", got)
	}
}

func TestExportJSONRoundTrip(t *testing.T) {
	base := time.Date(2025, 3, 14, 9, 26, 53, 123456000, time.UTC)
	samples := []frame.Sample{
		testSample(base, 100),
		testSample(base.Add(2*time.Millisecond), 101),
	}

	var buf bytes.Buffer
	if err := ExportJSON(&buf, samples); err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}

	var got []frame.Sample
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal export: %v", err)
	}
	if diff := cmp.Diff(samples, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(buf.String(), `"neural_raw": 100`) {
		t.Errorf("export missing indented field:\n%s", buf.String())
	}
}

func TestExportJSONNil(t *testing.T) {
	var buf bytes.Buffer
	if err := ExportJSON(&buf, nil); err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != "[]" {
		t.Errorf("nil export = %q, want []", got)
	}
}

func TestLoadCSVRejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"wrong header name", "time,neural_raw,optical_red,optical_ir,q0,q1,q2,q3\n"},
		{"missing columns", "timestamp,neural_raw\n"},
		{"bad offset", "timestamp,neural_raw,optical_red,optical_ir,q0,q1,q2,q3\nabc,1,2,3,4,5,6,7\n"},
		{"neural out of range", "timestamp,neural_raw,optical_red,optical_ir,q0,q1,q2,q3\n0.0,70000,2,3,4,5,6,7\n"},
		{"short row", "timestamp,neural_raw,optical_red,optical_ir,q0,q1,q2,q3\n0.0,1,2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadCSV(strings.NewReader(tt.input)); err == nil {
				t.Error("LoadCSV succeeded, want error")
			}
		})
	}
}
