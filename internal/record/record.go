// Package record persists sample sessions as CSV files and exports
// buffer snapshots. Row timestamps are seconds relative to the first
// recorded sample, with microsecond precision.
package record

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BITBCI/EmoSense/internal/frame"
	"github.com/BITBCI/EmoSense/internal/monitoring"
)

// ErrStopped is returned by Add once the session has been closed.
var ErrStopped = errors.New("recording session stopped")

// csvHeader is the session file column order. LoadCSV rejects files
// that do not start with exactly this row.
var csvHeader = []string{"timestamp", "neural_raw", "optical_red", "optical_ir", "q0", "q1", "q2", "q3"}

// Row is one loaded session sample.
type Row struct {
	Offset      float64 // seconds since session start
	NeuralRaw   uint16
	OpticalRed  uint32
	OpticalIR   uint32
	Orientation [4]int32
}

// Recorder streams samples into one session file. Add and Stop may be
// called from different goroutines.
type Recorder struct {
	id   uuid.UUID
	path string

	mu     sync.Mutex
	dst    io.WriteCloser
	w      *csv.Writer
	start  time.Time
	count  int64
	closed bool
}

// NewRecorder wraps an open destination and writes the header row.
func NewRecorder(dst io.WriteCloser, path string) (*Recorder, error) {
	r := &Recorder{
		id:   uuid.New(),
		path: path,
		dst:  dst,
		w:    csv.NewWriter(dst),
	}
	if err := r.w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("write session header: %w", err)
	}
	return r, nil
}

// CreateSession creates the session file at path and returns a ready
// Recorder.
func CreateSession(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create session file: %w", err)
	}
	r, err := NewRecorder(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	monitoring.Logf("record: session %s started at %s", r.id, path)
	return r, nil
}

// DefaultSessionPath names a session file under dir by its start time.
func DefaultSessionPath(dir string, now time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("data_record_%s.csv", now.Format("20060102_150405")))
}

// ID is the session identifier persisted alongside results.
func (r *Recorder) ID() uuid.UUID { return r.id }

// Path is the session file location.
func (r *Recorder) Path() string { return r.path }

// Count reports samples written so far.
func (r *Recorder) Count() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Add appends one sample row. The first sample pins the session start
// time all offsets are computed from.
func (r *Recorder) Add(s frame.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrStopped
	}
	if r.count == 0 {
		r.start = s.Timestamp
	}
	if err := r.w.Write(sampleRecord(s, r.start)); err != nil {
		return fmt.Errorf("write sample row: %w", err)
	}
	r.count++
	return nil
}

// Stop flushes and closes the session file. Safe to call twice.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	r.w.Flush()
	err := r.w.Error()
	if cerr := r.dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("close session %s: %w", r.path, err)
	}
	monitoring.Logf("record: session %s closed with %d samples", r.id, r.count)
	return nil
}

func sampleRecord(s frame.Sample, start time.Time) []string {
	rel := s.Timestamp.Sub(start).Seconds()
	return []string{
		strconv.FormatFloat(rel, 'f', 6, 64),
		strconv.FormatUint(uint64(s.NeuralRaw), 10),
		strconv.FormatUint(uint64(s.OpticalRed), 10),
		strconv.FormatUint(uint64(s.OpticalIR), 10),
		strconv.FormatInt(int64(s.Orientation[0]), 10),
		strconv.FormatInt(int64(s.Orientation[1]), 10),
		strconv.FormatInt(int64(s.Orientation[2]), 10),
		strconv.FormatInt(int64(s.Orientation[3]), 10),
	}
}

// ExportCSV writes a snapshot in the session format. Offsets are
// relative to the first sample in the slice.
func ExportCSV(w io.Writer, samples []frame.Sample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	var start time.Time
	if len(samples) > 0 {
		start = samples[0].Timestamp
	}
	for i, s := range samples {
		if err := cw.Write(sampleRecord(s, start)); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportJSON writes a snapshot as an indented array of samples with
// absolute timestamps.
func ExportJSON(w io.Writer, samples []frame.Sample) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if samples == nil {
		samples = []frame.Sample{}
	}
	return enc.Encode(samples)
}

// LoadCSV reads a session back from r.
func LoadCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) != len(csvHeader) {
		return nil, fmt.Errorf("header has %d columns, want %d", len(header), len(csvHeader))
	}
	for i, name := range csvHeader {
		if header[i] != name {
			return nil, fmt.Errorf("header column %d is %q, want %q", i, header[i], name)
		}
	}

	var rows []Row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row, err := parseRow(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
}

// LoadCSVFile reads the session at path.
func LoadCSVFile(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer f.Close()
	rows, err := LoadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

func parseRow(rec []string) (Row, error) {
	var row Row

	offset, err := strconv.ParseFloat(rec[0], 64)
	if err != nil {
		return row, fmt.Errorf("timestamp %q: %w", rec[0], err)
	}
	row.Offset = offset

	neural, err := strconv.ParseUint(rec[1], 10, 16)
	if err != nil {
		return row, fmt.Errorf("neural_raw %q: %w", rec[1], err)
	}
	row.NeuralRaw = uint16(neural)

	red, err := strconv.ParseUint(rec[2], 10, 32)
	if err != nil {
		return row, fmt.Errorf("optical_red %q: %w", rec[2], err)
	}
	row.OpticalRed = uint32(red)

	ir, err := strconv.ParseUint(rec[3], 10, 32)
	if err != nil {
		return row, fmt.Errorf("optical_ir %q: %w", rec[3], err)
	}
	row.OpticalIR = uint32(ir)

	for i := 0; i < 4; i++ {
		q, err := strconv.ParseInt(rec[4+i], 10, 32)
		if err != nil {
			return row, fmt.Errorf("q%d %q: %w", i, rec[4+i], err)
		}
		row.Orientation[i] = int32(q)
	}
	return row, nil
}
