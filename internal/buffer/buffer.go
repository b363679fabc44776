// Package buffer holds the bounded in-memory window of decoded samples
// that every downstream consumer (render, upload, recording, API reads)
// snapshots from. It is the single point where hardware frames, which
// carry no clock, acquire timestamps.
package buffer

import (
	"sync"
	"time"

	"github.com/BITBCI/EmoSense/internal/frame"
	"github.com/BITBCI/EmoSense/internal/timeutil"
)

// DEFAULT_CAPACITY is sized for five seconds of headset data at the
// 500 Hz acquisition rate.
const DEFAULT_CAPACITY = 2500

// Stats is a read-only snapshot of buffer occupancy and throughput.
// EstimatedRate counts samples timestamped within the last second of the
// newest sample, so it tracks the actual arrival rate rather than the
// configured one.
type Stats struct {
	Count         int           `json:"count"`
	Capacity      int           `json:"capacity"`
	TotalAppended uint64        `json:"total_appended"`
	Dropped       uint64        `json:"dropped"`
	Elapsed       time.Duration `json:"elapsed"`
	EstimatedRate float64       `json:"estimated_rate"`
}

// Ring is a bounded FIFO of samples. One writer (the pipeline consumer
// loop) appends; any number of readers snapshot. Reads always return
// copies so callers can filter and scale without holding the lock or
// racing the writer.
type Ring struct {
	mu    sync.RWMutex
	clock timeutil.Clock

	samples []frame.Sample // ring storage, len == capacity
	head    int            // index of the oldest sample
	count   int            // number of valid samples

	sampleRate float64   // Hz, used to synthesise timestamps
	anchor     time.Time // wall clock at first append, zero until then
	lastStamp  time.Time // timestamp of the most recent sample

	totalAppended uint64
	dropped       uint64
}

// NewRing returns a ring holding at most capacity samples, synthesising
// timestamps at sampleRate Hz for samples that arrive without one.
// A non-positive capacity falls back to DEFAULT_CAPACITY; a non-positive
// rate falls back to 500 Hz.
func NewRing(capacity int, sampleRate float64, clock timeutil.Clock) *Ring {
	if capacity <= 0 {
		capacity = DEFAULT_CAPACITY
	}
	if sampleRate <= 0 {
		sampleRate = 500
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Ring{
		clock:      clock,
		samples:    make([]frame.Sample, capacity),
		sampleRate: sampleRate,
	}
}

// Append inserts one sample, evicting the oldest when full. A sample with
// a zero Timestamp is stamped previous + 1/rate; the very first such
// sample anchors the series at the current wall clock. Samples that
// arrive already stamped (simulator, replay) are stored verbatim and
// also advance the anchor state so mixed streams stay monotonic.
func (r *Ring) Append(s frame.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.Timestamp.IsZero() {
		if r.anchor.IsZero() {
			r.anchor = r.clock.Now()
			s.Timestamp = r.anchor
		} else {
			s.Timestamp = r.lastStamp.Add(r.step())
		}
	} else if r.anchor.IsZero() {
		r.anchor = s.Timestamp
	}
	r.lastStamp = s.Timestamp

	if r.count == len(r.samples) {
		// Full: overwrite the oldest slot and advance the head.
		r.samples[r.head] = s
		r.head = (r.head + 1) % len(r.samples)
		r.dropped++
	} else {
		r.samples[(r.head+r.count)%len(r.samples)] = s
		r.count++
	}
	r.totalAppended++
}

func (r *Ring) step() time.Duration {
	return time.Duration(float64(time.Second) / r.sampleRate)
}

// Latest returns up to n of the newest samples in oldest-first order.
// n <= 0 returns nil.
func (r *Ring) Latest(n int) []frame.Sample {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || r.count == 0 {
		return nil
	}
	if n > r.count {
		n = r.count
	}
	out := make([]frame.Sample, n)
	start := r.count - n
	for i := 0; i < n; i++ {
		out[i] = r.samples[(r.head+start+i)%len(r.samples)]
	}
	return out
}

// All returns a copy of the entire buffered window, oldest first.
func (r *Ring) All() []frame.Sample {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.copyRangeLocked(0, r.count)
}

// Window returns the samples whose timestamps fall in [start, end],
// inclusive on both ends, oldest first.
func (r *Ring) Window(start, end time.Time) []frame.Sample {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []frame.Sample
	for i := 0; i < r.count; i++ {
		s := r.samples[(r.head+i)%len(r.samples)]
		if s.Timestamp.Before(start) || s.Timestamp.After(end) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// copyRangeLocked copies count samples starting at logical offset start.
// Callers must hold at least the read lock.
func (r *Ring) copyRangeLocked(start, count int) []frame.Sample {
	if count <= 0 {
		return nil
	}
	out := make([]frame.Sample, count)
	for i := 0; i < count; i++ {
		out[i] = r.samples[(r.head+start+i)%len(r.samples)]
	}
	return out
}

// Len returns the number of buffered samples.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Clear drops all samples and resets the timestamp anchor and counters,
// so the next hardware sample re-anchors at the wall clock of its own
// arrival.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = 0
	r.count = 0
	r.anchor = time.Time{}
	r.lastStamp = time.Time{}
	r.totalAppended = 0
	r.dropped = 0
}

// SetSampleRate changes the synthesis step for subsequent appends.
// Existing timestamps are not rewritten.
func (r *Ring) SetSampleRate(rate float64) {
	if rate <= 0 {
		return
	}
	r.mu.Lock()
	r.sampleRate = rate
	r.mu.Unlock()
}

// SampleRate returns the configured synthesis rate in Hz.
func (r *Ring) SampleRate() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sampleRate
}

// Stats reports occupancy, drop counters, elapsed span and the estimated
// arrival rate over the most recent second.
func (r *Ring) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := Stats{
		Count:         r.count,
		Capacity:      len(r.samples),
		TotalAppended: r.totalAppended,
		Dropped:       r.dropped,
	}
	if r.count == 0 {
		return st
	}

	newest := r.samples[(r.head+r.count-1)%len(r.samples)].Timestamp
	oldest := r.samples[r.head].Timestamp
	st.Elapsed = newest.Sub(oldest)

	cutoff := newest.Add(-time.Second)
	recent := 0
	for i := r.count - 1; i >= 0; i-- {
		s := r.samples[(r.head+i)%len(r.samples)]
		if s.Timestamp.Before(cutoff) {
			break
		}
		recent++
	}
	st.EstimatedRate = float64(recent)
	return st
}
