// Package stream recovers frame boundaries from raw transport bytes and
// runs the per-connection reader that turns a byte transport into a
// channel of decoded samples. Transports are serial ports, raw capture
// replays, or the synthetic generator; all connection flavors end up as
// the same Source seen by the pipeline.
package stream

import (
	"bytes"
	"sync/atomic"

	"github.com/BITBCI/EmoSense/internal/frame"
)

// magic is the frame preamble scanned for during resynchronization.
var magic = frame.Header()

// Synchronizer accumulates raw bytes and recovers aligned frames. The
// wire has no length or checksum fields, so alignment relies entirely on
// the header magic: bytes before the first magic are garbage (or the
// tail of a frame we joined mid-way) and are discarded. When no magic is
// visible the accumulator keeps only its last three bytes, since a
// preamble may be split across reads.
//
// Synchronizer is not safe for concurrent use; each reader owns one.
// The discard counter alone is atomic so status reads can sample it
// while the reader is running.
type Synchronizer struct {
	buf       []byte
	discarded atomic.Uint64
}

// NewSynchronizer returns an empty synchronizer.
func NewSynchronizer() *Synchronizer {
	return &Synchronizer{buf: make([]byte, 0, 4*frame.FRAME_SIZE)}
}

// Feed appends newly received bytes to the accumulator.
func (s *Synchronizer) Feed(p []byte) {
	s.buf = append(s.buf, p...)
}

// Next extracts the next aligned frame, if one is complete. The returned
// slice is a copy and stays valid across further Feed calls. It returns
// false when more bytes are needed.
func (s *Synchronizer) Next() ([]byte, bool) {
	for len(s.buf) >= frame.FRAME_SIZE {
		start := bytes.Index(s.buf, magic)
		if start == -1 {
			// No preamble anywhere. Keep the last three bytes in case
			// they are the beginning of one split across reads.
			keep := frame.HEADER_SIZE - 1
			s.discarded.Add(uint64(len(s.buf) - keep))
			copy(s.buf, s.buf[len(s.buf)-keep:])
			s.buf = s.buf[:keep]
			return nil, false
		}
		if start > 0 {
			s.discarded.Add(uint64(start))
			s.buf = append(s.buf[:0], s.buf[start:]...)
		}
		if len(s.buf) < frame.FRAME_SIZE {
			return nil, false
		}

		out := make([]byte, frame.FRAME_SIZE)
		copy(out, s.buf[:frame.FRAME_SIZE])
		s.buf = append(s.buf[:0], s.buf[frame.FRAME_SIZE:]...)
		return out, true
	}
	return nil, false
}

// Pending returns the number of buffered bytes not yet framed.
func (s *Synchronizer) Pending() int {
	return len(s.buf)
}

// Discarded returns the cumulative count of garbage bytes dropped during
// resynchronization.
func (s *Synchronizer) Discarded() uint64 {
	return s.discarded.Load()
}

// Reset drops the accumulator and counters.
func (s *Synchronizer) Reset() {
	s.buf = s.buf[:0]
	s.discarded.Store(0)
}
