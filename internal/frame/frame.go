package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

/*
EmoSense Acquisition Frame Parser

The headset MCU emits a fixed-size 42-byte frame for every acquisition tick.
Frames carry one sample each from the high-gain neural ADC, the MCU's two
auxiliary ADC channels, both optical (red / infrared) channels, and the
motion coprocessor's orientation quaternion.

FRAME STRUCTURE (42 bytes total):
├── Header   (bytes  0-3)  - fixed magic AB CD 11 26
├── Neural   (bytes  4-5)  - high-gain ADC sample, uint16 big-endian
├── AuxADC0  (bytes  6-7)  - MCU ADC channel 0, uint16 big-endian
├── Reserved (bytes  8-9)
├── AuxADC1  (bytes 10-11) - MCU ADC channel 1, uint16 big-endian
├── Reserved (bytes 12-19)
├── Red      (bytes 20-22) - optical red channel, uint24 MSB first
├── IR       (bytes 23-25) - optical infrared channel, uint24 MSB first
└── Motion   (bytes 26-41) - orientation quaternion, 4 × int32 big-endian

There is no checksum or length field on the wire: the header magic is the
only framing signal, and the stream synchronizer relies on it to recover
frame boundaries after garbage or a partial read. The reserved gaps are
emitted as zero by current firmware and ignored on decode.

All multi-byte fields are big-endian. The uint24 optical fields are
assembled by shifting the three bytes MSB-first; they occupy the low 24
bits of a uint32 and are never sign-extended.
*/

// Wire format constants for the 42-byte acquisition frame.
const (
	FRAME_SIZE  = 42 // Fixed frame length in bytes; anything else is rejected
	HEADER_SIZE = 4  // Magic preamble size (AB CD 11 26)

	OFFSET_NEURAL = 4  // Bytes 4-5: high-gain neural ADC sample (uint16, big-endian)
	OFFSET_AUX0   = 6  // Bytes 6-7: auxiliary MCU ADC channel 0 (uint16, big-endian)
	OFFSET_AUX1   = 10 // Bytes 10-11: auxiliary MCU ADC channel 1 (uint16, big-endian)
	OFFSET_RED    = 20 // Bytes 20-22: optical red channel (uint24, MSB first)
	OFFSET_IR     = 23 // Bytes 23-25: optical infrared channel (uint24, MSB first)
	OFFSET_MOTION = 26 // Bytes 26-41: orientation quaternion (4 × int32, big-endian)

	MOTION_AXES       = 4 // Quaternion components per frame (q0..q3)
	BYTES_PER_AXIS    = 4 // One int32 per quaternion component
	MOTION_FIELD_SIZE = MOTION_AXES * BYTES_PER_AXIS
)

// headerMagic is the fixed 4-byte preamble that starts every frame.
var headerMagic = []byte{0xAB, 0xCD, 0x11, 0x26}

// Header returns a copy of the frame magic. Callers that scan byte streams
// for frame boundaries should use this rather than hardcoding the preamble.
func Header() []byte {
	h := make([]byte, HEADER_SIZE)
	copy(h, headerMagic)
	return h
}

// Sentinel errors distinguishing the reject reasons a frame can hit.
// Callers match with errors.Is; the wrapped message carries the detail.
var (
	ErrLengthMismatch = errors.New("frame length mismatch")
	ErrHeaderMismatch = errors.New("frame header mismatch")
	ErrDecode         = errors.New("frame decode fault")
)

// Sample is one decoded acquisition frame. FrameID is assigned locally by
// the parser in arrival order; the wire carries no sequence number.
// Timestamp is zero for hardware frames (the MCU has no clock) and is
// synthesised downstream; simulated and replayed sources fill it in.
type Sample struct {
	FrameID     uint32    `json:"frame_id"`
	Timestamp   time.Time `json:"timestamp"`
	NeuralRaw   uint16    `json:"neural_raw"`
	AuxADC0     uint16    `json:"aux_adc0"`
	AuxADC1     uint16    `json:"aux_adc1"`
	OpticalRed  uint32    `json:"optical_red"`
	OpticalIR   uint32    `json:"optical_ir"`
	Orientation [4]int32  `json:"orientation"`
}

// Stats is a snapshot of the parser's cumulative counters.
type Stats struct {
	FramesParsed   uint64  `json:"frames_parsed"`
	FramesRejected uint64  `json:"frames_rejected"`
	SuccessRate    float64 `json:"success_rate"`
}

// Parser decodes wire frames into Samples and tracks cumulative
// parse/reject counters. Parse is called from a single reader goroutine;
// the counters are atomic so Stats can be read concurrently by the API.
type Parser struct {
	frameID        atomic.Uint32
	framesParsed   atomic.Uint64
	framesRejected atomic.Uint64
}

// NewParser returns a Parser with zeroed counters. The first accepted
// frame receives FrameID 1.
func NewParser() *Parser {
	return &Parser{}
}

// Parse decodes a single 42-byte wire frame. The input must be exactly one
// frame: length validation happens here, boundary recovery is the stream
// synchronizer's job. Rejected inputs increment the reject counter and
// return an error wrapping one of the sentinel reject reasons.
func (p *Parser) Parse(data []byte) (s Sample, err error) {
	if len(data) != FRAME_SIZE {
		p.framesRejected.Add(1)
		return Sample{}, fmt.Errorf("%w: got %d bytes, want %d", ErrLengthMismatch, len(data), FRAME_SIZE)
	}
	if !bytes.Equal(data[:HEADER_SIZE], headerMagic) {
		p.framesRejected.Add(1)
		return Sample{}, fmt.Errorf("%w: got % X, want % X", ErrHeaderMismatch, data[:HEADER_SIZE], headerMagic)
	}

	// Field extraction cannot fail after the length check, but firmware
	// revisions have shipped surprises before; convert any slip into a
	// counted reject instead of taking down the reader goroutine.
	defer func() {
		if r := recover(); r != nil {
			p.framesRejected.Add(1)
			s, err = Sample{}, fmt.Errorf("%w: %v", ErrDecode, r)
		}
	}()

	s = Sample{
		NeuralRaw:  binary.BigEndian.Uint16(data[OFFSET_NEURAL : OFFSET_NEURAL+2]),
		AuxADC0:    binary.BigEndian.Uint16(data[OFFSET_AUX0 : OFFSET_AUX0+2]),
		AuxADC1:    binary.BigEndian.Uint16(data[OFFSET_AUX1 : OFFSET_AUX1+2]),
		OpticalRed: uint24(data[OFFSET_RED:]),
		OpticalIR:  uint24(data[OFFSET_IR:]),
	}
	for i := 0; i < MOTION_AXES; i++ {
		off := OFFSET_MOTION + i*BYTES_PER_AXIS
		s.Orientation[i] = int32(binary.BigEndian.Uint32(data[off : off+BYTES_PER_AXIS]))
	}

	s.FrameID = p.frameID.Add(1)
	p.framesParsed.Add(1)
	return s, nil
}

// Stats returns the cumulative parse/reject counters and the derived
// success rate. The rate is 0 when nothing has been seen yet.
func (p *Parser) Stats() Stats {
	parsed := p.framesParsed.Load()
	rejected := p.framesRejected.Load()
	st := Stats{FramesParsed: parsed, FramesRejected: rejected}
	if total := parsed + rejected; total > 0 {
		st.SuccessRate = float64(parsed) / float64(total)
	}
	return st
}

// Reset zeroes the counters and the FrameID sequence so a reused parser
// starts a fresh numbering run.
func (p *Parser) Reset() {
	p.frameID.Store(0)
	p.framesParsed.Store(0)
	p.framesRejected.Store(0)
}

// uint24 assembles a 3-byte MSB-first field into the low bits of a uint32.
func uint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// AppendFrame appends the 42-byte wire encoding of s to dst and returns
// the extended slice. Reserved regions are written as zero. FrameID and
// Timestamp have no wire representation and are not encoded.
func AppendFrame(dst []byte, s Sample) []byte {
	start := len(dst)
	dst = append(dst, make([]byte, FRAME_SIZE)...)
	b := dst[start:]

	copy(b, headerMagic)
	binary.BigEndian.PutUint16(b[OFFSET_NEURAL:], s.NeuralRaw)
	binary.BigEndian.PutUint16(b[OFFSET_AUX0:], s.AuxADC0)
	binary.BigEndian.PutUint16(b[OFFSET_AUX1:], s.AuxADC1)
	putUint24(b[OFFSET_RED:], s.OpticalRed)
	putUint24(b[OFFSET_IR:], s.OpticalIR)
	for i := 0; i < MOTION_AXES; i++ {
		off := OFFSET_MOTION + i*BYTES_PER_AXIS
		binary.BigEndian.PutUint32(b[off:], uint32(s.Orientation[i]))
	}
	return dst
}

// Encode returns the 42-byte wire encoding of s in a fresh slice.
func Encode(s Sample) []byte {
	return AppendFrame(make([]byte, 0, FRAME_SIZE), s)
}

// putUint24 writes the low 24 bits of v MSB-first. Values above 0xFFFFFF
// are truncated, matching the width of the optical channels on the wire.
func putUint24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}
