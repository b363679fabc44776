package stream

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/BITBCI/EmoSense/internal/frame"
	"github.com/BITBCI/EmoSense/internal/timeutil"
)

// Replay pacing: a paced replay releases one chunk per tick, sized so
// the byte rate matches live 500 Hz acquisition (10 frames per 20 ms).
const (
	replayChunkFrames = 10
	replayChunkPeriod = 20 * time.Millisecond
)

// ReplayTransport feeds a previously captured raw byte stream through
// the normal read path, so replays exercise the same synchronizer and
// parser as live hardware. Unpaced replays return data as fast as the
// reader asks; paced replays throttle to the live byte rate. Read
// returns io.EOF once the capture is exhausted.
type ReplayTransport struct {
	name  string
	data  []byte
	paced bool
	clock timeutil.Clock

	mu     sync.Mutex
	pos    int
	closed bool
}

// OpenReplay loads the capture at path. The file is read fully up front;
// captures are bounded session recordings, not open-ended logs.
func OpenReplay(path string, paced bool, clock timeutil.Clock) (*ReplayTransport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &TransportError{Op: OpOpen, Target: path, Err: err}
	}
	if len(data) < frame.FRAME_SIZE {
		return nil, &TransportError{Op: OpOpen, Target: path,
			Err: fmt.Errorf("capture too short: %d bytes", len(data))}
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &ReplayTransport{name: path, data: data, paced: paced, clock: clock}, nil
}

// NewReplayFromBytes wraps an in-memory capture, used by tests and the
// frame generator tool.
func NewReplayFromBytes(name string, data []byte, paced bool, clock timeutil.Clock) *ReplayTransport {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &ReplayTransport{name: name, data: data, paced: paced, clock: clock}
}

// Read copies the next chunk of the capture into p.
func (t *ReplayTransport) Read(p []byte) (int, error) {
	if t.paced {
		t.clock.Sleep(replayChunkPeriod)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, io.ErrClosedPipe
	}
	if t.pos >= len(t.data) {
		return 0, io.EOF
	}

	limit := len(p)
	if t.paced && limit > replayChunkFrames*frame.FRAME_SIZE {
		limit = replayChunkFrames * frame.FRAME_SIZE
	}
	n := copy(p[:limit], t.data[t.pos:])
	t.pos += n
	return n, nil
}

// Close stops the replay; subsequent reads fail.
func (t *ReplayTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Name returns the capture path.
func (t *ReplayTransport) Name() string { return t.name }
