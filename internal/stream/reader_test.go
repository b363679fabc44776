package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BITBCI/EmoSense/internal/frame"
	"github.com/BITBCI/EmoSense/internal/timeutil"
)

// scriptTransport replays a fixed sequence of read results, then EOF.
type scriptTransport struct {
	mu     sync.Mutex
	chunks [][]byte
	pos    int
	closed bool
}

func (t *scriptTransport) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, io.ErrClosedPipe
	}
	if t.pos >= len(t.chunks) {
		return 0, io.EOF
	}
	n := copy(p, t.chunks[t.pos])
	t.pos++
	return n, nil
}

func (t *scriptTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// failTransport yields one frame then a permanent device fault.
type failTransport struct {
	served bool
	frame  []byte
	errOut error
}

func (t *failTransport) Read(p []byte) (int, error) {
	if !t.served {
		t.served = true
		return copy(p, t.frame), nil
	}
	return 0, t.errOut
}

func (t *failTransport) Close() error { return nil }

// blockTransport parks Read until the transport is closed, signalling
// when the reader has entered the call.
type blockTransport struct {
	entered   chan struct{}
	release   chan struct{}
	enterOnce sync.Once
	closeOnce sync.Once
}

func newBlockTransport() *blockTransport {
	return &blockTransport{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (t *blockTransport) Read(p []byte) (int, error) {
	t.enterOnce.Do(func() { close(t.entered) })
	<-t.release
	return 0, io.ErrClosedPipe
}

func (t *blockTransport) Close() error {
	t.closeOnce.Do(func() { close(t.release) })
	return nil
}

func collectSamples(t *testing.T, src Source) []frame.Sample {
	t.Helper()
	var got []frame.Sample
	deadline := time.After(5 * time.Second)
	for {
		select {
		case s, ok := <-src.Samples():
			if !ok {
				return got
			}
			got = append(got, s)
		case <-deadline:
			t.Fatalf("Sample channel did not close; %d samples so far", len(got))
		}
	}
}

// TestReaderSplitFrames feeds two frames split across three reads and
// expects both decoded in order followed by a clean stop at EOF.
func TestReaderSplitFrames(t *testing.T) {
	f1 := frame.Encode(frame.Sample{NeuralRaw: 100})
	f2 := frame.Encode(frame.Sample{NeuralRaw: 200})
	transport := &scriptTransport{chunks: [][]byte{
		f1[:30],
		append(append([]byte{}, f1[30:]...), f2[:10]...),
		f2[10:],
	}}

	r := NewReader("test", transport, frame.NewParser(), true, timeutil.NewMockClock(time.Now()))
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	got := collectSamples(t, r)
	if len(got) != 2 {
		t.Fatalf("Expected 2 samples, got %d", len(got))
	}
	if got[0].NeuralRaw != 100 || got[1].NeuralRaw != 200 {
		t.Errorf("Samples out of order: %d, %d", got[0].NeuralRaw, got[1].NeuralRaw)
	}
	if got[0].FrameID != 1 || got[1].FrameID != 2 {
		t.Errorf("Frame IDs not sequential: %d, %d", got[0].FrameID, got[1].FrameID)
	}
	if err := r.Err(); err != nil {
		t.Errorf("Clean EOF stop reported error: %v", err)
	}
	r.Stop() // must be safe after the loop already exited
}

// TestReaderGarbageRecovery checks a noisy transport still yields every
// frame and accounts for the dropped bytes.
func TestReaderGarbageRecovery(t *testing.T) {
	f := frame.Encode(frame.Sample{NeuralRaw: 7})
	garbage := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	transport := &scriptTransport{chunks: [][]byte{
		append(append([]byte{}, garbage...), f...),
	}}

	r := NewReader("noisy", transport, frame.NewParser(), true, timeutil.NewMockClock(time.Now()))
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	got := collectSamples(t, r)
	if len(got) != 1 {
		t.Fatalf("Expected 1 sample, got %d", len(got))
	}
	if r.Discarded() != uint64(len(garbage)) {
		t.Errorf("Expected %d discarded bytes, got %d", len(garbage), r.Discarded())
	}
}

// TestReaderTransportFault verifies a device error surfaces through Err
// and closes the sample channel.
func TestReaderTransportFault(t *testing.T) {
	cause := errors.New("device unplugged")
	transport := &failTransport{
		frame:  frame.Encode(frame.Sample{NeuralRaw: 1}),
		errOut: cause,
	}

	r := NewReader("flaky", transport, frame.NewParser(), true, timeutil.NewMockClock(time.Now()))
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	got := collectSamples(t, r)
	if len(got) != 1 {
		t.Fatalf("Expected the sample read before the fault, got %d", len(got))
	}
	err := r.Err()
	if err == nil {
		t.Fatal("Transport fault not reported")
	}
	if !errors.Is(err, cause) {
		t.Errorf("Fault cause lost: %v", err)
	}
	var te *TransportError
	if !errors.As(err, &te) || te.Op != OpRead {
		t.Errorf("Fault not reported as a read transport error: %#v", err)
	}
	if !strings.Contains(err.Error(), "flaky") {
		t.Errorf("Fault does not name the source: %v", err)
	}
}

// TestReaderStopUnblocksRead stops a reader parked in a blocking read
// and expects a clean join with no error.
func TestReaderStopUnblocksRead(t *testing.T) {
	transport := newBlockTransport()
	r := NewReader("blocked", transport, frame.NewParser(), true, timeutil.NewMockClock(time.Now()))
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-transport.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("Reader never reached the transport")
	}

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not join the reader goroutine")
	}

	if _, ok := <-r.Samples(); ok {
		t.Error("Sample channel still open after Stop")
	}
	if err := r.Err(); err != nil {
		t.Errorf("Deliberate stop reported error: %v", err)
	}
	r.Stop() // idempotent
}

// TestReaderStartOnce rejects a second Start.
func TestReaderStartOnce(t *testing.T) {
	transport := &scriptTransport{}
	r := NewReader("once", transport, frame.NewParser(), true, timeutil.NewMockClock(time.Now()))
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("First Start: %v", err)
	}
	if err := r.Start(context.Background()); err == nil {
		t.Error("Second Start did not fail")
	}
	r.Stop()
}
