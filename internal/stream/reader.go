package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/BITBCI/EmoSense/internal/frame"
	"github.com/BITBCI/EmoSense/internal/monitoring"
	"github.com/BITBCI/EmoSense/internal/timeutil"
)

// idleSleep is how long the reader backs off when the transport has no
// bytes ready, keeping the loop cheap while a quiet device is attached.
const idleSleep = time.Millisecond

// sampleChannelDepth buffers decoded samples between the reader and the
// pipeline consumer so short consumer stalls do not stall the transport.
const sampleChannelDepth = 256

// Source is a running sample producer bound to one connection. The
// pipeline drains Samples until the channel closes (transport finished
// or failed), checks Err for the reason, and calls Stop to release the
// underlying resources.
type Source interface {
	// Name identifies the connection target (port path, "sim", or the
	// replay file).
	Name() string
	// Hardware reports whether samples carry raw ADC codes that display
	// scale factors apply to. Synthetic sources pre-scale their values.
	Hardware() bool
	// Samples is closed when the source stops producing.
	Samples() <-chan frame.Sample
	// Err returns the fault that stopped the source, or nil after a
	// clean stop or replay end-of-stream.
	Err() error
	// Stop tears the source down and waits for its goroutine to exit.
	// It is safe to call more than once.
	Stop()
}

// Reader pumps a byte transport through the synchronizer and frame
// parser, emitting decoded samples. One reader goroutine exists per
// connection and dies with it.
type Reader struct {
	name     string
	hardware bool

	transport Transport
	parser    *frame.Parser
	sync      *Synchronizer
	clock     timeutil.Clock

	out    chan frame.Sample
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	err     error
	closing bool
	started bool
}

// NewReader wraps a transport. The parser is shared with the rest of the
// pipeline so its counters stay visible; hardware marks sources whose
// samples carry raw ADC codes.
func NewReader(name string, transport Transport, parser *frame.Parser, hardware bool, clock timeutil.Clock) *Reader {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Reader{
		name:      name,
		hardware:  hardware,
		transport: transport,
		parser:    parser,
		sync:      NewSynchronizer(),
		clock:     clock,
		out:       make(chan frame.Sample, sampleChannelDepth),
	}
}

// Start launches the reader goroutine. It may be called once.
func (r *Reader) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("reader for %s already started", r.name)
	}
	r.started = true

	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.run(ctx)
	return nil
}

func (r *Reader) run(ctx context.Context) {
	defer r.wg.Done()
	defer close(r.out)

	monitoring.Logf("stream: reader started on %s", r.name)
	readBuf := make([]byte, 4096)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := r.transport.Read(readBuf)
		if n > 0 {
			r.sync.Feed(readBuf[:n])
			if !r.drain(ctx) {
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				monitoring.Logf("stream: %s reached end of stream", r.name)
				return
			}
			if r.isClosing() {
				return
			}
			r.setErr(&TransportError{Op: OpRead, Target: r.name, Err: err})
			monitoring.Logf("stream: reader on %s stopping: %v", r.name, err)
			return
		}
		if n == 0 {
			r.clock.Sleep(idleSleep)
		}
	}
}

// drain hands every complete frame in the accumulator to the parser and
// pushes the decoded samples out. Returns false if the context ended
// while a send was blocked.
func (r *Reader) drain(ctx context.Context) bool {
	for {
		raw, ok := r.sync.Next()
		if !ok {
			return true
		}
		s, err := r.parser.Parse(raw)
		if err != nil {
			// The synchronizer only emits magic-aligned 42-byte slices,
			// so a reject here is a decode fault; the parser counted it.
			continue
		}
		select {
		case r.out <- s:
		case <-ctx.Done():
			return false
		}
	}
}

// Name identifies the connection target.
func (r *Reader) Name() string { return r.name }

// Hardware reports whether display scale factors apply to this source.
func (r *Reader) Hardware() bool { return r.hardware }

// Samples returns the decoded sample channel. It closes when the reader
// stops.
func (r *Reader) Samples() <-chan frame.Sample { return r.out }

// Err returns the fault that stopped the reader, nil for a clean stop.
func (r *Reader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Stop closes the transport, cancels the loop, and joins the goroutine.
func (r *Reader) Stop() {
	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		r.wg.Wait()
		return
	}
	r.closing = true
	cancel := r.cancel
	r.mu.Unlock()

	// Closing the transport unblocks a pending Read; cancelling the
	// context unblocks a full output channel.
	r.transport.Close()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

// Discarded reports garbage bytes dropped during resynchronization.
func (r *Reader) Discarded() uint64 {
	return r.sync.Discarded()
}

func (r *Reader) isClosing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closing
}

func (r *Reader) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
}
