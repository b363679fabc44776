package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BITBCI/EmoSense/internal/frame"
	"github.com/BITBCI/EmoSense/internal/monitoring"
	"github.com/BITBCI/EmoSense/internal/timeutil"
)

// simBatchPeriod is the tick at which the sim source releases batches.
// Batch size is derived from the generator's sample rate so the average
// throughput matches live acquisition.
const simBatchPeriod = 20 * time.Millisecond

// SampleGenerator produces batches of synthetic, pre-timestamped
// samples. Implemented by the waveform generator; defined here so the
// stream package stays independent of how the waves are made.
type SampleGenerator interface {
	// Next returns the next n samples in sequence.
	Next(n int) []frame.Sample
	// SampleRate reports the generator's rate in Hz.
	SampleRate() float64
}

// SimSource runs a sample generator on a ticker, emitting synthetic
// samples with self-supplied uniform timestamps. It satisfies Source so
// the pipeline treats it exactly like a live connection.
type SimSource struct {
	gen   SampleGenerator
	clock timeutil.Clock
	out   chan frame.Sample

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
	stopped bool
}

// NewSimSource wraps a generator.
func NewSimSource(gen SampleGenerator, clock timeutil.Clock) *SimSource {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &SimSource{
		gen:   gen,
		clock: clock,
		out:   make(chan frame.Sample, sampleChannelDepth),
	}
}

// Start launches the generator loop. It may be called once.
func (s *SimSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("sim source already started")
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
	return nil
}

func (s *SimSource) run(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.out)

	batch := int(s.gen.SampleRate() * simBatchPeriod.Seconds())
	if batch < 1 {
		batch = 1
	}
	monitoring.Logf("stream: sim source started at %.0f Hz", s.gen.SampleRate())

	ticker := s.clock.NewTicker(simBatchPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			for _, sample := range s.gen.Next(batch) {
				select {
				case s.out <- sample:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// Name identifies the synthetic connection.
func (s *SimSource) Name() string { return "sim" }

// Hardware is false: synthetic samples are already in display units.
func (s *SimSource) Hardware() bool { return false }

// Samples returns the synthetic sample channel.
func (s *SimSource) Samples() <-chan frame.Sample { return s.out }

// Err always returns nil; the generator cannot fault.
func (s *SimSource) Err() error { return nil }

// Stop cancels the loop and joins the goroutine.
func (s *SimSource) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.wg.Wait()
		return
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}
