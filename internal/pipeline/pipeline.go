// Package pipeline owns the acquisition loop: one connected sample
// source feeding the ring buffer, periodic render snapshots for live
// consumers, and the periodic upload trigger. It is the only writer to
// the buffer and the recorder; everything else observes through
// snapshots.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/BITBCI/EmoSense/internal/buffer"
	"github.com/BITBCI/EmoSense/internal/dsp"
	"github.com/BITBCI/EmoSense/internal/frame"
	"github.com/BITBCI/EmoSense/internal/httputil"
	"github.com/BITBCI/EmoSense/internal/metrics"
	"github.com/BITBCI/EmoSense/internal/monitoring"
	"github.com/BITBCI/EmoSense/internal/record"
	"github.com/BITBCI/EmoSense/internal/simulate"
	"github.com/BITBCI/EmoSense/internal/stream"
	"github.com/BITBCI/EmoSense/internal/timeutil"
	"github.com/BITBCI/EmoSense/internal/uploader"
)

const (
	// DISPLAY_WINDOW is how much trailing signal a render snapshot
	// covers.
	DISPLAY_WINDOW = 5 * time.Second

	// DEFAULT_RENDER_INTERVAL is the snapshot cadence.
	DEFAULT_RENDER_INTERVAL = 100 * time.Millisecond

	// DEFAULT_EEG_SCALE and DEFAULT_PPG_SCALE convert hardware codes to
	// display units. Simulated and replayed sources skip them so the
	// synthetic amplitudes stay recognizable.
	DEFAULT_EEG_SCALE = 16.0
	DEFAULT_PPG_SCALE = 100.0

	// quatSmoothWindow is the moving-average width applied to the
	// de-meaned quaternion traces before display.
	quatSmoothWindow = 5
)

// Connection targets understood by Connect besides literal port names.
const (
	TARGET_SIM    = "sim"
	REPLAY_PREFIX = "replay:"
)

var (
	ErrAlreadyConnected = errors.New("a source is already connected")
	ErrNotConnected     = errors.New("no source connected")
	ErrAlreadyRecording = errors.New("a recording session is already open")
	ErrNotRecording     = errors.New("no recording session open")
)

// Options wires a Pipeline. Zero fields fall back to defaults.
type Options struct {
	SampleRate     float64
	BufferCapacity int
	BaudRate       int

	RenderInterval time.Duration
	UploadInterval time.Duration
	UploadTimeout  time.Duration
	Endpoint       string
	APIKey         string

	EEGScale  float64
	PPGScale  float64
	RecordDir string

	HTTPClient httputil.HTTPClient
	Clock      timeutil.Clock
	Metrics    *metrics.Metrics

	// OnOutcome observes every finished upload, after pipeline metrics
	// are updated. Called from the upload task goroutine.
	OnOutcome func(uploader.Outcome)
}

// active bundles everything tied to the lifetime of one connected
// source. It is replaced wholesale on connect and cleared when the
// consume loop exits.
type active struct {
	src    stream.Source
	start  func(context.Context) error
	reader *stream.Reader // nil for the simulator
	parser *frame.Parser  // nil for the simulator
	done   chan struct{}  // closed when the consume loop exits

	// Counter baselines for metric deltas, touched only by the render
	// tick under the pipeline mutex.
	framesParsed   uint64
	framesRejected uint64
	discarded      uint64
}

// Pipeline is the acquisition core. Construct with NewPipeline, call
// Start once, and Close to shut down.
type Pipeline struct {
	sampleRate     float64
	baudRate       int
	renderInterval time.Duration
	uploadInterval time.Duration
	eegScale       float64
	ppgScale       float64
	recordDir      string

	clock timeutil.Clock
	ring  *buffer.Ring
	coord *uploader.Coordinator
	met   *metrics.Metrics

	neuralFilter  *dsp.BandPassFilter
	opticalFilter *dsp.BandPassFilter

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup

	connectMu sync.Mutex // serializes Connect and Disconnect
	recordMu  sync.Mutex // serializes StartRecording and StopRecording

	mu          sync.Mutex
	active      *active
	recorder    *record.Recorder
	lastErr     string
	lastSkipped uint64
	last        *RenderSnapshot
	subs        map[int]chan RenderSnapshot
	nextSub     int
	subsClosed  bool
}

// NewPipeline builds a stopped pipeline. The band-pass filters are
// designed once here, so an unusable sample rate fails fast.
func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 500
	}
	if opts.BaudRate <= 0 {
		opts.BaudRate = stream.DEFAULT_BAUD_RATE
	}
	if opts.RenderInterval <= 0 {
		opts.RenderInterval = DEFAULT_RENDER_INTERVAL
	}
	if opts.UploadInterval <= 0 {
		opts.UploadInterval = uploader.DEFAULT_UPLOAD_INTERVAL
	}
	if opts.EEGScale <= 0 {
		opts.EEGScale = DEFAULT_EEG_SCALE
	}
	if opts.PPGScale <= 0 {
		opts.PPGScale = DEFAULT_PPG_SCALE
	}
	if opts.RecordDir == "" {
		opts.RecordDir = "."
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Metrics == nil {
		// A private registry keeps an unwired pipeline from fighting
		// over the default registerer.
		opts.Metrics = metrics.New(prometheus.NewRegistry())
	}

	neural, err := dsp.NewBandPass(dsp.NeuralBand, opts.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("design neural filter: %w", err)
	}
	optical, err := dsp.NewBandPass(dsp.OpticalBand, opts.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("design optical filter: %w", err)
	}

	p := &Pipeline{
		sampleRate:     opts.SampleRate,
		baudRate:       opts.BaudRate,
		renderInterval: opts.RenderInterval,
		uploadInterval: opts.UploadInterval,
		eegScale:       opts.EEGScale,
		ppgScale:       opts.PPGScale,
		recordDir:      opts.RecordDir,
		clock:          opts.Clock,
		met:            opts.Metrics,
		neuralFilter:   neural,
		opticalFilter:  optical,
		subs:           make(map[int]chan RenderSnapshot),
	}
	p.ring = buffer.NewRing(opts.BufferCapacity, opts.SampleRate, opts.Clock)

	done := opts.OnOutcome
	p.coord = uploader.NewCoordinator(uploader.Config{
		Endpoint: opts.Endpoint,
		APIKey:   opts.APIKey,
		Client:   opts.HTTPClient,
		Clock:    opts.Clock,
		Source:   p.ring,
		Timeout:  opts.UploadTimeout,
		OnComplete: func(o uploader.Outcome) {
			p.met.UploadFinished(o.State.String(), o.Latency.Seconds())
			if done != nil {
				done(o)
			}
		},
	})
	return p, nil
}

// Start launches the render and upload tick loop. Sources connected
// afterwards are bound to ctx, so cancelling it stops them too.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.runCtx, p.runCancel = ctx, cancel
	p.mu.Unlock()

	p.met.SetBufferCapacity(p.ring.Stats().Capacity)
	p.wg.Add(1)
	go p.run(ctx)
	monitoring.Logf("pipeline: started, render every %v, upload every %v",
		p.renderInterval, p.uploadInterval)
}

func (p *Pipeline) run(ctx context.Context) {
	defer p.wg.Done()
	render := p.clock.NewTicker(p.renderInterval)
	defer render.Stop()
	upload := p.clock.NewTicker(p.uploadInterval)
	defer upload.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-render.C():
			p.renderTick()
		case <-upload.C():
			p.uploadTick(ctx)
		}
	}
}

// Connect opens a sample source and begins consuming it. target selects
// the source: TARGET_SIM for the synthetic subject, REPLAY_PREFIX plus a
// file path for captured streams, a device path for hardware, or empty
// to auto-detect the first plausible serial port.
func (p *Pipeline) Connect(target string) error {
	p.connectMu.Lock()
	defer p.connectMu.Unlock()

	p.mu.Lock()
	connected := p.active != nil
	ctx := p.runCtx
	p.mu.Unlock()
	if connected {
		return ErrAlreadyConnected
	}
	if ctx == nil {
		ctx = context.Background()
	}

	act, err := p.openSource(target)
	if err != nil {
		return err
	}
	if err := act.start(ctx); err != nil {
		return fmt.Errorf("start source %s: %w", act.src.Name(), err)
	}

	p.mu.Lock()
	p.active = act
	p.lastErr = ""
	p.mu.Unlock()
	p.met.SetConnected(true)

	p.wg.Add(1)
	go p.consume(act)
	monitoring.Logf("pipeline: connected to %s (hardware=%v)",
		act.src.Name(), act.src.Hardware())
	return nil
}

// openSource builds, but does not start, the source for target.
func (p *Pipeline) openSource(target string) (*active, error) {
	switch {
	case target == TARGET_SIM:
		gen := simulate.NewGenerator(simulate.Config{SampleRate: p.sampleRate}, p.clock.Now())
		src := stream.NewSimSource(gen, p.clock)
		return &active{
			src:   src,
			start: src.Start,
			done:  make(chan struct{}),
		}, nil

	case strings.HasPrefix(target, REPLAY_PREFIX):
		path := strings.TrimPrefix(target, REPLAY_PREFIX)
		if path == "" {
			return nil, errors.New("replay target needs a file path")
		}
		tr, err := stream.OpenReplay(path, true, p.clock)
		if err != nil {
			return nil, err
		}
		parser := frame.NewParser()
		reader := stream.NewReader(tr.Name(), tr, parser, false, p.clock)
		return &active{
			src:    reader,
			start:  reader.Start,
			reader: reader,
			parser: parser,
			done:   make(chan struct{}),
		}, nil

	default:
		name := target
		if name == "" || name == "auto" {
			ports, err := stream.ListPorts()
			if err != nil {
				return nil, fmt.Errorf("enumerate serial ports: %w", err)
			}
			name = stream.FindPreferredPort(ports)
			if name == "" {
				return nil, errors.New("no serial port found")
			}
		}
		tr, err := stream.OpenSerial(name, stream.PortOptions{BaudRate: p.baudRate})
		if err != nil {
			return nil, err
		}
		parser := frame.NewParser()
		reader := stream.NewReader(tr.Name(), tr, parser, true, p.clock)
		return &active{
			src:    reader,
			start:  reader.Start,
			reader: reader,
			parser: parser,
			done:   make(chan struct{}),
		}, nil
	}
}

// consume is the single buffer writer: it moves every sample from the
// source into the ring and, when a session is open, the recorder.
func (p *Pipeline) consume(act *active) {
	defer p.wg.Done()
	defer close(act.done)

	for s := range act.src.Samples() {
		p.ring.Append(s)
		p.met.AddSamples(1)

		p.mu.Lock()
		rec := p.recorder
		p.mu.Unlock()
		if rec == nil {
			continue
		}
		switch err := rec.Add(s); {
		case err == nil:
			p.met.AddRecordedSamples(1)
		case errors.Is(err, record.ErrStopped):
			// Session closed between the lookup and the write; the
			// next sample sees the cleared recorder.
		default:
			monitoring.Logf("pipeline: recording halted: %v", err)
			p.dropRecorder(rec)
		}
	}
	p.sourceGone(act)
}

// sourceGone clears the active source once its sample channel closes,
// whether from Disconnect or a transport fault.
func (p *Pipeline) sourceGone(act *active) {
	if err := act.src.Err(); err != nil {
		monitoring.Logf("pipeline: source %s failed: %v", act.src.Name(), err)
		p.mu.Lock()
		p.lastErr = err.Error()
		p.mu.Unlock()
	}
	p.syncSourceCounters(act)

	p.mu.Lock()
	if p.active == act {
		p.active = nil
	}
	p.mu.Unlock()
	p.met.SetConnected(false)
}

// Disconnect stops the connected source and waits for the consume loop
// to drain. An open recording session stays open; only sample flow
// stops.
func (p *Pipeline) Disconnect() error {
	p.connectMu.Lock()
	defer p.connectMu.Unlock()

	p.mu.Lock()
	act := p.active
	p.mu.Unlock()
	if act == nil {
		return ErrNotConnected
	}

	act.src.Stop()
	<-act.done
	monitoring.Logf("pipeline: disconnected from %s", act.src.Name())
	return nil
}

func (p *Pipeline) uploadTick(ctx context.Context) {
	p.coord.TryUpload(ctx)

	snap := p.coord.Snapshot()
	p.mu.Lock()
	skipped := snap.Skipped - p.lastSkipped
	p.lastSkipped = snap.Skipped
	p.mu.Unlock()
	for i := uint64(0); i < skipped; i++ {
		p.met.UploadSkipped()
	}
}

// syncSourceCounters publishes parser and resync counter growth since
// the last call as metric increments.
func (p *Pipeline) syncSourceCounters(act *active) {
	if act == nil || act.parser == nil {
		return
	}
	st := act.parser.Stats()
	disc := act.reader.Discarded()

	p.mu.Lock()
	parsed := st.FramesParsed - act.framesParsed
	rejected := st.FramesRejected - act.framesRejected
	discarded := disc - act.discarded
	act.framesParsed = st.FramesParsed
	act.framesRejected = st.FramesRejected
	act.discarded = disc
	p.mu.Unlock()

	p.met.AddFramesParsed(parsed)
	p.met.AddFramesRejected(rejected)
	p.met.AddBytesDiscarded(discarded)
}

// Uploader exposes the upload coordinator for enable/disable control.
func (p *Pipeline) Uploader() *uploader.Coordinator { return p.coord }

// Buffer exposes the sample ring for read-side consumers.
func (p *Pipeline) Buffer() *buffer.Ring { return p.ring }

// Status is the pipeline's externally visible state, shaped for the
// status API.
type Status struct {
	Connected  bool         `json:"connected"`
	Source     string       `json:"source,omitempty"`
	Hardware   bool         `json:"hardware"`
	SampleRate float64      `json:"sample_rate"`
	Parser     *frame.Stats `json:"parser,omitempty"`
	Discarded  uint64       `json:"sync_discarded,omitempty"`
	LastError  string       `json:"last_error,omitempty"`

	Buffer   buffer.Stats      `json:"buffer"`
	Uploader uploader.Snapshot `json:"uploader"`

	Recording   bool   `json:"recording"`
	RecordingID string `json:"recording_id,omitempty"`
	RecordPath  string `json:"record_path,omitempty"`
	RecordCount int64  `json:"record_count,omitempty"`

	HeartRate float64 `json:"heart_rate_bpm"`
}

// Status reports the current pipeline state.
func (p *Pipeline) Status() Status {
	st := Status{
		SampleRate: p.ring.SampleRate(),
		Buffer:     p.ring.Stats(),
		Uploader:   p.coord.Snapshot(),
	}

	p.mu.Lock()
	st.LastError = p.lastErr
	if p.active != nil {
		st.Connected = true
		st.Source = p.active.src.Name()
		st.Hardware = p.active.src.Hardware()
		if p.active.parser != nil {
			ps := p.active.parser.Stats()
			st.Parser = &ps
			st.Discarded = p.active.reader.Discarded()
		}
	}
	if p.recorder != nil {
		st.Recording = true
		st.RecordingID = p.recorder.ID().String()
		st.RecordPath = p.recorder.Path()
		st.RecordCount = p.recorder.Count()
	}
	if p.last != nil {
		st.HeartRate = p.last.HeartRate
	}
	p.mu.Unlock()
	return st
}

// Close shuts the pipeline down: recording first so the session file is
// complete, then the source, then the tick loop, and finally any
// in-flight upload.
func (p *Pipeline) Close() {
	if _, err := p.StopRecording(); err != nil && !errors.Is(err, ErrNotRecording) {
		monitoring.Logf("pipeline: stop recording on close: %v", err)
	}
	if err := p.Disconnect(); err != nil && !errors.Is(err, ErrNotConnected) {
		monitoring.Logf("pipeline: disconnect on close: %v", err)
	}

	p.mu.Lock()
	cancel := p.runCancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()

	p.coord.Disable()
	p.coord.WaitInFlight()

	p.mu.Lock()
	p.subsClosed = true
	for id, ch := range p.subs {
		close(ch)
		delete(p.subs, id)
	}
	p.mu.Unlock()
	monitoring.Logf("pipeline: closed")
}
