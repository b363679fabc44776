// Package uploader pushes buffered sample windows to the emotion
// classification endpoint and tracks the outcome of each attempt.
//
// Uploads are single-flight: a periodic trigger that fires while a task
// is still in flight is skipped, never queued. Stopping the trigger
// does not cancel an in-flight task, and a result that lands after the
// stop is still applied.
package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BITBCI/EmoSense/internal/frame"
	"github.com/BITBCI/EmoSense/internal/httputil"
	"github.com/BITBCI/EmoSense/internal/monitoring"
	"github.com/BITBCI/EmoSense/internal/timeutil"
)

const (
	// DEFAULT_ENDPOINT is where the classifier listens unless configured
	// otherwise.
	DEFAULT_ENDPOINT = "http://localhost:5000/api/emotion"

	// DEFAULT_UPLOAD_INTERVAL is the periodic trigger cadence.
	DEFAULT_UPLOAD_INTERVAL = 2 * time.Second

	// DEFAULT_TIMEOUT bounds one upload round-trip.
	DEFAULT_TIMEOUT = 5 * time.Second

	// MIN_AUTO_SAMPLES is the buffer fill below which a periodic trigger
	// is skipped rather than sending a near-empty window.
	MIN_AUTO_SAMPLES = 100

	// MIN_MANUAL_SAMPLES is the buffer fill required to enable uploads;
	// the classifier needs at least a second of context to say anything.
	MIN_MANUAL_SAMPLES = 500

	// UPLOAD_WINDOW_SAMPLES caps the window at the most recent five
	// seconds of 500 Hz data.
	UPLOAD_WINDOW_SAMPLES = 2500
)

// State is the lifecycle position of the most recent upload task.
type State int

const (
	StateIdle State = iota
	StateSending
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SampleSource is the read side of the sample buffer the coordinator
// snapshots windows from.
type SampleSource interface {
	Len() int
	Latest(n int) []frame.Sample
	SampleRate() float64
}

// Outcome describes one finished upload task, successful or not.
type Outcome struct {
	TaskID      uuid.UUID
	State       State
	Label       string
	Confidence  float64
	Err         *UploadError // nil on success
	SampleCount int
	Latency     time.Duration
	At          time.Time
}

// Snapshot is the coordinator's externally visible state, shaped for
// the status API.
type Snapshot struct {
	Enabled        bool    `json:"enabled"`
	InFlight       bool    `json:"in_flight"`
	State          string  `json:"state"`
	Attempts       uint64  `json:"attempts"`
	Successes      uint64  `json:"successes"`
	Failures       uint64  `json:"failures"`
	Skipped        uint64  `json:"skipped"`
	LastLabel      string  `json:"last_label,omitempty"`
	LastConfidence float64 `json:"last_confidence,omitempty"`
	LastError      string  `json:"last_error,omitempty"`
}

// Config wires a Coordinator. Zero fields fall back to defaults; Source
// is required.
type Config struct {
	Endpoint string
	// APIKey, when set, is sent as an X-API-Key header.
	APIKey  string
	Client  httputil.HTTPClient
	Clock   timeutil.Clock
	Source  SampleSource
	Timeout time.Duration

	// OnComplete, when set, observes every finished task. Called from
	// the task goroutine, after coordinator state is updated.
	OnComplete func(Outcome)
}

// Coordinator owns the upload trigger state and runs one task goroutine
// per attempt.
type Coordinator struct {
	endpoint   string
	apiKey     string
	client     httputil.HTTPClient
	clock      timeutil.Clock
	source     SampleSource
	timeout    time.Duration
	onComplete func(Outcome)

	wg sync.WaitGroup

	mu             sync.Mutex
	enabled        bool
	inflight       bool
	state          State
	attempts       uint64
	successes      uint64
	failures       uint64
	skipped        uint64
	lastLabel      string
	lastConfidence float64
	lastErr        *UploadError
}

// NewCoordinator builds a Coordinator from cfg.
func NewCoordinator(cfg Config) *Coordinator {
	c := &Coordinator{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		client:     cfg.Client,
		clock:      cfg.Clock,
		source:     cfg.Source,
		timeout:    cfg.Timeout,
		onComplete: cfg.OnComplete,
		state:      StateIdle,
	}
	if c.endpoint == "" {
		c.endpoint = DEFAULT_ENDPOINT
	}
	if c.client == nil {
		c.client = httputil.NewStandardClient(&http.Client{})
	}
	if c.clock == nil {
		c.clock = timeutil.RealClock{}
	}
	if c.timeout <= 0 {
		c.timeout = DEFAULT_TIMEOUT
	}
	return c
}

// Enable turns the periodic trigger on. It fails when the buffer holds
// too little data to classify.
func (c *Coordinator) Enable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled {
		return nil
	}
	if n := c.source.Len(); n < MIN_MANUAL_SAMPLES {
		return fmt.Errorf("upload needs %d buffered samples, have %d", MIN_MANUAL_SAMPLES, n)
	}
	c.enabled = true
	monitoring.Logf("uploader: enabled, endpoint %s", c.endpoint)
	return nil
}

// Disable turns the periodic trigger off. An in-flight task keeps
// running and its result is still applied when it lands.
func (c *Coordinator) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled {
		monitoring.Logf("uploader: disabled")
	}
	c.enabled = false
}

// Enabled reports whether the periodic trigger is active.
func (c *Coordinator) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// State returns the lifecycle position of the most recent task.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TryUpload is the trigger entry point. It snapshots a window and
// dispatches a task goroutine, unless the trigger is disabled, a task
// is already in flight, or the buffer is too empty. Reports whether a
// task was started.
func (c *Coordinator) TryUpload(ctx context.Context) bool {
	c.mu.Lock()
	if !c.enabled || c.inflight {
		c.mu.Unlock()
		return false
	}
	if n := c.source.Len(); n < MIN_AUTO_SAMPLES {
		c.skipped++
		c.mu.Unlock()
		return false
	}

	samples := c.source.Latest(UPLOAD_WINDOW_SAMPLES)
	payload := BuildPayload(samples, c.source.SampleRate(), c.clock.Now())
	task := uuid.New()

	c.inflight = true
	c.state = StateSending
	c.attempts++
	c.wg.Add(1)
	c.mu.Unlock()

	go c.send(ctx, task, payload)
	return true
}

// WaitInFlight blocks until no task goroutine is running. Used at
// shutdown so a final result is not lost mid-write.
func (c *Coordinator) WaitInFlight() {
	c.wg.Wait()
}

// Snapshot returns the current externally visible state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		Enabled:        c.enabled,
		InFlight:       c.inflight,
		State:          c.state.String(),
		Attempts:       c.attempts,
		Successes:      c.successes,
		Failures:       c.failures,
		Skipped:        c.skipped,
		LastLabel:      c.lastLabel,
		LastConfidence: c.lastConfidence,
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

func (c *Coordinator) send(ctx context.Context, task uuid.UUID, payload Payload) {
	defer c.wg.Done()
	start := c.clock.Now()

	label, confidence, uerr := c.post(ctx, payload)

	out := Outcome{
		TaskID:      task,
		SampleCount: payload.DataLength,
		Latency:     c.clock.Since(start),
		At:          c.clock.Now(),
	}

	c.mu.Lock()
	c.inflight = false
	if uerr != nil {
		c.state = StateFailed
		c.lastErr = uerr
		c.failures++
		if uerr.Kind == ErrorConnection {
			// The endpoint is unreachable; stop the periodic trigger
			// until someone re-enables it.
			c.enabled = false
		}
		out.State = StateFailed
		out.Err = uerr
	} else {
		c.state = StateSucceeded
		c.lastLabel = label
		c.lastConfidence = confidence
		c.lastErr = nil
		c.successes++
		out.State = StateSucceeded
		out.Label = label
		out.Confidence = confidence
	}
	onComplete := c.onComplete
	c.mu.Unlock()

	if uerr != nil {
		monitoring.Logf("uploader: task %s failed: %v", task, uerr)
	} else {
		monitoring.Logf("uploader: task %s classified %q (%.2f) from %d samples in %v",
			task, label, confidence, out.SampleCount, out.Latency)
	}
	if onComplete != nil {
		onComplete(out)
	}
}

// post performs the HTTP round trip for one task.
func (c *Coordinator) post(ctx context.Context, payload Payload) (string, float64, *UploadError) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", 0, &UploadError{Kind: ErrorUnknown, Err: fmt.Errorf("marshal payload: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", 0, &UploadError{Kind: ErrorUnknown, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", 0, classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", 0, &UploadError{
			Kind:   ErrorServer,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(b)),
		}
	}

	var r Response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", 0, &UploadError{Kind: ErrorUnknown, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return r.Emotion, r.Confidence, nil
}
