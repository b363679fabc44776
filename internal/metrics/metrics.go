// Package metrics holds the Prometheus collectors for the acquisition
// pipeline. One Metrics value is shared by the pipeline, uploader
// wiring, and API layer; cmd/emosensed exposes them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Upload result states, used as the state label on upload_results_total.
const (
	UPLOAD_SUCCEEDED = "succeeded"
	UPLOAD_FAILED    = "failed"
	UPLOAD_SKIPPED   = "skipped"
)

// Metrics holds all Prometheus metric collectors for the daemon.
type Metrics struct {
	// Stream metrics
	framesParsed    prometheus.Counter // Frames decoded from the wire
	framesRejected  prometheus.Counter // Frames that failed validation
	bytesDiscarded  prometheus.Counter // Garbage bytes dropped by the synchronizer
	sourceConnected prometheus.Gauge   // 1 while a source is attached

	// Buffer metrics
	samplesAppended prometheus.Counter // Samples appended to the ring
	bufferFill      prometheus.Gauge   // Current ring occupancy
	bufferCapacity  prometheus.Gauge   // Ring capacity

	// Signal metrics
	heartRate prometheus.Gauge // Last spectral heart-rate estimate in BPM

	// Upload metrics
	uploadResults *prometheus.CounterVec // Finished/skipped upload attempts (by state)
	uploadLatency prometheus.Histogram   // Round-trip latency of finished uploads

	// Recording metrics
	recordingActive prometheus.Gauge   // 1 while a CSV session is open
	recordedSamples prometheus.Counter // Samples written to session files

	// API metrics
	wsClients prometheus.Gauge // Connected /api/live websocket clients
}

// New builds the collector set and registers it with reg. Passing nil
// registers with the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		framesParsed: factory.NewCounter(prometheus.CounterOpts{
			Name: "frames_parsed_total",
			Help: "Wire frames successfully decoded",
		}),
		framesRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "frames_rejected_total",
			Help: "Wire frames rejected during validation",
		}),
		bytesDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "sync_bytes_discarded_total",
			Help: "Garbage bytes dropped while searching for frame headers",
		}),
		sourceConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "source_connected",
			Help: "1 while a sample source is attached, else 0",
		}),
		samplesAppended: factory.NewCounter(prometheus.CounterOpts{
			Name: "samples_appended_total",
			Help: "Samples appended to the ring buffer",
		}),
		bufferFill: factory.NewGauge(prometheus.GaugeOpts{
			Name: "buffer_fill",
			Help: "Samples currently held in the ring buffer",
		}),
		bufferCapacity: factory.NewGauge(prometheus.GaugeOpts{
			Name: "buffer_capacity",
			Help: "Ring buffer capacity",
		}),
		heartRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "heart_rate_bpm",
			Help: "Last spectral heart-rate estimate in BPM (0 when unknown)",
		}),
		uploadResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "upload_results_total",
			Help: "Classification upload attempts by final state",
		}, []string{"state"}),
		uploadLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "upload_latency_seconds",
			Help:    "Round-trip latency of finished classification uploads",
			Buckets: prometheus.DefBuckets,
		}),
		recordingActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "recording_active",
			Help: "1 while a CSV recording session is open, else 0",
		}),
		recordedSamples: factory.NewCounter(prometheus.CounterOpts{
			Name: "recorded_samples_total",
			Help: "Samples written to recording session files",
		}),
		wsClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "websocket_clients",
			Help: "Connected live-stream websocket clients",
		}),
	}
}

// AddFramesParsed adds a delta of decoded frames.
func (m *Metrics) AddFramesParsed(n uint64) { m.framesParsed.Add(float64(n)) }

// AddFramesRejected adds a delta of rejected frames.
func (m *Metrics) AddFramesRejected(n uint64) { m.framesRejected.Add(float64(n)) }

// AddBytesDiscarded adds a delta of discarded garbage bytes.
func (m *Metrics) AddBytesDiscarded(n uint64) { m.bytesDiscarded.Add(float64(n)) }

// SetConnected records whether a source is attached.
func (m *Metrics) SetConnected(connected bool) {
	if connected {
		m.sourceConnected.Set(1)
	} else {
		m.sourceConnected.Set(0)
	}
}

// AddSamples counts samples appended to the ring.
func (m *Metrics) AddSamples(n int) { m.samplesAppended.Add(float64(n)) }

// SetBufferFill records the current ring occupancy.
func (m *Metrics) SetBufferFill(n int) { m.bufferFill.Set(float64(n)) }

// SetBufferCapacity records the ring capacity.
func (m *Metrics) SetBufferCapacity(n int) { m.bufferCapacity.Set(float64(n)) }

// SetHeartRate records the last heart-rate estimate.
func (m *Metrics) SetHeartRate(bpm float64) { m.heartRate.Set(bpm) }

// UploadFinished counts a terminal upload outcome and observes its
// latency.
func (m *Metrics) UploadFinished(state string, seconds float64) {
	m.uploadResults.WithLabelValues(state).Inc()
	m.uploadLatency.Observe(seconds)
}

// UploadSkipped counts an upload trigger that found too little data.
func (m *Metrics) UploadSkipped() {
	m.uploadResults.WithLabelValues(UPLOAD_SKIPPED).Inc()
}

// SetRecording records whether a CSV session is open.
func (m *Metrics) SetRecording(active bool) {
	if active {
		m.recordingActive.Set(1)
	} else {
		m.recordingActive.Set(0)
	}
}

// AddRecordedSamples counts samples written to session files.
func (m *Metrics) AddRecordedSamples(n int) { m.recordedSamples.Add(float64(n)) }

// WSClientConnected tracks a new live-stream client.
func (m *Metrics) WSClientConnected() { m.wsClients.Inc() }

// WSClientDisconnected tracks a departed live-stream client.
func (m *Metrics) WSClientDisconnected() { m.wsClients.Dec() }
