// Command emotion-sim is a local stand-in for the cloud classification
// service. It accepts the daemon's upload payload, scores the window
// with a crude heuristic, and answers in the production response shape.
// Useful for end-to-end runs without cloud access.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/BITBCI/EmoSense/internal/uploader"
)

var (
	listen   = flag.String("listen", ":5000", "HTTP listen address")
	apiKey   = flag.String("api-key", "", "When set, reject requests without a matching X-API-Key header")
	latency  = flag.Duration("latency", 0, "Artificial processing delay per request (for exercising client timeouts)")
	failRate = flag.Float64("fail-rate", 0, "Fraction of requests to fail with a 500 (0..1)")
)

// maxRequestBytes bounds the request body; a full five-second window is
// well under a megabyte of JSON.
const maxRequestBytes = 8 << 20

// payload mirrors the daemon's upload body. Scalar fields are pointers
// so a missing field is distinguishable from a zero value.
type payload struct {
	Timestamp  *string    `json:"timestamp"`
	SampleRate *float64   `json:"sample_rate"`
	DataLength *int       `json:"data_length"`
	EEGData    []float64  `json:"eeg_data"`
	PPGRedData []float64  `json:"ppg_red_data"`
	PPGIRData  []float64  `json:"ppg_ir_data"`
	IMUData    [][4]int32 `json:"imu_data"`
}

// missingField names the first required field absent from the request,
// or empty when all are present.
func (p *payload) missingField() string {
	switch {
	case p.Timestamp == nil:
		return "timestamp"
	case p.SampleRate == nil:
		return "sample_rate"
	case p.DataLength == nil:
		return "data_length"
	case p.EEGData == nil:
		return "eeg_data"
	case p.PPGRedData == nil:
		return "ppg_red_data"
	case p.PPGIRData == nil:
		return "ppg_ir_data"
	case p.IMUData == nil:
		return "imu_data"
	}
	return ""
}

// classifier holds the scoring state. rand.Rand is not goroutine-safe,
// so rolls are serialized.
type classifier struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// classify scores the window: optical variability reads as arousal, a
// low neural mean as low valence. A real model replaces this wholesale;
// the shape of the answer is what matters here.
func (c *classifier) classify(eeg, ppgRed []float64) (string, float64, map[string]any) {
	eegMean := stat.Mean(eeg, nil)
	ppgStd := stat.StdDev(ppgRed, nil)

	c.mu.Lock()
	defer c.mu.Unlock()

	var happy, sad float64
	switch {
	case ppgStd > 50000:
		happy = 0.7 + c.rng.Float64()*0.2
		sad = 0.1 + c.rng.Float64()*0.2
	case eegMean < 1000:
		happy = 0.1 + c.rng.Float64()*0.2
		sad = 0.7 + c.rng.Float64()*0.2
	default:
		happy = 0.3 + c.rng.Float64()*0.2
		sad = 0.1 + c.rng.Float64()*0.2
	}
	neutral := 1 - happy - sad
	if neutral < 0.05 {
		neutral = 0.05
	}
	total := happy + sad + neutral
	happy /= total
	sad /= total
	neutral /= total

	label, confidence := "neutral", neutral
	if happy > confidence {
		label, confidence = "happy", happy
	}
	if sad > confidence {
		label, confidence = "sad", sad
	}

	return label, confidence, map[string]any{
		"happy_score":   happy,
		"sad_score":     sad,
		"neutral_score": neutral,
	}
}

func (c *classifier) roll() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rng.Float64()
}

func (c *classifier) analyzeEmotion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "POST required")
		return
	}
	if *apiKey != "" && r.Header.Get("X-API-Key") != *apiKey {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid X-API-Key")
		return
	}

	var p payload
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_DATA", fmt.Sprintf("malformed JSON body: %v", err))
		return
	}
	if field := p.missingField(); field != "" {
		writeError(w, http.StatusBadRequest, "INVALID_DATA", fmt.Sprintf("missing required field: %s", field))
		return
	}

	if *latency > 0 {
		time.Sleep(*latency)
	}
	if *failRate > 0 && c.roll() < *failRate {
		writeError(w, http.StatusInternalServerError, "PROCESSING_ERROR", "injected failure")
		return
	}

	label, confidence, scores := c.classify(p.EEGData, p.PPGRedData)

	log.Printf("classified %d samples at %.0f Hz: %s (%.2f)",
		len(p.EEGData), *p.SampleRate, label, confidence)

	// Answer with the same type the daemon decodes, so the two ends of
	// the contract cannot drift apart.
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(uploader.Response{
		Status:     "success",
		Emotion:    label,
		Confidence: confidence,
		Details:    scores,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status": "ok", "service": "emotion-sim", "timestamp": "%s"}`, time.Now().UTC().Format(time.RFC3339))
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":     "error",
		"error_code": code,
		"message":    msg,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// simMux builds the handler surface. Split from main so tests can run
// it under httptest.
func simMux(rng *rand.Rand) *http.ServeMux {
	c := &classifier{rng: rng}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/emotion", c.analyzeEmotion)
	mux.HandleFunc("/api/health", health)
	return mux
}

// Main
func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("HTTP listen address is required")
	}
	if *failRate < 0 || *failRate > 1 {
		log.Fatalf("fail-rate must be within [0, 1], got %v", *failRate)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:    *listen,
		Handler: simMux(rand.New(rand.NewSource(time.Now().UnixNano()))),
	}

	// Start server in a goroutine so it doesn't block
	go func() {
		log.Printf("Stand-in classifier listening on %s (POST /api/emotion)", *listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	// Wait for context cancellation to shut down server
	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	// Create a shutdown context with a shorter timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		// Force close the server if graceful shutdown fails
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}

	log.Printf("Graceful shutdown complete")
}
