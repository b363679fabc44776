// Package api serves the daemon's HTTP control surface: status and
// health probes, source connect/disconnect, upload and recording
// control, buffered-sample reads, persisted results, a live websocket
// feed, and a debug chart page.
package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/BITBCI/EmoSense/internal/frame"
	"github.com/BITBCI/EmoSense/internal/httputil"
	"github.com/BITBCI/EmoSense/internal/metrics"
	"github.com/BITBCI/EmoSense/internal/monitoring"
	"github.com/BITBCI/EmoSense/internal/pipeline"
	"github.com/BITBCI/EmoSense/internal/record"
	"github.com/BITBCI/EmoSense/internal/security"
	"github.com/BITBCI/EmoSense/internal/store"
	"github.com/BITBCI/EmoSense/internal/stream"
	"github.com/BITBCI/EmoSense/internal/timeutil"
)

// ANSI escape codes for the request log.
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// maxBodyBytes bounds control-request bodies; they carry a port name or
// a file path, nothing bigger.
const maxBodyBytes = 4096

type Server struct {
	pipe  *pipeline.Pipeline
	store *store.Store
	met   *metrics.Metrics
	clock timeutil.Clock
}

func NewServer(pipe *pipeline.Pipeline, st *store.Store, met *metrics.Metrics, clock timeutil.Clock) *Server {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Server{
		pipe:  pipe,
		store: st,
		met:   met,
		clock: clock,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack passes through so the websocket upgrade works behind the
// logging wrapper.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.health)
	mux.HandleFunc("/api/status", s.status)
	mux.HandleFunc("/api/ports", s.listPorts)
	mux.HandleFunc("/api/connect", s.connect)
	mux.HandleFunc("/api/disconnect", s.disconnect)
	mux.HandleFunc("/api/upload/start", s.uploadStart)
	mux.HandleFunc("/api/upload/stop", s.uploadStop)
	mux.HandleFunc("/api/record/start", s.recordStart)
	mux.HandleFunc("/api/record/stop", s.recordStop)
	mux.HandleFunc("/api/samples/latest", s.latestSamples)
	mux.HandleFunc("/api/samples/export", s.exportSamples)
	mux.HandleFunc("/api/results", s.listResults)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/live", s.live)
	mux.HandleFunc("/debug/charts", s.chartsPage)
	return mux
}

// statusFor maps pipeline lifecycle errors to HTTP statuses: state
// conflicts are 409, rejected client paths are 400, everything else is
// a plain failure.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrAlreadyConnected),
		errors.Is(err, pipeline.ErrNotConnected),
		errors.Is(err, pipeline.ErrAlreadyRecording),
		errors.Is(err, pipeline.ErrNotRecording):
		return http.StatusConflict
	case errors.Is(err, security.ErrOutsideAllowed):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody unmarshals a small JSON body into dst. An absent or empty
// body leaves dst untouched, so a bare POST means "all defaults".
func decodeBody(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{
		"status":    "ok",
		"service":   "emosensed",
		"timestamp": s.clock.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.pipe.Status())
}

func (s *Server) listPorts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	ports, err := stream.ListPorts()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("enumerate serial ports: %v", err))
		return
	}
	if ports == nil {
		ports = []string{}
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"ports":     ports,
		"preferred": stream.FindPreferredPort(ports),
	})
}

type connectRequest struct {
	// Port names the source: a serial device path, "sim", or
	// "replay:<path>". Empty auto-detects a serial port.
	Port string `json:"port"`
}

func (s *Server) connect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req connectRequest
	if err := decodeBody(r, &req); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}
	if err := s.pipe.Connect(req.Port); err != nil {
		httputil.WriteJSONError(w, statusFor(err), err.Error())
		return
	}
	httputil.WriteJSONOK(w, s.pipe.Status())
}

func (s *Server) disconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := s.pipe.Disconnect(); err != nil {
		httputil.WriteJSONError(w, statusFor(err), err.Error())
		return
	}
	httputil.WriteJSONOK(w, s.pipe.Status())
}

func (s *Server) uploadStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := s.pipe.Uploader().Enable(); err != nil {
		httputil.WriteJSONError(w, http.StatusConflict, err.Error())
		return
	}
	httputil.WriteJSONOK(w, s.pipe.Uploader().Snapshot())
}

func (s *Server) uploadStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	s.pipe.Uploader().Disable()
	httputil.WriteJSONOK(w, s.pipe.Uploader().Snapshot())
}

type recordStartRequest struct {
	// Path of the session CSV. Empty picks a timestamped name in the
	// daemon's record directory.
	Path string `json:"path"`
}

func (s *Server) recordStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req recordStartRequest
	if err := decodeBody(r, &req); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}
	rec, err := s.pipe.StartRecording(req.Path)
	if err != nil {
		httputil.WriteJSONError(w, statusFor(err), err.Error())
		return
	}
	if err := s.store.StartSession(rec.ID(), rec.Path(), s.clock.Now()); err != nil {
		// No session row means no bookkeeping for the file; abandon the
		// recording rather than leave the two out of step.
		s.pipe.StopRecording()
		httputil.InternalServerError(w, fmt.Sprintf("persist session: %v", err))
		return
	}
	httputil.WriteJSONOK(w, map[string]string{
		"session_id": rec.ID().String(),
		"path":       rec.Path(),
	})
}

func (s *Server) recordStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	rec, err := s.pipe.StopRecording()
	if err != nil {
		httputil.WriteJSONError(w, statusFor(err), err.Error())
		return
	}
	if err := s.store.FinishSession(rec.ID(), s.clock.Now(), rec.Count()); err != nil {
		// The CSV is already safe on disk; a stale open row is only a
		// bookkeeping wart.
		monitoring.Logf("api: finish session %s: %v", rec.ID(), err)
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"session_id": rec.ID().String(),
		"path":       rec.Path(),
		"samples":    rec.Count(),
	})
}

func (s *Server) latestSamples(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	n := 500
	if q := r.URL.Query().Get("n"); q != "" {
		v, err := strconv.Atoi(q)
		if err != nil || v < 1 {
			httputil.BadRequest(w, "invalid 'n' parameter")
			return
		}
		n = v
	}
	samples := s.pipe.Buffer().Latest(n)
	if samples == nil {
		samples = []frame.Sample{}
	}
	httputil.WriteJSONOK(w, samples)
}

// exportSamples streams the buffered window as a one-shot CSV or JSON
// download, without opening a recording session.
func (s *Server) exportSamples(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "json" {
		httputil.BadRequest(w, "format must be 'csv' or 'json'")
		return
	}
	samples := s.pipe.Buffer().All()
	if len(samples) == 0 {
		httputil.WriteJSONError(w, http.StatusNotFound, "buffer is empty; connect a source first")
		return
	}

	name := fmt.Sprintf("emosense_export_%s.%s", s.clock.Now().Format("20060102_150405"), format)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", name))
	// Headers are committed once the first row is written, so encode
	// errors can only be logged.
	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		if err := record.ExportCSV(w, samples); err != nil {
			monitoring.Logf("api: export csv: %v", err)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := record.ExportJSON(w, samples); err != nil {
		monitoring.Logf("api: export json: %v", err)
	}
}

func (s *Server) listResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}
	results, err := s.store.Results(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("load results: %v", err))
		return
	}
	if results == nil {
		results = []store.Result{}
	}
	httputil.WriteJSONOK(w, results)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}
	sessions, err := s.store.Sessions(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("load sessions: %v", err))
		return
	}
	if sessions == nil {
		sessions = []store.Session{}
	}
	httputil.WriteJSONOK(w, sessions)
}

// limitParam parses an optional positive 'limit' query parameter,
// writing a 400 and reporting false when it is malformed. Zero means
// the store default.
func limitParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	q := r.URL.Query().Get("limit")
	if q == "" {
		return 0, true
	}
	v, err := strconv.Atoi(q)
	if err != nil || v < 1 {
		httputil.BadRequest(w, "invalid 'limit' parameter")
		return 0, false
	}
	return v, true
}
