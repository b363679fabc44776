package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/BITBCI/EmoSense/internal/buffer"
	"github.com/BITBCI/EmoSense/internal/frame"
	"github.com/BITBCI/EmoSense/internal/httputil"
	"github.com/BITBCI/EmoSense/internal/metrics"
	"github.com/BITBCI/EmoSense/internal/pipeline"
	"github.com/BITBCI/EmoSense/internal/record"
	"github.com/BITBCI/EmoSense/internal/security"
	"github.com/BITBCI/EmoSense/internal/simulate"
	"github.com/BITBCI/EmoSense/internal/store"
	"github.com/BITBCI/EmoSense/internal/timeutil"
	"github.com/BITBCI/EmoSense/internal/uploader"
)

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	w := call(ts.srv.health, http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["service"] != "emosensed" {
		t.Errorf("body = %v", body)
	}
	if body["timestamp"] != "2025-03-14T09:26:53Z" {
		t.Errorf("timestamp = %q, want the mock clock time", body["timestamp"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(t)

	w := call(ts.srv.status, http.MethodGet, "/api/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var st pipeline.Status
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Connected {
		t.Error("connected on a fresh pipeline")
	}
	if st.SampleRate != 500 {
		t.Errorf("sample rate = %v, want 500", st.SampleRate)
	}
	if st.Buffer.Capacity != buffer.DEFAULT_CAPACITY {
		t.Errorf("buffer capacity = %d, want %d", st.Buffer.Capacity, buffer.DEFAULT_CAPACITY)
	}
	if st.Uploader.State != "idle" {
		t.Errorf("uploader state = %q, want idle", st.Uploader.State)
	}
}

func TestConnectDisconnect(t *testing.T) {
	ts := newTestServer(t)

	w := call(ts.srv.connect, http.MethodPost, "/api/connect", `{"port":"sim"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("connect = %d: %s", w.Code, w.Body.String())
	}
	var st pipeline.Status
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !st.Connected || st.Source != "sim" {
		t.Errorf("status after connect: connected=%v source=%q", st.Connected, st.Source)
	}

	if w := call(ts.srv.connect, http.MethodPost, "/api/connect", `{"port":"sim"}`); w.Code != http.StatusConflict {
		t.Errorf("second connect = %d, want 409", w.Code)
	}

	w = call(ts.srv.disconnect, http.MethodPost, "/api/disconnect", "")
	if w.Code != http.StatusOK {
		t.Fatalf("disconnect = %d: %s", w.Code, w.Body.String())
	}
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Connected {
		t.Error("still connected after disconnect")
	}

	if w := call(ts.srv.disconnect, http.MethodPost, "/api/disconnect", ""); w.Code != http.StatusConflict {
		t.Errorf("second disconnect = %d, want 409", w.Code)
	}
}

func TestConnectBadRequests(t *testing.T) {
	ts := newTestServer(t)

	// Type mismatch in the body.
	if w := call(ts.srv.connect, http.MethodPost, "/api/connect", `{"port": 42}`); w.Code != http.StatusBadRequest {
		t.Errorf("non-string port = %d, want 400", w.Code)
	}

	// Valid JSON, unusable target.
	w := call(ts.srv.connect, http.MethodPost, "/api/connect", `{"port":"replay:/no/such/capture.bin"}`)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("missing capture = %d, want 500", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] == "" {
		t.Error("error body missing message")
	}
	if ts.pipe.Status().Connected {
		t.Error("connected after failed target")
	}
}

func TestUploadEndpoints(t *testing.T) {
	ts := newTestServer(t)

	// Too few samples to arm.
	if w := call(ts.srv.uploadStart, http.MethodPost, "/api/upload/start", ""); w.Code != http.StatusConflict {
		t.Errorf("upload/start on empty buffer = %d, want 409", w.Code)
	}

	ts.fillRing(t, 600)
	w := call(ts.srv.uploadStart, http.MethodPost, "/api/upload/start", "")
	if w.Code != http.StatusOK {
		t.Fatalf("upload/start = %d: %s", w.Code, w.Body.String())
	}
	var snap uploader.Snapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !snap.Enabled {
		t.Error("not enabled after upload/start")
	}

	w = call(ts.srv.uploadStop, http.MethodPost, "/api/upload/stop", "")
	if w.Code != http.StatusOK {
		t.Fatalf("upload/stop = %d: %s", w.Code, w.Body.String())
	}
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Enabled {
		t.Error("still enabled after upload/stop")
	}
}

func TestRecordEndpoints(t *testing.T) {
	ts := newTestServer(t)

	// Empty body picks the timestamped default path.
	w := call(ts.srv.recordStart, http.MethodPost, "/api/record/start", "")
	if w.Code != http.StatusOK {
		t.Fatalf("record/start = %d: %s", w.Code, w.Body.String())
	}
	var started map[string]string
	if err := json.NewDecoder(w.Body).Decode(&started); err != nil {
		t.Fatalf("decode: %v", err)
	}
	id, err := uuid.Parse(started["session_id"])
	if err != nil {
		t.Fatalf("session_id %q: %v", started["session_id"], err)
	}
	if filepath.Base(started["path"]) != "data_record_20250314_092653.csv" {
		t.Errorf("path = %q, want the clock-derived default name", started["path"])
	}

	// The open session row is visible immediately.
	sessions, err := ts.st.Sessions(10)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != id {
		t.Fatalf("sessions = %+v, want the new row", sessions)
	}
	if sessions[0].StoppedAt != nil {
		t.Error("session already stopped")
	}

	if w := call(ts.srv.recordStart, http.MethodPost, "/api/record/start", ""); w.Code != http.StatusConflict {
		t.Errorf("second record/start = %d, want 409", w.Code)
	}

	ts.clock.Advance(90 * time.Second)
	w = call(ts.srv.recordStop, http.MethodPost, "/api/record/stop", "")
	if w.Code != http.StatusOK {
		t.Fatalf("record/stop = %d: %s", w.Code, w.Body.String())
	}
	var stopped struct {
		SessionID string `json:"session_id"`
		Path      string `json:"path"`
		Samples   int64  `json:"samples"`
	}
	if err := json.NewDecoder(w.Body).Decode(&stopped); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stopped.SessionID != id.String() || stopped.Samples != 0 {
		t.Errorf("stop response = %+v", stopped)
	}

	sessions, err = ts.st.Sessions(10)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if sessions[0].StoppedAt == nil || !sessions[0].StoppedAt.Equal(ts.clock.Now()) {
		t.Errorf("StoppedAt = %v, want %v", sessions[0].StoppedAt, ts.clock.Now())
	}

	if w := call(ts.srv.recordStop, http.MethodPost, "/api/record/stop", ""); w.Code != http.StatusConflict {
		t.Errorf("record/stop while idle = %d, want 409", w.Code)
	}
}

func TestRecordStartStoreFailure(t *testing.T) {
	ts := newTestServer(t)

	// A failed session insert must roll the recording back.
	ts.st.Close()
	w := call(ts.srv.recordStart, http.MethodPost, "/api/record/start", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("record/start with closed store = %d, want 500", w.Code)
	}
	if ts.pipe.Status().Recording {
		t.Error("recording left active after failed session insert")
	}
}

func TestRecordStopStoreFailure(t *testing.T) {
	ts := newTestServer(t)

	if w := call(ts.srv.recordStart, http.MethodPost, "/api/record/start", ""); w.Code != http.StatusOK {
		t.Fatalf("record/start = %d: %s", w.Code, w.Body.String())
	}

	// The CSV close must still succeed when the bookkeeping update fails.
	ts.st.Close()
	w := call(ts.srv.recordStop, http.MethodPost, "/api/record/stop", "")
	if w.Code != http.StatusOK {
		t.Errorf("record/stop with closed store = %d, want 200", w.Code)
	}
	if ts.pipe.Status().Recording {
		t.Error("still recording after stop")
	}
}

func TestRecordStartRejectsEscapingPath(t *testing.T) {
	ts := newTestServer(t)

	w := call(ts.srv.recordStart, http.MethodPost, "/api/record/start", `{"path": "/etc/nope.csv"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("record/start outside record dir = %d, want 400: %s", w.Code, w.Body.String())
	}
	if ts.pipe.Status().Recording {
		t.Error("recording after rejected path")
	}
}

func TestLatestSamples(t *testing.T) {
	ts := newTestServer(t)

	// Empty buffer must encode as [], not null.
	w := call(ts.srv.latestSamples, http.MethodGet, "/api/samples/latest", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("empty buffer body = %q, want []", got)
	}

	ts.fillRing(t, 10)
	w = call(ts.srv.latestSamples, http.MethodGet, "/api/samples/latest?n=5", "")
	var samples []frame.Sample
	if err := json.NewDecoder(w.Body).Decode(&samples); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(samples) != 5 {
		t.Errorf("got %d samples, want 5", len(samples))
	}

	// Default n returns whatever is buffered.
	w = call(ts.srv.latestSamples, http.MethodGet, "/api/samples/latest", "")
	samples = nil
	if err := json.NewDecoder(w.Body).Decode(&samples); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(samples) != 10 {
		t.Errorf("got %d samples, want 10", len(samples))
	}

	for _, q := range []string{"n=0", "n=-3", "n=abc"} {
		if w := call(ts.srv.latestSamples, http.MethodGet, "/api/samples/latest?"+q, ""); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, w.Code)
		}
	}
}

func TestExportSamples(t *testing.T) {
	ts := newTestServer(t)

	// Nothing buffered, nothing to download.
	if w := call(ts.srv.exportSamples, http.MethodGet, "/api/samples/export", ""); w.Code != http.StatusNotFound {
		t.Errorf("export of empty buffer = %d, want 404", w.Code)
	}

	ts.fillRing(t, 20)

	w := call(ts.srv.exportSamples, http.MethodGet, "/api/samples/export", "")
	if w.Code != http.StatusOK {
		t.Fatalf("export = %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Content-Type = %q, want text/csv", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); cd != "attachment; filename=emosense_export_20250314_092653.csv" {
		t.Errorf("Content-Disposition = %q", cd)
	}
	rows, err := record.LoadCSV(w.Body)
	if err != nil {
		t.Fatalf("LoadCSV on export: %v", err)
	}
	if len(rows) != 20 {
		t.Errorf("exported %d rows, want 20", len(rows))
	}

	w = call(ts.srv.exportSamples, http.MethodGet, "/api/samples/export?format=json", "")
	if w.Code != http.StatusOK {
		t.Fatalf("json export = %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var samples []frame.Sample
	if err := json.NewDecoder(w.Body).Decode(&samples); err != nil {
		t.Fatalf("decode json export: %v", err)
	}
	if len(samples) != 20 {
		t.Errorf("exported %d samples, want 20", len(samples))
	}

	if w := call(ts.srv.exportSamples, http.MethodGet, "/api/samples/export?format=xml", ""); w.Code != http.StatusBadRequest {
		t.Errorf("unknown format = %d, want 400", w.Code)
	}
}

func TestResultsAndSessions(t *testing.T) {
	ts := newTestServer(t)

	// Empty store encodes as [], not null.
	for name, h := range map[string]http.HandlerFunc{
		"results":  ts.srv.listResults,
		"sessions": ts.srv.listSessions,
	} {
		w := call(h, http.MethodGet, "/api/"+name, "")
		if w.Code != http.StatusOK {
			t.Fatalf("%s = %d, want 200", name, w.Code)
		}
		if got := strings.TrimSpace(w.Body.String()); got != "[]" {
			t.Errorf("empty %s body = %q, want []", name, got)
		}
	}

	outcome := uploader.Outcome{
		TaskID:      uuid.New(),
		State:       uploader.StateSucceeded,
		Label:       "happy",
		Confidence:  0.9,
		SampleCount: 2500,
		At:          ts.clock.Now(),
	}
	if err := ts.st.RecordOutcome(outcome); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	if err := ts.st.StartSession(uuid.New(), "a.csv", ts.clock.Now()); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	w := call(ts.srv.listResults, http.MethodGet, "/api/results", "")
	var results []store.Result
	if err := json.NewDecoder(w.Body).Decode(&results); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if len(results) != 1 || results[0].Label != "happy" {
		t.Errorf("results = %+v", results)
	}

	w = call(ts.srv.listSessions, http.MethodGet, "/api/sessions?limit=1", "")
	var sessions []store.Session
	if err := json.NewDecoder(w.Body).Decode(&sessions); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Errorf("got %d sessions, want 1", len(sessions))
	}

	for _, q := range []string{"limit=0", "limit=-1", "limit=abc"} {
		if w := call(ts.srv.listResults, http.MethodGet, "/api/results?"+q, ""); w.Code != http.StatusBadRequest {
			t.Errorf("results %s: status = %d, want 400", q, w.Code)
		}
	}
}

func TestListPorts(t *testing.T) {
	ts := newTestServer(t)

	w := call(ts.srv.listPorts, http.MethodGet, "/api/ports", "")
	if w.Code != http.StatusOK {
		t.Skipf("port enumeration unavailable: %s", w.Body.String())
	}
	var body struct {
		Ports     []string `json:"ports"`
		Preferred string   `json:"preferred"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Ports == nil {
		t.Error("ports = null, want at least []")
	}
}

// TestMethodChecks sweeps every handler with the wrong verb.
func TestMethodChecks(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		h      http.HandlerFunc
		method string
	}{
		{"health", ts.srv.health, http.MethodPost},
		{"status", ts.srv.status, http.MethodPost},
		{"ports", ts.srv.listPorts, http.MethodPost},
		{"connect", ts.srv.connect, http.MethodGet},
		{"disconnect", ts.srv.disconnect, http.MethodGet},
		{"uploadStart", ts.srv.uploadStart, http.MethodGet},
		{"uploadStop", ts.srv.uploadStop, http.MethodGet},
		{"recordStart", ts.srv.recordStart, http.MethodGet},
		{"recordStop", ts.srv.recordStop, http.MethodGet},
		{"latestSamples", ts.srv.latestSamples, http.MethodPost},
		{"exportSamples", ts.srv.exportSamples, http.MethodPost},
		{"results", ts.srv.listResults, http.MethodPost},
		{"sessions", ts.srv.listSessions, http.MethodPost},
		{"charts", ts.srv.chartsPage, http.MethodPost},
	}
	for _, tt := range tests {
		w := call(tt.h, tt.method, "/", "")
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s with %s = %d, want 405", tt.name, tt.method, w.Code)
		}
	}
}

func TestStatusForMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{pipeline.ErrAlreadyConnected, http.StatusConflict},
		{pipeline.ErrNotConnected, http.StatusConflict},
		{pipeline.ErrAlreadyRecording, http.StatusConflict},
		{pipeline.ErrNotRecording, http.StatusConflict},
		{fmt.Errorf("wrapped: %w", security.ErrOutsideAllowed), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestDecodeBody(t *testing.T) {
	var req connectRequest
	r := httptest.NewRequest(http.MethodPost, "/api/connect", nil)
	if err := decodeBody(r, &req); err != nil {
		t.Errorf("empty body: %v", err)
	}

	r = httptest.NewRequest(http.MethodPost, "/api/connect", strings.NewReader(`{"port":"sim"}`))
	if err := decodeBody(r, &req); err != nil || req.Port != "sim" {
		t.Errorf("decode err = %v, port = %q", err, req.Port)
	}

	r = httptest.NewRequest(http.MethodPost, "/api/connect", strings.NewReader(`{"port":`))
	if err := decodeBody(r, &connectRequest{}); err == nil {
		t.Error("truncated JSON decoded without error")
	}
}

func TestStatusCodeColor(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, colorBoldGreen + "200" + colorReset},
		{302, colorYellow + "302" + colorReset},
		{500, colorBoldRed + "500" + colorReset},
		{100, "100"},
	}
	for _, tt := range tests {
		if got := statusCodeColor(tt.code); got != tt.want {
			t.Errorf("statusCodeColor(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

// TestServeMuxRoutes is a registration check only: /debug/charts and
// /api/samples/export 404 by design until data exists, so they are
// covered separately.
func TestServeMuxRoutes(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(LoggingMiddleware(ts.srv.ServeMux()))
	defer srv.Close()

	paths := []string{
		"/api/health", "/api/status", "/api/ports", "/api/connect",
		"/api/disconnect", "/api/upload/start", "/api/upload/stop",
		"/api/record/start", "/api/record/stop", "/api/samples/latest",
		"/api/results", "/api/sessions", "/api/live",
	}
	for _, path := range paths {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			t.Errorf("route %s should be registered, got 404", path)
		}
	}
}

func TestChartsPage(t *testing.T) {
	ts := newTestServer(t)

	if w := call(ts.srv.chartsPage, http.MethodGet, "/debug/charts", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 before first render", w.Code)
	}

	ts.fillRing(t, 600)
	ts.pipe.Start(context.Background())
	waitForSnapshot(t, ts)

	w := call(ts.srv.chartsPage, http.MethodGet, "/debug/charts", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	body := w.Body.String()
	if !strings.Contains(body, echartsAssetsPrefix) {
		t.Error("assets host missing from page")
	}
	for _, series := range []string{"neural", "red", "ir", "q0", "q3"} {
		if !strings.Contains(body, series) {
			t.Errorf("series %q missing from page", series)
		}
	}

	// Downsampling shows up in the subtitle.
	w = call(ts.srv.chartsPage, http.MethodGet, "/debug/charts?max_points=100", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "stride=6") {
		t.Error("expected stride=6 with max_points=100 over 600 samples")
	}
}

func TestLiveWebsocket(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(LoggingMiddleware(ts.srv.ServeMux()))
	defer srv.Close()

	ts.fillRing(t, 600)
	ts.pipe.Start(context.Background())
	waitForSnapshot(t, ts)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/live"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// The cached snapshot arrives without any further ticks.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var first pipeline.RenderSnapshot
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first snapshot: %v", err)
	}
	if first.Count != 600 {
		t.Errorf("first snapshot count = %d, want 600", first.Count)
	}
	if got := gaugeValue(t, ts.reg, "websocket_clients"); got != 1 {
		t.Errorf("websocket_clients = %v, want 1", got)
	}

	// Later render ticks stream through.
	advanceDone := make(chan struct{})
	go func() {
		defer close(advanceDone)
		for i := 0; i < 200; i++ {
			ts.clock.Advance(pipeline.DEFAULT_RENDER_INTERVAL)
			time.Sleep(2 * time.Millisecond)
		}
	}()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var second pipeline.RenderSnapshot
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("read streamed snapshot: %v", err)
	}
	if second.Count == 0 {
		t.Error("streamed snapshot is empty")
	}
	<-advanceDone

	// Closing the client drops the gauge once the handler notices.
	conn.Close()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if gaugeValue(t, ts.reg, "websocket_clients") == 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if got := gaugeValue(t, ts.reg, "websocket_clients"); got != 0 {
		t.Errorf("websocket_clients after close = %v, want 0", got)
	}
}

type testServer struct {
	srv   *Server
	pipe  *pipeline.Pipeline
	st    *store.Store
	clock *timeutil.MockClock
	reg   *prometheus.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "api_test.db"))
	if err != nil {
		t.Fatalf("Open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	clock := timeutil.NewMockClock(time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC))
	reg := prometheus.NewRegistry()
	met := metrics.New(reg)

	pipe, err := pipeline.NewPipeline(pipeline.Options{
		Endpoint:   "http://classifier.test/api/emotion",
		RecordDir:  t.TempDir(),
		HTTPClient: httputil.NewMockHTTPClient(),
		Clock:      clock,
		Metrics:    met,
	})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	t.Cleanup(pipe.Close)

	return &testServer{
		srv:   NewServer(pipe, st, met, clock),
		pipe:  pipe,
		st:    st,
		clock: clock,
		reg:   reg,
	}
}

// fillRing appends n synthetic samples directly to the pipeline buffer.
func (ts *testServer) fillRing(t *testing.T, n int) {
	t.Helper()
	gen := simulate.NewGenerator(simulate.Config{Seed: 1}, ts.clock.Now())
	for _, s := range gen.Next(n) {
		ts.pipe.Buffer().Append(s)
	}
}

// call invokes a handler directly, bypassing the mux.
func call(h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

// waitForSnapshot advances the mock clock through render ticks until the
// pipeline publishes a snapshot.
func waitForSnapshot(t *testing.T, ts *testServer) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		ts.clock.Advance(pipeline.DEFAULT_RENDER_INTERVAL)
		if _, ok := ts.pipe.LastSnapshot(); ok {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no render snapshot before deadline")
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if m.Gauge != nil {
				return m.Gauge.GetValue()
			}
		}
	}
	return 0
}
