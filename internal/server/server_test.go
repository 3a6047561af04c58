package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/jpalmerr/telempoll/internal/metrics"
	"github.com/jpalmerr/telempoll/internal/store"
	"github.com/jpalmerr/telempoll/internal/telem"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeController records task commands.
type fakeController struct {
	running  atomic.Bool
	startErr error
	starts   atomic.Int32
	stops    atomic.Int32
}

func (c *fakeController) StartTask() error {
	c.starts.Add(1)
	if c.startErr != nil {
		return c.startErr
	}
	c.running.Store(true)
	return nil
}

func (c *fakeController) StopTask() error {
	c.stops.Add(1)
	c.running.Store(false)
	return nil
}

func (c *fakeController) Running() bool { return c.running.Load() }

func seededStore() *store.MemoryStore {
	st := store.NewMemoryStore()
	st.Update(store.CycleStatus{Task: "weather", Cycle: 3, Status: store.StatusOK, Channels: 2},
		[]store.ChannelValue{
			{Key: 1, Name: "temperature", DataType: telem.Float64T, Value: 23.5, Cycle: 3},
			{Key: 2, Name: "humidity", DataType: telem.Float64T, Value: 80.0, Cycle: 3},
		})
	return st
}

func get(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// --- Routes ---

func TestHandler_Health(t *testing.T) {
	srv := NewServer(store.NewMemoryStore(), nil, 0, nil, "", testLogger())
	rec := get(t, srv.Handler(), http.MethodGet, "/healthz")

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %s, want ok status", rec.Body.String())
	}
}

func TestHandler_Cycle(t *testing.T) {
	srv := NewServer(seededStore(), nil, 0, nil, "", testLogger())
	rec := get(t, srv.Handler(), http.MethodGet, "/api/cycle")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var got store.CycleStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if got.Cycle != 3 || got.Status != store.StatusOK {
		t.Errorf("cycle = %+v, want cycle 3 ok", got)
	}
}

func TestHandler_CycleBeforeFirstRead(t *testing.T) {
	srv := NewServer(store.NewMemoryStore(), nil, 0, nil, "", testLogger())
	rec := get(t, srv.Handler(), http.MethodGet, "/api/cycle")

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
}

func TestHandler_Channels(t *testing.T) {
	srv := NewServer(seededStore(), nil, 0, nil, "", testLogger())
	rec := get(t, srv.Handler(), http.MethodGet, "/api/channels")

	var got []store.ChannelValue
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(channels) = %d, want 2", len(got))
	}
	if got[0].Name != "temperature" || got[0].Value != 23.5 {
		t.Errorf("channels[0] = %+v, want temperature=23.5", got[0])
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	srv := NewServer(seededStore(), nil, 0, nil, "", testLogger())
	rec := get(t, srv.Handler(), http.MethodPost, "/api/channels")

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandler_TaskCommands(t *testing.T) {
	ctl := &fakeController{}
	h := NewServer(store.NewMemoryStore(), ctl, 0, nil, "", testLogger()).Handler()

	rec := get(t, h, http.MethodPost, "/api/task/start")
	if rec.Code != http.StatusAccepted {
		t.Errorf("start status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	if !ctl.Running() {
		t.Error("Running() = false after start, want true")
	}

	rec = get(t, h, http.MethodGet, "/api/task")
	if !strings.Contains(rec.Body.String(), `"running":true`) {
		t.Errorf("task state = %s, want running", rec.Body.String())
	}

	rec = get(t, h, http.MethodPost, "/api/task/stop")
	if rec.Code != http.StatusAccepted {
		t.Errorf("stop status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	if ctl.Running() {
		t.Error("Running() = true after stop, want false")
	}
	if ctl.starts.Load() != 1 || ctl.stops.Load() != 1 {
		t.Errorf("starts=%d stops=%d, want 1 and 1", ctl.starts.Load(), ctl.stops.Load())
	}
}

func TestHandler_TaskStartRejected(t *testing.T) {
	ctl := &fakeController{startErr: errors.New("poller not started")}
	h := NewServer(store.NewMemoryStore(), ctl, 0, nil, "", testLogger()).Handler()

	rec := get(t, h, http.MethodPost, "/api/task/start")
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
	if !strings.Contains(rec.Body.String(), "poller not started") {
		t.Errorf("body = %s, want error message", rec.Body.String())
	}
}

func TestHandler_NoControllerNoTaskRoutes(t *testing.T) {
	h := NewServer(store.NewMemoryStore(), nil, 0, nil, "", testLogger()).Handler()
	rec := get(t, h, http.MethodPost, "/api/task/start")

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandler_Metrics(t *testing.T) {
	srv := NewServer(seededStore(), nil, 0, nil, "", testLogger())
	srv.SetMetrics(metrics.New("weather"))
	h := srv.Handler()

	get(t, h, http.MethodGet, "/api/channels")
	rec := get(t, h, http.MethodGet, "/metrics")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	want := `telempoll_http_requests_total{route="/api/channels",status="200",task="weather"} 1`
	if !strings.Contains(rec.Body.String(), want) {
		t.Errorf("metrics output missing %q", want)
	}
}

func TestHandler_NoMetricsRouteByDefault(t *testing.T) {
	h := NewServer(store.NewMemoryStore(), nil, 0, nil, "", testLogger()).Handler()
	rec := get(t, h, http.MethodGet, "/metrics")

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

// --- SSE ---

func TestHandleSSE_BasicFlow(t *testing.T) {
	srv := NewServer(seededStore(), nil, 0, nil, "", testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	srv.handleSSE(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, `"cycle":3`) {
		t.Errorf("response should contain the latest cycle, got: %s", body)
	}
}

func TestHandleSSE_StreamsUpdates(t *testing.T) {
	st := store.NewMemoryStore()
	srv := NewServer(st, nil, 0, nil, "", testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		srv.handleSSE(rec, req)
		close(done)
	}()

	// give handler time to subscribe
	time.Sleep(50 * time.Millisecond)
	st.Update(store.CycleStatus{Task: "streamed", Cycle: 9, Status: store.StatusDegraded}, nil)
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("handler did not exit after context cancellation")
	}

	body := rec.Body.String()
	if !strings.Contains(body, `"task":"streamed"`) {
		t.Errorf("response should contain streamed update, got: %s", body)
	}
	if !strings.HasPrefix(body, "data: ") {
		t.Errorf("response should use SSE framing, got: %s", body)
	}
}

func TestHandleSSE_ServerShutdown(t *testing.T) {
	srv := NewServer(store.NewMemoryStore(), nil, 0, nil, "", testLogger())

	// simulates BaseContext: request context derives from the server context
	serverCtx, serverCancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil).WithContext(serverCtx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		srv.handleSSE(rec, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	serverCancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not exit after server shutdown")
	}
}

func TestHandleSSE_ConcurrentClientsShutdown(t *testing.T) {
	srv := NewServer(seededStore(), nil, 0, nil, "", testLogger())
	serverCtx, serverCancel := context.WithCancel(context.Background())

	numClients := 10
	var wg sync.WaitGroup
	for i := 0; i < numClients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodGet, "/api/sse", nil).WithContext(serverCtx)
			srv.handleSSE(httptest.NewRecorder(), req)
		}()
	}

	time.Sleep(100 * time.Millisecond)
	serverCancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("not all handlers exited after shutdown")
	}
}

type nonFlushWriter struct {
	header     http.Header
	statusCode int
	body       []byte
}

func (n *nonFlushWriter) Header() http.Header { return n.header }

func (n *nonFlushWriter) Write(b []byte) (int, error) {
	n.body = append(n.body, b...)
	return len(b), nil
}

func (n *nonFlushWriter) WriteHeader(statusCode int) { n.statusCode = statusCode }

func TestHandleSSE_SSENotSupported(t *testing.T) {
	srv := NewServer(store.NewMemoryStore(), nil, 0, nil, "", testLogger())

	w := &nonFlushWriter{header: make(http.Header)}
	srv.handleSSE(w, httptest.NewRequest(http.MethodGet, "/api/sse", nil))

	if w.statusCode != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.statusCode)
	}
}

func TestHandleSSE_Headers(t *testing.T) {
	srv := NewServer(store.NewMemoryStore(), nil, 0, nil, "", testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	srv.handleSSE(rec, req)

	expectedHeaders := map[string]string{
		"Content-Type":                "text/event-stream",
		"Cache-Control":               "no-cache",
		"Connection":                  "keep-alive",
		"Access-Control-Allow-Origin": "*",
	}
	for key, expected := range expectedHeaders {
		if got := rec.Header().Get(key); got != expected {
			t.Errorf("header %s = %q, want %q", key, got, expected)
		}
	}
}

// TestServer_SSEIntegration exercises the full router over a real
// connection, where write deadlines are supported.
func TestServer_SSEIntegration(t *testing.T) {
	st := seededStore()
	srv := NewServer(st, nil, 0, nil, "", testLogger())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/sse", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/sse: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	buf := make([]byte, 4096)
	n, err := resp.Body.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(buf[:n]), `"task":"weather"`) {
		t.Errorf("first event = %q, want weather cycle", buf[:n])
	}
}

// --- Start ---

func TestStart_AvailablePort_ReturnsNil(t *testing.T) {
	srv := NewServer(store.NewMemoryStore(), nil, 0, nil, "", testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		t.Errorf("Start() on available port returned error: %v", err)
	}
}

func TestStart_PortInUse_ReturnsError(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	defer func() { _ = ln.Close() }()

	port := ln.Addr().(*net.TCPAddr).Port
	srv := NewServer(store.NewMemoryStore(), nil, port, nil, "", testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = srv.Start(ctx)
	if err == nil {
		t.Fatal("Start() on occupied port should return error")
	}
	if !strings.Contains(err.Error(), "failed to bind") {
		t.Errorf("expected bind error, got: %v", err)
	}
}

func TestStart_StoppedReleasesPort(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	srv := NewServer(store.NewMemoryStore(), nil, port, nil, "", testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case <-srv.Stopped():
		t.Fatal("Stopped() closed before cancellation")
	default:
	}

	cancel()
	select {
	case <-srv.Stopped():
	case <-time.After(2 * time.Second):
		t.Fatal("Stopped() not closed after cancellation")
	}

	ln, err = net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		t.Fatalf("port %d still in use after Stopped(): %v", port, err)
	}
	_ = ln.Close()
}

// --- Dashboard ---

func dashboardFS(content string) fs.FS {
	return fstest.MapFS{"assets/index.html": &fstest.MapFile{Data: []byte(content)}}
}

func TestHandleDashboard_Title(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{"custom", "Weather Station", "<title>Weather Station</title>"},
		{"default", "", "<title>telempoll</title>"},
		{"escaped", "<script>x</script>", "<title>&lt;script&gt;x&lt;/script&gt;</title>"},
		{"ampersand", "R&D", "<title>R&amp;D</title>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(store.NewMemoryStore(), nil, 0, dashboardFS("<title>{{.Title}}</title>"), tt.title, testLogger())
			rec := get(t, srv.Handler(), http.MethodGet, "/")

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
			}
			if got := rec.Body.String(); got != tt.want {
				t.Errorf("body = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHandleDashboard_NotFound(t *testing.T) {
	srv := NewServer(store.NewMemoryStore(), nil, 0, fstest.MapFS{}, "", testLogger())
	rec := get(t, srv.Handler(), http.MethodGet, "/")

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestHandleDashboard_NonRootPath(t *testing.T) {
	srv := NewServer(store.NewMemoryStore(), nil, 0, dashboardFS("x"), "", testLogger())
	rec := get(t, srv.Handler(), http.MethodGet, "/nope")

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}
