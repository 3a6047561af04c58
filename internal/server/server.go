package server

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"

	"github.com/jpalmerr/telempoll/internal/metrics"
	"github.com/jpalmerr/telempoll/internal/store"
)

const (
	// sseWriteTimeout bounds a single SSE write so slow or gone clients
	// cannot pin a handler goroutine. Must be <= shutdownTimeout.
	sseWriteTimeout = 5 * time.Second

	shutdownTimeout = 5 * time.Second

	defaultTitle     = "telempoll"
	titlePlaceholder = "{{.Title}}"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Controller starts and stops the read task behind the API.
type Controller interface {
	StartTask() error
	StopTask() error
	Running() bool
}

// Server serves the task API.
type Server struct {
	store      store.Store
	controller Controller
	port       int
	httpServer *http.Server
	assets     fs.FS
	title      string
	logger     *slog.Logger
	stopped    chan struct{}
	metrics    *metrics.Metrics
}

// NewServer creates a new HTTP [Server]. controller and assets may be nil,
// in which case the task command routes and the dashboard are not
// registered.
func NewServer(st store.Store, controller Controller, port int, assets fs.FS, title string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		store:      st,
		controller: controller,
		port:       port,
		assets:     assets,
		title:      title,
		logger:     logger,
		stopped:    make(chan struct{}),
	}
}

// SetMetrics instruments every route with m and serves it at /metrics.
// It must be called before Start.
func (s *Server) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// Handler returns the router serving every route.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/cycle", s.handleCycle)
		r.Get("/channels", s.handleChannels)
		r.Get("/sse", s.handleSSE)
		if s.controller != nil {
			r.Post("/task/start", s.handleTaskStart)
			r.Post("/task/stop", s.handleTaskStop)
			r.Get("/task", s.handleTaskState)
		}
	})
	if s.assets != nil {
		r.Get("/", s.handleDashboard)
	}
	return r
}

// Start begins serving in a background goroutine.
//
// It returns once the port is bound; a bind failure is returned. The server
// shuts down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// request contexts derive from ctx so SSE handlers exit on shutdown
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		defer close(s.stopped)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	return nil
}

// Stopped is closed once the server has shut down after ctx is cancelled.
// It never closes if Start failed or was not called.
func (s *Server) Stopped() <-chan struct{} {
	return s.stopped
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCycle returns the most recent cycle, or 204 before the first one.
func (s *Server) handleCycle(w http.ResponseWriter, _ *http.Request) {
	status, ok := s.store.Latest()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleChannels(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.Channels())
}

type taskState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleTaskState(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, taskState{Running: s.controller.Running()})
}

func (s *Server) handleTaskStart(w http.ResponseWriter, _ *http.Request) {
	if err := s.controller.StartTask(); err != nil {
		s.logger.Warn("task start rejected", "error", err)
		s.writeJSON(w, http.StatusConflict, taskState{Running: s.controller.Running(), Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusAccepted, taskState{Running: s.controller.Running()})
}

func (s *Server) handleTaskStop(w http.ResponseWriter, _ *http.Request) {
	if err := s.controller.StopTask(); err != nil {
		s.logger.Warn("task stop rejected", "error", err)
		s.writeJSON(w, http.StatusConflict, taskState{Running: s.controller.Running(), Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusAccepted, taskState{Running: s.controller.Running()})
}

func (s *Server) handleDashboard(w http.ResponseWriter, _ *http.Request) {
	content, err := fs.ReadFile(s.assets, "assets/index.html")
	if err != nil {
		http.Error(w, "Dashboard not found", http.StatusInternalServerError)
		return
	}

	title := s.title
	if title == "" {
		title = defaultTitle
	}
	rendered := strings.ReplaceAll(string(content), titlePlaceholder, html.EscapeString(title))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err = w.Write([]byte(rendered)); err != nil {
		s.logger.Error("failed to write dashboard response", "error", err)
	}
}

// handleSSE streams cycle updates via Server-Sent Events.
//
// Every write carries a deadline; a blocked write would otherwise keep the
// handler from noticing shutdown or a closed subscription.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	rc := http.NewResponseController(w)
	deadlinesSupported := true

	writeAndFlush := func(data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				s.logger.Warn("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		return rc.Flush()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	ch := s.store.Subscribe()
	defer s.store.Unsubscribe(ch)

	if latest, ok := s.store.Latest(); ok {
		data, err := json.Marshal(latest)
		if err == nil {
			if err := writeAndFlush(data); err != nil {
				return
			}
		}
	}

	for {
		select {
		case status, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(status)
			if err != nil {
				continue
			}
			if err := writeAndFlush(data); err != nil {
				return
			}

		case <-r.Context().Done():
			// fires on client disconnect and on server shutdown
			return
		}
	}
}
