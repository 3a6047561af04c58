// Package metrics exposes read task activity in the Prometheus text format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records cycle outcomes, endpoint latency and API traffic for one
// task. Each Metrics owns its registry, so several tasks can share a process.
//
// All methods are safe on a nil *Metrics.
type Metrics struct {
	registry        *prometheus.Registry
	cycles          *prometheus.CounterVec
	failures        *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	endpointLatency *prometheus.HistogramVec
	running         prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New creates the collectors for task and registers them, together with the
// Go runtime and process collectors.
func New(task string) *Metrics {
	labels := prometheus.Labels{"task": task}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "telempoll_cycles_total",
			Help:        "Total read cycles by outcome (ok, degraded, failed).",
			ConstLabels: labels,
		}, []string{"status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "telempoll_cycle_failures_total",
			Help:        "Total failed read cycles by error kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "telempoll_cycle_duration_seconds",
			Help:        "Histogram of read cycle durations.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}),
		endpointLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "telempoll_endpoint_latency_seconds",
			Help:        "Histogram of per-endpoint request latency.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}, []string{"path"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "telempoll_task_running",
			Help:        "1 while the read loop is active.",
			ConstLabels: labels,
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "telempoll_http_requests_total",
			Help:        "Total API requests by route and status.",
			ConstLabels: labels,
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "telempoll_http_request_duration_seconds",
			Help:        "Histogram of API request durations by route.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cycles,
		m.failures,
		m.cycleDuration,
		m.endpointLatency,
		m.running,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Cycle records one cycle. kind is the error kind of a failed cycle and is
// ignored otherwise.
func (m *Metrics) Cycle(status, kind string, duration time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(status).Inc()
	m.cycleDuration.Observe(duration.Seconds())
	if kind != "" {
		m.failures.WithLabelValues(kind).Inc()
	}
}

// Endpoint records the latency of one endpoint request.
func (m *Metrics) Endpoint(path string, latency time.Duration) {
	if m == nil {
		return
	}
	m.endpointLatency.WithLabelValues(path).Observe(latency.Seconds())
}

// SetRunning reports whether the read loop is active.
func (m *Metrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.running.Set(1)
		return
	}
	m.running.Set(0)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Flush keeps SSE streaming through the recorder.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// Middleware counts requests by chi route pattern and status.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		m.httpRequests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
