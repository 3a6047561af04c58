// Package mockstation serves a simulated weather station for the examples
// and for trying the CLI locally.
package mockstation

import (
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Station simulates a weather station with two JSON endpoints:
//
//	GET /api/data   {"temperature": 21.3, "humidity": 48.2, "pressure": 1012.9}
//	GET /api/state  {"state": "running", "ts": 1760000000000}
//
// The state cycles through running, idle and fault every 20-60 seconds.
type Station struct {
	started time.Time

	mu           sync.Mutex
	stateIdx     int
	nextChangeAt time.Time
}

var stationStates = []string{"running", "idle", "fault"}

// New creates a Station whose readings start drifting from now.
func New() *Station {
	return &Station{
		started:      time.Now(),
		nextChangeAt: time.Now().Add(time.Duration(20+rand.Intn(41)) * time.Second),
	}
}

// Handler returns the station's routes.
func (m *Station) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/api/data", m.handleData)
	r.Get("/api/state", m.handleState)
	return r
}

func (m *Station) handleData(w http.ResponseWriter, _ *http.Request) {
	// simulate small latency variance
	time.Sleep(time.Duration(5+rand.Intn(20)) * time.Millisecond)

	t := time.Since(m.started).Seconds()
	m.writeJSON(w, map[string]float64{
		"temperature": round(21+3*math.Sin(t/60)+rand.Float64()*0.2, 2),
		"humidity":    round(50+10*math.Cos(t/90)+rand.Float64(), 2),
		"pressure":    round(1013+rand.Float64()*2-1, 1),
	})
}

func (m *Station) handleState(w http.ResponseWriter, _ *http.Request) {
	m.mu.Lock()
	if time.Now().After(m.nextChangeAt) {
		old := stationStates[m.stateIdx]
		m.stateIdx = (m.stateIdx + 1) % len(stationStates)
		m.nextChangeAt = time.Now().Add(time.Duration(20+rand.Intn(41)) * time.Second)
		slog.Info("state change", "from", old, "to", stationStates[m.stateIdx])
	}
	state := stationStates[m.stateIdx]
	m.mu.Unlock()

	m.writeJSON(w, map[string]any{
		"state": state,
		"ts":    time.Now().UnixMilli(),
	})
}

func (m *Station) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// ListenAndServe serves a new Station on addr.
func ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           New().Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
