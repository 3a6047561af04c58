package telempoll

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func minimalOpts() []Option {
	return []Option{
		WithRegistry(NewMemoryRegistry()),
		WithTask(TaskSpec{Device: "dev", Rate: 1}),
	}
}

func TestNew_Valid(t *testing.T) {
	p, err := New(minimalOpts()...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p == nil {
		t.Fatal("New() returned nil")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New(minimalOpts()...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.Name() != "telempoll" {
		t.Errorf("Name() = %q, want %q", p.Name(), "telempoll")
	}
	if p.Port() != 8080 {
		t.Errorf("Port() = %d, want %d", p.Port(), 8080)
	}
	if p.backoff != DefaultBackoff() {
		t.Errorf("backoff = %+v, want %+v", p.backoff, DefaultBackoff())
	}
	if p.title != "telempoll" {
		t.Errorf("title = %q, want name", p.title)
	}
	if p.logger != slog.Default() {
		t.Error("logger should default to slog.Default()")
	}
}

func TestNew_MissingTask(t *testing.T) {
	_, err := New(WithRegistry(NewMemoryRegistry()))
	if err == nil {
		t.Error("New() without task should return error")
	}
}

func TestNew_MissingRegistry(t *testing.T) {
	_, err := New(WithTask(TaskSpec{}))
	if err == nil {
		t.Error("New() without registry should return error")
	}
}

func TestWithTaskJSON(t *testing.T) {
	p, err := New(
		WithRegistry(NewMemoryRegistry()),
		WithTaskJSON([]byte(`{"device":"dev","rate":5,"auto_start":true,"endpoints":[{"path":"/x","fields":[{"pointer":"/a","channel":1}]}]}`)),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.spec.Rate != 5 || !p.spec.AutoStart {
		t.Errorf("spec = %+v, want rate 5 auto_start", p.spec)
	}
	if len(p.spec.Endpoints) != 1 || p.spec.Endpoints[0].Fields[0].Channel != 1 {
		t.Errorf("endpoints = %+v", p.spec.Endpoints)
	}
}

func TestWithTaskJSON_Invalid(t *testing.T) {
	_, err := New(WithRegistry(NewMemoryRegistry()), WithTaskJSON([]byte(`{`)))
	if !errors.Is(err, ErrValidation) {
		t.Errorf("New() error = %v, want ErrValidation", err)
	}
}

func TestWithPort(t *testing.T) {
	tests := []struct {
		port    int
		wantErr bool
	}{
		{0, false},
		{1, false},
		{9090, false},
		{65535, false},
		{-1, true},
		{65536, true},
	}
	for _, tt := range tests {
		p, err := New(append(minimalOpts(), WithPort(tt.port))...)
		if (err != nil) != tt.wantErr {
			t.Errorf("WithPort(%d) error = %v, wantErr %v", tt.port, err, tt.wantErr)
			continue
		}
		if err == nil && p.Port() != tt.port {
			t.Errorf("Port() = %d, want %d", p.Port(), tt.port)
		}
	}
}

func TestWithName(t *testing.T) {
	p, err := New(append(minimalOpts(), WithName("weather"))...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.Name() != "weather" {
		t.Errorf("Name() = %q, want %q", p.Name(), "weather")
	}
	if p.title != "weather" {
		t.Errorf("title = %q, want %q", p.title, "weather")
	}

	if _, err := New(append(minimalOpts(), WithName(""))...); err == nil {
		t.Error("WithName(\"\") should return error")
	}
}

func TestWithTitle(t *testing.T) {
	p, err := New(append(minimalOpts(), WithTitle("Roof Station"))...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.title != "Roof Station" {
		t.Errorf("title = %q, want %q", p.title, "Roof Station")
	}
}

func TestWithLogger(t *testing.T) {
	logger := testLogger()
	p, err := New(append(minimalOpts(), WithLogger(logger))...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.logger != logger {
		t.Error("WithLogger() did not set logger")
	}

	if _, err := New(append(minimalOpts(), WithLogger(nil))...); err == nil {
		t.Error("WithLogger(nil) should return error")
	}
}

func TestWithRegistry_Nil(t *testing.T) {
	_, err := New(WithTask(TaskSpec{}), WithRegistry(nil))
	if err == nil {
		t.Error("WithRegistry(nil) should return error")
	}
}

func TestWithBackoff(t *testing.T) {
	b := Backoff{Base: 10 * time.Millisecond, Scale: 2, MaxRetries: 3}
	p, err := New(append(minimalOpts(), WithBackoff(b))...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.backoff != b {
		t.Errorf("backoff = %+v, want %+v", p.backoff, b)
	}
}

func TestWithBackoff_Invalid(t *testing.T) {
	tests := []struct {
		name string
		b    Backoff
	}{
		{"zero base", Backoff{Scale: 1}},
		{"negative base", Backoff{Base: -time.Second, Scale: 1}},
		{"scale below one", Backoff{Base: time.Second, Scale: 0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(append(minimalOpts(), WithBackoff(tt.b))...); err == nil {
				t.Error("WithBackoff() should return error")
			}
		})
	}
}

func TestWithSinkAndCallback_NilIgnored(t *testing.T) {
	p, err := New(append(minimalOpts(), WithSink(nil), WithCycleCallback(nil))...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if len(p.sinks) != 0 || len(p.cycleCallbacks) != 0 {
		t.Errorf("sinks=%d callbacks=%d, want 0 and 0", len(p.sinks), len(p.cycleCallbacks))
	}
}
