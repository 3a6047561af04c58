package telempoll

import (
	"errors"
	"fmt"
	"log/slog"

	jsoniter "github.com/json-iterator/go"
)

// pollerConfig holds mutable state during Poller construction.
type pollerConfig struct {
	name           string
	title          string
	task           *TaskSpec
	registry       Registry
	port           int
	logger         *slog.Logger
	sinks          []Sink
	cycleCallbacks []func(CycleResult)
	backoff        Backoff
}

// Option configures a [Poller] during construction. Options return an error
// if validation fails.
type Option func(*pollerConfig) error

// WithTask sets the read task to run. Required.
//
// The task is fully validated by [Poller.Start], once the registry can be
// consulted.
func WithTask(spec TaskSpec) Option {
	return func(cfg *pollerConfig) error {
		cfg.task = &spec
		return nil
	}
}

// WithTaskJSON is like [WithTask] but decodes the task from JSON.
//
// Example:
//
//	p, err := telempoll.New(
//	    telempoll.WithRegistry(reg),
//	    telempoll.WithTaskJSON([]byte(`{"device": "dev", "rate": 1, "endpoints": [...]}`)),
//	)
func WithTaskJSON(data []byte) Option {
	return func(cfg *pollerConfig) error {
		var spec TaskSpec
		if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &spec); err != nil {
			return fmt.Errorf("%w: invalid task config: %v", ErrValidation, err)
		}
		cfg.task = &spec
		return nil
	}
}

// WithRegistry sets where devices and channels are looked up. Required.
func WithRegistry(r Registry) Option {
	return func(cfg *pollerConfig) error {
		if r == nil {
			return errors.New("registry cannot be nil")
		}
		cfg.registry = r
		return nil
	}
}

// WithName sets the task name used in logs, records and Kafka keys.
// Defaults to "telempoll".
func WithName(name string) Option {
	return func(cfg *pollerConfig) error {
		if name == "" {
			return errors.New("name cannot be empty")
		}
		cfg.name = name
		return nil
	}
}

// WithTitle sets the dashboard title. Defaults to the name.
func WithTitle(title string) Option {
	return func(cfg *pollerConfig) error {
		cfg.title = title
		return nil
	}
}

// WithPort sets the HTTP port for the API and dashboard. Port 0 disables
// the server. Defaults to 8080.
func WithPort(port int) Option {
	return func(cfg *pollerConfig) error {
		if port < 0 || port > 65535 {
			return errors.New("port must be between 0 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithLogger sets a custom [slog.Logger]. If not specified, [slog.Default]
// is used.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *pollerConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithSink adds a [Sink] that receives every cycle that produced data,
// provided the task has data saving enabled. Sinks are closed when Start
// returns. Nil sinks are ignored.
func WithSink(s Sink) Option {
	return func(cfg *pollerConfig) error {
		if s != nil {
			cfg.sinks = append(cfg.sinks, s)
		}
		return nil
	}
}

// WithCycleCallback registers a function called after every cycle,
// including failed ones.
//
// Callbacks run synchronously on the result goroutine in registration
// order and must not block. Panics are recovered and logged. Nil
// callbacks are ignored.
//
// Example:
//
//	telempoll.WithCycleCallback(func(r telempoll.CycleResult) {
//	    if errors.Is(r.Err, telempoll.ErrUnreachable) {
//	        log.Printf("device offline: %v", r.Err)
//	    }
//	})
func WithCycleCallback(cb func(CycleResult)) Option {
	return func(cfg *pollerConfig) error {
		if cb != nil {
			cfg.cycleCallbacks = append(cfg.cycleCallbacks, cb)
		}
		return nil
	}
}

// WithBackoff sets the retry policy for failed cycles. Defaults to
// [DefaultBackoff].
func WithBackoff(b Backoff) Option {
	return func(cfg *pollerConfig) error {
		if b.Base <= 0 {
			return errors.New("backoff base must be positive")
		}
		if b.Scale < 1 {
			return errors.New("backoff scale must be at least 1")
		}
		cfg.backoff = b
		return nil
	}
}
