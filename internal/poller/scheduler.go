package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/telempoll/internal/errs"
	"github.com/jpalmerr/telempoll/internal/telem"
)

// ErrRetriesExhausted is returned by [Scheduler.Err] when the read loop
// stopped after too many consecutive failures.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Reader produces one frame per call. Read is expected to pace itself.
type Reader interface {
	Read(ctx context.Context) (telem.Frame, string, error)
}

// CycleResult holds the outcome of one read cycle.
type CycleResult struct {
	// Cycle counts from 1.
	Cycle uint64

	// Frame is empty when Err is set.
	Frame telem.Frame

	// Warning describes degraded fields or endpoints. Empty if none.
	Warning string

	// Err is the fatal error that aborted the cycle, if any.
	Err error

	StartedAt time.Time
	Duration  time.Duration
}

// Backoff controls the delay between consecutive failed cycles.
type Backoff struct {
	Base  time.Duration
	Scale float64
	// MaxRetries is the number of retries after the first failure. A
	// negative value retries forever.
	MaxRetries int
}

// DefaultBackoff returns 1s base, 1.2 scale, 50 retries.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Scale: 1.2, MaxRetries: 50}
}

// Delay returns the wait before retry n (n >= 1): Base * Scale^(n-1).
func (b Backoff) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	scale := b.Scale
	if scale < 1 {
		scale = 1
	}
	d := float64(b.Base) * math.Pow(scale, float64(n-1))
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Scheduler runs a [Reader] in a loop and emits every outcome.
//
// Fatal errors are retried with [Backoff]; a successful cycle resets the
// failure count. All lifecycle methods (Start, Stop) are safe for
// concurrent use.
type Scheduler struct {
	name    string
	reader  Reader
	backoff Backoff
	results chan CycleResult
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	done    chan struct{}

	mu        sync.Mutex
	started   bool
	stopped   bool
	closeOnce sync.Once
	err       error
}

// NewScheduler creates a new [Scheduler] for reader.
//
// The scheduler must be started with [Scheduler.Start] and stopped with
// [Scheduler.Stop]. Results are available via [Scheduler.Results].
func NewScheduler(name string, reader Reader, backoff Backoff, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		name:    name,
		reader:  reader,
		backoff: backoff,
		results: make(chan CycleResult, 16),
		logger:  logger.With("task", name),
		done:    make(chan struct{}),
	}
}

// Results returns a receive-only channel that emits [CycleResult] values.
//
// The channel is closed when the scheduler stops. Consumers should read from
// this channel until it is closed.
func (s *Scheduler) Results() <-chan CycleResult {
	return s.results
}

// Done is closed once the read loop has exited.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Err returns the terminal error once Done is closed. It is nil when the
// loop stopped because of Stop or context cancellation.
func (s *Scheduler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Start begins the read loop in a background goroutine.
//
// If ctx is nil, context.Background() is used as the parent context.
// Start is idempotent; subsequent calls after the first are no-ops.
// If Stop was called before Start, Start is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true

	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	runCtx := s.ctx // capture under lock to avoid race
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer close(s.done)
		defer s.closeOnce.Do(func() { close(s.results) })
		s.run(runCtx)
	}()
}

// Stop cancels the loop and waits for it to exit.
//
// Stop is idempotent and safe to call multiple times. Calling Stop before
// Start is a safe no-op that also closes the results channel.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	wasStarted := s.started
	if !s.stopped {
		s.stopped = true
		if s.cancel != nil {
			s.cancel()
		}
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.closeOnce.Do(func() { close(s.results) })
	if !wasStarted {
		s.mu.Lock()
		select {
		case <-s.done:
		default:
			close(s.done)
		}
		s.mu.Unlock()
	}
}

func (s *Scheduler) run(ctx context.Context) {
	failures := 0
	for cycle := uint64(1); ; cycle++ {
		if ctx.Err() != nil {
			return
		}

		startedAt := time.Now()
		frame, warning, err := s.safeRead(ctx)
		if err != nil && ctx.Err() != nil {
			// cancellation mid-cycle is not a failure
			return
		}

		result := CycleResult{
			Cycle:     cycle,
			Frame:     frame,
			Warning:   warning,
			Err:       err,
			StartedAt: startedAt,
			Duration:  time.Since(startedAt),
		}
		select {
		case s.results <- result:
		case <-ctx.Done():
			return
		}

		if err == nil {
			if failures > 0 {
				s.logger.Info("read recovered", "after_failures", failures)
			}
			failures = 0
			continue
		}

		failures++
		if s.backoff.MaxRetries >= 0 && failures > s.backoff.MaxRetries {
			s.logger.Error("giving up after consecutive failures",
				"failures", failures,
				"error", err,
			)
			s.mu.Lock()
			s.err = fmt.Errorf("%w: %d consecutive failures: %w", ErrRetriesExhausted, failures, err)
			s.mu.Unlock()
			return
		}

		delay := s.backoff.Delay(failures)
		s.logger.Warn("read failed, retrying",
			"attempt", failures,
			"delay", delay,
			"error", err,
			"unreachable", errors.Is(err, errs.ErrUnreachable),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// safeRead calls the reader with panic recovery.
// If the reader panics, it logs the full stack trace with a correlation ID
// and returns an error containing the ID.
func (s *Scheduler) safeRead(ctx context.Context) (frame telem.Frame, warning string, err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			stack := debug.Stack()

			// log full context server-side for debugging
			s.logger.Error("reader panic",
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(stack),
			)

			frame = telem.Frame{}
			warning = ""
			err = fmt.Errorf("reader panic (correlation_id: %s)", correlationID)
		}
	}()
	return s.reader.Read(ctx)
}
