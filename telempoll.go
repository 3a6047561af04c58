package telempoll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jpalmerr/telempoll/dashboard"
	"github.com/jpalmerr/telempoll/internal/errs"
	"github.com/jpalmerr/telempoll/internal/metrics"
	"github.com/jpalmerr/telempoll/internal/poller"
	"github.com/jpalmerr/telempoll/internal/readtask"
	"github.com/jpalmerr/telempoll/internal/server"
	"github.com/jpalmerr/telempoll/internal/sink"
	"github.com/jpalmerr/telempoll/internal/store"
	"github.com/jpalmerr/telempoll/internal/telem"
)

const (
	defaultName = "telempoll"
	defaultPort = 8080
)

// Poller runs one read task and serves its state.
//
// The typical lifecycle is:
//
//	p, err := telempoll.New(telempoll.WithRegistry(reg), telempoll.WithTask(spec))
//	if err != nil {
//	    slog.Error("failed to create poller", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	p.Start(ctx) // blocks until ctx is cancelled
//
// A Poller is started once. Between Start and its return, the task can be
// stopped and restarted with [Poller.StopTask] and [Poller.StartTask], or
// through the HTTP API.
type Poller struct {
	name           string
	title          string
	spec           TaskSpec
	registry       Registry
	port           int
	logger         *slog.Logger
	sinks          []Sink
	cycleCallbacks []func(CycleResult)
	backoff        Backoff

	mu       sync.Mutex
	env      *taskEnv
	task     *runningTask
	terminal chan error
}

// taskEnv is everything a configured task needs while Start is running.
type taskEnv struct {
	ctx        context.Context
	source     *readtask.Source
	store      *store.MemoryStore
	channels   map[telem.ChannelKey]telem.Channel
	names      map[telem.ChannelKey]string
	dataSaving bool
	metrics    *metrics.Metrics
}

type runningTask struct {
	sched    *poller.Scheduler
	consumed chan struct{}
}

// New creates a [Poller] with the given options.
//
// [WithTask] and [WithRegistry] are required. The task itself is validated
// when Start configures it.
func New(opts ...Option) (*Poller, error) {
	cfg := &pollerConfig{
		name:    defaultName,
		port:    defaultPort,
		backoff: poller.DefaultBackoff(),
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.task == nil {
		return nil, errors.New("a task is required")
	}
	if cfg.registry == nil {
		return nil, errors.New("a registry is required")
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}
	title := cfg.title
	if title == "" {
		title = cfg.name
	}

	return &Poller{
		name:           cfg.name,
		title:          title,
		spec:           *cfg.task,
		registry:       cfg.registry,
		port:           cfg.port,
		logger:         logger,
		sinks:          cfg.sinks,
		cycleCallbacks: cfg.cycleCallbacks,
		backoff:        cfg.backoff,
		terminal:       make(chan error, 1),
	}, nil
}

// Name returns the task name.
func (p *Poller) Name() string {
	return p.name
}

// Port returns the configured HTTP port. Zero means the server is disabled.
func (p *Poller) Port() int {
	return p.port
}

// Start configures the task, starts the HTTP server, and runs the task if it
// has auto_start set.
//
// Start blocks until ctx is cancelled, returning nil, or until the task
// exhausts its retries, returning an error wrapping [ErrRetriesExhausted].
// A task that fails validation returns an error wrapping [ErrValidation]
// immediately. Sinks are closed before Start returns.
func (p *Poller) Start(ctx context.Context) error {
	defer p.closeSinks()
	if ctx.Err() != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	src, err := readtask.Configure(ctx, p.spec, p.registry, p.logger.With("task", p.name))
	if err != nil {
		return fmt.Errorf("configure task: %w", err)
	}
	defer src.Close()

	plan := src.Plan()
	env := &taskEnv{
		ctx:        ctx,
		source:     src,
		store:      store.NewMemoryStore(),
		channels:   make(map[telem.ChannelKey]telem.Channel),
		names:      make(map[telem.ChannelKey]string),
		dataSaving: src.WriterConfig().DataSaving,
		metrics:    metrics.New(p.name),
	}
	src.OnResponse(func(path string, resp poller.Response) {
		env.metrics.Endpoint(path, resp.TimeRange.Span())
	})
	for _, ch := range src.Channels() {
		env.channels[ch.Key] = ch
		env.names[ch.Key] = ch.Name
	}

	p.mu.Lock()
	p.env = env
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.env = nil
		p.mu.Unlock()
	}()

	p.logger.Info("task configured",
		"task", p.name,
		"device", plan.Device.Key,
		"endpoints", len(plan.Endpoints),
		"rate_hz", float64(plan.Rate),
		"data_saving", env.dataSaving,
	)

	if p.port > 0 {
		srv := server.NewServer(env.store, p, p.port, dashboard.Assets, p.title, p.logger)
		srv.SetMetrics(env.metrics)
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		// the port is free again when Start returns
		defer func() {
			cancel()
			<-srv.Stopped()
		}()
		p.logger.Info("api available", "url", fmt.Sprintf("http://localhost:%d", p.port))
	}

	if plan.AutoStart {
		if err := p.StartTask(); err != nil {
			return err
		}
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-p.terminal:
	}

	// no task may start once shutdown begins
	p.mu.Lock()
	p.env = nil
	p.mu.Unlock()
	cancel()
	_ = p.StopTask()
	p.logger.Info("telempoll stopped", "task", p.name)
	return runErr
}

// StartTask starts the read loop. It is a no-op if the task is already
// running and returns [ErrNotStarted] outside of Start.
func (p *Poller) StartTask() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.env == nil {
		return ErrNotStarted
	}
	if p.task != nil {
		return nil
	}

	t := &runningTask{
		sched:    poller.NewScheduler(p.name, p.env.source, p.backoff, p.logger),
		consumed: make(chan struct{}),
	}
	p.task = t
	t.sched.Start(p.env.ctx)
	p.env.metrics.SetRunning(true)
	go p.consume(t, p.env)

	p.logger.Info("task started", "task", p.name)
	return nil
}

// StopTask stops the read loop and waits for in-flight results to be
// handled. It is a no-op if the task is not running.
func (p *Poller) StopTask() error {
	p.mu.Lock()
	t := p.task
	p.task = nil
	p.mu.Unlock()

	if t == nil {
		return nil
	}
	t.sched.Stop()
	<-t.consumed
	p.logger.Info("task stopped", "task", p.name)
	return nil
}

// Running reports whether the read loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.task != nil
}

// consume handles every result of one scheduler run.
func (p *Poller) consume(t *runningTask, env *taskEnv) {
	defer close(t.consumed)
	defer env.metrics.SetRunning(false)

	for res := range t.sched.Results() {
		p.handle(res, env)
	}

	err := t.sched.Err()
	if err == nil {
		return
	}
	p.mu.Lock()
	if p.task == t {
		p.task = nil
	}
	p.mu.Unlock()

	select {
	case p.terminal <- err:
	default:
	}
}

// handle stores the result first, then persists it, then fires callbacks.
func (p *Poller) handle(res poller.CycleResult, env *taskEnv) {
	status := cycleStatus(res)

	cs := store.CycleStatus{
		Task:       p.name,
		Cycle:      res.Cycle,
		Status:     string(status),
		Warning:    res.Warning,
		StartedAt:  res.StartedAt,
		DurationMs: res.Duration.Milliseconds(),
		Channels:   res.Frame.Len(),
	}
	if res.Err != nil {
		msg := res.Err.Error()
		cs.Error = &msg
	}
	env.store.Update(cs, channelValues(res, env.channels))
	env.metrics.Cycle(string(status), errs.Kind(res.Err), res.Duration)

	if res.Err == nil && env.dataSaving && !res.Frame.Empty() {
		rec := sink.NewRecord(p.name, res.Cycle, res.StartedAt, res.Warning, res.Frame, env.names)
		for _, s := range p.sinks {
			if err := s.Write(env.ctx, rec); err != nil && env.ctx.Err() == nil {
				p.logger.Warn("sink write failed", "task", p.name, "cycle", res.Cycle, "error", err)
			}
		}
	}

	if len(p.cycleCallbacks) > 0 {
		for _, cb := range p.cycleCallbacks {
			invokeCallbackSafe(cb, toPublicResult(p.name, status, res), p.logger)
		}
	}

	logAttrs := []any{
		"task", p.name,
		"cycle", res.Cycle,
		"status", status,
		"channels", res.Frame.Len(),
		"duration_ms", res.Duration.Milliseconds(),
	}
	switch status {
	case StatusFailed:
		p.logger.Warn("cycle failed", append(logAttrs, "error", res.Err.Error())...)
	case StatusDegraded:
		p.logger.Warn("cycle degraded", append(logAttrs, "warning", res.Warning)...)
	default:
		p.logger.Debug("cycle completed", logAttrs...)
	}
}

func cycleStatus(res poller.CycleResult) Status {
	switch {
	case res.Err != nil:
		return StatusFailed
	case res.Warning != "":
		return StatusDegraded
	}
	return StatusOK
}

func channelValues(res poller.CycleResult, channels map[telem.ChannelKey]telem.Channel) []store.ChannelValue {
	values := make([]store.ChannelValue, 0, res.Frame.Len())
	res.Frame.Range(func(key telem.ChannelKey, s telem.Series) bool {
		if s.Len() == 0 {
			return true
		}
		values = append(values, store.ChannelValue{
			Key:       key,
			Name:      channels[key].Name,
			DataType:  s.DataType,
			Value:     s.Samples[0],
			Cycle:     res.Cycle,
			UpdatedAt: res.StartedAt,
		})
		return true
	})
	return values
}

// toPublicResult gives every callback its own copy of the frame.
func toPublicResult(task string, status Status, res poller.CycleResult) CycleResult {
	return CycleResult{
		Task:      task,
		Cycle:     res.Cycle,
		Status:    status,
		Frame:     res.Frame.Clone(),
		Warning:   res.Warning,
		Err:       res.Err,
		StartedAt: res.StartedAt,
		Duration:  res.Duration,
	}
}

func (p *Poller) closeSinks() {
	for _, s := range p.sinks {
		if err := s.Close(); err != nil {
			p.logger.Warn("sink close failed", "task", p.name, "error", err)
		}
	}
}

// invokeCallbackSafe calls a cycle callback with panic recovery.
func invokeCallbackSafe(cb func(CycleResult), result CycleResult, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("cycle callback panicked",
				"panic", r,
				"task", result.Task,
				"cycle", result.Cycle,
			)
		}
	}()
	cb(result)
}
