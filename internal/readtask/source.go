package readtask

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jpalmerr/telempoll/internal/errs"
	"github.com/jpalmerr/telempoll/internal/jsonx"
	"github.com/jpalmerr/telempoll/internal/poller"
	"github.com/jpalmerr/telempoll/internal/registry"
	"github.com/jpalmerr/telempoll/internal/telem"
)

// Runner issues the endpoint requests of one cycle. *poller.Dispatcher
// implements it.
type Runner interface {
	Run(ctx context.Context, bodies []string) ([]poller.Response, error)
}

// Waiter paces cycles. *poller.Clock implements it.
type Waiter interface {
	Wait(ctx context.Context) error
}

// WriterConfig describes what a Source writes.
type WriterConfig struct {
	// Keys holds every enabled field channel followed by index channels.
	Keys       []telem.ChannelKey
	DataSaving bool
}

// Source executes a Plan one cycle at a time.
//
// A Source is not safe for concurrent use; a single read loop owns it.
type Source struct {
	plan     *Plan
	runner   Runner
	clock    Waiter
	bodies   []string
	logger   *slog.Logger
	channels []telem.Channel
	writer   WriterConfig

	onResponse func(path string, resp poller.Response)
}

// NewSource creates a Source that paces itself at plan.Rate.
func NewSource(plan *Plan, runner Runner, logger *slog.Logger) *Source {
	return NewSourceWithClock(plan, runner, poller.NewClock(plan.Rate), logger)
}

// NewSourceWithClock is like NewSource with an explicit clock.
func NewSourceWithClock(plan *Plan, runner Runner, clock Waiter, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Source{
		plan:   plan,
		runner: runner,
		clock:  clock,
		bodies: plan.Bodies(),
		logger: logger,
		writer: WriterConfig{DataSaving: plan.DataSaving},
	}

	for _, ep := range plan.Endpoints {
		for _, f := range ep.Fields {
			if !f.Enabled {
				continue
			}
			s.channels = append(s.channels, f.Channel)
			s.writer.Keys = append(s.writer.Keys, f.ChannelKey)
		}
	}
	for _, idx := range plan.IndexSources {
		s.writer.Keys = append(s.writer.Keys, idx.IndexKey)
		if ch, ok := plan.Channels[idx.IndexKey]; ok {
			s.channels = append(s.channels, ch)
		}
	}
	return s
}

// Configure parses spec, builds a dispatcher for it, and returns a ready
// Source.
func Configure(ctx context.Context, spec TaskSpec, reg registry.Registry, logger *slog.Logger) (*Source, error) {
	plan, err := Parse(ctx, spec, reg)
	if err != nil {
		return nil, err
	}
	d, err := poller.Build(plan.Connection, plan.RequestPlans())
	if err != nil {
		return nil, errs.Wrap(errs.ErrValidation, "%v", err)
	}
	return NewSource(plan, d, logger), nil
}

// Plan returns the plan the source executes.
func (s *Source) Plan() *Plan {
	return s.plan
}

// WriterConfig returns the channels written by this source.
func (s *Source) WriterConfig() WriterConfig {
	return WriterConfig{
		Keys:       append([]telem.ChannelKey(nil), s.writer.Keys...),
		DataSaving: s.writer.DataSaving,
	}
}

// Channels returns metadata for every written channel, fields first.
func (s *Source) Channels() []telem.Channel {
	return append([]telem.Channel(nil), s.channels...)
}

// OnResponse registers fn to see every endpoint response of a cycle that
// completed at the transport level. It must be set before the first Read.
func (s *Source) OnResponse(fn func(path string, resp poller.Response)) {
	s.onResponse = fn
}

// Close releases the dispatcher if the source owns one.
func (s *Source) Close() {
	if d, ok := s.runner.(*poller.Dispatcher); ok {
		d.Close()
	}
}

// Read runs one cycle.
//
// It returns an error, and no frame, when the cycle is cancelled or when any
// endpoint fails at the transport level or answers with a 4xx or 5xx
// status. Cancellation is reported as the bare context error. Content type
// mismatches, unparseable bodies, missing fields and failed conversions are
// errs.ErrParse problems: they only drop the affected data and are
// described in the returned warning.
func (s *Source) Read(ctx context.Context) (telem.Frame, string, error) {
	if err := s.clock.Wait(ctx); err != nil {
		return telem.Frame{}, "", err
	}

	responses, err := s.runner.Run(ctx, s.bodies)
	if err != nil {
		return telem.Frame{}, "", err
	}
	if len(responses) != len(s.plan.Endpoints) {
		return telem.Frame{}, "", errs.Wrap(errs.ErrTransport,
			"expected %d responses, got %d", len(s.plan.Endpoints), len(responses))
	}
	if s.onResponse != nil {
		for ei, resp := range responses {
			s.onResponse(s.plan.Endpoints[ei].Request.Path, resp)
		}
	}

	for ei, resp := range responses {
		if err := classifyStatus(s.plan.Endpoints[ei].Request, resp.StatusCode); err != nil {
			return telem.Frame{}, "", err
		}
	}

	frame := telem.NewFrame(len(s.writer.Keys))
	var problems []error
	for ei := range s.plan.Endpoints {
		problems = s.readEndpoint(ei, responses[ei], &frame, problems)
	}

	warnings := make([]string, 0, len(problems))
	for _, p := range problems {
		if errs.Fatal(p) {
			return telem.Frame{}, "", p
		}
		warnings = append(warnings, p.Error())
	}
	warning := strings.Join(warnings, "; ")
	if warning != "" {
		s.logger.Debug("cycle degraded", "warnings", len(warnings))
	}
	return frame, warning, nil
}

// readEndpoint appends the endpoint's data to frame. Every problem it
// reports wraps errs.ErrParse and only drops the affected data.
func (s *Source) readEndpoint(ei int, resp poller.Response, frame *telem.Frame, problems []error) []error {
	ep := s.plan.Endpoints[ei]
	path := ep.Request.Path

	if resp.Err != nil {
		return append(problems, resp.Err)
	}
	doc, err := jsonx.Decode(resp.Body)
	if err != nil {
		return append(problems, errs.Wrap(errs.ErrParse, "failed to parse response from %s: %v", path, err))
	}

	read := 0
	for _, f := range ep.Fields {
		if !f.Enabled {
			continue
		}
		raw, ok := f.Pointer.Get(doc)
		if !ok {
			problems = append(problems, errs.Wrap(errs.ErrParse, "field %s not found in response from %s", f.Pointer, path))
			continue
		}
		v, err := jsonx.ToSampleValue(raw, f.Channel.DataType, jsonx.ReadOptions{
			Strict:     s.plan.Strict,
			TimeFormat: f.TimeFormat,
			EnumValues: f.EnumValues,
		})
		if err != nil {
			problems = append(problems, errs.Wrap(errs.ErrParse, "failed to convert %s for channel %s: %v", f.Pointer, f.Channel.Name, err))
			continue
		}
		frame.Append(f.ChannelKey, telem.NewSeries(f.Channel.DataType, v))
		read++
	}
	if read == 0 {
		return problems
	}

	for _, idx := range s.plan.IndexSources {
		if idx.EndpointIndex != ei || frame.Contains(idx.IndexKey) {
			continue
		}
		ts, err := s.indexTimestamp(idx, doc, resp)
		if err != nil {
			problems = append(problems, err)
			continue
		}
		frame.Append(idx.IndexKey, telem.NewSeries(telem.TimeStampT, ts))
	}
	return problems
}

func (s *Source) indexTimestamp(idx IndexSource, doc any, resp poller.Response) (telem.TimeStamp, error) {
	if idx.TimeInfo == nil {
		return resp.TimeRange.Midpoint(), nil
	}
	raw, ok := idx.TimeInfo.Pointer.Get(doc)
	if !ok {
		return 0, errs.Wrap(errs.ErrParse, "timestamp field %s not found for index channel %d", idx.TimeInfo.Pointer, idx.IndexKey)
	}
	v, err := jsonx.ToSampleValue(raw, telem.TimeStampT, jsonx.ReadOptions{
		Strict:     s.plan.Strict,
		TimeFormat: idx.TimeInfo.Format,
	})
	if err != nil {
		return 0, errs.Wrap(errs.ErrParse, "failed to parse timestamp from %s: %v", idx.TimeInfo.Pointer, err)
	}
	return v.(telem.TimeStamp), nil
}

// classifyStatus maps 4xx and 5xx statuses to fatal errors.
func classifyStatus(req poller.RequestPlan, code int) error {
	switch {
	case code >= 500:
		return errs.Wrap(errs.ErrServerStatus, "%s %s returned status %d", req.Method, req.Path, code)
	case code >= 400:
		return errs.Wrap(errs.ErrClientStatus, "%s %s returned status %d", req.Method, req.Path, code)
	}
	return nil
}
