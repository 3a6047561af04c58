package readtask

import (
	"context"
	"errors"
	"fmt"
	"sort"

	jsoniter "github.com/json-iterator/go"

	"github.com/jpalmerr/telempoll/internal/errs"
	"github.com/jpalmerr/telempoll/internal/jsonx"
	"github.com/jpalmerr/telempoll/internal/poller"
	"github.com/jpalmerr/telempoll/internal/registry"
	"github.com/jpalmerr/telempoll/internal/telem"
)

// TimeInfo is a timestamp source inside a response body.
type TimeInfo struct {
	Pointer jsonx.Pointer
	Format  jsonx.TimeFormat
}

func (t TimeInfo) equal(o TimeInfo) bool {
	return t.Pointer.String() == o.Pointer.String() && t.Format == o.Format
}

// Field is a validated field bound to its channel.
type Field struct {
	Pointer    jsonx.Pointer
	ChannelKey telem.ChannelKey
	// TimeFormat is set only for timestamp channels.
	TimeFormat jsonx.TimeFormat
	// TimeInfo is this field's own timestamp source, if any.
	TimeInfo   *TimeInfo
	EnumValues map[string]float64
	Enabled    bool
	Channel    telem.Channel
}

// Endpoint is one request plus the fields read from its response.
type Endpoint struct {
	Request poller.RequestPlan
	Body    string
	Fields  []Field
}

// IndexSource says which endpoint produces the timestamps for an index
// channel. A nil TimeInfo means software timing.
type IndexSource struct {
	IndexKey      telem.ChannelKey
	EndpointIndex int
	TimeInfo      *TimeInfo
}

// Plan is an immutable, validated read task.
type Plan struct {
	Device       telem.Device
	Rate         telem.Rate
	Strict       bool
	DataSaving   bool
	AutoStart    bool
	Connection   poller.ConnectionConfig
	Endpoints    []Endpoint
	IndexSources []IndexSource
	Channels     map[telem.ChannelKey]telem.Channel
}

// RequestPlans returns the request of every endpoint in order.
func (p *Plan) RequestPlans() []poller.RequestPlan {
	out := make([]poller.RequestPlan, len(p.Endpoints))
	for i, ep := range p.Endpoints {
		out[i] = ep.Request
	}
	return out
}

// Bodies returns the static body of every endpoint in order.
func (p *Plan) Bodies() []string {
	out := make([]string, len(p.Endpoints))
	for i, ep := range p.Endpoints {
		out[i] = ep.Body
	}
	return out
}

// validator collects every problem instead of stopping at the first.
type validator struct {
	problems []error
}

func (v *validator) add(path, format string, args ...any) {
	v.problems = append(v.problems, fmt.Errorf("%s: %s", path, fmt.Sprintf(format, args...)))
}

func (v *validator) wrap(path string, err error) {
	v.problems = append(v.problems, fmt.Errorf("%s: %w", path, err))
}

func (v *validator) ok() bool {
	return len(v.problems) == 0
}

func (v *validator) err() error {
	if v.ok() {
		return nil
	}
	return fmt.Errorf("%w: %w", errs.ErrValidation, errors.Join(v.problems...))
}

// ParseJSON decodes a JSON task configuration and parses it.
func ParseJSON(ctx context.Context, data []byte, reg registry.Registry) (*Plan, error) {
	var spec TaskSpec
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &spec); err != nil {
		return nil, errs.Wrap(errs.ErrValidation, "invalid task config: %v", err)
	}
	return Parse(ctx, spec, reg)
}

// Parse validates spec and resolves it against reg.
//
// Structural problems are reported before the registry is consulted. All
// problems found in a phase are joined into one error wrapping
// errs.ErrValidation.
func Parse(ctx context.Context, spec TaskSpec, reg registry.Registry) (*Plan, error) {
	v := &validator{}
	plan := &Plan{
		Rate:       telem.Rate(spec.Rate),
		Strict:     spec.Strict,
		DataSaving: spec.SavesData(),
		AutoStart:  spec.AutoStart,
		Channels:   make(map[telem.ChannelKey]telem.Channel),
	}

	if spec.Device == "" {
		v.add("device", "required")
	}
	if !(spec.Rate > 0) {
		v.add("rate", "must be greater than 0")
	}
	if len(spec.Endpoints) == 0 {
		v.add("endpoints", "at least one endpoint is required")
	}

	var fieldKeys []telem.ChannelKey
	used := make(map[telem.ChannelKey]string)
	for i, es := range spec.Endpoints {
		ep, keys := parseEndpoint(v, fmt.Sprintf("endpoints[%d]", i), es, used)
		plan.Endpoints = append(plan.Endpoints, ep)
		fieldKeys = append(fieldKeys, keys...)
	}
	if !v.ok() {
		return nil, v.err()
	}

	device, err := reg.RetrieveDevice(ctx, spec.Device)
	if err != nil {
		v.wrap("device", err)
		return nil, v.err()
	}
	plan.Device = device

	conn, err := poller.ParseConnection(device.Properties)
	if err != nil {
		v.add("device", "device %q has an invalid connection: %v", device.Key, err)
		return nil, v.err()
	}
	plan.Connection = conn

	channels, err := reg.RetrieveChannels(ctx, fieldKeys)
	if err != nil {
		v.wrap("endpoints", err)
		return nil, v.err()
	}
	for _, ch := range channels {
		plan.Channels[ch.Key] = ch
	}

	resolveFields(v, plan, used)
	if !v.ok() {
		return nil, v.err()
	}

	if err := resolveIndexChannels(ctx, plan, reg); err != nil {
		v.wrap("endpoints", err)
		return nil, v.err()
	}
	return plan, nil
}

func parseEndpoint(v *validator, path string, es EndpointSpec, used map[telem.ChannelKey]string) (Endpoint, []telem.ChannelKey) {
	method, err := poller.ParseMethod(es.Method)
	if err != nil {
		v.add(path+".method", "%v", err)
	} else if method != poller.MethodGet && method != poller.MethodPost {
		v.add(path+".method", "read tasks only support GET and POST methods, got %s", method)
	}

	ep := Endpoint{
		Request: poller.RequestPlan{
			Method:      method,
			Path:        es.Path,
			QueryParams: es.QueryParams,
			Headers:     es.Headers,

			RequestContentType:  es.RequestContentType,
			ResponseContentType: es.ResponseContentType,
		},
		Body: es.Body,
	}

	var keys []telem.ChannelKey
	enabled := 0
	for j, fs := range es.Fields {
		fpath := fmt.Sprintf("%s.fields[%d]", path, j)
		f := Field{
			ChannelKey: telem.ChannelKey(fs.Channel),
			EnumValues: fs.EnumValues,
			Enabled:    fs.IsEnabled(),
		}

		ptr, err := jsonx.ParsePointer(fs.Pointer)
		if !f.Enabled {
			// disabled fields are carried but never validated or read
			f.Pointer = ptr
			ep.Fields = append(ep.Fields, f)
			continue
		}
		enabled++
		if err != nil {
			v.add(fpath+".pointer", "%v", err)
		}
		f.Pointer = ptr

		switch prev, dup := used[f.ChannelKey]; {
		case f.ChannelKey == 0:
			v.add(fpath+".channel", "required")
		case dup:
			v.add(fpath+".channel", "channel %d is used multiple times (also by %s)", f.ChannelKey, prev)
		default:
			used[f.ChannelKey] = fpath
			keys = append(keys, f.ChannelKey)
		}

		if fs.TimestampFormat != "" {
			tf, err := jsonx.ParseTimeFormat(fs.TimestampFormat)
			if err != nil {
				v.add(fpath+".timestamp_format", "%v", err)
			}
			f.TimeFormat = tf
		}

		if fs.TimePointer != nil {
			tp, perr := jsonx.ParsePointer(fs.TimePointer.Pointer)
			if perr != nil {
				v.add(fpath+".time_pointer.pointer", "%v", perr)
			}
			tf, ferr := jsonx.ParseTimeFormat(fs.TimePointer.Format)
			if ferr != nil {
				v.add(fpath+".time_pointer.format", "%v", ferr)
			}
			f.TimeInfo = &TimeInfo{Pointer: tp, Format: tf}
		}

		ep.Fields = append(ep.Fields, f)
	}
	if enabled == 0 {
		v.add(path+".fields", "at least one enabled field is required")
	}
	return ep, keys
}

// resolveFields binds fields to their channels, checks type constraints,
// and merges index sources.
func resolveFields(v *validator, plan *Plan, used map[telem.ChannelKey]string) {
	indexes := make(map[telem.ChannelKey]*IndexSource)

	for ei := range plan.Endpoints {
		ep := &plan.Endpoints[ei]
		for fj := range ep.Fields {
			f := &ep.Fields[fj]
			if !f.Enabled {
				continue
			}
			fpath := fmt.Sprintf("endpoints[%d].fields[%d]", ei, fj)
			ch := plan.Channels[f.ChannelKey]
			f.Channel = ch

			dt := ch.DataType
			switch {
			case !jsonx.SupportsSampleType(dt):
				v.add(fpath+".channel", "channel %s has unsupported data type %s", ch.Name, dt)
				continue
			case f.TimeFormat != "" && dt != telem.TimeStampT:
				v.add(fpath+".timestamp_format", "channel %s has timestamp_format but is not a timestamp channel", ch.Name)
				continue
			case dt == telem.TimeStampT && f.TimeFormat == "":
				v.add(fpath+".timestamp_format", "channel %s is a timestamp channel but has no timestamp_format", ch.Name)
				continue
			}

			if ch.Index == 0 {
				continue
			}
			// an index written directly by a field needs no synthesized source
			if _, direct := used[ch.Index]; direct {
				continue
			}

			existing, ok := indexes[ch.Index]
			if !ok {
				indexes[ch.Index] = &IndexSource{IndexKey: ch.Index, EndpointIndex: ei, TimeInfo: f.TimeInfo}
				continue
			}
			if existing.EndpointIndex != ei {
				v.add(fpath+".channel",
					"index channel %d is referenced by fields on different endpoints (endpoints[%d] and endpoints[%d])",
					ch.Index, existing.EndpointIndex, ei)
				continue
			}
			if existing.TimeInfo != nil && f.TimeInfo != nil && !existing.TimeInfo.equal(*f.TimeInfo) {
				v.add(fpath+".time_pointer", "conflicting timestamp sources for index channel %d", ch.Index)
				continue
			}
			if existing.TimeInfo == nil && f.TimeInfo != nil {
				existing.TimeInfo = f.TimeInfo
			}
		}
	}

	keys := make([]telem.ChannelKey, 0, len(indexes))
	for k := range indexes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		plan.IndexSources = append(plan.IndexSources, *indexes[k])
	}
}

// resolveIndexChannels loads metadata for synthesized index channels.
func resolveIndexChannels(ctx context.Context, plan *Plan, reg registry.Registry) error {
	if len(plan.IndexSources) == 0 {
		return nil
	}
	keys := make([]telem.ChannelKey, len(plan.IndexSources))
	for i, idx := range plan.IndexSources {
		keys[i] = idx.IndexKey
	}
	channels, err := reg.RetrieveChannels(ctx, keys)
	if err != nil {
		return fmt.Errorf("index channels: %w", err)
	}
	for _, ch := range channels {
		plan.Channels[ch.Key] = ch
	}
	return nil
}
