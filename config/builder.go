package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	jsoniter "github.com/json-iterator/go"

	"github.com/jpalmerr/telempoll"
	"github.com/jpalmerr/telempoll/internal/readtask"
	"github.com/jpalmerr/telempoll/internal/sink"
	"github.com/jpalmerr/telempoll/internal/telem"
)

// properties encodes the connection the way device properties are stored
// in the registry.
func (d DeviceConfig) properties() []byte {
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(d.Connection)
	if err != nil {
		// every field is a plain string, number or map
		panic(fmt.Sprintf("config: encode connection: %v", err))
	}
	return data
}

// BuildRegistry registers the configured device and channels in a new
// in-memory registry.
func BuildRegistry(cfg *Config) (*telempoll.MemoryRegistry, error) {
	reg := telempoll.NewMemoryRegistry()
	reg.PutDevice(telempoll.Device{
		Key:        cfg.Device.Key,
		Name:       cfg.Device.Name,
		Properties: cfg.Device.properties(),
	})

	channels := make([]telempoll.Channel, 0, len(cfg.Channels))
	for i, cc := range cfg.Channels {
		dt, err := telem.ParseDataType(cc.DataType)
		if err != nil {
			return nil, fmt.Errorf("channels[%d] (%s): %w", i, cc.Name, err)
		}
		channels = append(channels, telempoll.Channel{
			Key:      telempoll.ChannelKey(cc.Key),
			Name:     cc.Name,
			DataType: dt,
			Index:    telempoll.ChannelKey(cc.Index),
			IsIndex:  cc.IsIndex,
		})
	}
	reg.PutChannels(channels...)
	return reg, nil
}

// Validate runs the full read task validation against the configured device
// and channels without contacting the device.
func Validate(ctx context.Context, cfg *Config) error {
	reg, err := BuildRegistry(cfg)
	if err != nil {
		return err
	}
	_, err = readtask.Parse(ctx, cfg.Task, reg)
	return err
}

// Backoff returns the retry policy, starting from the defaults.
func (c *Config) Backoff() telempoll.Backoff {
	b := telempoll.DefaultBackoff()
	if c.Retry.BaseInterval > 0 {
		b.Base = c.Retry.BaseInterval.Duration()
	}
	if c.Retry.Scale != 0 {
		b.Scale = c.Retry.Scale
	}
	if c.Retry.MaxRetries != nil {
		b.MaxRetries = *c.Retry.MaxRetries
	}
	return b
}

// BuildSinks opens every configured sink. If one fails, those already
// opened are closed.
func BuildSinks(cfg *Config) ([]telempoll.Sink, error) {
	var sinks []telempoll.Sink
	for i, sc := range cfg.Sinks {
		s, err := buildSink(sc)
		if err != nil {
			for _, opened := range sinks {
				_ = opened.Close()
			}
			return nil, fmt.Errorf("sinks[%d] (%s): %w", i, sc.Type, err)
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

func buildSink(sc SinkConfig) (telempoll.Sink, error) {
	switch sc.Type {
	case SinkJSONL:
		return sink.OpenJSONL(sc.Path)
	case SinkMsgpack:
		return sink.OpenMsgpack(sc.Path)
	case SinkKafka:
		return sink.NewKafkaSink(sc.Brokers, sc.Topic)
	}
	return nil, fmt.Errorf("unknown sink type %q", sc.Type)
}

// BuildOptions converts parsed configuration into SDK options.
//
// The returned sinks are already open; they are closed when the poller's
// Start returns. Callers that never start the poller must close them.
func BuildOptions(cfg *Config, logger *slog.Logger) ([]telempoll.Option, []telempoll.Sink, error) {
	if logger == nil {
		return nil, nil, errors.New("logger cannot be nil")
	}
	reg, err := BuildRegistry(cfg)
	if err != nil {
		return nil, nil, err
	}
	sinks, err := BuildSinks(cfg)
	if err != nil {
		return nil, nil, err
	}

	opts := []telempoll.Option{
		telempoll.WithName(cfg.Name),
		telempoll.WithTitle(cfg.Title),
		telempoll.WithRegistry(reg),
		telempoll.WithTask(cfg.Task),
		telempoll.WithPort(*cfg.Server.Port),
		telempoll.WithBackoff(cfg.Backoff()),
		telempoll.WithLogger(logger),
	}
	for _, s := range sinks {
		opts = append(opts, telempoll.WithSink(s))
	}
	return opts, sinks, nil
}
