// Package config provides YAML configuration parsing for telempoll.
//
// This package enables running telempoll as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
// A file describes one device, the channels it writes, and one read task.
//
// Example configuration:
//
//	name: weather
//	device:
//	  key: station-1
//	  connection:
//	    base_url: ${STATION_URL:-http://localhost:9000}
//	    timeout_ms: 500
//	channels:
//	  - {key: 1, name: temperature, data_type: float64, index: 100}
//	  - {key: 100, name: time, data_type: timestamp, is_index: true}
//	task:
//	  device: station-1
//	  rate: 1
//	  auto_start: true
//	  endpoints:
//	    - method: GET
//	      path: /api/data
//	      fields:
//	        - {pointer: /temperature, channel: 1}
//	sinks:
//	  - {type: jsonl, path: ./weather.jsonl}
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jpalmerr/telempoll"
	"github.com/jpalmerr/telempoll/internal/poller"
	"github.com/jpalmerr/telempoll/internal/telem"
)

const (
	defaultName = "telempoll"
	defaultPort = 8080
)

// Sink types.
const (
	SinkJSONL   = "jsonl"
	SinkMsgpack = "msgpack"
	SinkKafka   = "kafka"
)

// Config is the root configuration structure for telempoll.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Name identifies the task in logs and sink records. Defaults to
	// "telempoll".
	Name string `yaml:"name"`

	// Title is the dashboard title. Defaults to Name.
	Title string `yaml:"title"`

	Device   DeviceConfig       `yaml:"device"`
	Channels []ChannelConfig    `yaml:"channels"`
	Task     telempoll.TaskSpec `yaml:"task"`
	Server   ServerConfig       `yaml:"server"`
	Retry    RetryConfig        `yaml:"retry"`
	Sinks    []SinkConfig       `yaml:"sinks"`
}

// DeviceConfig registers the polled device.
type DeviceConfig struct {
	Key        string           `yaml:"key"`
	Name       string           `yaml:"name"`
	Connection ConnectionConfig `yaml:"connection"`
}

// ConnectionConfig mirrors the device connection properties.
//
// BaseURL, header values and auth credentials support environment variable
// substitution: ${VAR} or ${VAR:-default}.
type ConnectionConfig struct {
	BaseURL   string            `yaml:"base_url" json:"base_url"`
	TimeoutMS *int64            `yaml:"timeout_ms" json:"timeout_ms,omitempty"`
	Auth      *AuthConfig       `yaml:"auth" json:"auth,omitempty"`
	Headers   map[string]string `yaml:"headers" json:"headers,omitempty"`
	VerifyTLS *bool             `yaml:"verify_tls" json:"verify_tls,omitempty"`
}

// AuthConfig selects the authentication scheme of a connection.
type AuthConfig struct {
	Type     string `yaml:"type" json:"type"`
	Token    string `yaml:"token" json:"token,omitempty"`
	Username string `yaml:"username" json:"username,omitempty"`
	Password string `yaml:"password" json:"password,omitempty"`
	Header   string `yaml:"header" json:"header,omitempty"`
	Key      string `yaml:"key" json:"key,omitempty"`
}

// ChannelConfig registers one channel.
type ChannelConfig struct {
	Key      uint32 `yaml:"key"`
	Name     string `yaml:"name"`
	DataType string `yaml:"data_type"`
	Index    uint32 `yaml:"index"`
	IsIndex  bool   `yaml:"is_index"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	// Port is the HTTP server port. Defaults to 8080; 0 disables the server.
	Port *int `yaml:"port"`
}

// RetryConfig overrides the retry policy for failed cycles. Zero fields keep
// the defaults.
type RetryConfig struct {
	BaseInterval Duration `yaml:"base_interval"`
	Scale        float64  `yaml:"scale"`
	// MaxRetries of -1 retries forever.
	MaxRetries *int `yaml:"max_retries"`
}

// SinkConfig configures one output for successful cycles.
type SinkConfig struct {
	// Type is "jsonl", "msgpack" or "kafka".
	Type string `yaml:"type"`

	// Path is the output file for jsonl and msgpack sinks.
	Path string `yaml:"path"`

	// Brokers and Topic configure kafka sinks.
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// expandField expands s in place, prefixing any error with path.
func expandField(path string, s *string) error {
	expanded, err := expandEnvVars(*s)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	*s = expanded
	return nil
}

func expandHeaders(path string, headers map[string]string) error {
	for k, v := range headers {
		if err := expandField(fmt.Sprintf("%s[%s]", path, k), &v); err != nil {
			return err
		}
		headers[k] = v
	}
	return nil
}

// Load reads and parses a YAML configuration file.
//
// See [Parse] for which fields expand environment variables.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in the connection URL, header values,
// auth credentials, sink paths and brokers. Defaults are applied for Name
// and Server.Port. The read task itself is only checked for presence here;
// [Validate] runs the full task validation against the configured channels.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Name == "" {
		cfg.Name = defaultName
	}
	if cfg.Title == "" {
		cfg.Title = cfg.Name
	}
	if cfg.Server.Port == nil {
		port := defaultPort
		cfg.Server.Port = &port
	}
	if cfg.Task.Device == "" {
		cfg.Task.Device = cfg.Device.Key
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandAndValidate expands environment variables and validates everything
// outside the read task.
func (c *Config) expandAndValidate() error {
	if err := c.expand(); err != nil {
		return err
	}

	if c.Device.Key == "" {
		return errors.New("device: key is required")
	}
	if c.Task.Device != c.Device.Key {
		return fmt.Errorf("task: device %q does not match device key %q", c.Task.Device, c.Device.Key)
	}
	if _, err := poller.ParseConnection(c.Device.properties()); err != nil {
		return fmt.Errorf("device (%s): connection: %w", c.Device.Key, err)
	}

	if len(c.Channels) == 0 {
		return errors.New("at least one channel must be defined")
	}
	seen := make(map[uint32]struct{}, len(c.Channels))
	for i, ch := range c.Channels {
		if ch.Key == 0 {
			return fmt.Errorf("channels[%d]: key is required", i)
		}
		if ch.Name == "" {
			return fmt.Errorf("channels[%d]: name is required", i)
		}
		if _, dup := seen[ch.Key]; dup {
			return fmt.Errorf("channels[%d] (%s): duplicate key %d", i, ch.Name, ch.Key)
		}
		seen[ch.Key] = struct{}{}

		dt, err := telem.ParseDataType(ch.DataType)
		if err != nil {
			return fmt.Errorf("channels[%d] (%s): %w", i, ch.Name, err)
		}
		if ch.IsIndex && dt != telem.TimeStampT {
			return fmt.Errorf("channels[%d] (%s): index channels must have data_type timestamp", i, ch.Name)
		}
		if ch.IsIndex && ch.Index != 0 {
			return fmt.Errorf("channels[%d] (%s): an index channel cannot have an index", i, ch.Name)
		}
	}
	for i, ch := range c.Channels {
		if ch.Index == 0 {
			continue
		}
		if _, ok := seen[ch.Index]; !ok {
			return fmt.Errorf("channels[%d] (%s): index channel %d is not defined", i, ch.Name, ch.Index)
		}
	}

	if len(c.Task.Endpoints) == 0 {
		return errors.New("task: at least one endpoint must be defined")
	}

	if port := *c.Server.Port; port < 0 || port > 65535 {
		return fmt.Errorf("server: port must be between 0 and 65535, got %d", port)
	}

	if c.Retry.BaseInterval < 0 {
		return fmt.Errorf("retry: base_interval cannot be negative, got %s", c.Retry.BaseInterval.Duration())
	}
	if c.Retry.Scale != 0 && c.Retry.Scale < 1 {
		return fmt.Errorf("retry: scale must be at least 1, got %g", c.Retry.Scale)
	}
	if c.Retry.MaxRetries != nil && *c.Retry.MaxRetries < -1 {
		return fmt.Errorf("retry: max_retries must be -1 or greater, got %d", *c.Retry.MaxRetries)
	}

	for i, s := range c.Sinks {
		switch s.Type {
		case SinkJSONL, SinkMsgpack:
			if s.Path == "" {
				return fmt.Errorf("sinks[%d] (%s): path is required", i, s.Type)
			}
		case SinkKafka:
			if len(s.Brokers) == 0 {
				return fmt.Errorf("sinks[%d] (%s): at least one broker is required", i, s.Type)
			}
			if s.Topic == "" {
				return fmt.Errorf("sinks[%d] (%s): topic is required", i, s.Type)
			}
		case "":
			return fmt.Errorf("sinks[%d]: type is required", i)
		default:
			return fmt.Errorf("sinks[%d]: unknown sink type %q (expected jsonl, msgpack, or kafka)", i, s.Type)
		}
	}

	return nil
}

func (c *Config) expand() error {
	conn := &c.Device.Connection
	if err := expandField("device.connection.base_url", &conn.BaseURL); err != nil {
		return err
	}
	if err := expandHeaders("device.connection.headers", conn.Headers); err != nil {
		return err
	}
	if a := conn.Auth; a != nil {
		fields := []struct {
			name string
			val  *string
		}{
			{"token", &a.Token},
			{"username", &a.Username},
			{"password", &a.Password},
			{"key", &a.Key},
		}
		for _, f := range fields {
			if err := expandField("device.connection.auth."+f.name, f.val); err != nil {
				return err
			}
		}
	}

	for i := range c.Task.Endpoints {
		if err := expandHeaders(fmt.Sprintf("task.endpoints[%d].headers", i), c.Task.Endpoints[i].Headers); err != nil {
			return err
		}
	}

	for i := range c.Sinks {
		s := &c.Sinks[i]
		if err := expandField(fmt.Sprintf("sinks[%d].path", i), &s.Path); err != nil {
			return err
		}
		for j := range s.Brokers {
			if err := expandField(fmt.Sprintf("sinks[%d].brokers[%d]", i, j), &s.Brokers[j]); err != nil {
				return err
			}
		}
	}
	return nil
}
