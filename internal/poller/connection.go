package poller

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// DefaultTimeout applies when a connection omits timeout_ms.
const DefaultTimeout = time.Second

// Auth is the authentication scheme for a connection. It is implemented by
// [NoAuth], [BearerAuth], [BasicAuth] and [APIKeyAuth] only.
type Auth interface {
	// Type returns the wire name of the scheme.
	Type() string
	apply(h http.Header) *BasicAuth
}

// NoAuth sends no credentials.
type NoAuth struct{}

// BearerAuth sends "Authorization: Bearer <token>".
type BearerAuth struct {
	Token string
}

// BasicAuth sends HTTP basic credentials.
type BasicAuth struct {
	Username string
	Password string
}

// APIKeyAuth sends Key in a custom header.
type APIKeyAuth struct {
	Header string
	Key    string
}

func (NoAuth) Type() string     { return "none" }
func (BearerAuth) Type() string { return "bearer" }
func (BasicAuth) Type() string  { return "basic" }
func (APIKeyAuth) Type() string { return "api_key" }

func (NoAuth) apply(http.Header) *BasicAuth { return nil }

func (a BearerAuth) apply(h http.Header) *BasicAuth {
	h.Set("Authorization", "Bearer "+a.Token)
	return nil
}

// Basic credentials go through Request.SetBasicAuth rather than a header.
func (a BasicAuth) apply(http.Header) *BasicAuth {
	return &a
}

func (a APIKeyAuth) apply(h http.Header) *BasicAuth {
	h.Set(a.Header, a.Key)
	return nil
}

// ConnectionConfig holds everything needed to reach one HTTP device.
type ConnectionConfig struct {
	BaseURL   string
	Timeout   time.Duration
	Auth      Auth
	Headers   map[string]string
	VerifyTLS bool
}

type authJSON struct {
	Type     string `json:"type"`
	Token    string `json:"token"`
	Username string `json:"username"`
	Password string `json:"password"`
	Header   string `json:"header"`
	Key      string `json:"key"`
}

type connectionJSON struct {
	BaseURL   string            `json:"base_url"`
	TimeoutMS *int64            `json:"timeout_ms"`
	Auth      *authJSON         `json:"auth"`
	Headers   map[string]string `json:"headers"`
	VerifyTLS *bool             `json:"verify_tls"`
}

// ParseConnection decodes device properties into a ConnectionConfig and
// validates it. All problems are reported together.
func ParseConnection(props []byte) (ConnectionConfig, error) {
	var raw connectionJSON
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(props, &raw); err != nil {
		return ConnectionConfig{}, fmt.Errorf("invalid connection config: %w", err)
	}

	cfg := ConnectionConfig{
		BaseURL:   raw.BaseURL,
		Timeout:   DefaultTimeout,
		Headers:   raw.Headers,
		VerifyTLS: true,
	}
	if raw.VerifyTLS != nil {
		cfg.VerifyTLS = *raw.VerifyTLS
	}

	var problems []error
	if raw.TimeoutMS != nil {
		if *raw.TimeoutMS <= 0 {
			problems = append(problems, errors.New("timeout_ms: must be greater than 0"))
		}
		cfg.Timeout = time.Duration(*raw.TimeoutMS) * time.Millisecond
	}

	auth, err := parseAuth(raw.Auth)
	if err != nil {
		problems = append(problems, err)
	}
	cfg.Auth = auth

	if err := cfg.Validate(); err != nil {
		problems = append(problems, err)
	}
	if len(problems) > 0 {
		return ConnectionConfig{}, errors.Join(problems...)
	}
	return cfg, nil
}

func parseAuth(raw *authJSON) (Auth, error) {
	if raw == nil {
		return NoAuth{}, nil
	}
	switch raw.Type {
	case "", "none":
		return NoAuth{}, nil
	case "bearer":
		if raw.Token == "" {
			return nil, errors.New("auth.token: required for bearer auth")
		}
		return BearerAuth{Token: raw.Token}, nil
	case "basic":
		if raw.Username == "" || raw.Password == "" {
			return nil, errors.New("auth: username and password are required for basic auth")
		}
		return BasicAuth{Username: raw.Username, Password: raw.Password}, nil
	case "api_key":
		if raw.Header == "" || raw.Key == "" {
			return nil, errors.New("auth: header and key are required for api_key auth")
		}
		return APIKeyAuth{Header: raw.Header, Key: raw.Key}, nil
	}
	return nil, fmt.Errorf("auth.type: unknown type %q (must be none, bearer, basic, or api_key)", raw.Type)
}

// Validate checks the connection invariants.
func (c ConnectionConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url: required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base_url: scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("base_url: missing host")
	}
	if c.Timeout <= 0 {
		return errors.New("timeout_ms: must be greater than 0")
	}
	return nil
}
