package poller

import (
	"strings"
	"testing"
	"time"
)

func TestParseConnection(t *testing.T) {
	cfg, err := ParseConnection([]byte(`{
		"base_url": "http://192.168.1.100:8080",
		"timeout_ms": 5000,
		"auth": {"type": "bearer", "token": "abc123"},
		"headers": {"X-Custom": "value"}
	}`))
	if err != nil {
		t.Fatalf("ParseConnection() error = %v", err)
	}

	if cfg.BaseURL != "http://192.168.1.100:8080" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", cfg.Timeout)
	}
	if auth, ok := cfg.Auth.(BearerAuth); !ok || auth.Token != "abc123" {
		t.Errorf("Auth = %#v, want BearerAuth{abc123}", cfg.Auth)
	}
	if cfg.Headers["X-Custom"] != "value" {
		t.Errorf("Headers = %v", cfg.Headers)
	}
	if !cfg.VerifyTLS {
		t.Error("VerifyTLS should default to true")
	}
}

func TestParseConnection_Defaults(t *testing.T) {
	cfg, err := ParseConnection([]byte(`{"base_url": "http://localhost"}`))
	if err != nil {
		t.Fatalf("ParseConnection() error = %v", err)
	}
	if cfg.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", cfg.Timeout, DefaultTimeout)
	}
	if cfg.Auth.Type() != "none" {
		t.Errorf("Auth.Type() = %q, want none", cfg.Auth.Type())
	}
	if len(cfg.Headers) != 0 {
		t.Errorf("Headers = %v, want empty", cfg.Headers)
	}
}

func TestParseConnection_Auth(t *testing.T) {
	tests := []struct {
		name     string
		auth     string
		wantType string
		wantErr  string
	}{
		{"api key", `{"type":"api_key","header":"X-API-Key","key":"secret123"}`, "api_key", ""},
		{"basic", `{"type":"basic","username":"user","password":"pass"}`, "basic", ""},
		{"none", `{"type":"none"}`, "none", ""},
		{"bearer missing token", `{"type":"bearer"}`, "", "auth.token"},
		{"basic missing password", `{"type":"basic","username":"user"}`, "", "username and password"},
		{"api key missing key", `{"type":"api_key","header":"X-API-Key"}`, "", "header and key"},
		{"unknown type", `{"type":"oauth"}`, "", `unknown type "oauth"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseConnection([]byte(`{"base_url":"http://localhost","auth":` + tt.auth + `}`))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("ParseConnection() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseConnection() error = %v", err)
			}
			if cfg.Auth.Type() != tt.wantType {
				t.Errorf("Auth.Type() = %q, want %q", cfg.Auth.Type(), tt.wantType)
			}
		})
	}
}

func TestParseConnection_Errors(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		wantErr string
	}{
		{"missing base url", `{"timeout_ms": 5000}`, "base_url: required"},
		{"zero timeout", `{"base_url":"http://localhost","timeout_ms":0}`, "timeout_ms"},
		{"empty object", `{}`, "base_url"},
		{"bad scheme", `{"base_url":"ftp://localhost"}`, "scheme"},
		{"not json", `nope`, "invalid connection config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConnection([]byte(tt.json))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ParseConnection() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestJoinURL(t *testing.T) {
	tests := []struct {
		base, path string
		query      map[string]string
		want       string
	}{
		{"http://h/", "/x", nil, "http://h/x"},
		{"http://h", "x", nil, "http://h/x"},
		{"http://h", "/x", nil, "http://h/x"},
		{"http://h/", "x", nil, "http://h/x"},
		{"http://h", "", nil, "http://h/"},
		{"http://h/api/", "/v1/data", nil, "http://h/api/v1/data"},
		{"http://h", "/q", map[string]string{"b": "2", "a": "x y&z"}, "http://h/q?a=x+y%26z&b=2"},
	}

	for _, tt := range tests {
		got, err := joinURL(tt.base, tt.path, tt.query)
		if err != nil {
			t.Fatalf("joinURL(%q, %q) error = %v", tt.base, tt.path, err)
		}
		if got != tt.want {
			t.Errorf("joinURL(%q, %q) = %q, want %q", tt.base, tt.path, got, tt.want)
		}
	}
}

func TestParseMethod(t *testing.T) {
	for _, s := range []string{"get", "POST", "Put", "patch", "DELETE"} {
		if _, err := ParseMethod(s); err != nil {
			t.Errorf("ParseMethod(%q) error = %v", s, err)
		}
	}
	if m, _ := ParseMethod(""); m != MethodGet {
		t.Errorf("ParseMethod(\"\") = %q, want GET", m)
	}
	if _, err := ParseMethod("TRACE"); err == nil {
		t.Error("ParseMethod(TRACE) should fail")
	}
	if MethodGet.AcceptsBody() || MethodDelete.AcceptsBody() || !MethodPatch.AcceptsBody() {
		t.Error("AcceptsBody() reported wrong value")
	}
}
