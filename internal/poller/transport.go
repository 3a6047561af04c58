package poller

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jpalmerr/telempoll/internal/errs"
)

// Idle pooling limits. Active connections per host are unbounded so every
// request of a cycle dials immediately; a queued request would spend its
// timeout waiting for a connection and surface as a false timeout.
const (
	defaultMaxIdleConns        = 256
	defaultMaxIdleConnsPerHost = 64
	defaultIdleConnTimeout     = 60 * time.Second // matches common ALB defaults
)

// One transport per TLS mode, shared by every dispatcher in the process.
var (
	secureOnce        sync.Once
	secureTransport   *http.Transport
	insecureOnce      sync.Once
	insecureTransport *http.Transport
)

func newTransport(verifyTLS bool) *http.Transport {
	t := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
		IdleConnTimeout:     defaultIdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}
	if !verifyTLS {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return t
}

func sharedTransport(verifyTLS bool) *http.Transport {
	if verifyTLS {
		secureOnce.Do(func() { secureTransport = newTransport(true) })
		return secureTransport
	}
	insecureOnce.Do(func() { insecureTransport = newTransport(false) })
	return insecureTransport
}

// CloseIdleTransports closes idle connections on the shared transports.
// Call it once at process exit.
func CloseIdleTransports() {
	for _, t := range []*http.Transport{secureTransport, insecureTransport} {
		if t != nil {
			t.CloseIdleConnections()
		}
	}
}

// TransportCode is the cause of a failed transfer.
type TransportCode uint8

const (
	CodeOther TransportCode = iota
	CodeDNS
	CodeConnect
	CodeProxy
	CodeTimeout
	CodeTLS
	CodeRead
	CodeCanceled
	CodeTooManyRedirects
)

var transportCodeNames = map[TransportCode]string{
	CodeOther:            "other",
	CodeDNS:              "dns",
	CodeConnect:          "connect",
	CodeProxy:            "proxy",
	CodeTimeout:          "timeout",
	CodeTLS:              "tls",
	CodeRead:             "read",
	CodeCanceled:         "canceled",
	CodeTooManyRedirects: "too_many_redirects",
}

// transportKinds maps every code to the error kind it surfaces as.
var transportKinds = map[TransportCode]error{
	CodeDNS:              errs.ErrUnreachable,
	CodeConnect:          errs.ErrUnreachable,
	CodeProxy:            errs.ErrUnreachable,
	CodeTimeout:          errs.ErrUnreachable,
	CodeTLS:              errs.ErrTransport,
	CodeRead:             errs.ErrTransport,
	CodeCanceled:         errs.ErrTransport,
	CodeTooManyRedirects: errs.ErrTransport,
	CodeOther:            errs.ErrTransport,
}

func (c TransportCode) String() string {
	if name, ok := transportCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", uint8(c))
}

// Kind returns errs.ErrUnreachable or errs.ErrTransport.
func (c TransportCode) Kind() error {
	if kind, ok := transportKinds[c]; ok {
		return kind
	}
	return errs.ErrTransport
}

// classifyTransport maps an error returned by http.Client.Do or by reading
// a response body to a TransportCode.
func classifyTransport(err error) TransportCode {
	if errors.Is(err, context.Canceled) {
		return CodeCanceled
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CodeDNS
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "proxyconnect":
			return CodeProxy
		case "dial":
			return CodeConnect
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeTimeout
	}

	if isTLSError(err) {
		return CodeTLS
	}

	if strings.Contains(err.Error(), "stopped after") && strings.Contains(err.Error(), "redirects") {
		return CodeTooManyRedirects
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return CodeRead
	}
	if opErr != nil && opErr.Op == "read" {
		return CodeRead
	}
	return CodeOther
}

func isTLSError(err error) bool {
	var (
		recordErr   tls.RecordHeaderError
		alertErr    tls.AlertError
		verifyErr   *tls.CertificateVerificationError
		unknownCA   x509.UnknownAuthorityError
		hostnameErr x509.HostnameError
		invalidCert x509.CertificateInvalidError
	)
	return errors.As(err, &recordErr) ||
		errors.As(err, &alertErr) ||
		errors.As(err, &verifyErr) ||
		errors.As(err, &unknownCA) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &invalidCert)
}

// transportError wraps err with the kind of its transport code.
func transportError(code TransportCode, err error) error {
	return fmt.Errorf("%w: %s: %w", code.Kind(), code, err)
}
