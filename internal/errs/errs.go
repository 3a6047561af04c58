// Package errs defines the error kinds surfaced by telempoll.
//
// Apart from cancellation, every error returned by the dispatcher, the task
// plan parser and the polling source wraps exactly one of the sentinel kinds
// below, so callers can classify failures with [errors.Is] without
// inspecting messages:
//
//	if errors.Is(err, errs.ErrUnreachable) {
//	    // host down, DNS failure, connect timeout...
//	}
//
// Only [ErrParse] is non-fatal: the polling source downgrades it to a
// warning and keeps the rest of the frame.
//
// Cancellation is reported as the bare context error, so
// errors.Is(err, context.Canceled) holds and none of the kinds match.
package errs

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrValidation reports a configure-time problem. The task never starts.
	ErrValidation = errors.New("validation error")

	// ErrUnreachable reports that the remote host could not be reached:
	// DNS resolution, connection, proxy, or timeout failures.
	ErrUnreachable = errors.New("unreachable")

	// ErrTransport reports any other transport-level failure (TLS, read
	// errors, redirects, cancellation).
	ErrTransport = errors.New("transport error")

	// ErrClientStatus reports a 4xx HTTP response.
	ErrClientStatus = errors.New("client error")

	// ErrServerStatus reports a 5xx HTTP response.
	ErrServerStatus = errors.New("server error")

	// ErrParse reports a response body or value that could not be decoded,
	// or a response whose content type did not match the expected one.
	ErrParse = errors.New("parse error")
)

// Wrap returns an error of the given kind carrying a formatted message.
// The result satisfies errors.Is(err, kind).
func Wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// Fatal reports whether err aborts a whole read cycle. Parse errors are the
// only kind that degrade into warnings.
func Fatal(err error) bool {
	return err != nil && !errors.Is(err, ErrParse)
}

var kindNames = []struct {
	kind error
	name string
}{
	{ErrValidation, "validation"},
	{ErrUnreachable, "unreachable"},
	{ErrTransport, "transport"},
	{ErrClientStatus, "client_status"},
	{ErrServerStatus, "server_status"},
	{ErrParse, "parse"},
}

// Kind names the error kind err wraps: "validation", "unreachable",
// "transport", "client_status", "server_status" or "parse". Cancellation is
// "canceled", anything else "other", and nil "".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kindNames {
		if errors.Is(err, k.kind) {
			return k.name
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return "other"
}
