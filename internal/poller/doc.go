// Package poller provides the HTTP transport and the read-loop runtime for
// telempoll.
//
// The main components are:
//
//   - [Dispatcher]: issues a fixed set of pre-built requests concurrently
//     and returns one [Response] per request in configuration order
//   - [ConnectionConfig] and [Auth]: how to reach a device
//   - [Clock]: paces read cycles at a fixed rate
//   - [Scheduler]: runs a [Reader] in a loop with backoff and panic recovery
//
// Transfers share one process-wide HTTP transport per TLS mode. It is
// created lazily on first use; [CloseIdleTransports] releases it at exit.
package poller
