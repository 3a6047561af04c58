// Package server provides the HTTP API for a running telempoll task.
//
// Routes:
//
//   - GET /: the embedded dashboard
//   - GET /api/cycle: the most recent read cycle
//   - GET /api/channels: the latest value of every channel
//   - GET /api/sse: Server-Sent Events stream of cycles
//   - GET /healthz: liveness probe
//   - POST /api/task/start, POST /api/task/stop: task commands
//
// The server shuts down gracefully when its context is cancelled, with a
// 5-second timeout for in-flight requests.
package server
