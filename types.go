package telempoll

import (
	"github.com/jpalmerr/telempoll/internal/poller"
	"github.com/jpalmerr/telempoll/internal/readtask"
	"github.com/jpalmerr/telempoll/internal/registry"
	"github.com/jpalmerr/telempoll/internal/sink"
	"github.com/jpalmerr/telempoll/internal/telem"
)

// Task configuration.
type (
	TaskSpec     = readtask.TaskSpec
	EndpointSpec = readtask.EndpointSpec
	FieldSpec    = readtask.FieldSpec
	TimeInfoSpec = readtask.TimeInfoSpec
)

// Telemetry primitives.
type (
	Channel    = telem.Channel
	ChannelKey = telem.ChannelKey
	Device     = telem.Device
	DataType   = telem.DataType
	Frame      = telem.Frame
	Series     = telem.Series
	TimeStamp  = telem.TimeStamp
)

// Channel data types.
const (
	Float64T   = telem.Float64T
	Float32T   = telem.Float32T
	Int64T     = telem.Int64T
	Int32T     = telem.Int32T
	Int16T     = telem.Int16T
	Int8T      = telem.Int8T
	Uint64T    = telem.Uint64T
	Uint32T    = telem.Uint32T
	Uint16T    = telem.Uint16T
	Uint8T     = telem.Uint8T
	TimeStampT = telem.TimeStampT
	StringT    = telem.StringT
)

// Registry resolves devices and channels when a task is configured.
type Registry = registry.Registry

// MemoryRegistry is an in-memory [Registry].
type MemoryRegistry = registry.MemoryRegistry

// NewMemoryRegistry creates an empty [MemoryRegistry].
func NewMemoryRegistry() *MemoryRegistry {
	return registry.NewMemoryRegistry()
}

// Sink persists successful cycles; see [WithSink].
type Sink = sink.Sink

// Record is what a [Sink] receives for each cycle.
type Record = sink.Record

// Backoff controls retry pacing after failed cycles.
type Backoff = poller.Backoff

// DefaultBackoff returns a 1s base delay, 1.2 scale, and 50 retries.
func DefaultBackoff() Backoff {
	return poller.DefaultBackoff()
}

// CloseIdleConnections closes idle connections held by the shared HTTP
// transports. Call it once no poller is running.
func CloseIdleConnections() {
	poller.CloseIdleTransports()
}
