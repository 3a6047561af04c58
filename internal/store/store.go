package store

import (
	"time"

	"github.com/jpalmerr/telempoll/internal/telem"
)

// Cycle outcomes.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFailed   = "failed"
)

// CycleStatus is the storage representation of one read cycle, shaped for
// the REST API and SSE.
type CycleStatus struct {
	Task       string    `json:"task"`
	Cycle      uint64    `json:"cycle"`
	Status     string    `json:"status"`
	Warning    string    `json:"warning,omitempty"`
	Error      *string   `json:"error"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
	// Channels is the number of series in the cycle's frame.
	Channels int `json:"channels"`
}

// ChannelValue is the latest sample written to one channel.
type ChannelValue struct {
	Key       telem.ChannelKey `json:"key"`
	Name      string           `json:"name"`
	DataType  telem.DataType   `json:"data_type"`
	Value     any              `json:"value"`
	Cycle     uint64           `json:"cycle"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Store defines storage and subscription for polling state.
//
// Implementations must be safe for concurrent access.
type Store interface {
	// Update records a cycle and merges values into the latest channel
	// values, then notifies subscribers.
	Update(status CycleStatus, values []ChannelValue)

	// Latest returns the most recent cycle, if any.
	Latest() (CycleStatus, bool)

	// Channels returns the latest value of every channel ordered by key.
	Channels() []ChannelValue

	// Subscribe returns a channel that receives cycle updates.
	// Caller must call Unsubscribe when done.
	Subscribe() <-chan CycleStatus

	// Unsubscribe removes a subscription and closes the channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan CycleStatus)
}
