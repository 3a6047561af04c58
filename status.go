package telempoll

import "time"

// Status is the outcome of one read cycle.
type Status string

const (
	// StatusOK means every configured field was read.
	StatusOK Status = "ok"

	// StatusDegraded means the cycle produced a frame but some fields were
	// missing or could not be converted. The reason is in the warning.
	StatusDegraded Status = "degraded"

	// StatusFailed means the cycle produced no frame: the device was
	// unreachable, a request failed, or an endpoint returned 4xx/5xx.
	StatusFailed Status = "failed"
)

// String implements fmt.Stringer.
func (s Status) String() string {
	return string(s)
}

// CycleResult holds the outcome of one read cycle.
//
// Frame is a private copy; callbacks may keep or modify it.
type CycleResult struct {
	// Task is the poller name given by [WithName].
	Task string

	// Cycle counts from 1 within one run of the task.
	Cycle uint64

	Status Status

	// Frame holds one sample per channel read this cycle. Empty when Err
	// is set.
	Frame Frame

	// Warning joins every non-fatal problem of the cycle with "; ".
	Warning string

	// Err is the fatal error of a failed cycle. Use errors.Is with the
	// Err* kinds to classify it.
	Err error

	StartedAt time.Time
	Duration  time.Duration
}
