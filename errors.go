package telempoll

import (
	"errors"

	"github.com/jpalmerr/telempoll/internal/errs"
	"github.com/jpalmerr/telempoll/internal/poller"
)

// Error kinds. Every error surfaced by a [Poller] or carried in a
// [CycleResult] matches at most one of these with errors.Is.
var (
	ErrValidation   = errs.ErrValidation
	ErrUnreachable  = errs.ErrUnreachable
	ErrTransport    = errs.ErrTransport
	ErrClientStatus = errs.ErrClientStatus
	ErrServerStatus = errs.ErrServerStatus
	ErrParse        = errs.ErrParse

	// ErrRetriesExhausted is returned by Start when the task gave up after
	// too many consecutive failed cycles.
	ErrRetriesExhausted = poller.ErrRetriesExhausted

	// ErrNotStarted is returned by StartTask before Start has configured
	// the task.
	ErrNotStarted = errors.New("poller not started")
)
