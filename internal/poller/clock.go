package poller

import (
	"context"
	"time"

	"github.com/jpalmerr/telempoll/internal/telem"
)

// Clock paces read cycles at a fixed rate.
//
// The first Wait returns immediately. Each later Wait blocks until one
// period after the previous tick. A caller that falls more than a period
// behind is not given a burst of catch-up ticks.
type Clock struct {
	period time.Duration
	last   time.Time
	ticked bool
}

// NewClock creates a Clock for rate. A non-positive rate never waits.
func NewClock(rate telem.Rate) *Clock {
	return &Clock{period: rate.Period()}
}

// Period returns the time between ticks.
func (c *Clock) Period() time.Duration {
	return c.period
}

// Wait blocks until the next tick or until ctx is done.
func (c *Clock) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now()
	if !c.ticked {
		c.ticked = true
		c.last = now
		return nil
	}

	next := c.last.Add(c.period)
	if d := next.Sub(now); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		c.last = next
		return nil
	}

	if now.Sub(next) >= c.period {
		c.last = now
	} else {
		c.last = next
	}
	return nil
}
