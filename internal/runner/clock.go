package runner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"
)

// ErrInvalidConfiguration reports a run parameter that can never work, such
// as a non-positive send rate.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// spinThreshold is the residual wait below which the clock yields instead of
// arming a timer.
const spinThreshold = time.Millisecond

// PacedClock hands out send slots at a fixed rate. Each slot is scheduled one
// period after the previous one; a caller that falls behind gets its slot
// immediately and the schedule restarts from now, so missed slots are dropped
// rather than replayed as a burst.
type PacedClock struct {
	mu      sync.Mutex
	rate    float64
	period  time.Duration
	next    time.Time
	last    time.Time
	started time.Time
	issued  int64
	now     func() time.Time
}

// NewPacedClock creates a clock issuing perSecond slots per second.
func NewPacedClock(perSecond float64) (*PacedClock, error) {
	period, err := periodFor(perSecond)
	if err != nil {
		return nil, err
	}
	c := &PacedClock{rate: perSecond, period: period, now: time.Now}
	c.resetLocked()
	return c, nil
}

func periodFor(perSecond float64) (time.Duration, error) {
	if perSecond <= 0 || math.IsNaN(perSecond) || math.IsInf(perSecond, 0) {
		return 0, fmt.Errorf("%w: rate must be a positive number, got %v", ErrInvalidConfiguration, perSecond)
	}
	period := time.Duration(float64(time.Second) / perSecond)
	if period <= 0 {
		period = 1
	}
	return period, nil
}

// Next blocks until the next slot. It returns only ctx's error.
func (c *PacedClock) Next(ctx context.Context) error {
	_, err := c.wait(ctx, -1)
	return err
}

// NextWithin waits for the next slot if it is due within maxWait and reports
// whether a slot was taken. When the slot is further away the clock is left
// untouched, which lets callers re-evaluate the rate periodically.
func (c *PacedClock) NextWithin(ctx context.Context, maxWait time.Duration) (bool, error) {
	return c.wait(ctx, maxWait)
}

func (c *PacedClock) wait(ctx context.Context, maxWait time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	c.mu.Lock()
	now := c.now()
	target := c.next
	if !target.After(now) {
		// On time or behind: go now, schedule the following slot from now.
		c.next = now.Add(c.period)
		c.last = now
		c.issued++
		c.mu.Unlock()
		return true, nil
	}
	if maxWait >= 0 && target.Sub(now) > maxWait {
		c.mu.Unlock()
		return false, sleepUntil(ctx, now.Add(maxWait))
	}
	c.next = target.Add(c.period)
	c.last = target
	c.issued++
	c.mu.Unlock()

	if err := sleepUntil(ctx, target); err != nil {
		return false, err
	}
	return true, nil
}

// sleepUntil parks on a timer for the bulk of the wait and yields through the
// sub-millisecond remainder.
func sleepUntil(ctx context.Context, deadline time.Time) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		if remaining < spinThreshold {
			runtime.Gosched()
			continue
		}
		timer := time.NewTimer(remaining - spinThreshold/2)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// SetRate changes the rate. The next slot is re-anchored one new period after
// the last issued slot.
func (c *PacedClock) SetRate(perSecond float64) error {
	period, err := periodFor(perSecond)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rate = perSecond
	c.period = period
	if c.issued > 0 {
		c.next = c.last.Add(period)
	}
	return nil
}

// Rate returns the configured slots per second.
func (c *PacedClock) Rate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}

// ActualRate returns slots issued per second of elapsed time since the last
// reset.
func (c *PacedClock) ActualRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	elapsed := c.now().Sub(c.started).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(c.issued) / elapsed
}

// Reset restarts the schedule and the issued counter. The next slot is
// immediate.
func (c *PacedClock) Reset() {
	c.mu.Lock()
	c.resetLocked()
	c.mu.Unlock()
}

func (c *PacedClock) resetLocked() {
	c.started = c.now()
	c.next = c.started
	c.last = time.Time{}
	c.issued = 0
}
