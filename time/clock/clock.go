// Package clock abstracts wall-clock access so deadline and timestamp logic
// can run against a controlled time source in tests.
package clock

import (
	"sync"
	"time"
)

// Clock is the time source used wherever the coordinator records a timestamp
// or waits out a polling interval.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// After waits for the duration to elapse and then sends the current
	// time on the returned channel.
	After(d time.Duration) <-chan time.Time
}

// System implements Clock using the system clock.
type System struct{}

// Now returns the current time as per time.Now.
func (System) Now() time.Time { return time.Now() }

// After returns time.After(d).
func (System) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Millis returns t as Unix milliseconds, the representation used by all
// persisted timestamps.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts Unix milliseconds back into a time.Time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

type simTimer struct {
	at time.Time
	ch chan time.Time
}

// Simulated implements Clock with a manually advanced virtual time. Timers
// fire when Advance moves the virtual clock past their deadline.
type Simulated struct {
	mu     sync.Mutex
	now    time.Time
	timers []*simTimer
}

// NewSimulated returns a Simulated clock starting at the given time.
func NewSimulated(start time.Time) *Simulated {
	return &Simulated{now: start}
}

// Now returns the current virtual time.
func (c *Simulated) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that receives the virtual time once it has been
// advanced by at least d. A non-positive duration fires immediately.
func (c *Simulated) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.timers = append(c.timers, &simTimer{at: c.now.Add(d), ch: ch})
	return ch
}

// Advance moves the virtual clock forward, firing every timer whose deadline
// has been reached.
func (c *Simulated) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	remaining := c.timers[:0]
	for _, t := range c.timers {
		if !t.at.After(c.now) {
			t.ch <- c.now
			continue
		}
		remaining = append(remaining, t)
	}
	c.timers = remaining
}
