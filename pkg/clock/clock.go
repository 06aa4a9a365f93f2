// Package clock provides the time and identifier ports used by the
// workflow engine and the timestamp pipeline.
//
// All core packages take a Clock as an explicit dependency so that
// deadline, reminder, and long-term validation behavior can be driven by
// a simulated clock in tests. No core package calls time.Now directly.
package clock

import (
	"sync"
	"time"
)

// Clock is the time source for the core.
//
// Now must be UTC. Schedule registers a callback to fire at or after the
// given instant; implementations may coalesce or re-deliver callbacks, so
// callers must be idempotent.
type Clock interface {
	Now() time.Time
	Schedule(at time.Time, fn func(now time.Time)) (cancel func())
}

// System is a wall-clock implementation of Clock.
type System struct{}

var _ Clock = (*System)(nil)

// Now returns the current wall-clock time in UTC.
func (System) Now() time.Time { return time.Now().UTC() }

// Schedule fires fn once the wall clock reaches the given instant.
func (System) Schedule(at time.Time, fn func(now time.Time)) (cancel func()) {
	d := time.Until(at)
	if d < 0 {
		d = 0
	}
	t := time.AfterFunc(d, func() { fn(time.Now().UTC()) })
	return func() { t.Stop() }
}

// Simulated is a manually advanced clock for tests.
//
// Advance moves the clock forward and fires any callbacks whose deadline
// has been reached, in deadline order.
type Simulated struct {
	mu      sync.Mutex
	now     time.Time
	nextID  int
	pending map[int]simEntry
}

type simEntry struct {
	at time.Time
	fn func(now time.Time)
}

var _ Clock = (*Simulated)(nil)

// NewSimulated creates a simulated clock starting at the given instant.
func NewSimulated(start time.Time) *Simulated {
	return &Simulated{now: start.UTC(), pending: make(map[int]simEntry)}
}

// Now returns the simulated time.
func (c *Simulated) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Schedule registers a callback at the given instant.
func (c *Simulated) Schedule(at time.Time, fn func(now time.Time)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.pending[id] = simEntry{at: at.UTC(), fn: fn}
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.pending, id)
	}
}

// Advance moves the clock forward by d, firing due callbacks in order.
func (c *Simulated) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	var due []simEntry
	for id, e := range c.pending {
		if !e.at.After(now) {
			due = append(due, e)
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()

	// Fire outside the lock so callbacks may schedule again.
	for i := 0; i < len(due); i++ {
		earliest := i
		for j := i + 1; j < len(due); j++ {
			if due[j].at.Before(due[earliest].at) {
				earliest = j
			}
		}
		due[i], due[earliest] = due[earliest], due[i]
		due[i].fn(now)
	}
}

// Set jumps the clock to the given instant without firing callbacks.
func (c *Simulated) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}
