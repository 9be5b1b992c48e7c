package testutil

import (
	"sort"
	"sync"
	"time"
)

// Epoch is the default start time for FakeClock.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// FakeClock is a deterministic wall clock for tests.
//
// Time stands still until Advance is called. After registers a pending
// timer that fires once the clock is advanced past its deadline. With
// auto-advance enabled, After instead moves the clock forward by d and fires
// immediately, which lets backoff loops run without a driver goroutine.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeClock struct {
	mu          sync.Mutex
	now         time.Time
	timers      []*fakeTimer
	changed     *sync.Cond
	autoAdvance bool
	waits       []time.Duration
}

type fakeTimer struct {
	deadline time.Time
	ch       chan time.Time
}

// NewFakeClock creates a clock starting at Epoch.
func NewFakeClock() *FakeClock {
	return NewFakeClockAt(Epoch)
}

// NewFakeClockAt creates a clock starting at the given time.
func NewFakeClockAt(start time.Time) *FakeClock {
	c := &FakeClock{now: start}
	c.changed = sync.NewCond(&c.mu)
	return c
}

// NewAutoClock creates a clock in auto-advance mode.
func NewAutoClock() *FakeClock {
	c := NewFakeClock()
	c.autoAdvance = true
	return c
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that fires once the clock passes now+d.
// Every requested duration is recorded and available from Waits.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.waits = append(c.waits, d)
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	if c.autoAdvance {
		c.now = c.now.Add(d)
		c.fireLocked()
		ch <- c.now
		return ch
	}

	c.timers = append(c.timers, &fakeTimer{deadline: c.now.Add(d), ch: ch})
	c.changed.Broadcast()
	return ch
}

// Advance moves the clock forward and fires every timer whose deadline
// has been reached, in deadline order.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.fireLocked()
}

func (c *FakeClock) fireLocked() {
	sort.SliceStable(c.timers, func(i, j int) bool {
		return c.timers[i].deadline.Before(c.timers[j].deadline)
	})
	pending := c.timers[:0]
	for _, t := range c.timers {
		if t.deadline.After(c.now) {
			pending = append(pending, t)
			continue
		}
		t.ch <- c.now
	}
	c.timers = pending
	c.changed.Broadcast()
}

// PendingTimers returns the number of timers that have not fired yet.
func (c *FakeClock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// WaitForTimers blocks until at least n timers are pending. Use it before
// Advance when another goroutine is about to register a timer.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.timers) < n {
		c.changed.Wait()
	}
}

// Waits returns every duration passed to After, in call order.
func (c *FakeClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.waits))
	copy(out, c.waits)
	return out
}
