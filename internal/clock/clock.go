// Package clock abstracts wall-clock time so that backoff waits, timeout
// races and circuit cooldowns can be driven deterministically in tests.
//
// Production code holds a Clock field set to Real(); tests inject
// testutil.FakeClock and advance it explicitly.
package clock

import "time"

// Clock is the subset of the time package the reliability layer uses.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d has
	// elapsed. If d <= 0 the channel fires immediately.
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the time package.
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
