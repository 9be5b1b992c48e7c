// Package resilience protects calls to an unreliable dependency with a
// timeout and a circuit breaker.
//
// The breaker has two states. It opens after FailureThreshold consecutive
// failures and stays open for Cooldown. There is no half-open state: once
// the cooldown has passed the breaker is closed again, lazily, on the next
// check. The failure count is only reset by a success, so a single failure
// right after the cooldown reopens the circuit.
package resilience

import (
	"sync"
	"time"

	"github.com/roach88/tether/internal/clock"
)

// State is the state of a circuit breaker.
type State int

const (
	// StateClosed lets calls through.
	StateClosed State = iota

	// StateOpen short-circuits calls until the cooldown has passed.
	StateOpen
)

// String returns the human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config configures a breaker and the guard around it.
type Config struct {
	// FailureThreshold is the number of consecutive failures before opening.
	// Default: 3
	FailureThreshold int

	// Cooldown is how long the circuit stays open.
	// Default: 30s
	Cooldown time.Duration

	// Timeout bounds each guarded call. Zero disables the timeout race.
	// Default: 20s
	Timeout time.Duration
}

// DefaultConfig returns the default breaker behavior.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
		Timeout:          20 * time.Second,
	}
}

// Stats is a point-in-time view of a breaker.
type Stats struct {
	State               State
	ConsecutiveFailures int
	OpenUntil           time.Time
}

// Breaker tracks consecutive failures of one dependency.
//
// Thread Safety: Safe for concurrent use.
type Breaker struct {
	cfg   Config
	clock clock.Clock

	mu        sync.Mutex
	failures  int
	openUntil time.Time
}

// NewBreaker creates a closed breaker. Non-positive config values fall back
// to the defaults. A nil clock uses the wall clock.
func NewBreaker(cfg Config, clk clock.Clock) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.Timeout < 0 {
		cfg.Timeout = 0
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Breaker{cfg: cfg, clock: clk}
}

// Config returns the breaker's configuration.
func (b *Breaker) Config() Config {
	return b.cfg
}

// Allow reports whether a call may proceed. It returns false while the
// circuit is open, along with the time it closes.
func (b *Breaker) Allow() (bool, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isOpenLocked() {
		return false, b.openUntil
	}
	return true, time.Time{}
}

// RecordSuccess closes the circuit and clears the failure count. Returns
// true if the circuit had been opened since the last success.
func (b *Breaker) RecordSuccess() (reset bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	reset = !b.openUntil.IsZero()
	b.failures = 0
	b.openUntil = time.Time{}
	return reset
}

// RecordFailure counts a failure. When the count reaches the threshold the
// circuit opens for Cooldown. Returns true if this failure opened it.
func (b *Breaker) RecordFailure() (opened bool, openUntil time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.failures < b.cfg.FailureThreshold || b.isOpenLocked() {
		return false, b.openUntil
	}
	b.openUntil = b.clock.Now().Add(b.cfg.Cooldown)
	return true, b.openUntil
}

// Stats returns the current state.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Stats{State: StateClosed, ConsecutiveFailures: b.failures}
	if b.isOpenLocked() {
		s.State = StateOpen
		s.OpenUntil = b.openUntil
	}
	return s
}

func (b *Breaker) isOpenLocked() bool {
	return !b.openUntil.IsZero() && b.clock.Now().Before(b.openUntil)
}

// Breakers holds one breaker per protected dependency, created on first use.
//
// Thread Safety: Safe for concurrent use.
type Breakers struct {
	cfg   Config
	clock clock.Clock

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewBreakers creates an empty set sharing one configuration.
func NewBreakers(cfg Config, clk clock.Clock) *Breakers {
	return &Breakers{cfg: cfg, clock: clk, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for dependency, creating it if needed.
func (s *Breakers) Get(dependency string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[dependency]
	if !ok {
		b = NewBreaker(s.cfg, s.clock)
		s.breakers[dependency] = b
	}
	return b
}
