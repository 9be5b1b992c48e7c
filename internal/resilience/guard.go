package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/tether/internal/clock"
	"github.com/roach88/tether/internal/telemetry"
)

// ErrTimeout is the failure recorded when a guarded call outlives the
// timeout.
var ErrTimeout = errors.New("guarded call timed out")

// Guard wraps calls to one dependency with a timeout and its breaker.
type Guard struct {
	name    string
	breaker *Breaker
	clock   clock.Clock
	enabled func(ctx context.Context) bool
	sink    telemetry.Sink
	logger  *slog.Logger
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithEnabled sets the feature gate. When it reports false, calls pass
// straight through with no timeout and no breaker bookkeeping.
// Default: always enabled.
func WithEnabled(fn func(ctx context.Context) bool) GuardOption {
	return func(g *Guard) { g.enabled = fn }
}

// WithGuardClock sets the clock used for the timeout race. Defaults to the
// breaker's clock.
func WithGuardClock(c clock.Clock) GuardOption {
	return func(g *Guard) { g.clock = c }
}

// WithGuardSink sets the telemetry sink.
func WithGuardSink(s telemetry.Sink) GuardOption {
	return func(g *Guard) { g.sink = telemetry.OrNop(s) }
}

// WithGuardLogger sets the logger.
func WithGuardLogger(l *slog.Logger) GuardOption {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGuard creates a guard named after the dependency it protects.
func NewGuard(name string, b *Breaker, opts ...GuardOption) *Guard {
	g := &Guard{
		name:    name,
		breaker: b,
		clock:   b.clock,
		sink:    telemetry.Nop{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name returns the dependency name.
func (g *Guard) Name() string {
	return g.name
}

// Stats returns the state of the underlying breaker.
func (g *Guard) Stats() Stats {
	return g.breaker.Stats()
}

type result[T any] struct {
	value T
	err   error
}

// Call runs factory under the guard and reports whether it produced a
// value. Failures are never returned as errors.
//
//   - Circuit open: emits circuit_blocked and returns without calling factory.
//   - Otherwise factory races the timeout. An error, a panic or a timeout
//     counts as a failure; reaching the threshold opens the circuit and
//     emits circuit_opened. A success resets the breaker, emitting
//     circuit_closed if the circuit had been opened.
//
// The factory is never cancelled mid-flight: it runs on a context detached
// from ctx's cancellation, so losing the race to the timeout or to a
// cancelled ctx leaves it to finish in the background with its result
// discarded. A cancelled ctx returns immediately without counting against
// the dependency.
func Call[T any](ctx context.Context, g *Guard, factory func(ctx context.Context) (T, error)) (T, bool) {
	var zero T

	if g.enabled != nil && !g.enabled(ctx) {
		r := invoke(ctx, factory)
		if r.err != nil {
			g.logger.Debug("unguarded call failed", "dependency", g.name, "error", r.err)
			return zero, false
		}
		return r.value, true
	}

	if ok, openUntil := g.breaker.Allow(); !ok {
		g.sink.Emit(ctx, telemetry.NewEvent(telemetry.EventCircuitBlocked,
			"dependency", g.name,
			"open_until", openUntil.Format(time.RFC3339Nano),
		))
		g.logger.Debug("circuit open, call blocked", "dependency", g.name, "open_until", openUntil)
		return zero, false
	}

	callCtx := context.WithoutCancel(ctx)

	// Buffered so a late factory never blocks after the race is lost.
	done := make(chan result[T], 1)
	go func() {
		done <- invoke(callCtx, factory)
	}()

	var timeout <-chan time.Time
	if t := g.breaker.Config().Timeout; t > 0 {
		timeout = g.clock.After(t)
	}

	select {
	case r := <-done:
		if r.err != nil {
			g.recordFailure(ctx, r.err)
			return zero, false
		}
		if g.breaker.RecordSuccess() {
			g.logger.Info("circuit closed", "dependency", g.name)
			g.sink.Emit(ctx, telemetry.NewEvent(telemetry.EventCircuitClosed, "dependency", g.name))
		}
		return r.value, true
	case <-timeout:
		g.recordFailure(ctx, ErrTimeout)
		return zero, false
	case <-ctx.Done():
		return zero, false
	}
}

func (g *Guard) recordFailure(ctx context.Context, cause error) {
	opened, openUntil := g.breaker.RecordFailure()
	failures := g.breaker.Stats().ConsecutiveFailures
	g.logger.Warn("guarded call failed",
		"dependency", g.name,
		"consecutive_failures", failures,
		"error", cause)
	if !opened {
		return
	}
	g.logger.Warn("circuit opened", "dependency", g.name, "open_until", openUntil)
	g.sink.Emit(ctx, telemetry.NewEvent(telemetry.EventCircuitOpened,
		"dependency", g.name,
		"failures", failures,
		"open_until", openUntil.Format(time.RFC3339Nano),
	))
}

func invoke[T any](ctx context.Context, factory func(ctx context.Context) (T, error)) (r result[T]) {
	defer func() {
		if p := recover(); p != nil {
			r = result[T]{err: fmt.Errorf("guarded call panic: %v", p)}
		}
	}()
	v, err := factory(ctx)
	return result[T]{value: v, err: err}
}
