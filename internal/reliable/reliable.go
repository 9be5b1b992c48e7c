// Package reliable is the entry point for state changes that must reach the
// remote backend eventually.
//
// PerformReliableWrite tries the remote write with bounded retries. If every
// attempt fails and reliable writes are enabled for this install, the
// mutation is parked in the outbox and replayed later by the Drainer with
// the same writer. Remote failures are never returned to the caller; only
// programmer errors (unknown operation type, invalid payload) are.
package reliable

import (
	"context"
	"log/slog"

	"github.com/roach88/tether/internal/clock"
	"github.com/roach88/tether/internal/mutation"
	"github.com/roach88/tether/internal/telemetry"
)

// Writer applies one mutation remotely. It must be idempotent with respect
// to op.IdempotencyKey: the same mutation can be delivered more than once.
type Writer func(ctx context.Context, actorID string, op mutation.Operation) error

// FlagSource reports whether a feature flag is on. Implemented by
// *rollout.Assigner.
type FlagSource interface {
	IsEnabled(ctx context.Context, key string) bool
}

type options struct {
	clock  clock.Clock
	ids    mutation.IDGenerator
	sink   telemetry.Sink
	logger *slog.Logger
}

func defaultOptions() options {
	return options{
		clock:  clock.Real(),
		ids:    mutation.UUIDv7Generator{},
		sink:   telemetry.Nop{},
		logger: slog.Default(),
	}
}

// Option configures a Facade or Drainer.
type Option func(*options)

// WithClock sets the clock used to stamp operations.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithIDGenerator sets the generator for operation ids on the direct path.
func WithIDGenerator(g mutation.IDGenerator) Option {
	return func(o *options) { o.ids = g }
}

// WithSink sets the telemetry sink.
func WithSink(s telemetry.Sink) Option {
	return func(o *options) { o.sink = telemetry.OrNop(s) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
