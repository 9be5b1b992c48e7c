// Package outbox is the durable, bounded queue of mutations that could not be
// applied remotely.
//
// Entries are unique per idempotency key (last write wins), ordered by
// insertion, and capped: when full, the oldest entry is evicted. Drain replays
// a snapshot of the queue and merges results back by entry id, so entries
// enqueued or replaced while a drain is running are left for the next pass.
//
// Thread-safety: Outbox is safe for concurrent use. Serialization is provided
// by the store's single SQLite connection; Outbox itself holds no mutable
// state.
package outbox

import (
	"context"
	"log/slog"

	"github.com/roach88/tether/internal/clock"
	"github.com/roach88/tether/internal/mutation"
	"github.com/roach88/tether/internal/store"
	"github.com/roach88/tether/internal/telemetry"
)

// DefaultCapacity is the maximum number of pending entries.
const DefaultCapacity = 300

// Outbox persists pending mutations in a store.
type Outbox struct {
	store       *store.Store
	capacity    int
	maxAttempts int // 0 = never dead-letter
	clock       clock.Clock
	ids         mutation.IDGenerator
	sink        telemetry.Sink
	logger      *slog.Logger
}

// Option configures an Outbox.
type Option func(*Outbox)

// WithCapacity sets the entry cap. Values <= 0 keep DefaultCapacity.
func WithCapacity(n int) Option {
	return func(o *Outbox) {
		if n > 0 {
			o.capacity = n
		}
	}
}

// WithMaxAttempts enables dead-lettering: an entry whose attempt count
// reaches n after a failed replay is moved out of the outbox.
// Default: 0 (retry forever).
func WithMaxAttempts(n int) Option {
	return func(o *Outbox) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithClock sets the clock used for created/updated timestamps.
func WithClock(c clock.Clock) Option {
	return func(o *Outbox) { o.clock = c }
}

// WithIDGenerator sets the entry id generator.
// Default: mutation.UUIDv7Generator.
func WithIDGenerator(g mutation.IDGenerator) Option {
	return func(o *Outbox) { o.ids = g }
}

// WithSink sets the telemetry sink.
func WithSink(s telemetry.Sink) Option {
	return func(o *Outbox) { o.sink = telemetry.OrNop(s) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Outbox) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an Outbox over the given store.
func New(s *store.Store, opts ...Option) *Outbox {
	o := &Outbox{
		store:    s,
		capacity: DefaultCapacity,
		clock:    clock.Real(),
		ids:      mutation.UUIDv7Generator{},
		sink:     telemetry.Nop{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Capacity returns the entry cap.
func (o *Outbox) Capacity() int {
	return o.capacity
}

// MaxAttempts returns the dead-letter ceiling (0 when disabled).
func (o *Outbox) MaxAttempts() int {
	return o.maxAttempts
}

// Size returns the number of pending entries. It reads through List so that
// malformed rows are quarantined rather than counted.
func (o *Outbox) Size(ctx context.Context) (int, error) {
	ops, err := o.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(ops), nil
}
