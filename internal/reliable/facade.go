package reliable

import (
	"context"
	"fmt"

	"github.com/roach88/tether/internal/mutation"
	"github.com/roach88/tether/internal/payload"
	"github.com/roach88/tether/internal/retry"
	"github.com/roach88/tether/internal/rollout"
	"github.com/roach88/tether/internal/telemetry"
)

// Outcome is the result of a reliable write.
type Outcome int

const (
	// OutcomeApplied means the remote write succeeded.
	OutcomeApplied Outcome = iota

	// OutcomeQueued means every attempt failed and the mutation is in the
	// outbox awaiting replay.
	OutcomeQueued

	// OutcomeDropped means every attempt failed and the mutation was not
	// queued, either because reliable writes are off for this install or
	// because the outbox could not store it.
	OutcomeDropped
)

// String returns the human-readable name for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeQueued:
		return "queued"
	case OutcomeDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Facade performs reliable writes.
//
// Thread Safety: Safe for concurrent use.
type Facade struct {
	registry *mutation.Registry
	drainer  *Drainer
	retrier  *retry.Retrier
	flags    FlagSource
	opts     options
}

// NewFacade creates a facade. registry may be nil to skip payload
// validation; flags may be nil, in which case reliable writes are on.
func NewFacade(registry *mutation.Registry, drainer *Drainer, retrier *retry.Retrier, flags FlagSource, opts ...Option) *Facade {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Facade{
		registry: registry,
		drainer:  drainer,
		retrier:  retrier,
		flags:    flags,
		opts:     o,
	}
}

// Drainer returns the drainer used for queued mutations.
func (f *Facade) Drainer() *Drainer {
	return f.drainer
}

func (f *Facade) reliableWritesEnabled(ctx context.Context) bool {
	if f.flags == nil {
		return true
	}
	return f.flags.IsEnabled(ctx, rollout.FlagReliableWrites)
}

// PerformReliableWrite applies a mutation remotely, queueing it for replay
// if the remote stays unreachable.
//
//  1. The payload is validated against the registered kind.
//  2. The idempotency key is derived from type, actor and payload.
//  3. With reliable writes on, pending entries are drained first so older
//     mutations reach the remote before this one.
//  4. writer is called through the retry coordinator. On exhaustion the
//     mutation is enqueued (reliable writes on) or dropped with a
//     reliable_write_failed event (off).
//
// writer also becomes the replay writer for t unless one is registered.
//
// The returned error is non-nil only for invalid input.
func (f *Facade) PerformReliableWrite(ctx context.Context, t mutation.Type, actorID string, p payload.Object, writer Writer) (Outcome, error) {
	if writer == nil {
		return OutcomeDropped, fmt.Errorf("reliable write %s: nil writer", t)
	}
	if p == nil {
		p = payload.Object{}
	}
	if f.registry != nil {
		if err := f.registry.Validate(t, p); err != nil {
			return OutcomeDropped, fmt.Errorf("reliable write: %w", err)
		}
	}
	key, err := mutation.Key(t, actorID, p)
	if err != nil {
		return OutcomeDropped, fmt.Errorf("reliable write %s: %w", t, err)
	}

	enabled := f.reliableWritesEnabled(ctx)
	if enabled {
		f.drainer.registerIfAbsent(t, writer)
		if _, err := f.drainer.Drain(ctx); err != nil {
			f.opts.logger.Warn("pre-write drain failed", "error", err)
		}
	}

	now := f.opts.clock.Now().UTC()
	op := mutation.Operation{
		ID:             f.opts.ids.NewID(),
		Type:           t,
		ActorID:        actorID,
		IdempotencyKey: key,
		Payload:        p,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	writeErr := f.retrier.Do(ctx, string(t), func(ctx context.Context) error {
		return writer(ctx, actorID, op)
	})
	if writeErr == nil {
		return OutcomeApplied, nil
	}

	if !enabled {
		f.dropped(ctx, op, writeErr)
		return OutcomeDropped, nil
	}

	// Exhaustion may be caused by ctx being cancelled during a backoff wait;
	// the mutation must still reach the outbox.
	if _, err := f.drainer.Outbox().Enqueue(context.WithoutCancel(ctx), t, actorID, p, key); err != nil {
		f.opts.logger.Error("enqueue failed, mutation dropped", "key", key, "error", err)
		f.dropped(ctx, op, writeErr)
		return OutcomeDropped, nil
	}
	f.opts.logger.Info("remote write failed, mutation queued", "operation", t, "key", key)
	return OutcomeQueued, nil
}

func (f *Facade) dropped(ctx context.Context, op mutation.Operation, cause error) {
	f.opts.logger.Warn("reliable write failed",
		"operation", op.Type,
		"key", op.IdempotencyKey,
		"error", cause)
	f.opts.sink.Emit(ctx, telemetry.NewEvent(telemetry.EventReliableWriteFailed,
		"operation", string(op.Type),
		"key", op.IdempotencyKey,
		"error", cause.Error(),
	))
}
