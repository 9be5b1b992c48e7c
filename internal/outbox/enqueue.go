package outbox

import (
	"context"
	"fmt"

	"github.com/roach88/tether/internal/mutation"
	"github.com/roach88/tether/internal/payload"
	"github.com/roach88/tether/internal/store"
	"github.com/roach88/tether/internal/telemetry"
)

// Enqueue records a mutation for later replay.
//
// If an entry with the same idempotency key is pending it is replaced by a
// fresh entry (new id, zero attempts) at the tail of the queue. The queue is
// then trimmed to Capacity, evicting the oldest entries.
//
// Returns the stored operation. Storage errors are returned; the reliable
// write path logs and swallows them.
func (o *Outbox) Enqueue(ctx context.Context, t mutation.Type, actorID string, p payload.Object, key string) (mutation.Operation, error) {
	if p == nil {
		p = payload.Object{}
	}
	body, err := payload.Canonical(p)
	if err != nil {
		return mutation.Operation{}, fmt.Errorf("enqueue %s: %w", key, err)
	}

	now := o.clock.Now().UTC()
	op := mutation.Operation{
		ID:             o.ids.NewID(),
		Type:           t,
		ActorID:        actorID,
		IdempotencyKey: key,
		Payload:        p.Clone(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	evicted, err := o.store.PutOutbox(ctx, store.OutboxRow{
		ID:             op.ID,
		IdempotencyKey: op.IdempotencyKey,
		Operation:      string(op.Type),
		ActorID:        op.ActorID,
		Payload:        string(body),
		CreatedAt:      op.CreatedAt,
		UpdatedAt:      op.UpdatedAt,
	}, o.capacity)
	if err != nil {
		return mutation.Operation{}, fmt.Errorf("enqueue %s: %w", key, err)
	}
	if evicted > 0 {
		o.logger.Warn("outbox full, evicted oldest entries",
			"evicted", evicted,
			"capacity", o.capacity)
	}

	size, err := o.store.CountOutbox(ctx)
	if err != nil {
		o.logger.Warn("outbox size unavailable after enqueue", "error", err)
	}

	o.sink.Emit(ctx, telemetry.NewEvent(telemetry.EventOutboxEnqueue,
		"operation", string(t),
		"key", key,
		"size", size,
		"evicted", int(evicted),
	))
	o.logger.Debug("outbox enqueue", "operation", t, "key", key, "id", op.ID, "size", size)

	return op, nil
}
