package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/tether/internal/mutation"
	"github.com/roach88/tether/internal/payload"
	"github.com/roach88/tether/internal/store"
)

// DeadLetter is an entry retired from the outbox. LastError records why.
type DeadLetter struct {
	mutation.Operation
	LastError      string
	DeadLetteredAt time.Time
}

// List returns pending entries in insertion order. A row that cannot be
// decoded is moved to the dead letters the first time it is seen, so it
// stops counting towards Size and capacity.
func (o *Outbox) List(ctx context.Context) ([]mutation.Operation, error) {
	rows, err := o.store.ListOutbox(ctx)
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}

	ops := make([]mutation.Operation, 0, len(rows))
	for _, row := range rows {
		op, err := decodeRow(row)
		if err != nil {
			o.quarantine(ctx, row, err)
			continue
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// quarantine dead-letters a malformed row. Failures are logged; the row is
// skipped either way.
func (o *Outbox) quarantine(ctx context.Context, row store.OutboxRow, cause error) {
	o.logger.Warn("malformed outbox entry", "id", row.ID, "key", row.IdempotencyKey, "error", cause)
	cause = fmt.Errorf("malformed entry: %w", cause)
	if _, err := o.deadLetter(context.WithoutCancel(ctx), row.ID, row.Operation, row.IdempotencyKey, row.Attempts, cause, o.clock.Now().UTC()); err != nil {
		o.logger.Error("quarantine malformed outbox entry", "id", row.ID, "error", err)
	}
}

// DeadLetters returns retired entries, oldest first. Malformed rows are
// skipped and logged.
func (o *Outbox) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	rows, err := o.store.ListDeadLetters(ctx)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}

	out := make([]DeadLetter, 0, len(rows))
	for _, row := range rows {
		op, err := decodeRow(row.OutboxRow)
		if err != nil {
			o.logger.Warn("skipping malformed dead letter", "id", row.ID, "error", err)
			continue
		}
		out = append(out, DeadLetter{
			Operation:      op,
			LastError:      row.LastError,
			DeadLetteredAt: row.DeadLetteredAt,
		})
	}
	return out, nil
}

func decodeRow(row store.OutboxRow) (mutation.Operation, error) {
	p, err := payload.DecodeObject([]byte(row.Payload))
	if err != nil {
		return mutation.Operation{}, fmt.Errorf("decode payload: %w", err)
	}
	if row.Operation == "" || row.IdempotencyKey == "" {
		return mutation.Operation{}, fmt.Errorf("missing operation type or key")
	}
	return mutation.Operation{
		ID:             row.ID,
		Type:           mutation.Type(row.Operation),
		ActorID:        row.ActorID,
		IdempotencyKey: row.IdempotencyKey,
		Payload:        p,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
		Attempts:       row.Attempts,
	}, nil
}
