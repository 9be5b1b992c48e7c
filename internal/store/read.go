package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ListOutbox returns all pending rows in insertion order (seq ASC).
// Returns an empty slice (not nil) when the outbox is empty.
func (s *Store) ListOutbox(ctx context.Context) ([]OutboxRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, idempotency_key, operation, actor_id, payload, created_at, updated_at, attempts
		FROM outbox
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	out := []OutboxRow{}
	for rows.Next() {
		var (
			r                OutboxRow
			created, updated int64
		)
		if err := rows.Scan(&r.Seq, &r.ID, &r.IdempotencyKey, &r.Operation, &r.ActorID,
			&r.Payload, &created, &updated, &r.Attempts); err != nil {
			return nil, fmt.Errorf("scan outbox: %w", err)
		}
		r.CreatedAt = fromNanos(created)
		r.UpdatedAt = fromNanos(updated)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return out, nil
}

// CountOutbox returns the number of pending rows.
func (s *Store) CountOutbox(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count outbox: %w", err)
	}
	return n, nil
}

// ListDeadLetters returns retired rows, oldest first.
func (s *Store) ListDeadLetters(ctx context.Context) ([]DeadLetterRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, idempotency_key, operation, actor_id, payload, created_at, updated_at, attempts, last_error, dead_lettered_at
		FROM outbox_dead_letters
		ORDER BY dead_lettered_at ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	defer rows.Close()

	out := []DeadLetterRow{}
	for rows.Next() {
		var (
			r                      DeadLetterRow
			created, updated, dead int64
		)
		if err := rows.Scan(&r.ID, &r.IdempotencyKey, &r.Operation, &r.ActorID, &r.Payload,
			&created, &updated, &r.Attempts, &r.LastError, &dead); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		r.CreatedAt = fromNanos(created)
		r.UpdatedAt = fromNanos(updated)
		r.DeadLetteredAt = fromNanos(dead)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}
	return out, nil
}

// Get returns the value stored under key in the kv table.
func (s *Store) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}
