package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PutOutbox inserts row, replacing any pending row with the same
// idempotency key, then trims the table to the newest capacity rows.
// The replacement gets a fresh seq, so it lands at the tail.
//
// capacity <= 0 disables trimming. Returns the number of rows evicted by the
// trim (a replaced row is not counted as evicted).
func (s *Store) PutOutbox(ctx context.Context, row OutboxRow, capacity int) (evicted int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("put outbox: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM outbox WHERE idempotency_key = ?
	`, row.IdempotencyKey); err != nil {
		return 0, fmt.Errorf("put outbox: replace: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO outbox
		(id, idempotency_key, operation, actor_id, payload, created_at, updated_at, attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		row.ID,
		row.IdempotencyKey,
		row.Operation,
		row.ActorID,
		row.Payload,
		toNanos(row.CreatedAt),
		toNanos(row.UpdatedAt),
		row.Attempts,
	); err != nil {
		return 0, fmt.Errorf("put outbox: insert: %w", err)
	}

	if capacity > 0 {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM outbox
			WHERE seq NOT IN (SELECT seq FROM outbox ORDER BY seq DESC LIMIT ?)
		`, capacity)
		if err != nil {
			return 0, fmt.Errorf("put outbox: trim: %w", err)
		}
		evicted, err = res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("put outbox: rows affected: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("put outbox: commit: %w", err)
	}
	return evicted, nil
}

// DeleteOutbox removes the row with the given id.
// Returns false if no such row exists (already replaced or trimmed).
func (s *Store) DeleteOutbox(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete outbox %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete outbox %s: rows affected: %w", id, err)
	}
	return n > 0, nil
}

// MarkOutboxFailed increments the attempt counter of the row with the given
// id and sets its updated_at. Returns the new attempt count, or found=false
// if the row no longer exists.
func (s *Store) MarkOutboxFailed(ctx context.Context, id string, at time.Time) (attempts int, found bool, err error) {
	err = s.db.QueryRowContext(ctx, `
		UPDATE outbox
		SET attempts = attempts + 1, updated_at = ?
		WHERE id = ?
		RETURNING attempts
	`, toNanos(at), id).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("mark outbox failed %s: %w", id, err)
	}
	return attempts, true, nil
}

// DeadLetterOutbox moves the row with the given id to outbox_dead_letters.
// Returns false if the row no longer exists.
func (s *Store) DeadLetterOutbox(ctx context.Context, id, lastError string, at time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("dead-letter %s: begin tx: %w", id, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO outbox_dead_letters
		(id, idempotency_key, operation, actor_id, payload, created_at, updated_at, attempts, last_error, dead_lettered_at)
		SELECT id, idempotency_key, operation, actor_id, payload, created_at, updated_at, attempts, ?, ?
		FROM outbox WHERE id = ?
		ON CONFLICT(id) DO NOTHING
	`, lastError, toNanos(at), id)
	if err != nil {
		return false, fmt.Errorf("dead-letter %s: copy: %w", id, err)
	}
	copied, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dead-letter %s: rows affected: %w", id, err)
	}

	del, err := tx.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("dead-letter %s: delete: %w", id, err)
	}
	deleted, err := del.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dead-letter %s: rows affected: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("dead-letter %s: commit: %w", id, err)
	}
	return copied > 0 || deleted > 0, nil
}

// PutIfAbsent stores value under key unless a non-blank value is already
// present, and returns whichever value is stored afterwards. A blank stored
// value counts as absent, so a corrupted entry is repaired on next use.
func (s *Store) PutIfAbsent(ctx context.Context, key, value string) (string, error) {
	var stored string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
		WHERE trim(kv.value) = ''
		RETURNING value
	`, key, value).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		// Conflict with a non-blank value: nothing returned, read it back.
		v, ok, gerr := s.Get(ctx, key)
		if gerr != nil {
			return "", gerr
		}
		if !ok {
			return "", fmt.Errorf("put if absent %s: value vanished", key)
		}
		return v, nil
	}
	if err != nil {
		return "", fmt.Errorf("put if absent %s: %w", key, err)
	}
	return stored, nil
}
