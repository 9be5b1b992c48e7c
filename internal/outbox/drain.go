package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/tether/internal/mutation"
	"github.com/roach88/tether/internal/telemetry"
)

// Executor replays one operation. It reports success by returning true and
// a nil error. A false result, a non-nil error and a panic all count as a
// failed attempt.
type Executor func(ctx context.Context, op mutation.Operation) (bool, error)

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Processed    int // replayed successfully and removed
	Failed       int // replay failed; attempts incremented
	DeadLettered int // subset of Failed moved to dead letters
	Remaining    int // entries pending after the pass
}

// ErrExecutorFailed is recorded as the failure cause when an executor
// returns false without an error.
var ErrExecutorFailed = errors.New("executor reported failure")

// retryable is implemented by executor errors that know whether a later
// replay can succeed, such as remote.HTTPError.
type retryable interface {
	Retryable() bool
}

// permanent reports whether err says replaying again cannot succeed.
func permanent(err error) bool {
	var r retryable
	return errors.As(err, &r) && !r.Retryable()
}

// Drain replays every pending entry once.
//
// The entries are snapshotted up front and replayed in insertion order. A
// failure does not stop the pass. Results are merged by entry id: success
// deletes the entry, failure increments its attempts and refreshes its
// updated timestamp. An entry replaced while its replay was in flight has a
// new id and is untouched by the merge.
//
// A failure whose error reports Retryable() == false is dead-lettered at
// once, whatever the attempt ceiling.
//
// If ctx is cancelled the pass stops before the next entry. Storage errors
// while merging are logged and returned joined; the pass still completes.
func (o *Outbox) Drain(ctx context.Context, exec Executor) (DrainResult, error) {
	var res DrainResult

	snapshot, err := o.List(ctx)
	if err != nil {
		return res, fmt.Errorf("drain: %w", err)
	}
	if len(snapshot) == 0 {
		return res, nil
	}

	// Merges must land even if ctx is cancelled mid-replay.
	mergeCtx := context.WithoutCancel(ctx)

	var mergeErrs []error
	for _, op := range snapshot {
		if ctx.Err() != nil {
			break
		}

		ok, execErr := runExecutor(ctx, exec, op)
		if ok && execErr == nil {
			if _, err := o.store.DeleteOutbox(mergeCtx, op.ID); err != nil {
				o.logger.Error("drain: remove applied entry", "id", op.ID, "error", err)
				mergeErrs = append(mergeErrs, err)
				continue
			}
			res.Processed++
			continue
		}

		if execErr == nil {
			execErr = ErrExecutorFailed
		}
		res.Failed++
		o.logger.Debug("drain: replay failed", "id", op.ID, "key", op.IdempotencyKey, "error", execErr)

		if dead, err := o.recordFailure(mergeCtx, op, execErr); err != nil {
			o.logger.Error("drain: record failure", "id", op.ID, "error", err)
			mergeErrs = append(mergeErrs, err)
		} else if dead {
			res.DeadLettered++
		}
	}

	remaining, err := o.store.CountOutbox(mergeCtx)
	if err != nil {
		mergeErrs = append(mergeErrs, err)
	}
	res.Remaining = remaining

	o.sink.Emit(mergeCtx, telemetry.NewEvent(telemetry.EventOutboxDrain,
		"processed", res.Processed,
		"failed", res.Failed,
		"dead_lettered", res.DeadLettered,
		"remaining", res.Remaining,
	))
	o.logger.Debug("outbox drain",
		"processed", res.Processed,
		"failed", res.Failed,
		"remaining", res.Remaining)

	return res, errors.Join(mergeErrs...)
}

// recordFailure bumps the attempt count of op and dead-letters it when the
// ceiling is reached or the failure is permanent. Reports whether the entry
// was dead-lettered.
func (o *Outbox) recordFailure(ctx context.Context, op mutation.Operation, cause error) (bool, error) {
	now := o.clock.Now().UTC()
	attempts, found, err := o.store.MarkOutboxFailed(ctx, op.ID, now)
	if err != nil || !found {
		return false, err
	}
	atCeiling := o.maxAttempts > 0 && attempts >= o.maxAttempts
	if !atCeiling && !permanent(cause) {
		return false, nil
	}
	return o.deadLetter(ctx, op.ID, string(op.Type), op.IdempotencyKey, attempts, cause, now)
}

// deadLetter moves the entry with id out of the outbox.
func (o *Outbox) deadLetter(ctx context.Context, id, opType, key string, attempts int, cause error, now time.Time) (bool, error) {
	moved, err := o.store.DeadLetterOutbox(ctx, id, cause.Error(), now)
	if err != nil || !moved {
		return false, err
	}
	o.logger.Warn("outbox entry dead-lettered",
		"id", id,
		"key", key,
		"attempts", attempts,
		"error", cause)
	o.sink.Emit(ctx, telemetry.NewEvent(telemetry.EventOutboxDeadLettered,
		"operation", opType,
		"key", key,
		"attempts", attempts,
	))
	return true, nil
}

// runExecutor calls exec, converting a panic into an error.
func runExecutor(ctx context.Context, exec Executor, op mutation.Operation) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return exec(ctx, op)
}
