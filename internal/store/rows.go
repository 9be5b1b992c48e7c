package store

import "time"

// OutboxRow is a persisted outbox entry. Payload is canonical JSON text.
type OutboxRow struct {
	Seq            int64
	ID             string
	IdempotencyKey string
	Operation      string
	ActorID        string
	Payload        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Attempts       int
}

// DeadLetterRow is an outbox entry that was retired after too many failed
// replays.
type DeadLetterRow struct {
	OutboxRow
	LastError      string
	DeadLetteredAt time.Time
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
