// Package mutation defines the unit of work the reliability layer carries:
// a logical state change identified by a deterministic idempotency key.
package mutation

import (
	"time"

	"github.com/roach88/tether/internal/payload"
)

// Type tags an operation kind, e.g. "award_points" or "complete_lesson".
type Type string

// Operation is one logical mutation pending confirmed remote application.
// Identity is IdempotencyKey; ID changes every time the operation is
// (re)enqueued.
type Operation struct {
	ID             string         `json:"id"`
	Type           Type           `json:"operation"`
	ActorID        string         `json:"actor_id"`
	IdempotencyKey string         `json:"idempotency_key"`
	Payload        payload.Object `json:"payload"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	Attempts       int            `json:"attempts"`
}
