package mutation

import (
	"fmt"
	"hash/fnv"

	"github.com/roach88/tether/internal/payload"
)

// Key derives the idempotency key for a logical mutation:
//
//	<type>:<actorID>:<fnv1a32(canonical(payload)) as 8 hex digits>
//
// The prefix keeps keys readable in logs and in the outbox table. The hash
// is not a security primitive; two different payloads colliding for the same
// type and actor is an accepted risk.
//
// Returns error if the payload cannot be canonically serialized.
func Key(t Type, actorID string, p payload.Object) (string, error) {
	if p == nil {
		p = payload.Object{}
	}
	canonical, err := payload.Canonical(p)
	if err != nil {
		return "", fmt.Errorf("idempotency key: %w", err)
	}
	return fmt.Sprintf("%s:%s:%08x", t, actorID, StableHash(canonical)), nil
}

// MustKey is like Key but panics on error.
// Use only in tests or when the payload is known to be valid.
func MustKey(t Type, actorID string, p payload.Object) string {
	k, err := Key(t, actorID, p)
	if err != nil {
		panic(err)
	}
	return k
}

// StableHash is 32-bit FNV-1a. It is stable across processes, platforms
// and releases, which is what both idempotency keys and rollout buckets need.
func StableHash(data []byte) uint32 {
	h := fnv.New32a()
	_, _ = h.Write(data)
	return h.Sum32()
}
