// Package store provides SQLite-backed durable storage for the local outbox.
//
// Tables:
//   - outbox: pending mutations, one row per idempotency key
//   - outbox_dead_letters: mutations that exhausted their replay ceiling
//   - kv: small install-scoped values such as the rollout cohort seed
//
// # Ordering
//
// The outbox is ordered by seq (AUTOINCREMENT), never by timestamps. A
// replacing write deletes the old row and inserts a new one, so the
// replacement moves to the tail.
//
// # Row-scoped updates
//
// Drain results are merged by row id, not by idempotency key. A row that was
// replaced while a drain was in flight has a new id, so a late success or
// failure for the old id affects nothing.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - single connection: SQLite allows one writer at a time
//
// The store speaks raw rows (payload as JSON text). Decoding and validation
// happen in internal/outbox so that one malformed row cannot fail a whole read.
package store
