// Package harness runs reliability scenarios against a simulated remote.
//
// A scenario scripts connectivity and drives the real facade, outbox,
// drainer and resilience guard through it. Every step is recorded in a
// trace that can be compared against a golden file.
//
// # Scenario Format
//
//	name: offline_write_replayed
//	description: "A write made offline reaches the remote after reconnect"
//	config:
//	  retry_attempts: 3
//	operations:
//	  award_points: "{points: int & >0}"
//	steps:
//	  - remote: offline
//	  - write: award_points
//	    actor: u1
//	    payload: { points: 5 }
//	    expect: { outcome: queued }
//	  - remote: online
//	  - drain: true
//	    expect: { processed: 1, remaining: 0 }
//	assertions:
//	  - type: outbox_size
//	    count: 0
//	  - type: remote_applied
//	    writes: [{ operation: award_points, actor: u1 }]
//
// # Step Types
//
//   - remote: online | offline, sets whether the remote accepts writes
//   - provider: online | offline, same for the text-generation provider
//   - write: performs a reliable write of the named operation
//   - drain: replays the outbox once
//   - generate: calls the provider through the circuit breaker
//   - advance: moves the breaker clock forward (e.g. "30s")
//
// # Assertion Types
//
//   - outbox_size: pending entries equal count
//   - dead_letters: retired entries equal count
//   - remote_calls: the remote was called count times
//   - remote_applied: successful remote writes, in order
//   - event_count: the telemetry event fired count times
//   - event_order: the telemetry events fired in this relative order
//
// # Determinism
//
// Each run uses a fresh in-memory database, sequential ids, a fixed cohort
// seed, an auto-advancing clock for retry backoff and a manual clock for
// the breaker, so traces are identical across runs.
package harness
