// Package telemetry is the best-effort event sink for the reliability layer.
//
// Emission never fails and never blocks callers on a slow backend: a sink
// that panics is isolated by Multi, and nothing in the core inspects the
// outcome of Emit.
package telemetry

import (
	"context"
	"log/slog"
	"sort"
)

// Event names emitted by the reliability layer.
const (
	EventOutboxEnqueue       = "outbox_enqueue"
	EventOutboxDrain         = "outbox_drain"
	EventOutboxDeadLettered  = "outbox_dead_lettered"
	EventCircuitOpened       = "circuit_opened"
	EventCircuitBlocked      = "circuit_blocked"
	EventCircuitClosed       = "circuit_closed"
	EventRetryAttempt        = "retry_attempt"
	EventReliableWriteFailed = "reliable_write_failed"
)

// Event is a named occurrence with free-form attributes.
type Event struct {
	Name   string
	Fields map[string]any
}

// NewEvent builds an event from alternating key/value arguments, the same
// convention slog uses. A trailing key without a value is dropped.
func NewEvent(name string, kv ...any) Event {
	fields := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		fields[key] = kv[i+1]
	}
	return Event{Name: name, Fields: fields}
}

// Int returns an integer field, or 0 when missing or of another type.
func (e Event) Int(key string) int {
	switch v := e.Fields[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}

// String returns a string field, or "" when missing.
func (e Event) String(key string) string {
	s, _ := e.Fields[key].(string)
	return s
}

// Sink receives telemetry events.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// Nop discards every event.
type Nop struct{}

// Emit implements Sink.
func (Nop) Emit(context.Context, Event) {}

// LogSink writes events as structured log records at debug level.
type LogSink struct {
	Logger *slog.Logger
}

// Emit implements Sink.
func (s LogSink) Emit(ctx context.Context, e Event) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]any, 0, len(keys)*2+2)
	attrs = append(attrs, "event", e.Name)
	for _, k := range keys {
		attrs = append(attrs, k, e.Fields[k])
	}
	logger.DebugContext(ctx, "telemetry", attrs...)
}

// Multi fans an event out to several sinks. A panicking sink does not
// prevent delivery to the others.
type Multi []Sink

// Emit implements Sink.
func (m Multi) Emit(ctx context.Context, e Event) {
	for _, s := range m {
		emitSafely(ctx, s, e)
	}
}

func emitSafely(ctx context.Context, s Sink, e Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("telemetry sink panicked", "event", e.Name, "panic", r)
		}
	}()
	s.Emit(ctx, e)
}

// OrNop returns s, or Nop when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop{}
	}
	return s
}
