package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent_PairsKeysAndValues(t *testing.T) {
	e := NewEvent(EventOutboxDrain, "processed", 2, "remaining", 1, "dangling")

	assert.Equal(t, EventOutboxDrain, e.Name)
	assert.Equal(t, 2, e.Int("processed"))
	assert.Equal(t, 1, e.Int("remaining"))
	assert.NotContains(t, e.Fields, "dangling")
}

func TestRecorder_KeepsOrder(t *testing.T) {
	var r Recorder
	ctx := context.Background()
	r.Emit(ctx, NewEvent(EventRetryAttempt, "attempt", 1))
	r.Emit(ctx, NewEvent(EventRetryAttempt, "attempt", 2))
	r.Emit(ctx, NewEvent(EventOutboxEnqueue))

	assert.Equal(t, []string{EventRetryAttempt, EventRetryAttempt, EventOutboxEnqueue}, r.Names())
	assert.Equal(t, 2, r.Count(EventRetryAttempt))

	last, ok := r.Last(EventRetryAttempt)
	require.True(t, ok)
	assert.Equal(t, 2, last.Int("attempt"))

	r.Reset()
	assert.Empty(t, r.Events())
}

type panickySink struct{}

func (panickySink) Emit(context.Context, Event) { panic("boom") }

func TestMulti_IsolatesPanickingSink(t *testing.T) {
	var r Recorder
	m := Multi{panickySink{}, &r}

	assert.NotPanics(t, func() {
		m.Emit(context.Background(), NewEvent(EventCircuitBlocked))
	})
	assert.Equal(t, 1, r.Count(EventCircuitBlocked))
}

func TestLogSink_WritesStructuredRecord(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	LogSink{Logger: logger}.Emit(context.Background(), NewEvent(EventCircuitOpened, "dependency", "openai"))

	assert.Contains(t, buf.String(), "event=circuit_opened")
	assert.Contains(t, buf.String(), "dependency=openai")
}

func TestPrometheus_CountsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewPrometheus(reg)
	require.NoError(t, err)

	ctx := context.Background()
	p.Emit(ctx, NewEvent(EventOutboxEnqueue, "size", 4))
	p.Emit(ctx, NewEvent(EventOutboxDrain, "processed", 3, "failed", 1, "remaining", 1))
	p.Emit(ctx, NewEvent(EventCircuitOpened, "dependency", "openai"))

	assert.Equal(t, 1.0, testutil.ToFloat64(p.events.WithLabelValues(EventOutboxEnqueue)))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.outboxSize))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.drainProcessed))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.drainFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.circuitOpened.WithLabelValues("openai")))
}

func TestPrometheus_CircuitOpenGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewPrometheus(reg)
	require.NoError(t, err)
	ctx := context.Background()

	p.Emit(ctx, NewEvent(EventCircuitOpened, "dependency", "openai"))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.circuitOpen.WithLabelValues("openai")))
	assert.Equal(t, 0.0, testutil.ToFloat64(p.circuitOpen.WithLabelValues("search")))

	p.Emit(ctx, NewEvent(EventCircuitClosed, "dependency", "openai"))
	assert.Equal(t, 0.0, testutil.ToFloat64(p.circuitOpen.WithLabelValues("openai")))

	p.Emit(ctx, NewEvent(EventCircuitBlocked, "dependency", "openai"))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.circuitOpen.WithLabelValues("openai")))
}

func TestPrometheus_RegisterTwiceSharesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPrometheus(reg)
	require.NoError(t, err)
	second, err := NewPrometheus(reg)
	require.NoError(t, err)

	second.Emit(context.Background(), NewEvent(EventCircuitBlocked))
	assert.Equal(t, 1.0, testutil.ToFloat64(first.events.WithLabelValues(EventCircuitBlocked)))
}

func TestPrometheus_GatheredFamilies(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewPrometheus(reg)
	require.NoError(t, err)

	ctx := context.Background()
	p.Emit(ctx, NewEvent(EventRetryAttempt, "label", "award_points"))
	p.Emit(ctx, NewEvent(EventRetryAttempt, "label", "award_points"))
	p.Emit(ctx, NewEvent(EventOutboxEnqueue, "size", 7))

	families, err := reg.Gather()
	require.NoError(t, err)
	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		byName[mf.GetName()] = mf
	}

	size := byName["tether_outbox_size"]
	require.NotNil(t, size)
	assert.Equal(t, dto.MetricType_GAUGE, size.GetType())
	assert.Equal(t, 7.0, size.GetMetric()[0].GetGauge().GetValue())

	retries := byName["tether_retry_attempts_total"]
	require.NotNil(t, retries)
	m := retries.GetMetric()[0]
	assert.Equal(t, "award_points", m.GetLabel()[0].GetValue())
	assert.Equal(t, 2.0, m.GetCounter().GetValue())
}
