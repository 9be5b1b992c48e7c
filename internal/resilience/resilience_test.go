package resilience

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tether/internal/telemetry"
	"github.com/roach88/tether/internal/testutil"
)

var errProvider = errors.New("provider 503")

func newTestGuard(t *testing.T, cfg Config, opts ...GuardOption) (*Guard, *testutil.FakeClock, *telemetry.Recorder) {
	t.Helper()
	clk := testutil.NewFakeClock()
	rec := &telemetry.Recorder{}
	base := []GuardOption{
		WithGuardSink(rec),
		WithGuardLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	g := NewGuard("provider", NewBreaker(cfg, clk), append(base, opts...)...)
	return g, clk, rec
}

func failing(calls *atomic.Int32) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		calls.Add(1)
		return "", errProvider
	}
}

func TestCall_Success(t *testing.T) {
	g, _, _ := newTestGuard(t, DefaultConfig())

	v, ok := Call(context.Background(), g, func(context.Context) (string, error) {
		return "hello", nil
	})

	assert.True(t, ok)
	assert.Equal(t, "hello", v)
	assert.Equal(t, Stats{State: StateClosed}, g.Stats())
}

func TestCall_ThreeFailuresOpenCircuit(t *testing.T) {
	g, clk, rec := newTestGuard(t, DefaultConfig())
	ctx := context.Background()
	var calls atomic.Int32

	for i := 0; i < 3; i++ {
		v, ok := Call(ctx, g, failing(&calls))
		assert.False(t, ok)
		assert.Empty(t, v)
	}
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 1, rec.Count(telemetry.EventCircuitOpened))

	stats := g.Stats()
	assert.Equal(t, StateOpen, stats.State)
	assert.Equal(t, 3, stats.ConsecutiveFailures)
	assert.Equal(t, testutil.Epoch.Add(30*time.Second), stats.OpenUntil)

	// Fourth call before the cooldown short-circuits.
	_, ok := Call(ctx, g, failing(&calls))
	assert.False(t, ok)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 1, rec.Count(telemetry.EventCircuitBlocked))

	// Just before the cooldown ends it is still open.
	clk.Advance(30*time.Second - time.Millisecond)
	_, ok = Call(ctx, g, failing(&calls))
	assert.False(t, ok)
	assert.Equal(t, int32(3), calls.Load())

	// After the cooldown the factory runs again.
	clk.Advance(time.Millisecond)
	v, ok := Call(ctx, g, func(context.Context) (string, error) {
		calls.Add(1)
		return "back", nil
	})
	assert.True(t, ok)
	assert.Equal(t, "back", v)
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, Stats{State: StateClosed}, g.Stats())
	assert.Equal(t, 1, rec.Count(telemetry.EventCircuitClosed))
}

func TestCall_FailureAfterCooldownReopens(t *testing.T) {
	g, clk, rec := newTestGuard(t, DefaultConfig())
	ctx := context.Background()
	var calls atomic.Int32

	for i := 0; i < 3; i++ {
		Call(ctx, g, failing(&calls))
	}
	clk.Advance(30 * time.Second)

	_, ok := Call(ctx, g, failing(&calls))
	assert.False(t, ok)
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, StateOpen, g.Stats().State)
	assert.Equal(t, 2, rec.Count(telemetry.EventCircuitOpened))
}

func TestCall_SuccessResetsFailureCount(t *testing.T) {
	g, _, rec := newTestGuard(t, DefaultConfig())
	ctx := context.Background()
	var calls atomic.Int32

	Call(ctx, g, failing(&calls))
	Call(ctx, g, failing(&calls))
	Call(ctx, g, func(context.Context) (string, error) { return "ok", nil })
	Call(ctx, g, failing(&calls))
	Call(ctx, g, failing(&calls))

	stats := g.Stats()
	assert.Equal(t, StateClosed, stats.State)
	assert.Equal(t, 2, stats.ConsecutiveFailures)
	assert.Zero(t, rec.Count(telemetry.EventCircuitClosed), "circuit never opened")
}

func TestCall_TimeoutCountsAsFailure(t *testing.T) {
	g, clk, _ := newTestGuard(t, Config{FailureThreshold: 3, Cooldown: 30 * time.Second, Timeout: 5 * time.Second})

	release := make(chan struct{})
	finished := make(chan error, 1)
	result := make(chan bool, 1)
	go func() {
		_, ok := Call(context.Background(), g, func(ctx context.Context) (string, error) {
			<-release
			finished <- ctx.Err()
			return "late", nil
		})
		result <- ok
	}()

	clk.WaitForTimers(1)
	clk.Advance(5 * time.Second)

	assert.False(t, <-result)
	assert.Equal(t, 1, g.Stats().ConsecutiveFailures)

	// The loser runs to completion on a live context; its late success is
	// discarded and does not reset the breaker.
	close(release)
	assert.NoError(t, <-finished)
	assert.Equal(t, 1, g.Stats().ConsecutiveFailures)
}

func TestCall_TimeoutDoesNotCancelFactory(t *testing.T) {
	g, clk, _ := newTestGuard(t, Config{FailureThreshold: 3, Cooldown: 30 * time.Second, Timeout: 20 * time.Second})

	release := make(chan struct{})
	cancelledMidFlight := make(chan bool, 1)
	result := make(chan bool, 1)
	go func() {
		_, ok := Call(context.Background(), g, func(ctx context.Context) (string, error) {
			select {
			case <-ctx.Done():
				cancelledMidFlight <- true
			case <-release:
				cancelledMidFlight <- false
			}
			return "", nil
		})
		result <- ok
	}()

	clk.WaitForTimers(1)
	clk.Advance(21 * time.Second)
	assert.False(t, <-result)

	close(release)
	assert.False(t, <-cancelledMidFlight)
}

func TestCall_PanicCountsAsFailure(t *testing.T) {
	g, _, _ := newTestGuard(t, DefaultConfig())

	_, ok := Call(context.Background(), g, func(context.Context) (int, error) {
		panic("boom")
	})

	assert.False(t, ok)
	assert.Equal(t, 1, g.Stats().ConsecutiveFailures)
}

func TestCall_CancelledContextDoesNotCount(t *testing.T) {
	g, _, _ := newTestGuard(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})
	finished := make(chan error, 1)
	result := make(chan bool, 1)
	go func() {
		_, ok := Call(ctx, g, func(fctx context.Context) (string, error) {
			close(started)
			<-release
			finished <- fctx.Err()
			return "", errProvider
		})
		result <- ok
	}()

	<-started
	cancel()
	assert.False(t, <-result)
	assert.Zero(t, g.Stats().ConsecutiveFailures)

	// The caller's cancellation does not reach the in-flight factory.
	close(release)
	assert.NoError(t, <-finished)
	assert.Zero(t, g.Stats().ConsecutiveFailures)
}

func TestCall_DisabledIsPassthrough(t *testing.T) {
	g, _, rec := newTestGuard(t, DefaultConfig(), WithEnabled(func(context.Context) bool { return false }))
	ctx := context.Background()
	var calls atomic.Int32

	for i := 0; i < 5; i++ {
		_, ok := Call(ctx, g, failing(&calls))
		assert.False(t, ok)
	}

	assert.Equal(t, int32(5), calls.Load(), "no short-circuit when disabled")
	assert.Equal(t, Stats{State: StateClosed}, g.Stats())
	assert.Empty(t, rec.Events())

	v, ok := Call(ctx, g, func(context.Context) (string, error) { return "direct", nil })
	assert.True(t, ok)
	assert.Equal(t, "direct", v)
}

func TestCall_DisabledHasNoTimeout(t *testing.T) {
	g, clk, _ := newTestGuard(t, Config{Timeout: time.Millisecond}, WithEnabled(func(context.Context) bool { return false }))

	_, ok := Call(context.Background(), g, func(context.Context) (string, error) {
		return "slow but fine", nil
	})
	assert.True(t, ok)
	assert.Zero(t, clk.PendingTimers())
}

func TestBreakers_SharedPerDependency(t *testing.T) {
	set := NewBreakers(DefaultConfig(), testutil.NewFakeClock())

	a := set.Get("openai")
	assert.Same(t, a, set.Get("openai"))
	assert.NotSame(t, a, set.Get("search"))

	a.RecordFailure()
	a.RecordFailure()
	opened, _ := set.Get("openai").RecordFailure()
	assert.True(t, opened)
	assert.Equal(t, StateClosed, set.Get("search").Stats().State)
}

func TestBreaker_DefaultsAndState(t *testing.T) {
	b := NewBreaker(Config{}, testutil.NewFakeClock())
	assert.Equal(t, 3, b.Config().FailureThreshold)
	assert.Equal(t, 30*time.Second, b.Config().Cooldown)

	ok, _ := b.Allow()
	assert.True(t, ok)
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
}

func TestBreaker_OpenUntilNotExtendedWhileOpen(t *testing.T) {
	clk := testutil.NewFakeClock()
	b := NewBreaker(DefaultConfig(), clk)
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	first := b.Stats().OpenUntil

	clk.Advance(10 * time.Second)
	opened, until := b.RecordFailure()
	require.False(t, opened)
	assert.Equal(t, first, until)
}
