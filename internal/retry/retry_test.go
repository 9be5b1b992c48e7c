package retry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tether/internal/telemetry"
	"github.com/roach88/tether/internal/testutil"
)

var errRemote = errors.New("remote unavailable")

func newTestRetrier(cfg Config, clk *testutil.FakeClock) (*Retrier, *telemetry.Recorder) {
	rec := &telemetry.Recorder{}
	return New(cfg, clk, rec, slog.New(slog.NewTextHandler(io.Discard, nil))), rec
}

func TestDo_AlwaysFailingInvokesThreeTimes(t *testing.T) {
	clk := testutil.NewAutoClock()
	r, rec := newTestRetrier(Config{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond}, clk)

	calls := 0
	err := r.Do(context.Background(), "award_points", func(context.Context) error {
		calls++
		return errRemote
	})

	assert.Equal(t, 3, calls)
	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 3, ex.Attempts)
	assert.Equal(t, "award_points", ex.Label)
	assert.ErrorIs(t, err, errRemote)
	assert.True(t, IsExhausted(err))

	// Two non-final failures, two waits of base and 2*base.
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, clk.Waits())
	assert.Equal(t, 2, rec.Count(telemetry.EventRetryAttempt))
	first := rec.Events()[0]
	assert.Equal(t, 1, first.Int("attempt"))
	assert.Equal(t, "award_points", first.String("label"))
}

func TestDo_SecondAttemptSucceeds(t *testing.T) {
	clk := testutil.NewAutoClock()
	r, rec := newTestRetrier(DefaultConfig(), clk)

	calls := 0
	err := r.Do(context.Background(), "x", func(context.Context) error {
		calls++
		if calls == 1 {
			return errRemote
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, clk.Waits())
	assert.Equal(t, 1, rec.Count(telemetry.EventRetryAttempt))
}

func TestDo_FirstAttemptSucceedsWithoutWaiting(t *testing.T) {
	clk := testutil.NewAutoClock()
	r, rec := newTestRetrier(DefaultConfig(), clk)

	err := r.Do(context.Background(), "x", func(context.Context) error { return nil })

	require.NoError(t, err)
	assert.Empty(t, clk.Waits())
	assert.Zero(t, rec.Count(telemetry.EventRetryAttempt))
}

func TestDo_WaitsOnClock(t *testing.T) {
	clk := testutil.NewFakeClock()
	r, _ := newTestRetrier(Config{MaxAttempts: 2, BaseDelay: time.Second}, clk)

	done := make(chan error, 1)
	calls := make(chan struct{}, 2)
	go func() {
		done <- r.Do(context.Background(), "x", func(context.Context) error {
			calls <- struct{}{}
			return errRemote
		})
	}()

	<-calls
	clk.WaitForTimers(1)
	select {
	case <-done:
		t.Fatal("Do returned before backoff elapsed")
	default:
	}

	clk.Advance(time.Second)
	<-calls
	assert.True(t, IsExhausted(<-done))
}

func TestDo_CancelledContextEndsBackoff(t *testing.T) {
	clk := testutil.NewFakeClock()
	r, _ := newTestRetrier(DefaultConfig(), clk)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	calls := 0
	go func() {
		done <- r.Do(ctx, "x", func(context.Context) error {
			calls++
			return errRemote
		})
	}()

	clk.WaitForTimers(1)
	cancel()

	err := <-done
	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 1, ex.Attempts)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, errRemote)
}

func TestConfig_Delay(t *testing.T) {
	cfg := Config{MaxAttempts: 5, BaseDelay: 250 * time.Millisecond}

	assert.Equal(t, time.Duration(0), cfg.Delay(0))
	assert.Equal(t, 250*time.Millisecond, cfg.Delay(1))
	assert.Equal(t, 500*time.Millisecond, cfg.Delay(2))
	assert.Equal(t, time.Second, cfg.Delay(3))
	assert.Equal(t, 2*time.Second, cfg.Delay(4))
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{MaxAttempts: 0}.Validate())
	assert.Error(t, Config{MaxAttempts: 1, BaseDelay: -time.Second}.Validate())
}

func TestNew_ClampsMaxAttempts(t *testing.T) {
	r, _ := newTestRetrier(Config{MaxAttempts: 0}, testutil.NewAutoClock())

	calls := 0
	err := r.Do(context.Background(), "x", func(context.Context) error {
		calls++
		return errRemote
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
