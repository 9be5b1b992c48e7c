// Package retry runs a single call with bounded attempts and exponential
// backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/tether/internal/clock"
	"github.com/roach88/tether/internal/telemetry"
)

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	// Default: 3
	MaxAttempts int

	// BaseDelay is the wait before the second attempt. The wait before
	// attempt n+1 is BaseDelay * 2^(n-1). No jitter is applied.
	// Default: 500ms
	BaseDelay time.Duration
}

// DefaultConfig returns the default retry behavior.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("retry: max attempts must be >= 1, got %d", c.MaxAttempts)
	}
	if c.BaseDelay < 0 {
		return fmt.Errorf("retry: base delay must be >= 0, got %s", c.BaseDelay)
	}
	return nil
}

// Delay returns the wait after failed attempt n (1-based).
func (c Config) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return c.BaseDelay << (attempt - 1)
}

// ExhaustedError is returned when every attempt failed. It wraps the last
// attempt's error.
type ExhaustedError struct {
	Label    string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: failed after %d attempts: %v", e.Label, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// IsExhausted reports whether err is (or wraps) an *ExhaustedError.
func IsExhausted(err error) bool {
	var ex *ExhaustedError
	return errors.As(err, &ex)
}

// Retrier retries calls according to a Config.
//
// Thread-safety: Retrier is immutable after construction and safe for
// concurrent use.
type Retrier struct {
	cfg    Config
	clock  clock.Clock
	sink   telemetry.Sink
	logger *slog.Logger
}

// New creates a Retrier. A nil clock uses the wall clock, a nil sink
// discards events and a nil logger uses slog.Default().
func New(cfg Config, clk clock.Clock, sink telemetry.Sink, logger *slog.Logger) *Retrier {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Retrier{cfg: cfg, clock: clk, sink: telemetry.OrNop(sink), logger: logger}
}

// Config returns the retrier's configuration.
func (r *Retrier) Config() Config {
	return r.cfg
}

// Do calls fn until it succeeds or MaxAttempts is reached.
//
// Each attempt runs to completion; ctx is passed to fn but Do never
// abandons an attempt in flight. Every non-final failure is logged and
// emitted as a retry_attempt event before the backoff wait. If ctx is
// cancelled during a wait, Do stops and returns an *ExhaustedError wrapping
// the last attempt's error.
func (r *Retrier) Do(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == r.cfg.MaxAttempts {
			return &ExhaustedError{Label: label, Attempts: attempt, Err: lastErr}
		}

		delay := r.cfg.Delay(attempt)
		r.logger.Warn("attempt failed, retrying",
			"label", label,
			"attempt", attempt,
			"max_attempts", r.cfg.MaxAttempts,
			"delay", delay,
			"error", err)
		r.sink.Emit(ctx, telemetry.NewEvent(telemetry.EventRetryAttempt,
			"label", label,
			"attempt", attempt,
			"error", err.Error(),
		))

		select {
		case <-ctx.Done():
			return &ExhaustedError{Label: label, Attempts: attempt, Err: lastErr}
		case <-r.clock.After(delay):
		}
	}
	return &ExhaustedError{Label: label, Attempts: r.cfg.MaxAttempts, Err: lastErr}
}
