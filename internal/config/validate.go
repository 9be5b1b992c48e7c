package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// FieldError reports one invalid configuration value.
type FieldError struct {
	Field   string
	Problem string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Problem)
}

// Validate checks the configuration. All problems are reported at once, as
// *FieldError values joined together.
func (c *Config) Validate() error {
	var errs []error
	bad := func(field, format string, args ...any) {
		errs = append(errs, &FieldError{Field: field, Problem: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(c.Database) == "" {
		bad("database", "must not be empty")
	}
	if c.Outbox.Capacity < 1 {
		bad("outbox.capacity", "must be >= 1, got %d", c.Outbox.Capacity)
	}
	if c.Outbox.MaxAttempts < 0 {
		bad("outbox.max_attempts", "must be >= 0, got %d", c.Outbox.MaxAttempts)
	}
	if c.Retry.MaxAttempts < 1 {
		bad("retry.max_attempts", "must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelay < 0 {
		bad("retry.base_delay", "must not be negative")
	}
	if c.Breaker.FailureThreshold < 1 {
		bad("breaker.failure_threshold", "must be >= 1, got %d", c.Breaker.FailureThreshold)
	}
	if c.Breaker.Cooldown <= 0 {
		bad("breaker.cooldown", "must be positive")
	}
	if c.Breaker.Timeout < 0 {
		bad("breaker.timeout", "must not be negative")
	}
	for _, key := range sortedKeys(c.Flags) {
		fc := c.Flags[key]
		if fc.RolloutPercent < 0 || fc.RolloutPercent > 100 {
			bad("flags."+key+".rollout_percent", "must be within 0..100, got %d", fc.RolloutPercent)
		}
	}
	for _, t := range sortedKeys(c.Operations) {
		if strings.TrimSpace(t) == "" || strings.Contains(t, ":") {
			bad("operations", "invalid operation type %q", t)
		}
	}
	if c.Remote.Endpoint != "" {
		u, err := url.Parse(c.Remote.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			bad("remote.endpoint", "must be an http(s) URL, got %q", c.Remote.Endpoint)
		}
	}
	if c.Remote.Timeout < 0 {
		bad("remote.timeout", "must not be negative")
	}
	if c.Drain.Interval < 0 {
		bad("drain.interval", "must not be negative")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		bad("log.level", "must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		bad("log.format", "must be text or json, got %q", c.Log.Format)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
