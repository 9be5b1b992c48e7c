package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TETHER_"

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(EnvPrefix + key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool, error) {
	s, ok := getEnvStr(key)
	if !ok {
		return 0, false, nil
	}
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false, fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	return i, true, nil
}

func getEnvBool(key string) (bool, bool, error) {
	s, ok := getEnvStr(key)
	if !ok {
		return false, false, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return false, false, fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	return b, true, nil
}

func getEnvDur(key string) (Duration, bool, error) {
	s, ok := getEnvStr(key)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, false, fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	return Duration(d), true, nil
}

// applyEnvOverrides overlays TETHER_* variables on the loaded file.
// A malformed value is an error rather than silently ignored.
func (c *Config) applyEnvOverrides() error {
	var errs []error
	setStr := func(key string, dst *string) {
		if v, ok := getEnvStr(key); ok {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		v, ok, err := getEnvInt(key)
		if err != nil {
			errs = append(errs, err)
		} else if ok {
			*dst = v
		}
	}
	setDur := func(key string, dst *Duration) {
		v, ok, err := getEnvDur(key)
		if err != nil {
			errs = append(errs, err)
		} else if ok {
			*dst = v
		}
	}

	setStr("DATABASE", &c.Database)

	setInt("OUTBOX_CAPACITY", &c.Outbox.Capacity)
	setInt("OUTBOX_MAX_ATTEMPTS", &c.Outbox.MaxAttempts)

	setInt("RETRY_MAX_ATTEMPTS", &c.Retry.MaxAttempts)
	setDur("RETRY_BASE_DELAY", &c.Retry.BaseDelay)

	setInt("BREAKER_FAILURE_THRESHOLD", &c.Breaker.FailureThreshold)
	setDur("BREAKER_COOLDOWN", &c.Breaker.Cooldown)
	setDur("BREAKER_TIMEOUT", &c.Breaker.Timeout)

	setStr("REMOTE_ENDPOINT", &c.Remote.Endpoint)
	setStr("REMOTE_TOKEN", &c.Remote.Token)
	setDur("REMOTE_TIMEOUT", &c.Remote.Timeout)

	setStr("PROVIDER_API_KEY", &c.Provider.APIKey)
	if c.Provider.APIKey == "" {
		c.Provider.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	setStr("PROVIDER_MODEL", &c.Provider.Model)
	setStr("PROVIDER_BASE_URL", &c.Provider.BaseURL)

	setDur("DRAIN_INTERVAL", &c.Drain.Interval)
	setStr("METRICS_ADDR", &c.Metrics.Addr)
	setStr("LOG_LEVEL", &c.Log.Level)
	setStr("LOG_FORMAT", &c.Log.Format)

	// Flags: TETHER_FLAG_<KEY>_ENABLED and TETHER_FLAG_<KEY>_ROLLOUT_PERCENT
	// for every configured flag.
	for key, fc := range c.Flags {
		envKey := "FLAG_" + strings.ToUpper(key)
		if v, ok, err := getEnvBool(envKey + "_ENABLED"); err != nil {
			errs = append(errs, err)
		} else if ok {
			fc.Enabled = v
		}
		setInt(envKey+"_ROLLOUT_PERCENT", &fc.RolloutPercent)
		c.Flags[key] = fc
	}

	if len(errs) > 0 {
		return fmt.Errorf("environment overrides: %w", errors.Join(errs...))
	}
	return nil
}
