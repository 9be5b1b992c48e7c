// Package config loads tether's configuration: a YAML file, optionally
// overlaid by a .env file and TETHER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tether/internal/mutation"
	"github.com/roach88/tether/internal/resilience"
	"github.com/roach88/tether/internal/retry"
	"github.com/roach88/tether/internal/rollout"
)

// Config is the full configuration.
type Config struct {
	Database   string                        `yaml:"database"`
	Outbox     OutboxConfig                  `yaml:"outbox"`
	Retry      RetryConfig                   `yaml:"retry"`
	Breaker    BreakerConfig                 `yaml:"breaker"`
	Flags      map[string]rollout.FlagConfig `yaml:"flags"`
	Operations map[string]OperationConfig    `yaml:"operations"`
	Remote     RemoteConfig                  `yaml:"remote"`
	Provider   ProviderConfig                `yaml:"provider"`
	Drain      DrainConfig                   `yaml:"drain"`
	Metrics    MetricsConfig                 `yaml:"metrics"`
	Log        LogConfig                     `yaml:"log"`
}

type OutboxConfig struct {
	Capacity    int `yaml:"capacity"`
	MaxAttempts int `yaml:"max_attempts"` // 0 = never dead-letter
}

type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
}

type BreakerConfig struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	Cooldown         Duration `yaml:"cooldown"`
	Timeout          Duration `yaml:"timeout"`
}

// OperationConfig declares one operation kind. Schema is a CUE expression
// the payload must satisfy; empty accepts any object.
type OperationConfig struct {
	Schema string `yaml:"schema"`
}

type RemoteConfig struct {
	Endpoint string   `yaml:"endpoint"`
	Token    string   `yaml:"token"`
	Timeout  Duration `yaml:"timeout"`
}

type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

type DrainConfig struct {
	Interval Duration `yaml:"interval"` // 0 = reconnect-driven only
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty = no metrics endpoint
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Duration is a time.Duration written as a Go duration string ("500ms").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string like \"30s\"", node.Line)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads the YAML file at path (if path is non-empty), applies defaults
// and environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	c.applyDefaults()
	if err := c.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are skipped; variables already set win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Database == "" {
		c.Database = "tether.db"
	}
	if c.Outbox.Capacity == 0 {
		c.Outbox.Capacity = 300
	}

	rd := retry.DefaultConfig()
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = rd.MaxAttempts
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = Duration(rd.BaseDelay)
	}

	bd := resilience.DefaultConfig()
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = bd.FailureThreshold
	}
	if c.Breaker.Cooldown == 0 {
		c.Breaker.Cooldown = Duration(bd.Cooldown)
	}
	if c.Breaker.Timeout == 0 {
		c.Breaker.Timeout = Duration(bd.Timeout)
	}

	if c.Flags == nil {
		c.Flags = make(map[string]rollout.FlagConfig)
	}
	for _, key := range []string{rollout.FlagReliableWrites, rollout.FlagAIResilience} {
		if _, ok := c.Flags[key]; !ok {
			c.Flags[key] = rollout.FlagConfig{Enabled: true, RolloutPercent: 100}
		}
	}
	if c.Operations == nil {
		c.Operations = make(map[string]OperationConfig)
	}

	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = Duration(10 * time.Second)
	}
	if c.Provider.Model == "" {
		c.Provider.Model = "gpt-4o-mini"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// RetryOptions returns the retry coordinator configuration.
func (c *Config) RetryOptions() retry.Config {
	return retry.Config{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BaseDelay.Std(),
	}
}

// BreakerOptions returns the resilience guard configuration.
func (c *Config) BreakerOptions() resilience.Config {
	return resilience.Config{
		FailureThreshold: c.Breaker.FailureThreshold,
		Cooldown:         c.Breaker.Cooldown.Std(),
		Timeout:          c.Breaker.Timeout.Std(),
	}
}

// Kinds returns the declared operation kinds sorted by type.
func (c *Config) Kinds() []mutation.Kind {
	kinds := make([]mutation.Kind, 0, len(c.Operations))
	for t, op := range c.Operations {
		kinds = append(kinds, mutation.Kind{Type: mutation.Type(t), Schema: op.Schema})
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i].Type < kinds[j].Type })
	return kinds
}
