// Package rollout decides, per install, whether a feature flag is on.
//
// A flag is either off, fully on, or rolled out to a percentage of installs.
// Partial rollouts hash the flag key together with a per-install cohort seed,
// so an install sees a stable answer for a flag while different flags split
// the population independently.
package rollout

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/tether/internal/mutation"
)

// Well-known flags.
const (
	FlagReliableWrites = "reliable_writes"
	FlagAIResilience   = "ai_resilience"
)

// SeedKey is the store key holding the cohort seed.
const SeedKey = "rollout.cohort_seed"

// FlagConfig is the static configuration of one flag.
type FlagConfig struct {
	Enabled        bool `yaml:"enabled" json:"enabled"`
	RolloutPercent int  `yaml:"rollout_percent" json:"rollout_percent"`
}

// SeedStore persists the cohort seed. Implemented by *store.Store.
type SeedStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	PutIfAbsent(ctx context.Context, key, value string) (string, error)
}

// Assigner evaluates flags for this install.
//
// Thread Safety: Safe for concurrent use. The seed is resolved once and
// never changes for the lifetime of the Assigner.
type Assigner struct {
	flags   map[string]FlagConfig
	store   SeedStore
	newSeed func() string
	logger  *slog.Logger

	mu   sync.Mutex
	seed string
}

// Option configures an Assigner.
type Option func(*Assigner)

// WithSeedGenerator overrides random seed generation.
func WithSeedGenerator(fn func() string) Option {
	return func(a *Assigner) { a.newSeed = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Assigner) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an Assigner. flags is copied. A nil store keeps the seed in
// memory only.
func New(flags map[string]FlagConfig, st SeedStore, opts ...Option) *Assigner {
	cp := make(map[string]FlagConfig, len(flags))
	for k, v := range flags {
		cp[k] = v
	}
	a := &Assigner{
		flags:   cp,
		store:   st,
		newSeed: func() string { return uuid.NewString() },
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// IsEnabled reports whether the flag is on for this install.
//
// Unknown or disabled flags are off. A rollout of 100 or more is on and 0
// or less is off, without touching the seed. Otherwise the install is in
// the rollout when fnv1a32(key + ":" + seed) % 100 < percent.
func (a *Assigner) IsEnabled(ctx context.Context, key string) bool {
	cfg, ok := a.flags[key]
	if !ok || !cfg.Enabled {
		return false
	}
	if cfg.RolloutPercent >= 100 {
		return true
	}
	if cfg.RolloutPercent <= 0 {
		return false
	}
	return a.Bucket(ctx, key) < cfg.RolloutPercent
}

// Bucket returns the install's bucket (0-99) for key.
func (a *Assigner) Bucket(ctx context.Context, key string) int {
	return int(mutation.StableHash([]byte(key+":"+a.Seed(ctx))) % 100)
}

// Seed returns the cohort seed, loading or creating it on first use.
//
// The seed is written with put-if-absent, so concurrent first evaluations
// converge on one value. If the store fails, a process-local seed is used
// for the rest of the Assigner's life and the failure is logged.
func (a *Assigner) Seed(ctx context.Context) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.seed != "" {
		return a.seed
	}

	candidate := a.newSeed()
	if a.store == nil {
		a.seed = candidate
		return a.seed
	}

	stored, err := a.loadOrCreate(ctx, candidate)
	if err != nil {
		a.logger.Warn("cohort seed unavailable, using in-process seed", "error", err)
		a.seed = candidate
		return a.seed
	}
	a.seed = stored
	return a.seed
}

func (a *Assigner) loadOrCreate(ctx context.Context, candidate string) (string, error) {
	existing, ok, err := a.store.Get(ctx, SeedKey)
	if err != nil {
		return "", err
	}
	if ok && strings.TrimSpace(existing) != "" {
		return existing, nil
	}

	stored, err := a.store.PutIfAbsent(ctx, SeedKey, candidate)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(stored) == "" {
		return "", fmt.Errorf("store returned blank cohort seed")
	}
	a.logger.Debug("cohort seed created", "seed", stored)
	return stored, nil
}

// Flags returns the configured flag keys in sorted order.
func (a *Assigner) Flags() []string {
	keys := make([]string, 0, len(a.flags))
	for k := range a.flags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Config returns the configuration of key.
func (a *Assigner) Config(key string) (FlagConfig, bool) {
	cfg, ok := a.flags[key]
	return cfg, ok
}
