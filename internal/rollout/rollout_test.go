package rollout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tether/internal/mutation"
	"github.com/roach88/tether/internal/store"
)

var quiet = WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "tether.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func fixedSeed(s string) Option {
	return WithSeedGenerator(func() string { return s })
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("disk full")
}

func (brokenStore) PutIfAbsent(context.Context, string, string) (string, error) {
	return "", errors.New("disk full")
}

func TestIsEnabled_UnknownAndDisabled(t *testing.T) {
	a := New(map[string]FlagConfig{
		"off": {Enabled: false, RolloutPercent: 100},
	}, nil, quiet)

	assert.False(t, a.IsEnabled(context.Background(), "missing"))
	assert.False(t, a.IsEnabled(context.Background(), "off"))
}

func TestIsEnabled_Extremes(t *testing.T) {
	a := New(map[string]FlagConfig{
		"all":  {Enabled: true, RolloutPercent: 100},
		"over": {Enabled: true, RolloutPercent: 150},
		"none": {Enabled: true, RolloutPercent: 0},
		"neg":  {Enabled: true, RolloutPercent: -5},
	}, nil, quiet)
	ctx := context.Background()

	assert.True(t, a.IsEnabled(ctx, "all"))
	assert.True(t, a.IsEnabled(ctx, "over"))
	assert.False(t, a.IsEnabled(ctx, "none"))
	assert.False(t, a.IsEnabled(ctx, "neg"))
}

func TestIsEnabled_ExtremesDoNotTouchSeed(t *testing.T) {
	a := New(map[string]FlagConfig{
		"all": {Enabled: true, RolloutPercent: 100},
	}, brokenStore{}, quiet)

	assert.True(t, a.IsEnabled(context.Background(), "all"))
	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Empty(t, a.seed)
}

func TestIsEnabled_PartialMatchesHash(t *testing.T) {
	a := New(map[string]FlagConfig{
		"reliable_writes": {Enabled: true, RolloutPercent: 50},
	}, nil, quiet, fixedSeed("seed-1"))
	ctx := context.Background()

	bucket := int(mutation.StableHash([]byte("reliable_writes:seed-1")) % 100)
	assert.Equal(t, bucket, a.Bucket(ctx, "reliable_writes"))
	assert.Equal(t, bucket < 50, a.IsEnabled(ctx, "reliable_writes"))
}

func TestIsEnabled_StableForSameSeed(t *testing.T) {
	flags := map[string]FlagConfig{}
	for i := 0; i < 20; i++ {
		flags[fmt.Sprintf("flag_%d", i)] = FlagConfig{Enabled: true, RolloutPercent: 37}
	}
	st := openStore(t)
	ctx := context.Background()

	first := New(flags, st, quiet)
	second := New(flags, st, quiet)
	for key := range flags {
		assert.Equal(t, first.IsEnabled(ctx, key), first.IsEnabled(ctx, key))
		assert.Equal(t, first.IsEnabled(ctx, key), second.IsEnabled(ctx, key), key)
	}
}

func TestIsEnabled_RoughlyProportional(t *testing.T) {
	flags := map[string]FlagConfig{"f": {Enabled: true, RolloutPercent: 30}}
	ctx := context.Background()

	on := 0
	for i := 0; i < 1000; i++ {
		a := New(flags, nil, quiet, fixedSeed(fmt.Sprintf("install-%d", i)))
		if a.IsEnabled(ctx, "f") {
			on++
		}
	}
	assert.InDelta(t, 300, on, 75)
}

func TestSeed_PersistedAndReused(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	a := New(nil, st, quiet, fixedSeed("first"))
	assert.Equal(t, "first", a.Seed(ctx))

	b := New(nil, st, quiet, fixedSeed("second"))
	assert.Equal(t, "first", b.Seed(ctx))

	stored, ok, err := st.Get(ctx, SeedKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "first", stored)
}

func TestSeed_BlankStoredSeedIsReplaced(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	_, err := st.DB().Exec(`INSERT INTO kv (key, value) VALUES (?, '')`, SeedKey)
	require.NoError(t, err)

	a := New(nil, st, quiet, fixedSeed("fresh"))
	assert.Equal(t, "fresh", a.Seed(ctx))
}

func TestSeed_StoreFailureFallsBackToProcessSeed(t *testing.T) {
	calls := 0
	a := New(nil, brokenStore{}, quiet, WithSeedGenerator(func() string {
		calls++
		return fmt.Sprintf("local-%d", calls)
	}))
	ctx := context.Background()

	assert.Equal(t, "local-1", a.Seed(ctx))
	assert.Equal(t, "local-1", a.Seed(ctx), "fallback seed is kept for the process lifetime")
}

func TestSeed_ConcurrentFirstEvaluationConverges(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	seeds := make([]string, 8)
	var wg sync.WaitGroup
	for i := range seeds {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a := New(nil, st, quiet, fixedSeed(fmt.Sprintf("candidate-%d", i)))
			seeds[i] = a.Seed(ctx)
		}(i)
	}
	wg.Wait()

	for _, s := range seeds {
		assert.Equal(t, seeds[0], s)
	}
}

func TestSeed_DefaultIsUUID(t *testing.T) {
	a := New(nil, nil, quiet)
	assert.Len(t, a.Seed(context.Background()), 36)
}

func TestFlags_SortedAndCopied(t *testing.T) {
	in := map[string]FlagConfig{"b": {}, "a": {Enabled: true}}
	a := New(in, nil, quiet)
	in["c"] = FlagConfig{}

	assert.Equal(t, []string{"a", "b"}, a.Flags())
	cfg, ok := a.Config("a")
	assert.True(t, ok)
	assert.True(t, cfg.Enabled)
}
