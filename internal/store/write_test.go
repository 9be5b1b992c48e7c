package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutOutbox_InsertsInOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		_, err := s.PutOutbox(ctx, createTestRow(id, keyN(i)), 300)
		require.NoError(t, err)
	}

	rows, err := s.ListOutbox(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, rowIDs(rows))
	assert.Equal(t, testEpoch, rows[0].CreatedAt)
	assert.Equal(t, "actor-1", rows[0].ActorID)
}

func TestPutOutbox_ReplacesByKeyAtTail(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.PutOutbox(ctx, createTestRow("a", "k1"), 300)
	require.NoError(t, err)
	_, err = s.PutOutbox(ctx, createTestRow("b", "k2"), 300)
	require.NoError(t, err)

	replacement := createTestRow("a2", "k1")
	replacement.Payload = `{"points":9}`
	evicted, err := s.PutOutbox(ctx, replacement, 300)
	require.NoError(t, err)
	assert.Zero(t, evicted, "replacement is not an eviction")

	rows, err := s.ListOutbox(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a2"}, rowIDs(rows))
	assert.Equal(t, `{"points":9}`, rows[1].Payload)
}

func TestPutOutbox_TrimsOldest(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	var evictedTotal int64
	for i := 0; i < 5; i++ {
		n, err := s.PutOutbox(ctx, createTestRow(keyN(i), keyN(i)), 3)
		require.NoError(t, err)
		evictedTotal += n
	}

	rows, err := s.ListOutbox(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{keyN(2), keyN(3), keyN(4)}, rowIDs(rows))
	assert.Equal(t, int64(2), evictedTotal)
}

func TestPutOutbox_ZeroCapacityDisablesTrim(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := s.PutOutbox(ctx, createTestRow(keyN(i), keyN(i)), 0)
		require.NoError(t, err)
	}

	n, err := s.CountOutbox(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestDeleteOutbox(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.PutOutbox(ctx, createTestRow("a", "k1"), 300)
	require.NoError(t, err)

	ok, err := s.DeleteOutbox(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.DeleteOutbox(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteOutbox_StaleIDLeavesReplacement(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.PutOutbox(ctx, createTestRow("old", "k1"), 300)
	require.NoError(t, err)
	_, err = s.PutOutbox(ctx, createTestRow("new", "k1"), 300)
	require.NoError(t, err)

	ok, err := s.DeleteOutbox(ctx, "old")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := s.CountOutbox(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMarkOutboxFailed(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.PutOutbox(ctx, createTestRow("a", "k1"), 300)
	require.NoError(t, err)

	later := testEpoch.Add(time.Minute)
	attempts, found, err := s.MarkOutboxFailed(ctx, "a", later)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, attempts)

	attempts, _, err = s.MarkOutboxFailed(ctx, "a", later)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	rows, err := s.ListOutbox(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rows[0].Attempts)
	assert.Equal(t, later, rows[0].UpdatedAt)
	assert.Equal(t, testEpoch, rows[0].CreatedAt)

	_, found, err = s.MarkOutboxFailed(ctx, "missing", later)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDeadLetterOutbox(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.PutOutbox(ctx, createTestRow("a", "k1"), 300)
	require.NoError(t, err)
	_, _, err = s.MarkOutboxFailed(ctx, "a", testEpoch)
	require.NoError(t, err)

	at := testEpoch.Add(time.Hour)
	moved, err := s.DeadLetterOutbox(ctx, "a", "remote down", at)
	require.NoError(t, err)
	assert.True(t, moved)

	n, err := s.CountOutbox(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	dead, err := s.ListDeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "a", dead[0].ID)
	assert.Equal(t, "k1", dead[0].IdempotencyKey)
	assert.Equal(t, 1, dead[0].Attempts)
	assert.Equal(t, "remote down", dead[0].LastError)
	assert.Equal(t, at, dead[0].DeadLetteredAt)

	moved, err = s.DeadLetterOutbox(ctx, "a", "again", at)
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestPutIfAbsent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	v, err := s.PutIfAbsent(ctx, "seed", "first")
	require.NoError(t, err)
	assert.Equal(t, "first", v)

	v, err = s.PutIfAbsent(ctx, "seed", "second")
	require.NoError(t, err)
	assert.Equal(t, "first", v, "existing value wins")
}

func TestPutIfAbsent_BlankCountsAsAbsent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.DB().Exec(`INSERT INTO kv (key, value) VALUES ('seed', '  ')`)
	require.NoError(t, err)

	v, err := s.PutIfAbsent(ctx, "seed", "fresh")
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)

	got, ok, err := s.Get(ctx, "seed")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "fresh", got)
}
