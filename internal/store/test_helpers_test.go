package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "tether.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRow returns an outbox row for award_points by actor-1.
func createTestRow(id, key string) OutboxRow {
	return OutboxRow{
		ID:             id,
		IdempotencyKey: key,
		Operation:      "award_points",
		ActorID:        "actor-1",
		Payload:        `{"points":1}`,
		CreatedAt:      testEpoch,
		UpdatedAt:      testEpoch,
	}
}

func rowIDs(rows []OutboxRow) []string {
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return ids
}

func keyN(i int) string {
	return fmt.Sprintf("award_points:actor-1:%08x", i)
}
