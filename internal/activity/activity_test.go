package activity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/ocs/internal/config"
	"github.com/rakunlabs/ocs/internal/storage/sqlite3"
)

func newTestDB(t *testing.T) *sqlite3.SQLite {
	t.Helper()

	cfg := &config.Store{
		Datasource: t.TempDir() + "/activity_test.db",
		Migrate:    config.Migrate{Table: "schema_migrations", Values: map[string]string{}},
	}

	db, err := sqlite3.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func TestLogFullAndGetRecent(t *testing.T) {
	db := newTestDB(t)
	log := New(db)
	ctx := context.Background()

	require.NoError(t, log.LogFull(ctx, Entry{
		Action:      "pipeline.create",
		Category:    "pipeline",
		Description: "created story",
		RelatedID:   "pipeline:25",
		Metadata:    map[string]interface{}{"priority": "high"},
	}))

	entries, err := log.GetRecent(ctx, 10, "", "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "pipeline.create", entries[0].Action)
	require.Equal(t, "pipeline:25", entries[0].RelatedID)
	require.Equal(t, "high", entries[0].Metadata["priority"])
}

func TestLogSimple(t *testing.T) {
	db := newTestDB(t)
	log := New(db)
	ctx := context.Background()

	require.NoError(t, log.LogSimple(ctx, "note.add", "added a note", "pipeline", "cli", "pipeline:5"))

	entries, err := log.GetByCategory(ctx, "pipeline", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "note.add", entries[0].Action)
}

func TestGetRecentFilteredBySource(t *testing.T) {
	db := newTestDB(t)
	log := New(db)
	ctx := context.Background()

	require.NoError(t, log.LogFull(ctx, Entry{Action: "a", Source: "cli"}))
	require.NoError(t, log.LogFull(ctx, Entry{Action: "b", Source: "orchestrator"}))

	entries, err := log.GetRecent(ctx, 10, "cli", "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "a", entries[0].Action)
}

func TestGetByActionAndDateRange(t *testing.T) {
	db := newTestDB(t)
	log := New(db)
	ctx := context.Background()

	require.NoError(t, log.LogFull(ctx, Entry{Action: "task.complete"}))

	byAction, err := log.GetByAction(ctx, "task.complete", 10)
	require.NoError(t, err)
	require.Len(t, byAction, 1)

	byRange, err := log.GetByDateRange(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, byRange, 1)
}

func TestGetStats(t *testing.T) {
	db := newTestDB(t)
	log := New(db)
	ctx := context.Background()

	require.NoError(t, log.LogFull(ctx, Entry{Action: "a", Category: "pipeline"}))
	require.NoError(t, log.LogFull(ctx, Entry{Action: "a", Category: "pipeline"}))
	require.NoError(t, log.LogFull(ctx, Entry{Action: "b", Category: "session"}))

	stats, err := log.GetStats(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(3), stats.TotalCount)
	require.Equal(t, int64(2), stats.ByCategory["pipeline"])
	require.Equal(t, int64(2), stats.ByAction["a"])
}

func TestGetDigest(t *testing.T) {
	db := newTestDB(t)
	log := New(db)
	ctx := context.Background()

	require.NoError(t, log.LogFull(ctx, Entry{Action: "a"}))

	digest, err := log.GetDigest(ctx, time.Now().Add(-time.Hour), 5)
	require.NoError(t, err)
	require.Len(t, digest, 1)
}
