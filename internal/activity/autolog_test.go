package activity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAutoContextLogToolInheritsSourceAndRelatedID(t *testing.T) {
	db := newTestDB(t)
	log := New(db)
	ctx := context.Background()

	ctx, ac := log.WithAutoLog(ctx, "orchestrator", "pipeline:7")
	ac.LogTool(ctx, "fetch_notes", "fetched pipeline notes", nil)

	entries, err := log.GetRecent(ctx, 10, "orchestrator", "pipeline:7")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "fetch_notes", entries[0].Action)
}

func TestAutoContextNilSafe(t *testing.T) {
	var ac *AutoContext
	require.NotPanics(t, func() {
		ac.LogTool(context.Background(), "noop", "", nil)
	})
}

func TestFromContextRoundTrip(t *testing.T) {
	db := newTestDB(t)
	log := New(db)

	ctx, ac := log.WithAutoLog(context.Background(), "cli", "task:1")

	got, ok := FromContext(ctx)
	require.True(t, ok)
	require.Same(t, ac, got)
}

func TestWrapAsyncLogsStartAndEnd(t *testing.T) {
	db := newTestDB(t)
	log := New(db)
	ctx, ac := log.WithAutoLog(context.Background(), "orchestrator", "task:9")

	err := ac.WrapAsync(ctx, "run_subagent", func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)

	entries, err := log.GetRecent(ctx, 10, "orchestrator", "task:9")
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestWrapAsyncPropagatesError(t *testing.T) {
	db := newTestDB(t)
	log := New(db)
	ctx, ac := log.WithAutoLog(context.Background(), "orchestrator", "task:9")

	wantErr := errors.New("boom")
	err := ac.WrapAsync(ctx, "run_subagent", func(ctx context.Context) error {
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)
}
