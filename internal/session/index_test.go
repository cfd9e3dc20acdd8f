package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/ocs/internal/activity"
	"github.com/rakunlabs/ocs/internal/config"
)

func writeTranscript(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}

	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestIndexFileFullIndexAndSkipUnchanged(t *testing.T) {
	db := newTestDB(t)
	embedder := newTestEmbedder(db)
	activities := activity.New(db)

	idx := NewIndexer(db, embedder, nil, activities, config.Session{})

	dir := t.TempDir()
	path := writeTranscript(t, dir, "s1.jsonl",
		`{"type":"message","timestamp":"2026-01-01T00:00:00Z","message":{"role":"user","content":"what's the kubernetes rollout plan?"}}`,
		`{"type":"message","timestamp":"2026-01-01T00:00:01Z","message":{"role":"assistant","content":"we decided to roll out kubernetes gradually."}}`,
	)

	require.NoError(t, idx.IndexFile(context.Background(), "s1", path))

	state, err := idx.getChangeState(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, state)
	require.Equal(t, "complete", state.Status)
	require.Equal(t, 1, state.ChunkCount)

	// Re-indexing the same unchanged file is a no-op; chunk count does not
	// double.
	require.NoError(t, idx.IndexFile(context.Background(), "s1", path))

	state2, err := idx.getChangeState(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, state.LastIndexed, state2.LastIndexed)
}

func TestIndexFileReindexesOnChange(t *testing.T) {
	db := newTestDB(t)
	embedder := newTestEmbedder(db)
	activities := activity.New(db)

	idx := NewIndexer(db, embedder, nil, activities, config.Session{})

	dir := t.TempDir()
	path := writeTranscript(t, dir, "s2.jsonl",
		`{"type":"message","timestamp":"2026-01-01T00:00:00Z","message":{"role":"user","content":"first version"}}`,
	)

	require.NoError(t, idx.IndexFile(context.Background(), "s2", path))

	require.NoError(t, os.WriteFile(path, []byte(
		`{"type":"message","timestamp":"2026-01-01T00:00:00Z","message":{"role":"user","content":"second version, totally different"}}`+"\n",
	), 0o644))

	require.NoError(t, idx.IndexFile(context.Background(), "s2", path))

	matches, err := idx.KeywordSearch(context.Background(), "first", 10, SearchFilter{})
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestIndexFileQuarantinesBadFile(t *testing.T) {
	db := newTestDB(t)
	embedder := newTestEmbedder(db)
	activities := activity.New(db)

	idx := NewIndexer(db, embedder, nil, activities, config.Session{})

	dir := t.TempDir()
	lines := make([]string, 0, maxParseErrors+5)
	for i := 0; i < maxParseErrors+5; i++ {
		lines = append(lines, "not json")
	}
	path := writeTranscript(t, dir, "bad.jsonl", lines...)

	require.NoError(t, idx.IndexFile(context.Background(), "bad", path))

	state, err := idx.getChangeState(context.Background(), "bad")
	require.NoError(t, err)
	require.Equal(t, "failed", state.Status)
}

func TestVectorSearchRanksBySimilarity(t *testing.T) {
	db := newTestDB(t)
	embedder := newTestEmbedder(db)
	activities := activity.New(db)

	idx := NewIndexer(db, embedder, nil, activities, config.Session{})

	dir := t.TempDir()
	path := writeTranscript(t, dir, "s3.jsonl",
		`{"type":"message","timestamp":"2026-01-01T00:00:00Z","message":{"role":"user","content":"kubernetes kubernetes kubernetes deployment"}}`,
		`{"type":"message","timestamp":"2026-01-01T00:00:01Z","message":{"role":"assistant","content":"acknowledged"}}`,
	)
	require.NoError(t, idx.IndexFile(context.Background(), "s3", path))

	matches, err := idx.VectorSearch(context.Background(), "kubernetes deployment question", 0.01, 5, SearchFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, matches)
}

func TestKeywordSearchMatchesContent(t *testing.T) {
	db := newTestDB(t)
	embedder := newTestEmbedder(db)
	activities := activity.New(db)

	idx := NewIndexer(db, embedder, nil, activities, config.Session{})

	dir := t.TempDir()
	path := writeTranscript(t, dir, "s4.jsonl",
		`{"type":"message","timestamp":"2026-01-01T00:00:00Z","message":{"role":"user","content":"let's discuss the postgres migration plan"}}`,
	)
	require.NoError(t, idx.IndexFile(context.Background(), "s4", path))

	matches, err := idx.KeywordSearch(context.Background(), "postgres", 5, SearchFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, matches)
}

func TestHybridSearchCombinesBothLists(t *testing.T) {
	db := newTestDB(t)
	embedder := newTestEmbedder(db)
	activities := activity.New(db)

	idx := NewIndexer(db, embedder, nil, activities, config.Session{})

	dir := t.TempDir()
	path := writeTranscript(t, dir, "s5.jsonl",
		`{"type":"message","timestamp":"2026-01-01T00:00:00Z","message":{"role":"user","content":"kubernetes rollout and postgres migration together"}}`,
	)
	require.NoError(t, idx.IndexFile(context.Background(), "s5", path))

	matches, err := idx.HybridSearch(context.Background(), "postgres migration", 5, SearchFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, matches)
}

func TestPurgeOrphansRemovesDeletedSessions(t *testing.T) {
	db := newTestDB(t)
	embedder := newTestEmbedder(db)
	activities := activity.New(db)

	idx := NewIndexer(db, embedder, nil, activities, config.Session{})

	dir := t.TempDir()
	path := writeTranscript(t, dir, "s6.jsonl",
		`{"type":"message","timestamp":"2026-01-01T00:00:00Z","message":{"role":"user","content":"ephemeral session content"}}`,
	)
	require.NoError(t, idx.IndexFile(context.Background(), "s6", path))

	require.NoError(t, idx.PurgeOrphans(context.Background(), []string{}))

	state, err := idx.getChangeState(context.Background(), "s6")
	require.NoError(t, err)
	require.Nil(t, state)
}

func TestHealthReportsStatuses(t *testing.T) {
	db := newTestDB(t)
	embedder := newTestEmbedder(db)
	activities := activity.New(db)

	idx := NewIndexer(db, embedder, nil, activities, config.Session{})

	h, err := idx.Health(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusOK, h.Status)

	dir := t.TempDir()
	lines := make([]string, 0, maxParseErrors+5)
	for i := 0; i < maxParseErrors+5; i++ {
		lines = append(lines, "not json")
	}
	path := writeTranscript(t, dir, "bad2.jsonl", lines...)
	require.NoError(t, idx.IndexFile(context.Background(), "bad2", path))

	h2, err := idx.Health(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, StatusOK, h2.Status)
}
