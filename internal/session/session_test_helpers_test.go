package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/ocs/internal/config"
	"github.com/rakunlabs/ocs/internal/embedding"
	"github.com/rakunlabs/ocs/internal/llmapi"
	"github.com/rakunlabs/ocs/internal/storage/sqlite3"
)

func newTestDB(t *testing.T) *sqlite3.SQLite {
	t.Helper()

	cfg := &config.Store{
		Datasource: t.TempDir() + "/session_test.db",
		Migrate:    config.Migrate{Table: "schema_migrations", Values: map[string]string{}},
	}

	db, err := sqlite3.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

// fakeEmbedProvider returns a deterministic vector: a 0.1 baseline plus
// counts of a few marker letters in the text, close enough for two similar strings to
// rank above a dissimilar one under cosine similarity.
type fakeEmbedProvider struct{}

func (fakeEmbedProvider) Embed(ctx context.Context, text string, model string) ([]float32, int, error) {
	vec := make([]float32, 8)
	for i := range vec {
		vec[i] = 0.1
	}

	for _, r := range text {
		switch {
		case r == 'k':
			vec[0] += 1
		case r == 'q':
			vec[1] += 1
		case r == 'p':
			vec[2] += 1
		}
	}

	return vec, len(text) / 4, nil
}

func newTestEmbedder(db *sqlite3.SQLite) *embedding.Client {
	return embedding.New(db, 0, struct {
		Name     string
		Provider llmapi.EmbedProvider
		Cost     llmapi.Cost
	}{Name: "fake", Provider: fakeEmbedProvider{}, Cost: llmapi.Cost{In: 0.1}})
}
