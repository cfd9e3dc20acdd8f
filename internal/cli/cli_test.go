package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/ocs/internal/activity"
	"github.com/rakunlabs/ocs/internal/config"
	"github.com/rakunlabs/ocs/internal/credential"
	"github.com/rakunlabs/ocs/internal/knowledge"
	"github.com/rakunlabs/ocs/internal/llmapi"
	"github.com/rakunlabs/ocs/internal/pipeline"
	"github.com/rakunlabs/ocs/internal/session"
	"github.com/rakunlabs/ocs/internal/storage/sqlite3"
	"github.com/rakunlabs/ocs/internal/store"
)

func newTestApp(t *testing.T) *App {
	t.Helper()

	cfg := &config.Store{
		Datasource: t.TempDir() + "/cli_test.db",
		Migrate:    config.Migrate{Table: "schema_migrations", Values: map[string]string{}},
	}

	db, err := sqlite3.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	activities := activity.New(db)
	pipelines := pipeline.New(db, activities, false)
	knowledgeCache := knowledge.New(db, nil)
	memories := store.NewMemories(db, nil)
	indexer := session.NewIndexer(db, nil, nil, activities, config.Session{})

	return &App{
		Activities: activities,
		Memories:   memories,
		Knowledge:  knowledgeCache,
		Pipelines:  pipelines,
		Indexer:    indexer,
		Out:        &bytes.Buffer{},
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	app := newTestApp(t)
	out := &bytes.Buffer{}
	app.Out = out

	code := app.Dispatch(context.Background(), []string{"bogus"})

	require.Equal(t, ExitValidation, code)
	require.Contains(t, out.String(), "unknown command")
}

func TestDispatchNoArgs(t *testing.T) {
	app := newTestApp(t)
	out := &bytes.Buffer{}
	app.Out = out

	code := app.Dispatch(context.Background(), nil)

	require.Equal(t, ExitValidation, code)
}

func TestDispatchPipelineCreate(t *testing.T) {
	app := newTestApp(t)
	out := &bytes.Buffer{}
	app.Out = out

	code := app.Dispatch(context.Background(), []string{"pipeline", "create", "--title", "Ship RAG", "--type", "feature"})
	require.Equal(t, ExitOK, code)
	require.Contains(t, out.String(), "Ship RAG")
}

func TestDispatchPipelineCreateMissingTitle(t *testing.T) {
	app := newTestApp(t)
	out := &bytes.Buffer{}
	app.Out = out

	code := app.Dispatch(context.Background(), []string{"pipeline", "create", "--type", "feature"})
	require.Equal(t, ExitValidation, code)
}

func TestDispatchActivityRecent(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	err := app.Activities.LogFull(ctx, activity.Entry{
		Action: "test.happened", Category: "test", Description: "something happened", Source: "test",
	})
	require.NoError(t, err)

	out := &bytes.Buffer{}
	app.Out = out

	code := app.Dispatch(ctx, []string{"activity", "--limit", "5"})
	require.Equal(t, ExitOK, code)
	require.Contains(t, out.String(), "something happened")
}

func TestDispatchKnowledgeAddAndList(t *testing.T) {
	app := newTestApp(t)
	out := &bytes.Buffer{}
	app.Out = out

	code := app.Dispatch(context.Background(), []string{
		"knowledge", "add",
		"--title", "RAG works best with overlap",
		"--summary", "Chunk overlap improves recall for sliding-window retrieval.",
		"--source-type", "conversation",
	})
	require.Equal(t, ExitOK, code)

	out.Reset()
	code = app.Dispatch(context.Background(), []string{"knowledge", "list"})
	require.Equal(t, ExitOK, code)
	require.Contains(t, out.String(), "RAG works best with overlap")
}

func TestDispatchKnowledgeAddMissingSummary(t *testing.T) {
	app := newTestApp(t)
	out := &bytes.Buffer{}
	app.Out = out

	code := app.Dispatch(context.Background(), []string{"knowledge", "add", "--title", "x", "--source-type", "session"})
	require.Equal(t, ExitValidation, code)
}

func TestDispatchSessionMemoryHealth(t *testing.T) {
	app := newTestApp(t)
	out := &bytes.Buffer{}
	app.Out = out

	code := app.Dispatch(context.Background(), []string{"session-memory", "health"})
	require.Equal(t, ExitOK, code)
	require.Contains(t, out.String(), "Status")
}

func TestParseFlagsMixed(t *testing.T) {
	fs := parseFlags([]string{"abc", "--title", "hello world", "--verbose", "--limit=5"})

	require.Equal(t, []string{"abc"}, fs.positional)
	require.Equal(t, "hello world", fs.get("title"))
	require.Equal(t, "true", fs.get("verbose"))
	require.Equal(t, 5, fs.getInt("limit", 0))
	require.Equal(t, 99, fs.getInt("missing", 99))
}

func TestParseTimeFlagEmptyIsZero(t *testing.T) {
	ts, err := parseTimeFlag("")
	require.NoError(t, err)
	require.True(t, ts.IsZero())
}

func TestParseTimeFlagInvalid(t *testing.T) {
	_, err := parseTimeFlag("not-a-time")
	require.Error(t, err)
}

func TestExitCodeForValidation(t *testing.T) {
	require.Equal(t, ExitValidation, exitCodeFor(&validationError{"bad"}))
}

func TestExitCodeForMissingCredential(t *testing.T) {
	err := &credential.MissingCredential{Name: "openrouter"}
	require.Equal(t, ExitMissingCredential, exitCodeFor(err))
	require.Equal(t, "missing_credential", categoryFor(err))
}

func TestExitCodeForProviderFailure(t *testing.T) {
	require.Equal(t, ExitProviderFailure, exitCodeFor(llmapi.ErrTimeout))
	require.Equal(t, "provider_failure", categoryFor(llmapi.ErrTimeout))
}

func TestExitCodeForPipelineValidation(t *testing.T) {
	err := &pipeline.ValidationError{Message: "bad stage transition"}
	require.Equal(t, ExitValidation, exitCodeFor(err))
}

func TestExitCodeForUnknownDefaultsToValidation(t *testing.T) {
	require.Equal(t, ExitValidation, exitCodeFor(errors.New("boom")))
}
