package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/ocs/internal/config"
	"github.com/rakunlabs/ocs/internal/llmapi"
	"github.com/rakunlabs/ocs/internal/storage/sqlite3"
)

type fakeProvider struct {
	name  string
	model string
	cost  llmapi.Cost
	err   error
	text  string
}

func (f *fakeProvider) Name() string       { return f.name }
func (f *fakeProvider) Model() string      { return f.model }
func (f *fakeProvider) Cost() llmapi.Cost  { return f.cost }
func (f *fakeProvider) Complete(ctx context.Context, req llmapi.CompleteRequest) (*llmapi.CompleteResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llmapi.CompleteResult{Text: f.text, Usage: llmapi.Usage{TokensIn: 10, TokensOut: 20}}, nil
}

func newTestDB(t *testing.T) *sqlite3.SQLite {
	t.Helper()

	cfg := &config.Store{
		Datasource: t.TempDir() + "/router_test.db",
		Migrate:    config.Migrate{Table: "schema_migrations", Values: map[string]string{}},
	}

	db, err := sqlite3.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func TestInferTaskType(t *testing.T) {
	require.Equal(t, "code", InferTaskType("please write code for this", ""))
	require.Equal(t, "debug", InferTaskType("help me debug this crash", ""))
	require.Equal(t, "summarize", InferTaskType("", string(make([]byte, 5001))))
	require.Equal(t, "code", InferTaskType("", "```go\nfmt.Println()\n```"))
	require.Equal(t, "default", InferTaskType("hello there", ""))
}

func TestDryRunDoesNotExecute(t *testing.T) {
	r := New(config.Router{Routes: map[string]string{"default": "free"}}, nil)

	decision := r.DryRun(Request{Prompt: "hello"})
	require.Equal(t, "default", decision.TaskType)
	require.Equal(t, "free", decision.Provider)
}

func TestRouteSuccess(t *testing.T) {
	db := newTestDB(t)
	r := New(config.Router{Routes: map[string]string{"default": "free"}}, db)
	r.RegisterProvider("free", &fakeProvider{name: "free", model: "m1", text: "hi"})

	res, err := r.Route(context.Background(), Request{Prompt: "hello"})
	require.NoError(t, err)
	require.Equal(t, "hi", res.Text)
	require.Equal(t, "free", res.Provider)
}

func TestRouteFallsThroughOnRetryableError(t *testing.T) {
	db := newTestDB(t)
	r := New(config.Router{
		Routes:    map[string]string{"default": "primary"},
		Fallbacks: map[string][]string{"primary": {"backup"}},
	}, db)
	r.RegisterProvider("primary", &fakeProvider{name: "primary", model: "m1", err: &llmapi.ProviderHTTPError{Status: 429}})
	r.RegisterProvider("backup", &fakeProvider{name: "backup", model: "m2", text: "fallback-ok"})

	res, err := r.Route(context.Background(), Request{Prompt: "hello"})
	require.NoError(t, err)
	require.Equal(t, "fallback-ok", res.Text)
	require.Equal(t, "backup", res.Provider)
}

func TestRouteNonRetryableErrorStops(t *testing.T) {
	db := newTestDB(t)
	r := New(config.Router{
		Routes:    map[string]string{"default": "primary"},
		Fallbacks: map[string][]string{"primary": {"backup"}},
	}, db)
	r.RegisterProvider("primary", &fakeProvider{name: "primary", model: "m1", err: &llmapi.ProviderHTTPError{Status: 400}})
	r.RegisterProvider("backup", &fakeProvider{name: "backup", model: "m2", text: "should-not-be-used"})

	_, err := r.Route(context.Background(), Request{Prompt: "hello"})
	require.Error(t, err)
}

func TestRouteRecordsTokenUsage(t *testing.T) {
	db := newTestDB(t)
	r := New(config.Router{Routes: map[string]string{"default": "free"}}, db)
	r.RegisterProvider("free", &fakeProvider{name: "free", model: "m1", cost: llmapi.Cost{In: 1, Out: 2}, text: "hi"})

	_, err := r.Route(context.Background(), Request{Prompt: "hello"})
	require.NoError(t, err)

	stats, err := r.Stats(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Calls)
	require.Equal(t, int64(1), stats.ByProvider["free"])
}
