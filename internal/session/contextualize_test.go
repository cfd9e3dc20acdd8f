package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/ocs/internal/config"
	"github.com/rakunlabs/ocs/internal/llmapi"
	"github.com/rakunlabs/ocs/internal/router"
)

type fakeRouterProvider struct {
	text string
	err  error
}

func (f *fakeRouterProvider) Name() string      { return "fake" }
func (f *fakeRouterProvider) Model() string     { return "fake-model" }
func (f *fakeRouterProvider) Cost() llmapi.Cost { return llmapi.Cost{} }
func (f *fakeRouterProvider) Complete(ctx context.Context, req llmapi.CompleteRequest) (*llmapi.CompleteResult, error) {
	if f.err != nil {
		return nil, f.err
	}

	return &llmapi.CompleteResult{Text: f.text, Usage: llmapi.Usage{TokensIn: 5, TokensOut: 5}}, nil
}

func TestContextualizeSuccess(t *testing.T) {
	db := newTestDB(t)
	r := router.New(config.Router{Routes: map[string]string{"summarize": "fake", "default": "fake"}}, db)
	r.RegisterProvider("fake", &fakeRouterProvider{text: "Alice and Bob discuss the Q3 roadmap, early 2026."})

	c := NewContextualizer(r)
	prefix, status := c.Contextualize(context.Background(), "User: what's the roadmap?", "2026-01-01T00:00:00Z")

	require.Equal(t, ContextComplete, status)
	require.NotEmpty(t, prefix)
}

func TestContextualizeFailureFallsBackToFailed(t *testing.T) {
	db := newTestDB(t)
	r := router.New(config.Router{Routes: map[string]string{"summarize": "fake", "default": "fake"}}, db)
	r.RegisterProvider("fake", &fakeRouterProvider{err: context.DeadlineExceeded})

	c := NewContextualizer(r)
	prefix, status := c.Contextualize(context.Background(), "User: hi", "2026-01-01T00:00:00Z")

	require.Equal(t, ContextFailed, status)
	require.Empty(t, prefix)
}

func TestContextualizeNilRouter(t *testing.T) {
	c := NewContextualizer(nil)
	prefix, status := c.Contextualize(context.Background(), "text", "t")

	require.Equal(t, ContextFailed, status)
	require.Empty(t, prefix)
}
