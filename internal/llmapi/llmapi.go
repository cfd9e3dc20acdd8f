// Package llmapi defines the duck-typed provider interface the Model Router
// depends on. Providers are adapters over each upstream LLM/embedding HTTP
// API; the router only ever talks to the Provider interface, never to a
// concrete provider type.
package llmapi

import (
	"context"
	"errors"
	"strings"
)

// CompleteRequest is the uniform request shape the router sends to every
// provider, regardless of the wire format the upstream API actually wants.
type CompleteRequest struct {
	Prompt  string
	Content string
	Stream  bool
}

// Usage carries provider-reported token counts for cost accounting.
type Usage struct {
	TokensIn  int
	TokensOut int
}

// CompleteResult is the uniform response shape returned by every provider.
type CompleteResult struct {
	Text  string
	Usage Usage
}

// Cost describes the provider's per-million-token pricing.
type Cost struct {
	In  float64 // USD per 1M input tokens
	Out float64 // USD per 1M output tokens
}

// Provider is the common shape every LLM backend implements: a name, a
// default model, a cost table, and a single-shot completion call. The
// router depends only on this interface (design note: "duck-typed provider
// interface ... model as a single interface with multiple implementations").
type Provider interface {
	Name() string
	Model() string
	Cost() Cost
	Complete(ctx context.Context, req CompleteRequest) (*CompleteResult, error)
}

// EmbedProvider is implemented by providers that can also generate
// embeddings. Not every chat provider implements this (e.g. Anthropic has no
// embeddings endpoint), so cmd/ocs puts only the providers that do into the
// Embedding Client's chain.
type EmbedProvider interface {
	Embed(ctx context.Context, text string, model string) ([]float32, int, error)
}

// ─── Error taxonomy (spec §7) ───

// ProviderHTTPError wraps a non-2xx HTTP response from an upstream provider.
type ProviderHTTPError struct {
	Status int
	Body   string
}

func (e *ProviderHTTPError) Error() string {
	return "provider http error"
}

// ErrTimeout is returned when a provider call exceeds its deadline.
var ErrTimeout = errors.New("provider timeout")

// Retryable reports whether an error should cause the router/embedder to
// fall through to the next provider in the chain (spec §4.5 step 4,
// §7 "retryable if 429/503 or body contains quota/rate-limit markers").
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrTimeout) {
		return true
	}

	var httpErr *ProviderHTTPError
	if errors.As(err, &httpErr) {
		if httpErr.Status == 429 || httpErr.Status == 503 {
			return true
		}

		lower := strings.ToLower(httpErr.Body)

		return strings.Contains(lower, "quota") || strings.Contains(lower, "rate limit") || strings.Contains(lower, "rate_limit")
	}

	return false
}
