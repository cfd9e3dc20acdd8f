// Package embedding is the provider-abstracted embedding client (C):
// generate(text, {model, sessionId, source}) -> float32 vector, with cost
// accounting and retry on rate-limit (spec §4.3, §7).
package embedding

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/oklog/ulid/v2"

	"github.com/rakunlabs/ocs/internal/llmapi"
	"github.com/rakunlabs/ocs/internal/storage/sqlite3"
)

// DefaultDimensions is the width of the current default embedding model
// (spec §4.3: "current default model is a 1536-dimensional model").
const DefaultDimensions = 1536

// Result is the outcome of a single Generate call.
type Result struct {
	Vector   []float32
	Provider string
	Model    string
}

// providerEntry pairs an EmbedProvider with its name and cost table for
// TokenUsage accounting.
type providerEntry struct {
	name     string
	provider llmapi.EmbedProvider
	cost     llmapi.Cost
}

// Client generates embeddings through a chain of providers, falling
// through to the next on a retryable error, with three attempts and
// exponential backoff per provider (spec §7, §9 open question: "three
// attempts with exponential backoff is a safe default").
type Client struct {
	chain   []providerEntry
	db      *sqlite3.SQLite
	timeout time.Duration
}

// New creates an embedding Client. chain is tried in order; the first
// provider is primary, the rest are fallbacks.
func New(db *sqlite3.SQLite, timeout time.Duration, entries ...struct {
	Name     string
	Provider llmapi.EmbedProvider
	Cost     llmapi.Cost
}) *Client {
	chain := make([]providerEntry, 0, len(entries))
	for _, e := range entries {
		chain = append(chain, providerEntry{name: e.Name, provider: e.Provider, cost: e.Cost})
	}

	return &Client{chain: chain, db: db, timeout: timeout}
}

// GetDimensions returns the expected vector width for model (spec §4.3
// getDimensions helper). Unknown models fall back to DefaultDimensions.
func GetDimensions(model string) int {
	switch model {
	case "text-embedding-3-small":
		return 1536
	case "text-embedding-3-large":
		return 3072
	case "embedding-001", "text-embedding-004":
		return 768
	default:
		return DefaultDimensions
	}
}

// Opts configures a Generate call.
type Opts struct {
	Model     string
	SessionID string
	Source    string
}

// Generate produces an embedding for text, trying each provider in the
// chain in turn, making up to 3 attempts per provider with exponential
// backoff on a retryable error before falling through (spec §4.3, §7).
func (c *Client) Generate(ctx context.Context, text string, opts Opts) (*Result, error) {
	if len(c.chain) == 0 {
		return nil, fmt.Errorf("embedding: no providers configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeoutOrDefault())
	defer cancel()

	var lastErr error

	for _, entry := range c.chain {
		start := time.Now()
		vector, tokensIn, err := c.callWithRetry(ctx, entry, text, opts.Model)
		if err != nil {
			lastErr = err

			if !llmapi.Retryable(err) {
				return nil, err
			}

			continue
		}

		if tokensIn == 0 {
			tokensIn = len(text) / 4
		}
		cost := (float64(tokensIn) * entry.cost.In) / 1_000_000

		if err := c.recordUsage(ctx, opts, entry.name, tokensIn, cost, time.Since(start)); err != nil {
			return nil, fmt.Errorf("record token usage: %w", err)
		}

		return &Result{Vector: vector, Provider: entry.name, Model: opts.Model}, nil
	}

	return nil, fmt.Errorf("embedding: all providers exhausted: %w", lastErr)
}

// GenerateBatch generates embeddings for each input text, stopping at the
// first text whose Generate call fails and returning the results so far.
func (c *Client) GenerateBatch(ctx context.Context, texts []string, opts Opts) ([]*Result, error) {
	out := make([]*Result, 0, len(texts))

	for _, text := range texts {
		r, err := c.Generate(ctx, text, opts)
		if err != nil {
			return out, err
		}

		out = append(out, r)
	}

	return out, nil
}

func (c *Client) callWithRetry(ctx context.Context, entry providerEntry, text, model string) ([]float32, int, error) {
	const maxAttempts = 3

	var err error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		var vector []float32
		var tokensIn int

		vector, tokensIn, err = entry.provider.Embed(ctx, text, model)
		if err == nil {
			return vector, tokensIn, nil
		}

		if !llmapi.Retryable(err) {
			return nil, 0, err
		}

		if attempt < maxAttempts-1 {
			backoff := time.Duration(1<<uint(attempt)) * 200 * time.Millisecond
			backoff += time.Duration(rand.Intn(100)) * time.Millisecond

			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, 0, err
}

func (c *Client) timeoutOrDefault() time.Duration {
	if c.timeout > 0 {
		return c.timeout
	}

	return 15 * time.Second
}

func (c *Client) recordUsage(ctx context.Context, opts Opts, provider string, tokensIn int, cost float64, latency time.Duration) error {
	if c.db == nil {
		return nil
	}

	record := goqu.Record{
		"id":          ulid.Make().String(),
		"session_id":  nullableString(opts.SessionID),
		"source":      nullableString(opts.Source),
		"model":       opts.Model,
		"provider":    provider,
		"tokens_in":   tokensIn,
		"tokens_out":  0,
		"cost_usd":    cost,
		"task_type":   nullableString("embedding"),
		"task_detail": nil,
		"latency_ms":  latency.Milliseconds(),
		"created_at":  time.Now().UTC().Format(time.RFC3339),
	}

	query, _, err := c.db.Goqu().Insert(c.db.Table("token_usage")).Rows(record).ToSQL()
	if err != nil {
		return fmt.Errorf("build token_usage insert: %w", err)
	}

	_, err = c.db.DB().ExecContext(ctx, query)

	return err
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}

	return s
}
