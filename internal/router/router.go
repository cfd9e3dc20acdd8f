// Package router is the Model Router (E): task-type inference, provider
// chain resolution with fallback-on-retryable-error, cost accounting, and a
// dryRun variant that returns the routing decision without executing it
// (spec §4.5).
package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/oklog/ulid/v2"

	"github.com/rakunlabs/ocs/internal/config"
	"github.com/rakunlabs/ocs/internal/llmapi"
	"github.com/rakunlabs/ocs/internal/storage/sqlite3"
)

// Request is the router's input (spec §4.5 "Inputs").
type Request struct {
	Type     string
	Prompt   string
	Content  string
	Provider string
	Stream   bool
}

// Decision is the routing outcome, returned by both Route and DryRun.
type Decision struct {
	TaskType string
	Provider string
	Chain    []string
}

// Result is Route's full outcome including the executed completion.
type Result struct {
	Decision
	Model   string
	Text    string
	Tokens  llmapi.Usage
	CostUSD float64
	Latency time.Duration
}

// Router dispatches completion requests across a chain of registered
// providers, falling through to the next on a retryable error.
type Router struct {
	providers map[string]llmapi.Provider
	routes    map[string]string
	fallbacks map[string][]string
	timeout   time.Duration
	db        *sqlite3.SQLite
}

func New(cfg config.Router, db *sqlite3.SQLite) *Router {
	routes := cfg.Routes
	if routes == nil {
		routes = map[string]string{}
	}

	fallbacks := cfg.Fallbacks
	if fallbacks == nil {
		fallbacks = map[string][]string{}
	}

	timeout := cfg.CompletionTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Router{
		providers: map[string]llmapi.Provider{},
		routes:    routes,
		fallbacks: fallbacks,
		timeout:   timeout,
		db:        db,
	}
}

// RegisterProvider makes a provider available to be routed to by name.
func (r *Router) RegisterProvider(name string, p llmapi.Provider) {
	r.providers[name] = p
}

// InferTaskType applies the keyword heuristics of spec §4.5 step 1.
func InferTaskType(prompt, content string) string {
	combined := strings.ToLower(prompt + " " + content)

	keywords := []struct {
		word string
		typ  string
	}{
		{"summarize", "summarize"},
		{"debug", "debug"},
		{"code", "code"},
		{"translate", "translate"},
		{"refactor", "refactor"},
		{"test", "test"},
		{"research", "research"},
	}

	for _, k := range keywords {
		if strings.Contains(combined, k.word) {
			return k.typ
		}
	}

	if len(content) > 5000 {
		return "summarize"
	}

	if strings.Contains(content, "```") {
		return "code"
	}

	return "default"
}

// decide resolves task type, provider, and fallback chain without
// executing anything (shared by Route and DryRun, spec §4.5 steps 1-3).
func (r *Router) decide(req Request) Decision {
	taskType := req.Type
	if taskType == "" {
		taskType = InferTaskType(req.Prompt, req.Content)
	}

	provider := req.Provider
	if provider == "" {
		provider = r.routes[taskType]
	}
	if provider == "" {
		provider = r.routes["default"]
	}

	chain := []string{provider}
	chain = append(chain, r.fallbacks[provider]...)

	return Decision{TaskType: taskType, Provider: provider, Chain: chain}
}

// DryRun returns the routing decision without calling any provider (spec
// §4.5 step 5).
func (r *Router) DryRun(req Request) Decision {
	return r.decide(req)
}

// Route infers the task type, resolves the provider chain, and executes
// completion against each provider in turn until one succeeds or the chain
// is exhausted (spec §4.5 steps 1-4).
func (r *Router) Route(ctx context.Context, req Request) (*Result, error) {
	decision := r.decide(req)

	if len(decision.Chain) == 0 || decision.Chain[0] == "" {
		return nil, fmt.Errorf("router: no provider resolved for task type %q", decision.TaskType)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var lastErr error

	for _, name := range decision.Chain {
		provider, ok := r.providers[name]
		if !ok {
			lastErr = fmt.Errorf("router: provider %q not registered", name)
			continue
		}

		start := time.Now()

		res, err := provider.Complete(ctx, llmapi.CompleteRequest{
			Prompt:  req.Prompt,
			Content: req.Content,
			Stream:  req.Stream,
		})
		latency := time.Since(start)

		if err != nil {
			lastErr = err

			if !llmapi.Retryable(err) {
				return nil, err
			}

			continue
		}

		cost := provider.Cost()
		costUSD := (float64(res.Usage.TokensIn)*cost.In + float64(res.Usage.TokensOut)*cost.Out) / 1_000_000

		if err := r.recordUsage(ctx, decision.TaskType, name, provider.Model(), res.Usage, costUSD, latency); err != nil {
			return nil, fmt.Errorf("record token usage: %w", err)
		}

		return &Result{
			Decision: decision,
			Model:    provider.Model(),
			Text:     res.Text,
			Tokens:   res.Usage,
			CostUSD:  costUSD,
			Latency:  latency,
		}, nil
	}

	return nil, fmt.Errorf("router: all providers exhausted for chain %v: %w", decision.Chain, lastErr)
}

// Stats aggregates token usage recorded by the router over a period.
type Stats struct {
	Calls       int64
	TokensIn    int64
	TokensOut   int64
	TotalCostUSD float64
	ByProvider  map[string]int64
}

func (r *Router) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	ds := r.db.Goqu().From(r.db.Table("token_usage")).
		Select("provider", "tokens_in", "tokens_out", "cost_usd").
		Where(goqu.I("created_at").Gte(since.Format(time.RFC3339)))

	query, _, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build token_usage query: %w", err)
	}

	rows, err := r.db.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query token_usage: %w", err)
	}
	defer rows.Close()

	stats := &Stats{ByProvider: map[string]int64{}}

	for rows.Next() {
		var (
			provider             string
			tokensIn, tokensOut  int64
			costUSD              float64
		)

		if err := rows.Scan(&provider, &tokensIn, &tokensOut, &costUSD); err != nil {
			return nil, fmt.Errorf("scan token_usage row: %w", err)
		}

		stats.Calls++
		stats.TokensIn += tokensIn
		stats.TokensOut += tokensOut
		stats.TotalCostUSD += costUSD
		stats.ByProvider[provider]++
	}

	return stats, rows.Err()
}

func (r *Router) recordUsage(ctx context.Context, taskType, provider, model string, usage llmapi.Usage, costUSD float64, latency time.Duration) error {
	if r.db == nil {
		return nil
	}

	record := goqu.Record{
		"id":          ulid.Make().String(),
		"session_id":  nil,
		"source":      "router",
		"model":       model,
		"provider":    provider,
		"tokens_in":   usage.TokensIn,
		"tokens_out":  usage.TokensOut,
		"cost_usd":    costUSD,
		"task_type":   taskType,
		"task_detail": nil,
		"latency_ms":  latency.Milliseconds(),
		"created_at":  time.Now().UTC().Format(time.RFC3339),
	}

	query, _, err := r.db.Goqu().Insert(r.db.Table("token_usage")).Rows(record).ToSQL()
	if err != nil {
		return fmt.Errorf("build token_usage insert: %w", err)
	}

	_, err = r.db.DB().ExecContext(ctx, query)

	return err
}
