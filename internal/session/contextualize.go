package session

import (
	"context"
	"fmt"

	"github.com/rakunlabs/ocs/internal/router"
)

// ContextStatus values (spec §3 session_chunks.context_status).
const (
	ContextPending  = "pending"
	ContextComplete = "complete"
	ContextFailed   = "failed"
)

// Contextualizer generates a short context prefix for a chunk via the
// Model Router (spec §4.10 "Contextualisation").
type Contextualizer struct {
	router *router.Router
}

func NewContextualizer(r *router.Router) *Contextualizer {
	return &Contextualizer{router: r}
}

// Contextualize asks the router for a ~50 token prefix identifying
// participants, topic, and time. If the call fails, the chunk is embedded
// without a prefix and status is ContextFailed — this is not itself an
// error the caller must propagate (spec §4.10).
func (c *Contextualizer) Contextualize(ctx context.Context, chunkText, timestamp string) (prefix, status string) {
	if c.router == nil {
		return "", ContextFailed
	}

	prompt := fmt.Sprintf(
		"In one short sentence (no more than 50 tokens), identify the participants, topic, and approximate time of this conversation excerpt from %s:\n\n%s",
		timestamp, chunkText,
	)

	result, err := c.router.Route(ctx, router.Request{Type: "summarize", Prompt: prompt})
	if err != nil {
		return "", ContextFailed
	}

	return result.Text, ContextComplete
}
