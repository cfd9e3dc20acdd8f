package activity

import (
	"context"
	"time"
)

// ctxKey is an unexported type so AutoContext values never collide with
// context keys set by other packages.
type ctxKey struct{}

// AutoContext carries the ambient {source, relatedId} pair that LogTool
// inherits for every call made against it. It is a plain value, not shared
// state, so two sub-agents spawned from the same parent each get their own
// copy and cannot pollute each other's context (spec §9 redesign note).
type AutoContext struct {
	log       *Log
	source    string
	relatedID string
}

// WithAutoLog returns a context carrying a new AutoContext scoped to
// source/relatedID. Use ctx.Value retrieval via FromContext, or call
// LogTool directly on the returned AutoContext.
func (l *Log) WithAutoLog(ctx context.Context, source, relatedID string) (context.Context, *AutoContext) {
	ac := &AutoContext{log: l, source: source, relatedID: relatedID}
	return context.WithValue(ctx, ctxKey{}, ac), ac
}

// FromContext retrieves the AutoContext set by WithAutoLog, if any.
func FromContext(ctx context.Context) (*AutoContext, bool) {
	ac, ok := ctx.Value(ctxKey{}).(*AutoContext)
	return ac, ok
}

// LogTool appends an activity entry inheriting this AutoContext's source
// and relatedId. Errors are swallowed: a failure to record an activity
// entry must never interrupt the tool call it is describing (spec §4.4).
func (ac *AutoContext) LogTool(ctx context.Context, tool, description string, metadata map[string]interface{}) {
	if ac == nil || ac.log == nil {
		return
	}

	_ = ac.log.LogFull(ctx, Entry{
		Action:      tool,
		Category:    "tool",
		Description: description,
		Metadata:    metadata,
		Source:      ac.source,
		RelatedID:   ac.relatedID,
	})
}

// WrapAsync instruments fn, logging its start and end with duration and
// success flag under this AutoContext. Logging failures are swallowed; fn's
// own error is always returned to the caller.
func (ac *AutoContext) WrapAsync(ctx context.Context, tool string, fn func(ctx context.Context) error) error {
	start := time.Now()

	ac.LogTool(ctx, tool+".start", "", nil)

	err := fn(ctx)

	ac.LogTool(ctx, tool+".end", "", map[string]interface{}{
		"duration_ms": time.Since(start).Milliseconds(),
		"success":     err == nil,
	})

	return err
}
