package cli

import (
	"context"

	"github.com/rakunlabs/ocs/internal/store"
)

// dispatchMemory implements `memory semantic-search <query>|export-embeddings`
// (spec §6, export-embeddings a supplement for Postgres/pgvector migration).
func (a *App) dispatchMemory(ctx context.Context, args []string) (interface{}, error) {
	if len(args) == 0 {
		return nil, &validationError{"memory: a subcommand is required (semantic-search|export-embeddings)"}
	}

	sub := args[0]
	rest := args[1:]

	switch sub {
	case "semantic-search":
		return a.memorySemanticSearch(ctx, rest)
	case "export-embeddings":
		return a.Memories.ExportEmbeddings(ctx)
	default:
		return nil, &validationError{"memory: unknown subcommand " + sub}
	}
}

func (a *App) memorySemanticSearch(ctx context.Context, args []string) (interface{}, error) {
	fs := parseFlags(args)
	if len(fs.positional) == 0 {
		return nil, &validationError{"memory semantic-search: usage: memory semantic-search <query>"}
	}

	query := fs.positional[0]

	return a.Memories.SemanticSearchMemory(ctx, query, store.SemanticSearchOpts{
		Limit: fs.getInt("limit", 10),
	})
}
