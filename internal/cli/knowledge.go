package cli

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/worldline-go/types"

	"github.com/rakunlabs/ocs/internal/knowledge"
)

// dispatchKnowledge implements `knowledge add|search|list|verify|supersede|stats`
// (spec §6).
func (a *App) dispatchKnowledge(ctx context.Context, args []string) (interface{}, error) {
	if len(args) == 0 {
		return nil, &validationError{"knowledge: a subcommand is required (add|search|list|verify|supersede|stats)"}
	}

	sub := args[0]
	rest := args[1:]

	switch sub {
	case "add":
		return a.knowledgeAdd(ctx, rest)
	case "search":
		return a.knowledgeSearch(ctx, rest)
	case "list":
		return a.knowledgeList(ctx, rest)
	case "verify":
		return a.knowledgeVerify(ctx, rest)
	case "supersede":
		return a.knowledgeSupersede(ctx, rest)
	case "stats":
		return a.Knowledge.Stats(ctx)
	default:
		return nil, &validationError{"knowledge: unknown subcommand " + sub}
	}
}

func (a *App) knowledgeAdd(ctx context.Context, args []string) (interface{}, error) {
	fs := parseFlags(args)

	if fs.get("title") == "" {
		return nil, &validationError{"knowledge add: --title is required"}
	}
	if fs.get("summary") == "" {
		return nil, &validationError{"knowledge add: --summary is required"}
	}
	if fs.get("source-type") == "" {
		return nil, &validationError{"knowledge add: --source-type is required"}
	}

	entry := knowledge.Entry{
		Title:         fs.get("title"),
		Summary:       fs.get("summary"),
		SourceType:    fs.get("source-type"),
		SourceURL:     fs.get("source-url"),
		SourceSession: fs.get("source-session"),
		TopicTags:     splitCSV(fs.get("tags")),
		Entities:      splitCSV(fs.get("entities")),
		Confidence:    parseFloatFlag(fs.get("confidence"), 1.0),
		Importance:    parseFloatFlag(fs.get("importance"), 0.5),
		ExpiresAt:     parseExpiresAtFlag(fs.get("expires-at")),
	}

	return a.Knowledge.Add(ctx, entry, fs.get("skip-embedding") == "true")
}

func (a *App) knowledgeSearch(ctx context.Context, args []string) (interface{}, error) {
	fs := parseFlags(args)
	if len(fs.positional) == 0 {
		return nil, &validationError{"knowledge search: usage: knowledge search <query>"}
	}

	return a.Knowledge.Search(ctx, fs.positional[0], knowledge.SearchOpts{
		Limit:              fs.getInt("limit", 10),
		IncludeExpired:     fs.get("include-expired") == "true",
		WeightByImportance: fs.get("weight-by-importance") == "true",
	})
}

func (a *App) knowledgeList(ctx context.Context, args []string) (interface{}, error) {
	fs := parseFlags(args)

	var verified *bool
	if v := fs.get("verified"); v != "" {
		b := v == "true"
		verified = &b
	}

	return a.Knowledge.List(ctx, knowledge.ListOpts{
		SourceType:     fs.get("source-type"),
		Verified:       verified,
		IncludeExpired: fs.get("include-expired") == "true",
		Limit:          fs.getInt("limit", 50),
	})
}

func (a *App) knowledgeVerify(ctx context.Context, args []string) (interface{}, error) {
	fs := parseFlags(args)
	if len(fs.positional) == 0 {
		return nil, &validationError{"knowledge verify: usage: knowledge verify <id>"}
	}

	if err := a.Knowledge.Verify(ctx, fs.positional[0]); err != nil {
		return nil, err
	}

	return a.Knowledge.Get(ctx, fs.positional[0])
}

func (a *App) knowledgeSupersede(ctx context.Context, args []string) (interface{}, error) {
	fs := parseFlags(args)
	if len(fs.positional) == 0 {
		return nil, &validationError{"knowledge supersede: usage: knowledge supersede <old-id> --title --summary --source-type"}
	}
	if fs.get("title") == "" || fs.get("summary") == "" || fs.get("source-type") == "" {
		return nil, &validationError{"knowledge supersede: --title, --summary, and --source-type are required"}
	}

	oldID := fs.positional[0]

	newEntry := knowledge.Entry{
		Title:         fs.get("title"),
		Summary:       fs.get("summary"),
		SourceType:    fs.get("source-type"),
		SourceURL:     fs.get("source-url"),
		SourceSession: fs.get("source-session"),
		TopicTags:     splitCSV(fs.get("tags")),
		Entities:      splitCSV(fs.get("entities")),
		Confidence:    parseFloatFlag(fs.get("confidence"), 1.0),
		Importance:    parseFloatFlag(fs.get("importance"), 0.5),
		ExpiresAt:     parseExpiresAtFlag(fs.get("expires-at")),
	}

	return a.Knowledge.Supersede(ctx, oldID, newEntry, fs.get("skip-embedding") == "true")
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}

	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}

	return out
}

// parseExpiresAtFlag parses an RFC3339 --expires-at flag; an empty or
// unparseable value yields the zero Null[Time], meaning no expiry.
func parseExpiresAtFlag(v string) types.Null[types.Time] {
	if v == "" {
		return types.Null[types.Time]{}
	}

	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return types.Null[types.Time]{}
	}

	return types.NewTimeNull(t)
}

func parseFloatFlag(v string, def float64) float64 {
	if v == "" {
		return def
	}

	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}

	return f
}
