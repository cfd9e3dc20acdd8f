package cli

import (
	"context"
	"strings"
	"time"

	"github.com/rakunlabs/ocs/internal/activity"
)

// dispatchActivity implements `activity --category --action --since
// --until --search` (spec §6). With no filters it returns the most recent
// entries.
func (a *App) dispatchActivity(ctx context.Context, args []string) (interface{}, error) {
	fs := parseFlags(args)

	limit := fs.getInt("limit", 50)

	since, err := parseTimeFlag(fs.get("since"))
	if err != nil {
		return nil, err
	}

	until, err := parseTimeFlag(fs.get("until"))
	if err != nil {
		return nil, err
	}

	var entries []activity.Entry

	switch {
	case !since.IsZero():
		if until.IsZero() {
			until = time.Now().UTC()
		}

		entries, err = a.Activities.GetByDateRange(ctx, since, until, limit)
	case fs.get("category") != "":
		entries, err = a.Activities.GetByCategory(ctx, fs.get("category"), limit)
	case fs.get("action") != "":
		entries, err = a.Activities.GetByAction(ctx, fs.get("action"), limit)
	default:
		entries, err = a.Activities.GetRecent(ctx, limit, "", "")
	}

	if err != nil {
		return nil, err
	}

	if search := fs.get("search"); search != "" {
		entries = filterEntriesBySearch(entries, search)
	}

	return entries, nil
}

// filterEntriesBySearch applies a case-insensitive substring filter over
// Description. activity.Log has no full-text search of its own (that's
// the Knowledge Cache's job); this is a client-side convenience for the
// `--search` flag spec §6 lists alongside the structured filters.
func filterEntriesBySearch(entries []activity.Entry, term string) []activity.Entry {
	term = strings.ToLower(term)

	var out []activity.Entry
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.Description), term) {
			out = append(out, e)
		}
	}

	return out
}
