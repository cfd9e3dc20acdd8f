package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// dispatchSessionMemory implements `session-memory index
// --all|--new|--session <id>|--status|health` (spec §6).
func (a *App) dispatchSessionMemory(ctx context.Context, args []string) (interface{}, error) {
	if len(args) == 0 {
		return nil, &validationError{"session-memory: a subcommand is required (index|health)"}
	}

	sub := args[0]
	rest := args[1:]

	switch sub {
	case "index":
		return a.sessionMemoryIndex(ctx, rest)
	case "health":
		return a.Indexer.Health(ctx)
	default:
		return nil, &validationError{"session-memory: unknown subcommand " + sub}
	}
}

func (a *App) sessionMemoryIndex(ctx context.Context, args []string) (interface{}, error) {
	fs := parseFlags(args)

	if fs.get("status") == "true" {
		return a.sessionIndexStatus(ctx)
	}

	if id := fs.get("session"); id != "" {
		path, err := a.resolveTranscriptPath(id)
		if err != nil {
			return nil, err
		}

		if err := a.Indexer.IndexFile(ctx, id, path); err != nil {
			return nil, err
		}

		return a.Indexer.Health(ctx)
	}

	onlyNew := fs.get("new") == "true"
	if !onlyNew && fs.get("all") != "true" {
		return nil, &validationError{"session-memory index: one of --all, --new, --session <id>, --status is required"}
	}

	return a.indexAllTranscripts(ctx, onlyNew)
}

func (a *App) resolveTranscriptPath(sessionID string) (string, error) {
	dir := a.TranscriptDir
	if dir == "" {
		return "", &validationError{"session-memory: transcript directory is not configured"}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", &validationError{"session-memory: cannot read transcript directory: " + err.Error()}
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		name := e.Name()
		if strings.TrimSuffix(name, filepath.Ext(name)) == sessionID {
			return filepath.Join(dir, name), nil
		}
	}

	return "", &validationError{"session-memory: no transcript file for session " + sessionID}
}

type indexSummary struct {
	Indexed []string `json:"indexed"`
	Skipped []string `json:"skipped"`
	Failed  []string `json:"failed"`
}

// indexAllTranscripts walks TranscriptDir and hands every file to the
// indexer (onlyNew false), or every file whose session has no change state
// or a status other than "complete" (onlyNew true). With onlyNew a complete
// session is skipped without comparing its content hash, so a transcript
// that changed after a complete run is not re-indexed in that mode.
func (a *App) indexAllTranscripts(ctx context.Context, onlyNew bool) (interface{}, error) {
	dir := a.TranscriptDir
	if dir == "" {
		return nil, &validationError{"session-memory: transcript directory is not configured"}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &validationError{"session-memory: cannot read transcript directory: " + err.Error()}
	}

	summary := indexSummary{}
	var liveSessions []string

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		name := e.Name()
		sessionID := strings.TrimSuffix(name, filepath.Ext(name))
		liveSessions = append(liveSessions, sessionID)

		if onlyNew {
			state, err := a.Indexer.GetChangeState(ctx, sessionID)
			if err == nil && state != nil && state.Status == "complete" {
				summary.Skipped = append(summary.Skipped, sessionID)
				continue
			}
		}

		if err := a.Indexer.IndexFile(ctx, sessionID, filepath.Join(dir, name)); err != nil {
			summary.Failed = append(summary.Failed, sessionID)
			continue
		}

		summary.Indexed = append(summary.Indexed, sessionID)
	}

	_ = a.Indexer.PurgeOrphans(ctx, liveSessions)

	return summary, nil
}

func (a *App) sessionIndexStatus(ctx context.Context) (interface{}, error) {
	return a.Indexer.Health(ctx)
}
