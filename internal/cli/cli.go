// Package cli is the operator-facing command surface enumerated in spec
// §6: `pipeline`, `activity`, `memory`, `session-memory`, `knowledge`. It
// is a thin dispatcher over the core packages — no business logic lives
// here, only argument parsing, JSON rendering, and exit-code mapping
// (spec §6 "Exit codes: 0 success, 1 validation error, 2 missing
// credential, 3 provider failure after fallbacks").
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rakunlabs/ocs/internal/activity"
	"github.com/rakunlabs/ocs/internal/credential"
	"github.com/rakunlabs/ocs/internal/knowledge"
	"github.com/rakunlabs/ocs/internal/llmapi"
	"github.com/rakunlabs/ocs/internal/pipeline"
	"github.com/rakunlabs/ocs/internal/session"
	"github.com/rakunlabs/ocs/internal/store"
)

// Exit codes (spec §6).
const (
	ExitOK                = 0
	ExitValidation        = 1
	ExitMissingCredential = 2
	ExitProviderFailure   = 3
)

// App bundles every component the CLI dispatches against. It is assembled
// once at process start by cmd/ocs and handed to Dispatch.
type App struct {
	Activities *activity.Log
	Tasks      *store.Tasks
	Memories   *store.Memories
	Knowledge  *knowledge.Cache
	Pipelines  *pipeline.Pipelines
	Indexer    *session.Indexer
	Out        io.Writer

	// TranscriptDir is the directory `session-memory index` scans
	// (config.Session.TranscriptDir).
	TranscriptDir string
}

// Dispatch parses args (excluding the program name) and runs the matching
// command, writing JSON results to a.Out and returning the exit code a
// caller should pass to os.Exit.
func (a *App) Dispatch(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(a.Out, "error: validation: no command given")
		return ExitValidation
	}

	var (
		result interface{}
		err    error
	)

	switch args[0] {
	case "pipeline":
		result, err = a.dispatchPipeline(ctx, args[1:])
	case "activity":
		result, err = a.dispatchActivity(ctx, args[1:])
	case "memory":
		result, err = a.dispatchMemory(ctx, args[1:])
	case "session-memory":
		result, err = a.dispatchSessionMemory(ctx, args[1:])
	case "knowledge":
		result, err = a.dispatchKnowledge(ctx, args[1:])
	default:
		err = &validationError{fmt.Sprintf("unknown command %q", args[0])}
	}

	if err != nil {
		code := exitCodeFor(err)
		fmt.Fprintf(a.Out, "error: %s: %v\n", categoryFor(err), err)

		return code
	}

	if result != nil {
		enc := json.NewEncoder(a.Out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
	}

	return ExitOK
}

// validationError is a CLI-local bad-input condition (spec §7
// ValidationError), distinct from the pipeline package's own
// ValidationError which covers stage-machine violations specifically.
type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }

func exitCodeFor(err error) int {
	var pErr *pipeline.ValidationError
	if errors.As(err, &pErr) {
		return ExitValidation
	}

	var vErr *validationError
	if errors.As(err, &vErr) {
		return ExitValidation
	}

	var credErr *credential.MissingCredential
	if errors.As(err, &credErr) {
		return ExitMissingCredential
	}

	var httpErr *llmapi.ProviderHTTPError
	if errors.As(err, &httpErr) {
		return ExitProviderFailure
	}
	if errors.Is(err, llmapi.ErrTimeout) {
		return ExitProviderFailure
	}

	return ExitValidation
}

func categoryFor(err error) string {
	var pErr *pipeline.ValidationError
	if errors.As(err, &pErr) {
		return "validation"
	}

	var vErr *validationError
	if errors.As(err, &vErr) {
		return "validation"
	}

	var credErr *credential.MissingCredential
	if errors.As(err, &credErr) {
		return "missing_credential"
	}

	var httpErr *llmapi.ProviderHTTPError
	if errors.As(err, &httpErr) {
		return "provider_failure"
	}
	if errors.Is(err, llmapi.ErrTimeout) {
		return "provider_failure"
	}

	return "error"
}

// flagSet is a hand-rolled `--flag value` / `--flag=value` parser, kept
// deliberately small since the CLI surface in spec §6 has no nested
// subflags or repeated flags.
type flagSet struct {
	flags      map[string]string
	positional []string
}

func parseFlags(args []string) flagSet {
	fs := flagSet{flags: map[string]string{}}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			fs.positional = append(fs.positional, arg)
			continue
		}

		name := strings.TrimPrefix(arg, "--")
		if eq := strings.IndexByte(name, '='); eq >= 0 {
			fs.flags[name[:eq]] = name[eq+1:]
			continue
		}

		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "--") {
			fs.flags[name] = args[i+1]
			i++
		} else {
			fs.flags[name] = "true"
		}
	}

	return fs
}

func (f flagSet) get(name string) string { return f.flags[name] }

func (f flagSet) getInt(name string, def int) int {
	v, ok := f.flags[name]
	if !ok {
		return def
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}

	return n
}

func parseTimeFlag(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}

	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, &validationError{fmt.Sprintf("invalid time %q, expected RFC3339", v)}
	}

	return t, nil
}
