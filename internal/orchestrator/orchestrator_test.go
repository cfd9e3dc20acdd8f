package orchestrator

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/ocs/internal/store"
)

type fakeMemorySearcher struct {
	matches []store.MemoryMatch
	err     error
}

func (f *fakeMemorySearcher) SemanticSearchMemory(ctx context.Context, query string, opts store.SemanticSearchOpts) ([]store.MemoryMatch, error) {
	return f.matches, f.err
}

func TestSpawnUnknownRole(t *testing.T) {
	o := New(nil, map[string]string{"reasoning": "gpt-5", "cheap": "gpt-5-mini"}, 0)

	_, err := o.Spawn(context.Background(), Role("astronaut"), "do something", "")
	require.Error(t, err)
}

func TestSpawnAppliesRoleDefaults(t *testing.T) {
	o := New(nil, map[string]string{"reasoning": "gpt-5", "cheap": "gpt-5-mini"}, 0)

	req, err := o.Spawn(context.Background(), RoleQA, "verify the login flow", "")
	require.NoError(t, err)
	require.Equal(t, "gpt-5-mini", req.Model)
	require.Equal(t, 180, req.RunTimeoutSeconds)
	require.Contains(t, req.Prompt, "meticulous QA engineer")
}

func TestSpawnModelOverrideWins(t *testing.T) {
	o := New(nil, map[string]string{"reasoning": "gpt-5"}, 0)

	req, err := o.Spawn(context.Background(), RoleDeveloper, "fix bug", "claude-opus")
	require.NoError(t, err)
	require.Equal(t, "claude-opus", req.Model)
}

func TestSpawnIncludesMemoryContext(t *testing.T) {
	mem := &fakeMemorySearcher{matches: []store.MemoryMatch{
		{Memory: store.Memory{Content: "user prefers dark mode"}, Similarity: 0.9},
	}}
	o := New(mem, map[string]string{"reasoning": "gpt-5"}, 0)

	req, err := o.Spawn(context.Background(), RoleDeveloper, "build settings page", "")
	require.NoError(t, err)
	require.Contains(t, req.Prompt, "CONTEXT FROM MEMORY")
	require.Contains(t, req.Prompt, "dark mode")
}

func TestSpawnPromptRespectsTokenCeiling(t *testing.T) {
	o := New(nil, map[string]string{"reasoning": "gpt-5"}, 50)

	hugeTask := strings.Repeat("word ", 2000)
	req, err := o.Spawn(context.Background(), RoleDeveloper, hugeTask, "")
	require.NoError(t, err)
	require.LessOrEqual(t, len(req.Prompt)/4, 60)
}

func TestParseSpecOutput(t *testing.T) {
	output := `### Acceptance Criteria
- Users can log in with email
- Errors are shown inline

### Tasks Breakdown
- Build login form
- Wire up auth API
`

	parsed := ParseSpecOutput(output)
	require.Equal(t, []string{"Users can log in with email", "Errors are shown inline"}, parsed.AcceptanceCriteria)
	require.Equal(t, []string{"Build login form", "Wire up auth API"}, parsed.Tasks)
}

func TestParseSpecOutputNoSections(t *testing.T) {
	parsed := ParseSpecOutput("just some prose with no headers")
	require.Empty(t, parsed.AcceptanceCriteria)
	require.Empty(t, parsed.Tasks)
}
