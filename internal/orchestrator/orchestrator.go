// Package orchestrator is the Sub-Agent Orchestrator (J): assembles the
// prompt for a spawn-request without running any LLM itself (spec §4.9).
package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/rakunlabs/ocs/internal/store"
)

// Role is a sub-agent persona.
type Role string

const (
	RoleDeveloper Role = "developer"
	RoleQA        Role = "qa"
	RoleResearcher Role = "researcher"
	RoleWriter    Role = "writer"
	RoleSpec      Role = "spec"
)

var personas = map[Role]string{
	RoleDeveloper:  "You are a focused software developer. Write correct, minimal code and explain tradeoffs only when asked.",
	RoleQA:         "You are a meticulous QA engineer. Find edge cases, missing validation, and regressions before they ship.",
	RoleResearcher: "You are a thorough researcher. Cite sources, separate fact from inference, and flag uncertainty.",
	RoleWriter:     "You are a clear, concise technical writer. Favor plain language over jargon.",
	RoleSpec:       "You are a product-minded spec writer. Produce unambiguous acceptance criteria and a task breakdown.",
}

const sharedGuidelines = "Stay within scope. Prefer the smallest correct change. State assumptions explicitly."

// roleDefault carries a role's default model tier and spawn timeout (spec
// §4.9 "Per-role defaults").
type roleDefault struct {
	modelTier      string
	timeoutSeconds int
}

var roleDefaults = map[Role]roleDefault{
	RoleSpec:      {modelTier: "reasoning", timeoutSeconds: 300},
	RoleDeveloper: {modelTier: "reasoning", timeoutSeconds: 600},
	RoleQA:        {modelTier: "cheap", timeoutSeconds: 180},
	RoleResearcher: {modelTier: "reasoning", timeoutSeconds: 300},
	RoleWriter:    {modelTier: "cheap", timeoutSeconds: 180},
}

// MaxPromptTokens is the hard ceiling on assembled prompt size (spec §4.9
// step 3, config-overridable via Orchestrator.MaxPromptTokens).
const MaxPromptTokens = 5000

// estimateTokens mirrors the deliberately simple chars/4 estimator used
// elsewhere in this module; the spec is explicit this must not be swapped
// for a real tokenizer (spec §9 open question).
func estimateTokens(s string) int {
	return len(s) / 4
}

// MemorySearcher is the subset of Memories the orchestrator needs, kept as
// an interface so orchestrator tests don't need a live embedder.
type MemorySearcher interface {
	SemanticSearchMemory(ctx context.Context, query string, opts store.SemanticSearchOpts) ([]store.MemoryMatch, error)
}

// SpawnRequest is the orchestrator's output record (spec §4.9 step 4).
type SpawnRequest struct {
	Task              string
	Prompt            string
	Model             string
	Label             string
	RunTimeoutSeconds int
	Cleanup           bool
}

// Orchestrator assembles spawn requests for sub-agents.
type Orchestrator struct {
	memories      MemorySearcher
	modelsByTier  map[string]string
	maxPromptTokens int
}

// New builds an Orchestrator. modelsByTier maps a tier name ("reasoning",
// "cheap") to a concrete model identifier the router understands.
func New(memories MemorySearcher, modelsByTier map[string]string, maxPromptTokens int) *Orchestrator {
	if maxPromptTokens <= 0 {
		maxPromptTokens = MaxPromptTokens
	}

	return &Orchestrator{memories: memories, modelsByTier: modelsByTier, maxPromptTokens: maxPromptTokens}
}

// Spawn builds a SpawnRequest for role given a free-form task description,
// with an optional model override (spec §4.9).
func (o *Orchestrator) Spawn(ctx context.Context, role Role, task string, modelOverride string) (*SpawnRequest, error) {
	persona, ok := personas[role]
	if !ok {
		return nil, fmt.Errorf("orchestrator: unknown role %q", role)
	}

	def := roleDefaults[role]

	model := modelOverride
	if model == "" {
		model = o.modelsByTier[def.modelTier]
	}

	var memorySection string
	if o.memories != nil {
		matches, err := o.memories.SemanticSearchMemory(ctx, task, store.SemanticSearchOpts{Limit: 3, Threshold: 0.4})
		if err == nil && len(matches) > 0 {
			var b strings.Builder
			b.WriteString("CONTEXT FROM MEMORY\n")
			for _, m := range matches {
				fmt.Fprintf(&b, "- %s\n", m.Memory.Content)
			}
			memorySection = b.String()
		}
	}

	prompt := assemblePrompt(persona, memorySection, task, o.maxPromptTokens)

	return &SpawnRequest{
		Task:              task,
		Prompt:            prompt,
		Model:             model,
		Label:             string(role),
		RunTimeoutSeconds: def.timeoutSeconds,
		Cleanup:           true,
	}, nil
}

// assemblePrompt concatenates persona + memory + guidelines + task,
// truncating the task (last, least essential to identity) if the whole
// thing would exceed the token ceiling (spec §4.9 step 3).
func assemblePrompt(persona, memorySection, task string, maxTokens int) string {
	sections := []string{persona}
	if memorySection != "" {
		sections = append(sections, memorySection)
	}
	sections = append(sections, sharedGuidelines, task)

	full := strings.Join(sections, "\n\n")
	if estimateTokens(full) <= maxTokens {
		return full
	}

	budget := maxTokens * 4
	fixed := persona + "\n\n" + sharedGuidelines
	if memorySection != "" {
		fixed += "\n\n" + memorySection
	}

	remaining := budget - len(fixed) - len("\n\n")
	if remaining < 0 {
		remaining = 0
	}
	if remaining < len(task) {
		task = task[:remaining]
	}

	sections = []string{persona}
	if memorySection != "" {
		sections = append(sections, memorySection)
	}
	sections = append(sections, sharedGuidelines, task)

	return strings.Join(sections, "\n\n")
}
