package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/rakunlabs/chu"
	"github.com/rakunlabs/chu/loader/loaderenv"
	"github.com/rakunlabs/logi"

	"github.com/rakunlabs/ocs/internal/llmapi"
)

var Service = ""

type Config struct {
	LogLevel string `cfg:"log_level,no_prefix" default:"info"`

	// Providers is a map of named provider configurations. Each entry's
	// Type selects the adapter package in internal/llm.
	//
	// Supported types:
	//   - "openai":     OpenAI and OpenAI-compatible APIs (OpenRouter,
	//                   DeepSeek, Groq, Ollama, vLLM, ...)
	//   - "anthropic":  Anthropic Claude Messages API
	//   - "gemini":     Google AI (Gemini) via generativelanguage.googleapis.com
	//   - "vertex":     Google Vertex AI via Application Default Credentials
	Providers map[string]LLMConfig `cfg:"providers"`

	// Router configures task-type-to-provider routing and fallback chains
	// for the Model Router.
	Router Router `cfg:"router"`

	// Session configures the Session RAG chunker/indexer.
	Session Session `cfg:"session"`

	// Pipeline configures the Dev Pipeline state machine.
	Pipeline Pipeline `cfg:"pipeline"`

	// Orchestrator configures Sub-Agent spawn defaults.
	Orchestrator Orchestrator `cfg:"orchestrator"`

	// SelfObs configures the Self-Observation synthesis schedule.
	SelfObs SelfObs `cfg:"self_observation"`

	Store      Store      `cfg:"store"`
	Credential Credential `cfg:"credential"`
	Notify     Notify     `cfg:"notify"`
	Server     Server     `cfg:"server"`
}

// Router holds the task-type routing table and per-provider fallback
// chains the Model Router uses to pick a provider (spec §4.5 steps 2-3:
// "provider = forceProvider ?? routes[type] ?? routes.default" then
// "build a provider chain [provider, ...fallbacks[provider]]").
type Router struct {
	// Routes maps a task type (e.g. "summarize", "code", "research") to a
	// provider key in Providers. The "default" key is the fallback used
	// when a task type has no explicit route.
	Routes map[string]string `cfg:"routes"`

	// Fallbacks maps a provider key to the ordered list of providers tried
	// next if it fails with a retryable error.
	Fallbacks map[string][]string `cfg:"fallbacks"`

	// CompletionTimeout bounds a single completion call (spec §5: default 60s).
	CompletionTimeout time.Duration `cfg:"completion_timeout" default:"60s"`

	// EmbeddingTimeout bounds a single embedding call (spec §5: default 15s).
	EmbeddingTimeout time.Duration `cfg:"embedding_timeout" default:"15s"`
}

// Session configures the chunker/indexer in internal/session.
type Session struct {
	// TranscriptDir is the directory of session transcript files the
	// indexer scans (spec §6 "Transcript input": "a directory of session
	// files, each a newline-delimited record stream"; file basename is
	// the session id).
	TranscriptDir string `cfg:"transcript_dir" default:"$HOME/.openclaw/transcripts"`

	// MaxChunkSize is the maximum estimated token count (chars/4) a chunk
	// may hold before it is split (spec §4.10, default 500).
	MaxChunkSize int `cfg:"max_chunk_size" default:"500"`

	// MaxChunksPerSession caps chunks produced per session; excess is
	// warned-and-truncated (spec §4.10, default 2000).
	MaxChunksPerSession int `cfg:"max_chunks_per_session" default:"2000"`

	// OverlapChars is the overlap buffer carried into the next sub-chunk
	// when a chunk is split (spec §4.10, default 200).
	OverlapChars int `cfg:"overlap_chars" default:"200"`

	// BatchSize is how many chunks the indexer processes before yielding
	// to the scheduler (spec §4.10, default 100).
	BatchSize int `cfg:"batch_size" default:"100"`

	// IndexInterval is how often the background indexer scans for new or
	// changed sessions (hardloop-scheduled).
	IndexInterval time.Duration `cfg:"index_interval" default:"5m"`
}

// Pipeline configures the Dev Pipeline engine.
type Pipeline struct {
	// AutoRollup enables advisory auto-transitions between pipeline stages
	// (spec §4.8 "advisory... may be disabled"). Default off.
	AutoRollup bool `cfg:"auto_rollup" default:"false"`
}

// Orchestrator configures Sub-Agent spawn defaults.
type Orchestrator struct {
	// DefaultTimeoutSeconds bounds a spawned sub-agent run (spec §5: 180-600s).
	DefaultTimeoutSeconds int `cfg:"default_timeout_seconds" default:"300"`

	// MaxPromptTokens caps the assembled spawn prompt (spec §4.9: ~5000 tokens).
	MaxPromptTokens int `cfg:"max_prompt_tokens" default:"5000"`
}

// SelfObs configures the weekly synthesis cron job.
type SelfObs struct {
	// Schedule is a cron expression consumed by hardloop (default weekly,
	// Sunday 02:00).
	Schedule string `cfg:"schedule" default:"0 2 * * 0"`
}

type Server struct {
	BasePath string `cfg:"base_path"`
	Port     string `cfg:"port" default:"8080"`
	Host     string `cfg:"host"`

	// Enabled toggles the optional thin HTTP surface (internal/httpapi).
	// The CLI (internal/cli) is the primary interface; the server mirrors
	// it for remote/automation use.
	Enabled bool `cfg:"enabled" default:"false"`
}

// Store configures the single embedded SQLite database (spec §5: "a single
// relational DB file at an operator-configurable path, default under
// $HOME/.openclaw/data/agent.db, WAL enabled").
type Store struct {
	// Datasource is the SQLite file path or DSN. Overridden by the
	// OPENCLAW_DB environment variable per spec §6.
	Datasource string `cfg:"datasource" default:"$HOME/.openclaw/data/agent.db"`

	Migrate Migrate `cfg:"migrate"`
}

type Migrate struct {
	Datasource string            `cfg:"datasource" log:"-"`
	Schema     string            `cfg:"schema"`
	Table      string            `cfg:"table"`
	Values     map[string]string `cfg:"values"`
}

// Credential configures the Credential Service's secrets lookup (spec §4.1:
// env var -> master JSON file -> per-service token files).
type Credential struct {
	// SecretsDir is the directory holding credentials.json and per-service
	// token files (default $HOME/.openclaw/secrets).
	SecretsDir string `cfg:"secrets_dir" default:"$HOME/.openclaw/secrets"`

	// EnvMapping maps a symbolic credential name to the environment
	// variable that holds it (e.g. "openrouter" -> "OPENROUTER_API_KEY").
	EnvMapping map[string]string `cfg:"env_mapping"`

	// CacheTTL is how long a resolved credential is cached (spec §4.1: 60s).
	CacheTTL time.Duration `cfg:"cache_ttl" default:"60s"`

	// EncryptionKey, if set, is passed through crypto.DeriveKey and used to
	// encrypt values written to credentials.json, and to decrypt them on
	// read. Empty means credentials are stored as provided (plaintext).
	EncryptionKey string `cfg:"encryption_key" log:"-"`
}

// Notify configures the outbound notifier used for Self-Observation and
// Activity digests.
type Notify struct {
	Telegram *NotifyTelegram `cfg:"telegram"`
}

type NotifyTelegram struct {
	BotToken string `cfg:"bot_token" log:"-"`
	ChatID   int64  `cfg:"chat_id"`
}

// LLMConfig describes a single LLM provider configuration.
type LLMConfig struct {
	// Type is the provider type: "anthropic", "openai", "vertex", or "gemini".
	Type string `cfg:"type" json:"type"`

	// APIKey is the authentication key for the provider. Optional for
	// "vertex" (uses ADC) and local OpenAI-compatible endpoints.
	APIKey string `cfg:"api_key" json:"api_key" log:"-"`

	// BaseURL is the full endpoint URL for the provider's API. Each
	// adapter falls back to its own default when empty.
	BaseURL string `cfg:"base_url" json:"base_url"`

	// EmbedURL overrides the embeddings endpoint for "openai"-type
	// providers (defaults to BaseURL's embeddings sibling).
	EmbedURL string `cfg:"embed_url" json:"embed_url"`

	// Model is the default model identifier (e.g. "gpt-4o-mini", "claude-haiku-4-5").
	Model string `cfg:"model" json:"model"`

	// ExtraHeaders allows setting additional HTTP headers sent with each request.
	ExtraHeaders map[string]string `cfg:"extra_headers" json:"extra_headers"`

	// Cost is the provider's per-million-token pricing, used by the
	// router's cost accounting (spec §3 TokenUsage.cost_usd).
	Cost Cost `cfg:"cost" json:"cost"`

	// Project/Location are only used by the "vertex" type.
	Project  string `cfg:"project" json:"project"`
	Location string `cfg:"location" json:"location"`
}

// Cost mirrors llmapi.Cost for config-file decoding.
type Cost struct {
	In  float64 `cfg:"in" json:"in"`
	Out float64 `cfg:"out" json:"out"`
}

func (c Cost) ToLLMAPI() llmapi.Cost {
	return llmapi.Cost{In: c.In, Out: c.Out}
}

func Load(ctx context.Context, path string) (*Config, error) {
	var cfg Config
	if err := chu.Load(ctx, path, &cfg, chu.WithLoaderOption(loaderenv.New(loaderenv.WithPrefix("OCS_")))); err != nil {
		return nil, err
	}

	// OPENCLAW_DB is a dedicated override outside the OCS_ prefix convention.
	if dbPath := os.Getenv("OPENCLAW_DB"); dbPath != "" {
		cfg.Store.Datasource = dbPath
	}

	// Path-shaped defaults are written as "$HOME/..." for readability;
	// expand them here since chu's default tag does not.
	cfg.Store.Datasource = os.ExpandEnv(cfg.Store.Datasource)
	cfg.Credential.SecretsDir = os.ExpandEnv(cfg.Credential.SecretsDir)
	cfg.Session.TranscriptDir = os.ExpandEnv(cfg.Session.TranscriptDir)

	if err := logi.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("set log level %s: %w", cfg.LogLevel, err)
	}

	slog.Info("loaded configuration", "config", chu.MarshalMap(cfg))

	return &cfg, nil
}
