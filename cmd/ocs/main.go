package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/rakunlabs/into"
	"github.com/rakunlabs/logi"
	"github.com/worldline-go/hardloop"

	"github.com/rakunlabs/ocs/internal/activity"
	"github.com/rakunlabs/ocs/internal/cli"
	"github.com/rakunlabs/ocs/internal/config"
	"github.com/rakunlabs/ocs/internal/credential"
	"github.com/rakunlabs/ocs/internal/embedding"
	"github.com/rakunlabs/ocs/internal/httpapi"
	"github.com/rakunlabs/ocs/internal/knowledge"
	"github.com/rakunlabs/ocs/internal/llm/anthropic"
	"github.com/rakunlabs/ocs/internal/llm/gemini"
	"github.com/rakunlabs/ocs/internal/llm/openai"
	"github.com/rakunlabs/ocs/internal/llm/vertex"
	"github.com/rakunlabs/ocs/internal/llmapi"
	"github.com/rakunlabs/ocs/internal/notify"
	"github.com/rakunlabs/ocs/internal/orchestrator"
	"github.com/rakunlabs/ocs/internal/pipeline"
	"github.com/rakunlabs/ocs/internal/router"
	"github.com/rakunlabs/ocs/internal/selfobs"
	"github.com/rakunlabs/ocs/internal/session"
	"github.com/rakunlabs/ocs/internal/storage/sqlite3"
	"github.com/rakunlabs/ocs/internal/store"
)

var (
	name    = "ocs"
	version = "v0.0.0"
)

func main() {
	config.Service = name + "/" + version

	into.Init(run,
		into.WithLogger(logi.InitializeLog(logi.WithCaller(false))),
		into.WithMsgf("%s [%s]", name, version),
	)
}

func run(ctx context.Context) error {
	cfg, err := config.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	db, err := sqlite3.New(ctx, &cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	creds := credential.New(cfg.Credential.SecretsDir, cfg.Credential.EnvMapping, cfg.Credential.CacheTTL, cfg.Credential.EncryptionKey)

	providers, embedEntries, err := buildProviders(cfg, creds)
	if err != nil {
		return fmt.Errorf("failed to build providers: %w", err)
	}

	rt := router.New(cfg.Router, db)
	for providerName, p := range providers {
		rt.RegisterProvider(providerName, p)
	}

	embedder := embedding.New(db, cfg.Router.EmbeddingTimeout, embedEntries...)

	activities := activity.New(db)
	tasks := store.NewTasks(db)
	memories := store.NewMemories(db, embedder)
	knowledgeCache := knowledge.New(db, embedder)
	pipelines := pipeline.New(db, activities, cfg.Pipeline.AutoRollup)

	contextualizer := session.NewContextualizer(rt)
	indexer := session.NewIndexer(db, embedder, contextualizer, activities, cfg.Session)

	orc := orchestrator.New(memories, modelTiers(cfg), cfg.Orchestrator.MaxPromptTokens)
	_ = orc // assembled for future sub-agent spawn surfaces; not yet exposed over the CLI (spec §6 enumerates no orchestrator verb)

	obsRecorder := selfobs.NewRecorder(activities)
	obsStore := selfobs.NewStore(db)
	synthesizer := selfobs.NewSynthesizer(activities, obsStore, rt)
	_ = obsRecorder

	var notifier notify.Notifier
	if cfg.Notify.Telegram != nil {
		tg, err := notify.NewTelegram(cfg.Notify.Telegram)
		if err != nil {
			slog.Warn("telegram notifier not configured", "error", err)
		} else {
			notifier = tg
		}
	}

	if err := startBackgroundJobs(ctx, cfg, indexer, synthesizer, notifier); err != nil {
		return fmt.Errorf("failed to start background jobs: %w", err)
	}

	app := &cli.App{
		Activities:    activities,
		Tasks:         tasks,
		Memories:      memories,
		Knowledge:     knowledgeCache,
		Pipelines:     pipelines,
		Indexer:       indexer,
		Out:           os.Stdout,
		TranscriptDir: cfg.Session.TranscriptDir,
	}

	if cfg.Server.Enabled {
		httpSrv, err := httpapi.New(cfg.Server, app)
		if err != nil {
			return fmt.Errorf("failed to build http api: %w", err)
		}

		go func() {
			if err := httpSrv.Start(ctx); err != nil && ctx.Err() == nil {
				slog.Error("http api stopped", "error", err)
			}
		}()
	}

	args := os.Args[1:]
	if len(args) == 0 {
		slog.Info("no command given, running as a background daemon")
		<-ctx.Done()
		db.Close()

		return nil
	}

	code := app.Dispatch(ctx, args)
	db.Close()
	os.Exit(code)

	return nil
}

// buildProviders wires each configured provider to its internal/llm
// adapter by Type, and separately collects the subset that also
// implement llmapi.EmbedProvider (only "openai" and "gemini" do) for the
// embedding client's fallback chain.
func buildProviders(cfg *config.Config, creds *credential.Service) (map[string]llmapi.Provider, []struct {
	Name     string
	Provider llmapi.EmbedProvider
	Cost     llmapi.Cost
}, error,
) {
	providers := make(map[string]llmapi.Provider, len(cfg.Providers))

	var embedEntries []struct {
		Name     string
		Provider llmapi.EmbedProvider
		Cost     llmapi.Cost
	}

	for providerName, pc := range cfg.Providers {
		apiKey := pc.APIKey
		if apiKey == "" {
			apiKey = creds.Get(providerName)
		}

		switch pc.Type {
		case "openai":
			p, err := openai.New(providerName, apiKey, pc.Model, pc.BaseURL, pc.EmbedURL, pc.Cost.ToLLMAPI(), pc.ExtraHeaders)
			if err != nil {
				return nil, nil, fmt.Errorf("build openai provider %s: %w", providerName, err)
			}
			providers[providerName] = p
			embedEntries = append(embedEntries, struct {
				Name     string
				Provider llmapi.EmbedProvider
				Cost     llmapi.Cost
			}{Name: providerName, Provider: p, Cost: pc.Cost.ToLLMAPI()})

		case "anthropic":
			p, err := anthropic.New(apiKey, pc.Model, pc.BaseURL, 4096, pc.Cost.ToLLMAPI())
			if err != nil {
				return nil, nil, fmt.Errorf("build anthropic provider %s: %w", providerName, err)
			}
			providers[providerName] = p

		case "gemini":
			p, err := gemini.New(apiKey, pc.Model, pc.BaseURL, pc.Cost.ToLLMAPI())
			if err != nil {
				return nil, nil, fmt.Errorf("build gemini provider %s: %w", providerName, err)
			}
			providers[providerName] = p
			embedEntries = append(embedEntries, struct {
				Name     string
				Provider llmapi.EmbedProvider
				Cost     llmapi.Cost
			}{Name: providerName, Provider: p, Cost: pc.Cost.ToLLMAPI()})

		case "vertex":
			p, err := vertex.New(context.Background(), pc.Project, pc.Location, pc.Model, pc.Cost.ToLLMAPI())
			if err != nil {
				return nil, nil, fmt.Errorf("build vertex provider %s: %w", providerName, err)
			}
			providers[providerName] = p

		default:
			return nil, nil, fmt.Errorf("unknown provider type %q for %s", pc.Type, providerName)
		}
	}

	return providers, embedEntries, nil
}

// modelTiers maps the orchestrator's tier names to the router key
// assigned the "reasoning" and "default" routes (spec §4.9 "Per-role
// defaults" pick a model tier, not a literal provider).
func modelTiers(cfg *config.Config) map[string]string {
	tiers := map[string]string{}
	if p, ok := cfg.Router.Routes["reasoning"]; ok {
		tiers["reasoning"] = p
	}
	if p, ok := cfg.Router.Routes["default"]; ok {
		tiers["cheap"] = p
	}

	return tiers
}

// startBackgroundJobs schedules the periodic session re-index scan and
// the weekly Self-Observation synthesis via hardloop cron jobs (spec
// §4.10 background indexing, §4.11 weekly synthesis schedule).
func startBackgroundJobs(ctx context.Context, cfg *config.Config, indexer *session.Indexer, synthesizer *selfobs.Synthesizer, notifier notify.Notifier) error {
	crons := []hardloop.Cron{
		{
			Name:  "session-index",
			Specs: []string{"@every " + cfg.Session.IndexInterval.String()},
			Func: func(ctx context.Context) error {
				return reindexTranscripts(ctx, cfg.Session.TranscriptDir, indexer)
			},
		},
	}

	if cfg.SelfObs.Schedule != "" {
		crons = append(crons, hardloop.Cron{
			Name:  "self-observation-synthesis",
			Specs: []string{cfg.SelfObs.Schedule},
			Func: func(ctx context.Context) error {
				observations, err := synthesizer.Run(ctx, weekStart())
				if err != nil {
					return err
				}

				if notifier != nil && len(observations) > 0 {
					_ = notifier.Send(ctx, fmt.Sprintf("self-observation: %d new observations this week", len(observations)))
				}

				return nil
			},
		})
	}

	job, err := hardloop.NewCron(crons...)
	if err != nil {
		return fmt.Errorf("create cron runner: %w", err)
	}

	return job.Start(ctx)
}

func reindexTranscripts(ctx context.Context, dir string, indexer *session.Indexer) error {
	if dir == "" {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("read transcript dir: %w", err)
	}

	var live []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		sessionID := stripExt(e.Name())
		live = append(live, sessionID)

		if err := indexer.IndexFile(ctx, sessionID, dir+"/"+e.Name()); err != nil {
			slog.Warn("background session index failed", "session_id", sessionID, "error", err)
		}
	}

	return indexer.PurgeOrphans(ctx, live)
}

// weekStart returns the most recent Monday at midnight UTC, the synthesis
// window boundary the cron-scheduled run synthesizes over.
func weekStart() time.Time {
	now := time.Now().UTC()
	offset := int(now.Weekday()) - int(time.Monday)
	if offset < 0 {
		offset += 7
	}

	d := now.AddDate(0, 0, -offset)

	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

func stripExt(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[:i]
		}
	}

	return name
}
