// Package sqlite3 owns the single embedded relational database (spec §3):
// connection setup under WAL journaling with a single writer, idempotent
// migrations, and basic operability helpers (Healthcheck, Stats); no other
// package in this module calls those two helpers.
package sqlite3

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/doug-martin/goqu/v9/exp"

	_ "modernc.org/sqlite"

	"github.com/rakunlabs/ocs/internal/config"
)

// DefaultTablePrefix matches the teacher's convention of a short,
// deployment-specific table prefix.
var DefaultTablePrefix = "ocs_"

// SQLite is the shared connection handle every store/* and session/*
// package builds its queries against.
type SQLite struct {
	db   *sql.DB
	goqu *goqu.Database

	tablePrefix string
}

// New opens the database, runs migrations, and configures WAL + single
// writer semantics (spec §5: "one DB writer is assumed at a time; readers
// are unconstrained under the WAL").
func New(ctx context.Context, cfg *config.Store) (*SQLite, error) {
	if cfg == nil {
		return nil, errors.New("store configuration is nil")
	}

	if cfg.Datasource == "" {
		return nil, errors.New("sqlite datasource is required")
	}

	if dir := dirOf(cfg.Datasource); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create datasource directory: %w", err)
		}
	}

	migrate := cfg.Migrate
	if migrate.Table == "" {
		migrate.Table = "migrations"
	}
	if migrate.Datasource == "" {
		migrate.Datasource = cfg.Datasource
	}
	migrate.Table = DefaultTablePrefix + migrate.Table
	if migrate.Values == nil {
		migrate.Values = make(map[string]string)
	}
	migrate.Values["TABLE_PREFIX"] = DefaultTablePrefix

	if err := MigrateDB(ctx, &migrate); err != nil {
		return nil, fmt.Errorf("migrate store sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Datasource)
	if err != nil {
		return nil, fmt.Errorf("open sqlite connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()

		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()

		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()

		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// SQLite is single-writer; limit connections accordingly.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	slog.Info("connected to store sqlite", "datasource", cfg.Datasource)

	return &SQLite{
		db:          db,
		goqu:        goqu.New("sqlite3", db),
		tablePrefix: DefaultTablePrefix,
	}, nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}

	return ""
}

func (s *SQLite) Close() {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Error("close store sqlite connection", "error", err)
		}
	}
}

// DB exposes the raw *sql.DB for packages that need direct query access.
func (s *SQLite) DB() *sql.DB { return s.db }

// Goqu exposes the query builder bound to this connection.
func (s *SQLite) Goqu() *goqu.Database { return s.goqu }

// Table returns the prefixed table identifier for name (e.g. "tasks" ->
// "ocs_tasks").
func (s *SQLite) Table(name string) exp.IdentifierExpression {
	return goqu.T(s.tablePrefix + name)
}

// TableName returns the prefixed table name as a plain string, for use in
// raw SQL fragments (e.g. the FTS5 MATCH clause goqu cannot model).
func (s *SQLite) TableName(name string) string {
	return s.tablePrefix + name
}

// Healthcheck verifies the connection is alive and the database file is
// not corrupt (spec addition, §2 "Storage Engine additionally exposes a
// Healthcheck").
func (s *SQLite) Healthcheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}

	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}

	return nil
}

// Stats reports per-table row counts for general operability (spec
// addition, §2). The CLI's `session-memory --status` reports the session
// indexer's Health instead and does not call it.
type Stats struct {
	TableRowCounts map[string]int64
}

var statsTables = []string{
	"projects", "tasks", "pipeline_items", "pipeline_tasks", "pipeline_notes",
	"memories", "memory_embeddings", "knowledge_cache", "session_chunks",
	"token_usage", "session_costs", "activity", "self_observations",
	"contacts", "content_items", "social_posts", "error_log", "health_checks",
}

func (s *SQLite) Stats(ctx context.Context) (Stats, error) {
	out := Stats{TableRowCounts: make(map[string]int64, len(statsTables))}

	for _, name := range statsTables {
		query, _, err := s.goqu.From(s.Table(name)).Select(goqu.COUNT("*")).ToSQL()
		if err != nil {
			return Stats{}, fmt.Errorf("build count query for %s: %w", name, err)
		}

		var count int64
		if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
			return Stats{}, fmt.Errorf("count %s: %w", name, err)
		}

		out.TableRowCounts[name] = count
	}

	return out, nil
}
