// Package activity is the append-only event stream (D): the primary
// audit trail, with a context-inheriting auto-log wrapper whose logging
// failures are deliberately silent (spec §4.4, §9).
package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/oklog/ulid/v2"

	"github.com/rakunlabs/ocs/internal/storage/sqlite3"
)

// execer is satisfied by both *sql.DB and *sql.Tx, letting LogFullTx append
// a row as part of a caller-owned transaction instead of its own
// autocommit statement.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Entry mirrors the Activity table (spec §3).
type Entry struct {
	ID          string
	Action      string
	Category    string
	Description string
	Metadata    map[string]interface{}
	SessionID   string
	Source      string
	RelatedID   string
	CreatedAt   time.Time
}

// Log is the append-only writer over the activity table.
type Log struct {
	db *sqlite3.SQLite
}

func New(db *sqlite3.SQLite) *Log {
	return &Log{db: db}
}

// LogSimple is the abbreviated form of logFull (spec §4.4).
func (l *Log) LogSimple(ctx context.Context, action, description, category string, source, relatedID string) error {
	return l.LogFull(ctx, Entry{
		Action:      action,
		Description: description,
		Category:    category,
		Source:      source,
		RelatedID:   relatedID,
	})
}

// LogFull writes a complete activity row as its own autocommit statement.
func (l *Log) LogFull(ctx context.Context, e Entry) error {
	return l.logFull(ctx, l.db.DB(), e)
}

// LogFullTx writes a complete activity row using tx, so the insert commits
// or rolls back atomically with whatever else the caller is doing in the
// same transaction (spec §4.8's "update -> append an Activity record" must
// be atomic).
func (l *Log) LogFullTx(ctx context.Context, tx *sql.Tx, e Entry) error {
	return l.logFull(ctx, tx, e)
}

func (l *Log) logFull(ctx context.Context, exec execer, e Entry) error {
	metadataJSON := "{}"
	if e.Metadata != nil {
		data, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		metadataJSON = string(data)
	}

	record := goqu.Record{
		"id":          ulid.Make().String(),
		"action":      e.Action,
		"category":    nullableString(e.Category),
		"description": nullableString(e.Description),
		"metadata":    metadataJSON,
		"session_id":  nullableString(e.SessionID),
		"source":      nullableString(e.Source),
		"related_id":  nullableString(e.RelatedID),
		"created_at":  time.Now().UTC().Format(time.RFC3339Nano),
	}

	query, _, err := l.db.Goqu().Insert(l.db.Table("activity")).Rows(record).ToSQL()
	if err != nil {
		return fmt.Errorf("build activity insert: %w", err)
	}

	_, err = exec.ExecContext(ctx, query)

	return err
}

// GetRecent returns the most recent entries, optionally filtered by
// source/relatedID.
func (l *Log) GetRecent(ctx context.Context, limit int, source, relatedID string) ([]Entry, error) {
	ds := l.db.Goqu().From(l.db.Table("activity")).
		Select("id", "action", "category", "description", "metadata", "session_id", "source", "related_id", "created_at").
		Order(goqu.I("created_at").Desc()).
		Limit(uint(limit))

	if source != "" {
		ds = ds.Where(goqu.I("source").Eq(source))
	}
	if relatedID != "" {
		ds = ds.Where(goqu.I("related_id").Eq(relatedID))
	}

	return l.queryEntries(ctx, ds)
}

func (l *Log) GetByCategory(ctx context.Context, category string, limit int) ([]Entry, error) {
	ds := l.db.Goqu().From(l.db.Table("activity")).
		Select("id", "action", "category", "description", "metadata", "session_id", "source", "related_id", "created_at").
		Where(goqu.I("category").Eq(category)).
		Order(goqu.I("created_at").Desc()).
		Limit(uint(limit))

	return l.queryEntries(ctx, ds)
}

func (l *Log) GetByAction(ctx context.Context, action string, limit int) ([]Entry, error) {
	ds := l.db.Goqu().From(l.db.Table("activity")).
		Select("id", "action", "category", "description", "metadata", "session_id", "source", "related_id", "created_at").
		Where(goqu.I("action").Eq(action)).
		Order(goqu.I("created_at").Desc()).
		Limit(uint(limit))

	return l.queryEntries(ctx, ds)
}

func (l *Log) GetByDateRange(ctx context.Context, since, until time.Time, limit int) ([]Entry, error) {
	ds := l.db.Goqu().From(l.db.Table("activity")).
		Select("id", "action", "category", "description", "metadata", "session_id", "source", "related_id", "created_at").
		Where(goqu.I("created_at").Gte(since.Format(time.RFC3339Nano)), goqu.I("created_at").Lte(until.Format(time.RFC3339Nano))).
		Order(goqu.I("created_at").Desc()).
		Limit(uint(limit))

	return l.queryEntries(ctx, ds)
}

// Stats is the getStats(period) rollup.
type Stats struct {
	TotalCount   int64
	ByCategory   map[string]int64
	ByAction     map[string]int64
}

func (l *Log) GetStats(ctx context.Context, since time.Time) (*Stats, error) {
	entries, err := l.GetByDateRange(ctx, since, time.Now().UTC(), 100000)
	if err != nil {
		return nil, err
	}

	stats := &Stats{ByCategory: map[string]int64{}, ByAction: map[string]int64{}}
	for _, e := range entries {
		stats.TotalCount++
		if e.Category != "" {
			stats.ByCategory[e.Category]++
		}
		stats.ByAction[e.Action]++
	}

	return stats, nil
}

// GetDigest returns a bounded summary for the requested period, used by
// notify's digest delivery.
func (l *Log) GetDigest(ctx context.Context, since time.Time, limit int) ([]Entry, error) {
	return l.GetByDateRange(ctx, since, time.Now().UTC(), limit)
}

func (l *Log) queryEntries(ctx context.Context, ds *goqu.SelectDataset) ([]Entry, error) {
	query, _, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build activity query: %w", err)
	}

	rows, err := l.db.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			id, action, createdAt                       string
			category, description, sessionID, source, relatedID *string
			metadataJSON                                 string
		)

		if err := rows.Scan(&id, &action, &category, &description, &metadataJSON, &sessionID, &source, &relatedID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan activity row: %w", err)
		}

		e := Entry{ID: id, Action: action}
		if category != nil {
			e.Category = *category
		}
		if description != nil {
			e.Description = *description
		}
		if sessionID != nil {
			e.SessionID = *sessionID
		}
		if source != nil {
			e.Source = *source
		}
		if relatedID != nil {
			e.RelatedID = *relatedID
		}
		if metadataJSON != "" {
			_ = json.Unmarshal([]byte(metadataJSON), &e.Metadata)
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			e.CreatedAt = t
		}

		out = append(out, e)
	}

	return out, rows.Err()
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}

	return s
}
