// Package knowledge is the Knowledge Cache (G): reusable facts with FTS5
// keyword search (spec §4.7). Add stores an embedding of each entry when an
// embedding client is configured; no Cache method reads the stored vectors,
// so search is keyword-only, with no semantic ranking.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/oklog/ulid/v2"
	"github.com/worldline-go/types"

	"github.com/rakunlabs/ocs/internal/embedding"
	"github.com/rakunlabs/ocs/internal/storage/sqlite3"
)

// Entry mirrors the knowledge_cache table (spec §3). ExpiresAt follows the
// zero-value-means-no-expiry convention for optional timestamps.
type Entry struct {
	ID            string
	Title         string
	Summary       string
	SourceType    string
	SourceURL     string
	SourceSession string
	TopicTags     []string
	Entities      []string
	Confidence    float64
	Importance    float64
	Verified      bool
	SupersededBy  string
	ExpiresAt     types.Null[types.Time]
	CreatedAt     types.Time
	UpdatedAt     types.Time
}

// Match pairs an Entry with its FTS5-derived search score.
type Match struct {
	Entry Entry
	Score float64
}

// Cache is the CRUD + search surface over knowledge_cache.
type Cache struct {
	db       *sqlite3.SQLite
	embedder *embedding.Client
}

func New(db *sqlite3.SQLite, embedder *embedding.Client) *Cache {
	return &Cache{db: db, embedder: embedder}
}

// Add inserts a knowledge entry, computing and storing an embedding by
// default (spec §4.7 "add() computes and stores an embedding by default").
func (c *Cache) Add(ctx context.Context, e Entry, skipEmbedding bool) (*Entry, error) {
	if e.Title == "" || e.Summary == "" {
		return nil, fmt.Errorf("knowledge: title and summary are required")
	}
	if e.SourceType == "" {
		e.SourceType = "manual"
	}
	if e.Confidence == 0 {
		e.Confidence = 0.5
	}
	if e.Importance == 0 {
		e.Importance = 0.5
	}
	if e.TopicTags == nil {
		e.TopicTags = []string{}
	}
	if e.Entities == nil {
		e.Entities = []string{}
	}

	now := types.NewTime(time.Now().UTC())
	e.ID = ulid.Make().String()
	e.CreatedAt = now
	e.UpdatedAt = now

	var vectorBlob []byte
	if !skipEmbedding && c.embedder != nil {
		result, err := c.embedder.Generate(ctx, e.Title+"\n"+e.Summary, embedding.Opts{Source: "knowledge"})
		if err != nil {
			return nil, fmt.Errorf("generate knowledge embedding: %w", err)
		}
		vectorBlob = embedding.EncodeVector(result.Vector)
	}

	tagsJSON, _ := json.Marshal(e.TopicTags)
	entitiesJSON, _ := json.Marshal(e.Entities)

	record := goqu.Record{
		"id":             e.ID,
		"title":          e.Title,
		"summary":        e.Summary,
		"source_type":    e.SourceType,
		"source_url":     nullableString(e.SourceURL),
		"source_session": nullableString(e.SourceSession),
		"topic_tags":     string(tagsJSON),
		"entities":       string(entitiesJSON),
		"confidence":     e.Confidence,
		"importance":     e.Importance,
		"verified":       boolToInt(e.Verified),
		"superseded_by":  nil,
		"expires_at":     e.ExpiresAt,
		"embedding":      vectorBlob,
		"created_at":     now,
		"updated_at":     now,
	}

	query, _, err := c.db.Goqu().Insert(c.db.Table("knowledge_cache")).Rows(record).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build knowledge_cache insert: %w", err)
	}

	if _, err := c.db.DB().ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("insert knowledge entry: %w", err)
	}

	return &e, nil
}

// SearchOpts configures Search.
type SearchOpts struct {
	Limit              int
	IncludeExpired     bool
	WeightByImportance bool
}

// escapeFTSTerm quotes a term for safe inclusion in an FTS5 MATCH query,
// doubling any embedded double-quotes (spec §4.7: "FTS5 MATCH with escaped
// terms").
func escapeFTSTerm(term string) string {
	return `"` + strings.ReplaceAll(term, `"`, `""`) + `"`
}

// Search runs an FTS5 MATCH query over title/summary/topic_tags. When
// WeightByImportance is set, results are re-ranked by rank·(1+importance)
// (lower is better under FTS5's bm25-derived rank) (spec §4.7).
func (c *Cache) Search(ctx context.Context, query string, opts SearchOpts) ([]Match, error) {
	limit := opts.Limit
	if limit == 0 {
		limit = 10
	}

	matchExpr := escapeFTSTerm(query)

	sql := fmt.Sprintf(
		`SELECT k.id, k.title, k.summary, k.source_type, k.source_url, k.source_session,
			k.topic_tags, k.entities, k.confidence, k.importance, k.verified,
			k.superseded_by, k.expires_at, k.created_at, k.updated_at, f.rank
		FROM %s f
		JOIN %s k ON k.rowid = f.rowid
		WHERE f MATCH ?`,
		c.db.TableName("knowledge_fts"), c.db.TableName("knowledge_cache"),
	)

	args := []interface{}{matchExpr}

	if !opts.IncludeExpired {
		sql += " AND (k.expires_at IS NULL OR k.expires_at > ?)"
		args = append(args, types.NewTime(time.Now().UTC()))
	}

	sql += " ORDER BY f.rank LIMIT ?"
	args = append(args, limit*4)

	rows, err := c.db.DB().QueryContext(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("fts5 search: %w", err)
	}
	defer rows.Close()

	var matches []Match

	for rows.Next() {
		var (
			id, title, summary, sourceType, tagsJSON, entitiesJSON string
			sourceURL, sourceSession, supersededBy                 *string
			confidence, importance, rank                           float64
			verified                                               int
			e                                                      Entry
		)

		if err := rows.Scan(&id, &title, &summary, &sourceType, &sourceURL, &sourceSession,
			&tagsJSON, &entitiesJSON, &confidence, &importance, &verified,
			&supersededBy, &e.ExpiresAt, &e.CreatedAt, &e.UpdatedAt, &rank); err != nil {
			return nil, fmt.Errorf("scan knowledge search row: %w", err)
		}

		e.ID, e.Title, e.Summary, e.SourceType = id, title, summary, sourceType
		e.Confidence, e.Importance, e.Verified = confidence, importance, verified != 0
		if sourceURL != nil {
			e.SourceURL = *sourceURL
		}
		if sourceSession != nil {
			e.SourceSession = *sourceSession
		}
		if supersededBy != nil {
			e.SupersededBy = *supersededBy
		}
		_ = json.Unmarshal([]byte(tagsJSON), &e.TopicTags)
		_ = json.Unmarshal([]byte(entitiesJSON), &e.Entities)

		score := rank
		if opts.WeightByImportance {
			score = rank * (1 + importance)
		}

		matches = append(matches, Match{Entry: e, Score: score})
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if opts.WeightByImportance {
		sortByScoreAsc(matches)
	}

	if len(matches) > limit {
		matches = matches[:limit]
	}

	return matches, nil
}

func sortByScoreAsc(matches []Match) {
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && matches[j].Score < matches[j-1].Score; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}
}

// Supersede inserts newEntry and marks oldID's row as superseded by it
// (spec §4.7).
func (c *Cache) Supersede(ctx context.Context, oldID string, newEntry Entry, skipEmbedding bool) (*Entry, error) {
	created, err := c.Add(ctx, newEntry, skipEmbedding)
	if err != nil {
		return nil, err
	}

	query, _, err := c.db.Goqu().Update(c.db.Table("knowledge_cache")).
		Set(goqu.Record{"superseded_by": created.ID, "updated_at": types.NewTime(time.Now().UTC())}).
		Where(goqu.I("id").Eq(oldID)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build supersede update: %w", err)
	}

	if _, err := c.db.DB().ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("mark superseded: %w", err)
	}

	return created, nil
}

// entryColumns is the explicit column list backing scanEntryRows, deliberately
// excluding the embedding BLOB (spec §4.7: vectors are write-only from the
// cache's read surface).
var entryColumns = []interface{}{
	"id", "title", "summary", "source_type", "source_url", "source_session",
	"topic_tags", "entities", "confidence", "importance", "verified",
	"superseded_by", "expires_at", "created_at", "updated_at",
}

// Get retrieves a single entry by id.
func (c *Cache) Get(ctx context.Context, id string) (*Entry, error) {
	query, _, err := c.db.Goqu().From(c.db.Table("knowledge_cache")).Select(entryColumns...).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build knowledge get query: %w", err)
	}

	row := c.db.DB().QueryRowContext(ctx, query)

	return scanEntryRow(row)
}

// ListOpts filters List (spec addition: `knowledge list` CLI verb).
type ListOpts struct {
	SourceType     string
	Verified       *bool
	IncludeExpired bool
	Limit          int
}

// List returns entries ordered by most recently updated, optionally
// filtered by source type and verification status.
func (c *Cache) List(ctx context.Context, opts ListOpts) ([]Entry, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	ds := c.db.Goqu().From(c.db.Table("knowledge_cache")).Select(entryColumns...)
	if opts.SourceType != "" {
		ds = ds.Where(goqu.I("source_type").Eq(opts.SourceType))
	}
	if opts.Verified != nil {
		ds = ds.Where(goqu.I("verified").Eq(boolToInt(*opts.Verified)))
	}
	if !opts.IncludeExpired {
		ds = ds.Where(goqu.Or(goqu.I("expires_at").IsNull(), goqu.I("expires_at").Gt(types.NewTime(time.Now().UTC()))))
	}
	ds = ds.Order(goqu.I("updated_at").Desc()).Limit(uint(limit))

	query, _, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build knowledge list query: %w", err)
	}

	rows, err := c.db.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list knowledge: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntryRows(rows)
		if err != nil {
			return nil, err
		}

		entries = append(entries, *e)
	}

	return entries, rows.Err()
}

// Verify marks an entry as human-confirmed (spec addition: `knowledge
// verify` CLI verb — distinguishes curator-confirmed facts from raw
// auto-extracted ones).
func (c *Cache) Verify(ctx context.Context, id string) error {
	query, _, err := c.db.Goqu().Update(c.db.Table("knowledge_cache")).
		Set(goqu.Record{"verified": 1, "updated_at": types.NewTime(time.Now().UTC())}).
		Where(goqu.I("id").Eq(id)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build verify update: %w", err)
	}

	_, err = c.db.DB().ExecContext(ctx, query)

	return err
}

// Stats summarises the cache's contents (spec addition: `knowledge stats`
// CLI verb).
type Stats struct {
	Total        int64
	Verified     int64
	Expired      int64
	BySourceType map[string]int64
}

func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	s.BySourceType = map[string]int64{}

	table := c.db.TableName("knowledge_cache")

	if err := c.db.DB().QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&s.Total); err != nil {
		return s, fmt.Errorf("count knowledge_cache: %w", err)
	}

	if err := c.db.DB().QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE verified = 1", table)).Scan(&s.Verified); err != nil {
		return s, fmt.Errorf("count verified: %w", err)
	}

	if err := c.db.DB().QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE expires_at IS NOT NULL AND expires_at <= ?", table),
		types.NewTime(time.Now().UTC())).Scan(&s.Expired); err != nil {
		return s, fmt.Errorf("count expired: %w", err)
	}

	rows, err := c.db.DB().QueryContext(ctx, fmt.Sprintf("SELECT source_type, COUNT(*) FROM %s GROUP BY source_type", table))
	if err != nil {
		return s, fmt.Errorf("group by source_type: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sourceType string
		var count int64
		if err := rows.Scan(&sourceType, &count); err != nil {
			return s, fmt.Errorf("scan source_type group: %w", err)
		}

		s.BySourceType[sourceType] = count
	}

	return s, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntryRow(row rowScanner) (*Entry, error) {
	return scanEntryRows(row)
}

func scanEntryRows(row rowScanner) (*Entry, error) {
	var (
		id, title, summary, sourceType, tagsJSON, entitiesJSON string
		sourceURL, sourceSession, supersededBy                 *string
		confidence, importance                                 float64
		verified                                                int
		e                                                       Entry
	)

	if err := row.Scan(&id, &title, &summary, &sourceType, &sourceURL, &sourceSession,
		&tagsJSON, &entitiesJSON, &confidence, &importance, &verified,
		&supersededBy, &e.ExpiresAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scan knowledge entry: %w", err)
	}

	e.ID, e.Title, e.Summary, e.SourceType = id, title, summary, sourceType
	e.Confidence, e.Importance, e.Verified = confidence, importance, verified != 0
	if sourceURL != nil {
		e.SourceURL = *sourceURL
	}
	if sourceSession != nil {
		e.SourceSession = *sourceSession
	}
	if supersededBy != nil {
		e.SupersededBy = *supersededBy
	}
	_ = json.Unmarshal([]byte(tagsJSON), &e.TopicTags)
	_ = json.Unmarshal([]byte(entitiesJSON), &e.Entities)

	return &e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}

	return s
}
