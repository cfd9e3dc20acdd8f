package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/oklog/ulid/v2"

	"github.com/rakunlabs/ocs/internal/embedding"
	"github.com/rakunlabs/ocs/internal/storage/sqlite3"
)

// Memory mirrors the memories table (spec §3).
type Memory struct {
	ID        string
	Category  string
	Subject   string
	Content   string
	Importance int
	Source    string
	ExpiresAt string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MemoryMatch is a semantic search hit.
type MemoryMatch struct {
	Memory     Memory
	Similarity float64
}

// Memories is the CRUD + semantic search surface over memories and
// memory_embeddings (spec §4.6).
type Memories struct {
	db       *sqlite3.SQLite
	embedder *embedding.Client
}

func NewMemories(db *sqlite3.SQLite, embedder *embedding.Client) *Memories {
	return &Memories{db: db, embedder: embedder}
}

// AddOpts configures AddMemory.
type AddOpts struct {
	GenerateEmbedding bool
	Model             string
}

// AddMemory inserts a memory and, if requested, generates its embedding in
// the same call, writing both memories.embedding and a memory_embeddings
// row (spec §4.6).
func (m *Memories) AddMemory(ctx context.Context, mem Memory, opts AddOpts) (*Memory, error) {
	if mem.Content == "" {
		return nil, fmt.Errorf("store: memory content is required")
	}
	if mem.Category == "" {
		mem.Category = "fact"
	}
	if mem.Importance == 0 {
		mem.Importance = 5
	}

	now := time.Now().UTC()
	mem.ID = ulid.Make().String()
	mem.CreatedAt = now
	mem.UpdatedAt = now

	var vectorBlob []byte
	var model string

	if opts.GenerateEmbedding && m.embedder != nil {
		model = opts.Model
		result, err := m.embedder.Generate(ctx, mem.Content, embedding.Opts{Model: model, Source: "memory"})
		if err != nil {
			return nil, fmt.Errorf("generate memory embedding: %w", err)
		}
		vectorBlob = embedding.EncodeVector(result.Vector)
		model = result.Model
	}

	record := goqu.Record{
		"id":            mem.ID,
		"category":      mem.Category,
		"subject":       nullableString(mem.Subject),
		"content":       mem.Content,
		"importance":    mem.Importance,
		"source":        nullableString(mem.Source),
		"expires_at":    nullableString(mem.ExpiresAt),
		"last_accessed": nil,
		"access_count":  0,
		"embedding":     vectorBlob,
		"created_at":    now.Format(time.RFC3339),
		"updated_at":    now.Format(time.RFC3339),
	}

	query, _, err := m.db.Goqu().Insert(m.db.Table("memories")).Rows(record).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build memory insert: %w", err)
	}

	if _, err := m.db.DB().ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("insert memory: %w", err)
	}

	if vectorBlob != nil {
		embRecord := goqu.Record{
			"id":         ulid.Make().String(),
			"memory_id":  mem.ID,
			"model":      model,
			"embedding":  vectorBlob,
			"created_at": now.Format(time.RFC3339),
			"updated_at": now.Format(time.RFC3339),
		}

		embQuery, _, err := m.db.Goqu().Insert(m.db.Table("memory_embeddings")).Rows(embRecord).ToSQL()
		if err != nil {
			return nil, fmt.Errorf("build memory_embeddings insert: %w", err)
		}

		if _, err := m.db.DB().ExecContext(ctx, embQuery); err != nil {
			return nil, fmt.Errorf("insert memory_embeddings: %w", err)
		}
	}

	return &mem, nil
}

// EmbeddingExport is one row of ExportEmbeddings's output: a memory ID
// paired with its embedding rendered as a pgvector text literal, suitable
// for loading into a Postgres table with a pgvector column.
type EmbeddingExport struct {
	MemoryID string
	Pgvector string
}

// ExportEmbeddings renders every memory's stored embedding as a pgvector
// text literal (spec §6 "structured exports are JSON"; the pgvector field
// is a JSON string within that export, not a second storage backend).
func (m *Memories) ExportEmbeddings(ctx context.Context) ([]EmbeddingExport, error) {
	ds := m.db.Goqu().From(m.db.Table("memories")).Select("id", "embedding").Where(goqu.I("embedding").IsNotNull())

	query, _, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build memory export query: %w", err)
	}

	rows, err := m.db.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query memories for export: %w", err)
	}
	defer rows.Close()

	var out []EmbeddingExport

	for rows.Next() {
		var (
			id   string
			blob []byte
		)

		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scan memory embedding row: %w", err)
		}

		text, err := embedding.ExportPgvectorText(blob)
		if err != nil {
			continue
		}

		out = append(out, EmbeddingExport{MemoryID: id, Pgvector: text})
	}

	return out, rows.Err()
}

// SemanticSearchOpts configures SemanticSearchMemory.
type SemanticSearchOpts struct {
	Model     string
	Limit     int
	Threshold float64
	SessionID string
	Source    string
}

// SemanticSearchMemory generates a query embedding then ranks stored
// memories by cosine similarity against it (spec §4.6).
func (m *Memories) SemanticSearchMemory(ctx context.Context, query string, opts SemanticSearchOpts) ([]MemoryMatch, error) {
	if m.embedder == nil {
		return nil, fmt.Errorf("store: no embedder configured for semantic search")
	}

	threshold := opts.Threshold
	if threshold == 0 {
		threshold = 0.4
	}
	limit := opts.Limit
	if limit == 0 {
		limit = 10
	}

	result, err := m.embedder.Generate(ctx, query, embedding.Opts{Model: opts.Model, SessionID: opts.SessionID, Source: opts.Source})
	if err != nil {
		return nil, fmt.Errorf("generate query embedding: %w", err)
	}

	return m.SearchMemoryByEmbedding(ctx, result.Vector, threshold, limit)
}

// SearchMemoryByEmbedding ranks all memories carrying an embedding by
// cosine similarity to queryVector, filtering by threshold.
func (m *Memories) SearchMemoryByEmbedding(ctx context.Context, queryVector []float32, threshold float64, limit int) ([]MemoryMatch, error) {
	ds := m.db.Goqu().From(m.db.Table("memories")).Where(goqu.I("embedding").IsNotNull())

	query, _, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build memory scan query: %w", err)
	}

	rows, err := m.db.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var matches []MemoryMatch

	for rows.Next() {
		var (
			id, category, content, createdAt, updatedAt string
			importance                                  int
			subject, source, expiresAt, lastAccessed    *string
			accessCount                                 int
			blob                                        []byte
		)

		if err := rows.Scan(&id, &category, &subject, &content, &importance, &source, &expiresAt, &lastAccessed, &accessCount, &blob, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}

		vec, err := embedding.DecodeVector(blob)
		if err != nil {
			continue
		}

		sim := embedding.CosineSimilarity(queryVector, vec)
		if sim < threshold {
			continue
		}

		mem := Memory{ID: id, Category: category, Content: content, Importance: importance}
		if subject != nil {
			mem.Subject = *subject
		}
		if source != nil {
			mem.Source = *source
		}
		if expiresAt != nil {
			mem.ExpiresAt = *expiresAt
		}
		if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
			mem.CreatedAt = ts
		}
		if ts, err := time.Parse(time.RFC3339, updatedAt); err == nil {
			mem.UpdatedAt = ts
		}

		matches = append(matches, MemoryMatch{Memory: mem, Similarity: sim})
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })

	if len(matches) > limit {
		matches = matches[:limit]
	}

	return matches, nil
}
