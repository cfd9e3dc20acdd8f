package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rakunlabs/ocs/internal/embedding"
)

// DefaultSimilarityThreshold is the minimum cosine similarity a vector
// match must clear (spec §4.10 "Search", default 0.4).
const DefaultSimilarityThreshold = 0.4

// rrfK is the RRF smoothing constant (spec §4.10 "Hybrid search": RRF(c) =
// sum 1/(k+rank), k=60).
const rrfK = 60

// Chunk is a row of session_chunks (spec §3).
type Chunk struct {
	ID            string
	SessionID     string
	ChunkIndex    int
	Timestamp     string
	Speakers      []string
	TopicTags     []string
	HasDecision   bool
	HasAction     bool
	Content       string
	ContextPrefix string
	ContextStatus string
	TokenCount    int
}

// SearchFilter narrows a search to chunks matching these optional
// metadata constraints (spec §4.10 "Search filters").
type SearchFilter struct {
	SinceTimestamp string
	UntilTimestamp string
	TopicTag       string
	Speaker        string
	HasDecision    *bool
	HasAction      *bool
}

// VectorMatch is a chunk ranked by cosine similarity.
type VectorMatch struct {
	Chunk
	Similarity float64
}

// VectorSearch embeds query and ranks all chunks with a non-null
// embedding by cosine similarity, keeping matches at or above threshold
// (spec §4.10 "Vector search").
func (idx *Indexer) VectorSearch(ctx context.Context, query string, threshold float64, limit int, filter SearchFilter) ([]VectorMatch, error) {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	if limit <= 0 {
		limit = 10
	}

	result, err := idx.embedder.Generate(ctx, query, embedding.Opts{Source: "session-search"})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := idx.scanAllChunksWithEmbedding(ctx, filter)
	if err != nil {
		return nil, err
	}

	var matches []VectorMatch
	for _, row := range rows {
		sim := embedding.CosineSimilarity(result.Vector, row.vector)
		if sim < threshold {
			continue
		}

		matches = append(matches, VectorMatch{Chunk: row.chunk, Similarity: sim})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })

	if len(matches) > limit {
		matches = matches[:limit]
	}

	return matches, nil
}

// KeywordMatch is a chunk ranked by FTS5 bm25-derived rank (lower is
// better).
type KeywordMatch struct {
	Chunk
	Rank float64
}

// KeywordSearch runs an FTS5 MATCH query against session_chunks_fts (spec
// §4.10 "Keyword search").
func (idx *Indexer) KeywordSearch(ctx context.Context, query string, limit int, filter SearchFilter) ([]KeywordMatch, error) {
	if limit <= 0 {
		limit = 10
	}

	ftsTable := idx.db.TableName("session_chunks_fts")
	chunkTable := idx.db.TableName("session_chunks")

	sqlQuery := fmt.Sprintf(`
		SELECT c.id, c.session_id, c.chunk_index, c.timestamp, c.speakers, c.topic_tags,
		       c.has_decision, c.has_action, c.content, c.context_prefix, c.context_status,
		       c.token_count, f.rank
		FROM %s f
		JOIN %s c ON c.rowid = f.rowid
		WHERE f MATCH ?
		ORDER BY f.rank
		LIMIT ?
	`, ftsTable, chunkTable)

	rows, err := idx.db.DB().QueryContext(ctx, sqlQuery, escapeFTSQuery(query), limit*4)
	if err != nil {
		return nil, fmt.Errorf("session keyword search: %w", err)
	}
	defer rows.Close()

	var matches []KeywordMatch
	for rows.Next() {
		var (
			c                          Chunk
			speakersJSON, tagsJSON     string
			hasDecision, hasAction     int
			contextPrefix              *string
			rank                       float64
		)

		if err := rows.Scan(&c.ID, &c.SessionID, &c.ChunkIndex, &c.Timestamp, &speakersJSON, &tagsJSON,
			&hasDecision, &hasAction, &c.Content, &contextPrefix, &c.ContextStatus, &c.TokenCount, &rank); err != nil {
			return nil, fmt.Errorf("scan keyword match: %w", err)
		}

		c.HasDecision = hasDecision != 0
		c.HasAction = hasAction != 0
		if contextPrefix != nil {
			c.ContextPrefix = *contextPrefix
		}
		unmarshalJSONList(speakersJSON, &c.Speakers)
		unmarshalJSONList(tagsJSON, &c.TopicTags)

		if !passesFilter(c, filter) {
			continue
		}

		matches = append(matches, KeywordMatch{Chunk: c, Rank: rank})
		if len(matches) >= limit {
			break
		}
	}

	return matches, rows.Err()
}

// HybridMatch is a chunk ranked by Reciprocal Rank Fusion across the
// vector and keyword result lists.
type HybridMatch struct {
	Chunk
	Score float64
}

// HybridSearch fuses VectorSearch and KeywordSearch via RRF: score(c) =
// sum over lists containing c of 1/(k+rank_in_list(c)), k=60, sorted
// descending and deduplicated (spec §4.10 "Hybrid search").
func (idx *Indexer) HybridSearch(ctx context.Context, query string, limit int, filter SearchFilter) ([]HybridMatch, error) {
	if limit <= 0 {
		limit = 10
	}

	vectorMatches, err := idx.VectorSearch(ctx, query, DefaultSimilarityThreshold, limit*4, filter)
	if err != nil {
		return nil, fmt.Errorf("hybrid search vector phase: %w", err)
	}

	keywordMatches, err := idx.KeywordSearch(ctx, query, limit*4, filter)
	if err != nil {
		return nil, fmt.Errorf("hybrid search keyword phase: %w", err)
	}

	scores := map[string]float64{}
	chunks := map[string]Chunk{}

	for rank, m := range vectorMatches {
		scores[m.ID] += 1.0 / float64(rrfK+rank+1)
		chunks[m.ID] = m.Chunk
	}

	for rank, m := range keywordMatches {
		scores[m.ID] += 1.0 / float64(rrfK+rank+1)
		chunks[m.ID] = m.Chunk
	}

	var out []HybridMatch
	for id, score := range scores {
		out = append(out, HybridMatch{Chunk: chunks[id], Score: score})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}

		return out[i].ID < out[j].ID
	})

	if len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

type chunkWithVector struct {
	chunk  Chunk
	vector []float32
}

func (idx *Indexer) scanAllChunksWithEmbedding(ctx context.Context, filter SearchFilter) ([]chunkWithVector, error) {
	query := fmt.Sprintf(`
		SELECT id, session_id, chunk_index, timestamp, speakers, topic_tags,
		       has_decision, has_action, content, context_prefix, context_status,
		       token_count, embedding
		FROM %s
		WHERE embedding IS NOT NULL
	`, idx.db.TableName("session_chunks"))

	rows, err := idx.db.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("scan session_chunks: %w", err)
	}
	defer rows.Close()

	var out []chunkWithVector
	for rows.Next() {
		var (
			c                      Chunk
			speakersJSON, tagsJSON string
			hasDecision, hasAction int
			contextPrefix          *string
			blob                   []byte
		)

		if err := rows.Scan(&c.ID, &c.SessionID, &c.ChunkIndex, &c.Timestamp, &speakersJSON, &tagsJSON,
			&hasDecision, &hasAction, &c.Content, &contextPrefix, &c.ContextStatus, &c.TokenCount, &blob); err != nil {
			return nil, fmt.Errorf("scan session_chunks row: %w", err)
		}

		vector, err := embedding.DecodeVector(blob)
		if err != nil {
			continue
		}

		c.HasDecision = hasDecision != 0
		c.HasAction = hasAction != 0
		if contextPrefix != nil {
			c.ContextPrefix = *contextPrefix
		}
		unmarshalJSONList(speakersJSON, &c.Speakers)
		unmarshalJSONList(tagsJSON, &c.TopicTags)

		if !passesFilter(c, filter) {
			continue
		}

		out = append(out, chunkWithVector{chunk: c, vector: vector})
	}

	return out, rows.Err()
}

func passesFilter(c Chunk, filter SearchFilter) bool {
	if filter.SinceTimestamp != "" && c.Timestamp < filter.SinceTimestamp {
		return false
	}
	if filter.UntilTimestamp != "" && c.Timestamp > filter.UntilTimestamp {
		return false
	}
	if filter.TopicTag != "" && !containsString(c.TopicTags, filter.TopicTag) {
		return false
	}
	if filter.Speaker != "" && !containsString(c.Speakers, filter.Speaker) {
		return false
	}
	if filter.HasDecision != nil && c.HasDecision != *filter.HasDecision {
		return false
	}
	if filter.HasAction != nil && c.HasAction != *filter.HasAction {
		return false
	}

	return true
}

func containsString(list []string, target string) bool {
	for _, s := range list {
		if s == target {
			return true
		}
	}

	return false
}

// escapeFTSQuery wraps each term in double quotes so punctuation in a raw
// query (e.g. "it's", "C++") doesn't break FTS5 syntax.
func escapeFTSQuery(query string) string {
	fields := strings.Fields(query)
	quoted := make([]string, len(fields))

	for i, f := range fields {
		quoted[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}

	return strings.Join(quoted, " ")
}

func unmarshalJSONList(raw string, out *[]string) {
	if raw == "" {
		return
	}

	_ = json.Unmarshal([]byte(raw), out)
}
