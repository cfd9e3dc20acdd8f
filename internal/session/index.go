package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/oklog/ulid/v2"

	"github.com/rakunlabs/ocs/internal/activity"
	"github.com/rakunlabs/ocs/internal/config"
	"github.com/rakunlabs/ocs/internal/embedding"
	"github.com/rakunlabs/ocs/internal/storage/sqlite3"
)

// DefaultBatchSize is the number of chunks written per indexBatch
// transaction (spec §4.10 "Batch size: 100 chunks").
const DefaultBatchSize = 100

// ChangeState mirrors the session_change_state table (spec §4.10 "Change
// detection").
type ChangeState struct {
	SessionID   string
	FilePath    string
	FileHash    string
	LastIndexed time.Time
	ChunkCount  int
	Status      string
}

// Indexer runs the transcript -> validate -> chunk -> contextualise ->
// embed -> store pipeline and maintains the change-detection side table
// (spec §4.10).
type Indexer struct {
	db             *sqlite3.SQLite
	embedder       *embedding.Client
	contextualizer *Contextualizer
	activities     *activity.Log
	maxChunkSize   int
	overlapChars   int
	maxChunks      int
	batchSize      int
}

func NewIndexer(db *sqlite3.SQLite, embedder *embedding.Client, contextualizer *Contextualizer, activities *activity.Log, cfg config.Session) *Indexer {
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = DefaultMaxChunkSize
	}
	if cfg.OverlapChars <= 0 {
		cfg.OverlapChars = DefaultOverlapChars
	}
	if cfg.MaxChunksPerSession <= 0 {
		cfg.MaxChunksPerSession = DefaultMaxChunksPerSession
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	return &Indexer{
		db: db, embedder: embedder, contextualizer: contextualizer, activities: activities,
		maxChunkSize: cfg.MaxChunkSize, overlapChars: cfg.OverlapChars,
		maxChunks: cfg.MaxChunksPerSession, batchSize: cfg.BatchSize,
	}
}

func hashFile(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// IndexFile indexes a single transcript file under sessionID, skipping
// re-indexing if the file's content hash is unchanged (spec §4.10 "Change
// detection").
func (idx *Indexer) IndexFile(ctx context.Context, sessionID, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("session: read %s: %w", path, err)
	}

	hash := hashFile(data)

	existing, err := idx.getChangeState(ctx, sessionID)
	if err != nil {
		return err
	}

	if existing != nil && existing.FileHash == hash && existing.Status == "complete" {
		return nil
	}

	reindexing := existing != nil

	records, warnings, err := ParseTranscript(path, data)
	if err != nil {
		if qErr, ok := err.(*QuarantineError); ok {
			if idx.activities != nil {
				_ = idx.activities.LogFull(ctx, activity.Entry{
					Action:      "session.quarantined",
					Category:    "session",
					Description: qErr.Error(),
					RelatedID:   "session:" + sessionID,
					Source:      "session-indexer",
				})
			}

			return idx.setChangeState(ctx, ChangeState{SessionID: sessionID, FilePath: path, FileHash: hash, LastIndexed: time.Now().UTC(), Status: "failed"})
		}

		return err
	}

	for _, w := range warnings {
		if idx.activities != nil {
			_ = idx.activities.LogFull(ctx, activity.Entry{
				Action:      "session.parse_warning",
				Category:    "session",
				Description: w,
				RelatedID:   "session:" + sessionID,
				Source:      "session-indexer",
			})
		}
	}

	exchanges := BuildExchanges(records)

	var allChunks []string
	for _, ex := range exchanges {
		allChunks = append(allChunks, ChunkExchange(ex.Render(), idx.maxChunkSize, idx.overlapChars)...)
	}

	kept, truncated := Truncate(allChunks, idx.maxChunks)
	if truncated && idx.activities != nil {
		_ = idx.activities.LogFull(ctx, activity.Entry{
			Action:      "session.truncated",
			Category:    "session",
			Description: fmt.Sprintf("session %s exceeded max chunk cap, kept %d of %d", sessionID, len(kept), len(allChunks)),
			RelatedID:   "session:" + sessionID,
			Source:      "session-indexer",
		})
	}

	status := "complete"

	// When re-indexing, the prior chunks for sessionID must be deleted in
	// the same transaction that inserts the first batch of new chunks
	// (spec §8.5 scenario 5) — not as a separate autocommit statement
	// ahead of the batch loop. If there are no new chunks at all (kept is
	// empty) the delete still needs a transaction of its own to run in.
	batches := (len(kept) + idx.batchSize - 1) / idx.batchSize
	if batches == 0 && reindexing {
		batches = 1
	}

	for b := 0; b < batches; b++ {
		batchStart := b * idx.batchSize
		end := batchStart + idx.batchSize
		if end > len(kept) {
			end = len(kept)
		}

		if err := idx.indexBatch(ctx, sessionID, kept[batchStart:end], batchStart, reindexing && b == 0); err != nil {
			status = "partial"

			_ = idx.setChangeState(ctx, ChangeState{
				SessionID: sessionID, FilePath: path, FileHash: hash,
				LastIndexed: time.Now().UTC(), ChunkCount: batchStart, Status: status,
			})

			return fmt.Errorf("index batch at chunk %d: %w", batchStart, err)
		}
	}

	return idx.setChangeState(ctx, ChangeState{
		SessionID: sessionID, FilePath: path, FileHash: hash,
		LastIndexed: time.Now().UTC(), ChunkCount: len(kept), Status: status,
	})
}

// indexBatch writes one batch of chunks transactionally (spec §4.10
// "Resumability": "Indexing is transactional per chunk batch"). When
// deleteExisting is set (the first batch of a re-index), the prior chunks
// for sessionID are deleted in the same transaction before the new batch
// is inserted (spec §8.5 scenario 5).
func (idx *Indexer) indexBatch(ctx context.Context, sessionID string, chunks []string, startIndex int, deleteExisting bool) error {
	tx, err := idx.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if deleteExisting {
		delQuery, _, err := idx.db.Goqu().Delete(idx.db.Table("session_chunks")).Where(goqu.I("session_id").Eq(sessionID)).ToSQL()
		if err != nil {
			return fmt.Errorf("build delete session_chunks: %w", err)
		}

		if _, err := tx.ExecContext(ctx, delQuery); err != nil {
			return fmt.Errorf("delete prior chunks for %s: %w", sessionID, err)
		}
	}

	for i, text := range chunks {
		chunkIndex := startIndex + i

		speakers := detectSpeakers(text)
		meta := ExtractMetadata(text, speakers)

		contextPrefix, contextStatus := "", ContextPending
		embedText := text
		if idx.contextualizer != nil {
			contextPrefix, contextStatus = idx.contextualizer.Contextualize(ctx, text, time.Now().UTC().Format(time.RFC3339))
			if contextPrefix != "" {
				embedText = contextPrefix + "\n\n" + text
			}
		}

		var vectorBlob []byte
		if idx.embedder != nil {
			result, err := idx.embedder.Generate(ctx, embedText, embedding.Opts{SessionID: sessionID, Source: "session"})
			if err == nil {
				vectorBlob = embedding.EncodeVector(result.Vector)
			}
		}

		tagsJSON, _ := json.Marshal(meta.TopicTags)
		speakersJSON, _ := json.Marshal(meta.Speakers)

		record := goqu.Record{
			"id":             ulid.Make().String(),
			"session_id":     sessionID,
			"chunk_index":    chunkIndex,
			"timestamp":      time.Now().UTC().Format(time.RFC3339),
			"speakers":       string(speakersJSON),
			"topic_tags":     string(tagsJSON),
			"has_decision":   boolToInt(meta.HasDecision),
			"has_action":     boolToInt(meta.HasAction),
			"content":        text,
			"context_prefix": nullableString(contextPrefix),
			"context_status": contextStatus,
			"token_count":    estimateTokens(text),
			"embedding":      vectorBlob,
			"created_at":     time.Now().UTC().Format(time.RFC3339),
		}

		query, _, err := idx.db.Goqu().Insert(idx.db.Table("session_chunks")).Rows(record).ToSQL()
		if err != nil {
			return fmt.Errorf("build session_chunks insert: %w", err)
		}

		if _, err := tx.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("insert session chunk: %w", err)
		}
	}

	return tx.Commit()
}

func detectSpeakers(text string) []string {
	speakers := []string{}
	if contains(text, "User:") {
		speakers = append(speakers, "user")
	}
	if contains(text, "Assistant:") {
		speakers = append(speakers, "assistant")
	}

	return speakers
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}

	return -1
}

func (idx *Indexer) deleteSessionChunks(ctx context.Context, sessionID string) error {
	query, _, err := idx.db.Goqu().Delete(idx.db.Table("session_chunks")).Where(goqu.I("session_id").Eq(sessionID)).ToSQL()
	if err != nil {
		return fmt.Errorf("build delete session_chunks: %w", err)
	}

	_, err = idx.db.DB().ExecContext(ctx, query)

	return err
}

// GetChangeState returns the indexing state recorded for sessionID, or nil
// if the session has never been indexed.
func (idx *Indexer) GetChangeState(ctx context.Context, sessionID string) (*ChangeState, error) {
	return idx.getChangeState(ctx, sessionID)
}

func (idx *Indexer) getChangeState(ctx context.Context, sessionID string) (*ChangeState, error) {
	ds := idx.db.Goqu().From(idx.db.Table("session_change_state")).Where(goqu.I("session_id").Eq(sessionID))

	query, _, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build session_change_state query: %w", err)
	}

	row := idx.db.DB().QueryRowContext(ctx, query)

	var (
		sid, filePath, fileHash, lastIndexed, status string
		chunkCount                                    int
	)

	if err := row.Scan(&sid, &filePath, &fileHash, &lastIndexed, &chunkCount, &status); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}

		return nil, fmt.Errorf("scan session_change_state: %w", err)
	}

	cs := &ChangeState{SessionID: sid, FilePath: filePath, FileHash: fileHash, ChunkCount: chunkCount, Status: status}
	if ts, err := time.Parse(time.RFC3339, lastIndexed); err == nil {
		cs.LastIndexed = ts
	}

	return cs, nil
}

func (idx *Indexer) setChangeState(ctx context.Context, cs ChangeState) error {
	record := goqu.Record{
		"session_id":   cs.SessionID,
		"file_path":    cs.FilePath,
		"file_hash":    cs.FileHash,
		"last_indexed": cs.LastIndexed.Format(time.RFC3339),
		"chunk_count":  cs.ChunkCount,
		"status":       cs.Status,
	}

	query, _, err := idx.db.Goqu().
		Insert(idx.db.Table("session_change_state")).
		Rows(record).
		OnConflict(goqu.DoUpdate("session_id", record)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build session_change_state upsert: %w", err)
	}

	_, err = idx.db.DB().ExecContext(ctx, query)

	return err
}

// PurgeOrphans removes chunks and change-state rows for sessions whose
// backing file no longer exists among liveSessionIDs (spec §4.10
// "Orphans... purge their chunks").
func (idx *Indexer) PurgeOrphans(ctx context.Context, liveSessionIDs []string) error {
	ds := idx.db.Goqu().From(idx.db.Table("session_change_state")).Select("session_id")

	query, _, err := ds.ToSQL()
	if err != nil {
		return fmt.Errorf("build orphan scan query: %w", err)
	}

	rows, err := idx.db.DB().QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("query session_change_state: %w", err)
	}

	live := map[string]bool{}
	for _, id := range liveSessionIDs {
		live[id] = true
	}

	var orphans []string
	for rows.Next() {
		var sid string
		if err := rows.Scan(&sid); err != nil {
			rows.Close()
			return fmt.Errorf("scan session id: %w", err)
		}
		if !live[sid] {
			orphans = append(orphans, sid)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, sid := range orphans {
		if err := idx.deleteSessionChunks(ctx, sid); err != nil {
			return err
		}

		delQuery, _, err := idx.db.Goqu().Delete(idx.db.Table("session_change_state")).Where(goqu.I("session_id").Eq(sid)).ToSQL()
		if err != nil {
			return fmt.Errorf("build delete session_change_state: %w", err)
		}

		if _, err := idx.db.DB().ExecContext(ctx, delQuery); err != nil {
			return fmt.Errorf("delete session_change_state: %w", err)
		}
	}

	return nil
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
