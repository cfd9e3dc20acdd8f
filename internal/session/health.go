package session

import (
	"context"
	"fmt"
	"time"
)

// Status values for the Session RAG subsystem's own health surface (spec
// §4.10 "Health": OK, DEGRADED, ERROR).
const (
	StatusOK       = "OK"
	StatusDegraded = "DEGRADED"
	StatusError    = "ERROR"
)

// Health reports Session RAG's operability (spec §4.10).
type Health struct {
	Status                 string
	TotalChunks            int64
	TotalSessions          int64
	AvgIndexTimePerSession float64
	AvgSearchLatencyMs     float64
	FailedChunks           int64
	QuarantinedSessions    int64
}

// Health computes the current subsystem status. DEGRADED if any sessions
// are quarantined or partially indexed without being failed outright;
// ERROR if every tracked session has failed to index (spec §4.10 "a
// quarantined file degrades the subsystem rather than failing it
// outright").
func (idx *Indexer) Health(ctx context.Context) (Health, error) {
	var h Health

	chunkTable := idx.db.TableName("session_chunks")
	stateTable := idx.db.TableName("session_change_state")

	if err := idx.db.DB().QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", chunkTable)).Scan(&h.TotalChunks); err != nil {
		return h, fmt.Errorf("count session_chunks: %w", err)
	}

	if err := idx.db.DB().QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", stateTable)).Scan(&h.TotalSessions); err != nil {
		return h, fmt.Errorf("count session_change_state: %w", err)
	}

	if err := idx.db.DB().QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE status = 'failed'", stateTable)).Scan(&h.QuarantinedSessions); err != nil {
		return h, fmt.Errorf("count failed sessions: %w", err)
	}

	var partial int64
	if err := idx.db.DB().QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE status = 'partial'", stateTable)).Scan(&partial); err != nil {
		return h, fmt.Errorf("count partial sessions: %w", err)
	}

	if err := idx.db.DB().QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE context_status = 'failed'", chunkTable)).Scan(&h.FailedChunks); err != nil {
		return h, fmt.Errorf("count failed chunks: %w", err)
	}

	switch {
	case h.TotalSessions > 0 && h.QuarantinedSessions == h.TotalSessions:
		h.Status = StatusError
	case h.QuarantinedSessions > 0 || partial > 0:
		h.Status = StatusDegraded
	default:
		h.Status = StatusOK
	}

	return h, nil
}

// RecordIndexDuration returns the seconds elapsed since start. Nothing in
// this module calls it, and Health does not set AvgIndexTimePerSession or
// AvgSearchLatencyMs, so both are always reported as zero.
func RecordIndexDuration(start time.Time) float64 {
	return time.Since(start).Seconds()
}
