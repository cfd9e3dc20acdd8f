package store

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/oklog/ulid/v2"

	"github.com/rakunlabs/ocs/internal/storage/sqlite3"
)

// HealthCheck mirrors the health_checks table: a point-in-time component
// status record (spec §3).
type HealthCheck struct {
	ID        string
	Component string
	Status    string
	Detail    string
	CheckedAt time.Time
}

type HealthChecks struct {
	db *sqlite3.SQLite
}

func NewHealthChecks(db *sqlite3.SQLite) *HealthChecks {
	return &HealthChecks{db: db}
}

func (h *HealthChecks) Record(ctx context.Context, component, status, detail string) error {
	record := goqu.Record{
		"id":         ulid.Make().String(),
		"component":  component,
		"status":     status,
		"detail":     nullableString(detail),
		"checked_at": time.Now().UTC().Format(time.RFC3339),
	}

	query, _, err := h.db.Goqu().Insert(h.db.Table("health_checks")).Rows(record).ToSQL()
	if err != nil {
		return fmt.Errorf("build health_checks insert: %w", err)
	}

	_, err = h.db.DB().ExecContext(ctx, query)

	return err
}

func (h *HealthChecks) Latest(ctx context.Context, component string, limit int) ([]HealthCheck, error) {
	ds := h.db.Goqu().From(h.db.Table("health_checks")).
		Where(goqu.I("component").Eq(component)).
		Order(goqu.I("checked_at").Desc()).
		Limit(uint(limit))

	query, _, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build health_checks query: %w", err)
	}

	rows, err := h.db.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query health_checks: %w", err)
	}
	defer rows.Close()

	var out []HealthCheck
	for rows.Next() {
		var (
			id, component, status, checkedAt string
			detail                           *string
		)

		if err := rows.Scan(&id, &component, &status, &detail, &checkedAt); err != nil {
			return nil, fmt.Errorf("scan health_checks row: %w", err)
		}

		hc := HealthCheck{ID: id, Component: component, Status: status}
		if detail != nil {
			hc.Detail = *detail
		}
		if ts, err := time.Parse(time.RFC3339, checkedAt); err == nil {
			hc.CheckedAt = ts
		}

		out = append(out, hc)
	}

	return out, rows.Err()
}
