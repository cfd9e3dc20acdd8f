package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/oklog/ulid/v2"

	"github.com/rakunlabs/ocs/internal/storage/sqlite3"
)

// ContentItem mirrors the content_items table.
type ContentItem struct {
	ID        string
	Title     string
	Body      string
	Status    string
	Tags      []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ContentItems struct {
	db *sqlite3.SQLite
}

func NewContentItems(db *sqlite3.SQLite) *ContentItems {
	return &ContentItems{db: db}
}

func (c *ContentItems) Create(ctx context.Context, item ContentItem) (*ContentItem, error) {
	if item.Title == "" {
		return nil, fmt.Errorf("store: content item title is required")
	}
	if item.Status == "" {
		item.Status = "draft"
	}
	if item.Tags == nil {
		item.Tags = []string{}
	}

	now := time.Now().UTC()
	item.ID = ulid.Make().String()
	item.CreatedAt = now
	item.UpdatedAt = now

	tagsJSON, err := json.Marshal(item.Tags)
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}

	record := goqu.Record{
		"id":         item.ID,
		"title":      item.Title,
		"body":       item.Body,
		"status":     item.Status,
		"tags":       string(tagsJSON),
		"created_at": now.Format(time.RFC3339),
		"updated_at": now.Format(time.RFC3339),
	}

	query, _, err := c.db.Goqu().Insert(c.db.Table("content_items")).Rows(record).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build content_items insert: %w", err)
	}

	if _, err := c.db.DB().ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("insert content item: %w", err)
	}

	return &item, nil
}

func (c *ContentItems) List(ctx context.Context, status string, limit int) ([]ContentItem, error) {
	ds := c.db.Goqu().From(c.db.Table("content_items")).Order(goqu.I("created_at").Desc())
	if status != "" {
		ds = ds.Where(goqu.I("status").Eq(status))
	}
	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}

	query, _, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build content_items query: %w", err)
	}

	rows, err := c.db.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query content items: %w", err)
	}
	defer rows.Close()

	var out []ContentItem
	for rows.Next() {
		var id, title, body, status, createdAt, updatedAt, tagsJSON string

		if err := rows.Scan(&id, &title, &body, &status, &tagsJSON, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan content item row: %w", err)
		}

		item := ContentItem{ID: id, Title: title, Body: body, Status: status}
		_ = json.Unmarshal([]byte(tagsJSON), &item.Tags)
		if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
			item.CreatedAt = ts
		}
		if ts, err := time.Parse(time.RFC3339, updatedAt); err == nil {
			item.UpdatedAt = ts
		}

		out = append(out, item)
	}

	return out, rows.Err()
}
