// Package store holds the Structured Stores (F): CRUD over Tasks,
// Contacts, ContentItems, SocialPosts, Memory, and HealthCheck (spec §4.6).
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

// Task mirrors the tasks table (spec §3).
type Task struct {
	ID          string
	Title       string
	Description string
	Status      string
	Priority    int
	ProjectID   string
	DueDate     string
	CompletedAt string
	Tags        []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Tasks is the CRUD surface over the tasks table.
type Tasks struct {
	db *sqlite3.SQLite
}

func NewTasks(db *sqlite3.SQLite) *Tasks {
	return &Tasks{db: db}
}

func (s *Tasks) Create(ctx context.Context, t Task) (*Task, error) {
	if t.Title == "" {
		return nil, fmt.Errorf("store: task title is required")
	}

	if t.Status == "" {
		t.Status = "todo"
	}
	if t.Priority == 0 {
		t.Priority = 3
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}

	now := time.Now().UTC()
	t.ID = ulid.Make().String()
	t.CreatedAt = now
	t.UpdatedAt = now

	tagsJSON, err := json.Marshal(t.Tags)
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}

	record := goqu.Record{
		"id":           t.ID,
		"title":        t.Title,
		"description":  t.Description,
		"status":       t.Status,
		"priority":     t.Priority,
		"project_id":   nullableString(t.ProjectID),
		"due_date":     nullableString(t.DueDate),
		"completed_at": nullableString(t.CompletedAt),
		"tags":         string(tagsJSON),
		"created_at":   now.Format(time.RFC3339),
		"updated_at":   now.Format(time.RFC3339),
	}

	query, _, err := s.db.Goqu().Insert(s.db.Table("tasks")).Rows(record).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build task insert: %w", err)
	}

	if _, err := s.db.DB().ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}

	return &t, nil
}

// recognisedTaskFields whitelists which keys UpdateTask may rewrite (spec
// §4.6: "rewrites only recognised fields").
var recognisedTaskFields = map[string]bool{
	"title": true, "description": true, "status": true, "priority": true,
	"project_id": true, "due_date": true, "completed_at": true, "tags": true,
}

// UpdateTask rewrites only recognised keys in updates and bumps updated_at
// (spec §4.6).
func (s *Tasks) UpdateTask(ctx context.Context, id string, updates map[string]interface{}) error {
	record := goqu.Record{}

	for k, v := range updates {
		if !recognisedTaskFields[k] {
			continue
		}

		if k == "tags" {
			if tags, ok := v.([]string); ok {
				data, err := json.Marshal(tags)
				if err != nil {
					return fmt.Errorf("marshal tags: %w", err)
				}
				record[k] = string(data)
				continue
			}
		}

		record[k] = v
	}

	record["updated_at"] = time.Now().UTC().Format(time.RFC3339)

	query, _, err := s.db.Goqu().Update(s.db.Table("tasks")).Set(record).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return fmt.Errorf("build task update: %w", err)
	}

	_, err = s.db.DB().ExecContext(ctx, query)

	return err
}

func (s *Tasks) Get(ctx context.Context, id string) (*Task, error) {
	ds := s.db.Goqu().From(s.db.Table("tasks")).Where(goqu.I("id").Eq(id))

	query, _, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build task query: %w", err)
	}

	row := s.db.DB().QueryRowContext(ctx, query)

	return scanTask(row)
}

func (s *Tasks) List(ctx context.Context, status, projectID string, limit int) ([]Task, error) {
	ds := s.db.Goqu().From(s.db.Table("tasks")).Order(goqu.I("created_at").Desc())

	if status != "" {
		ds = ds.Where(goqu.I("status").Eq(status))
	}
	if projectID != "" {
		ds = ds.Where(goqu.I("project_id").Eq(projectID))
	}
	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}

	query, _, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build task list query: %w", err)
	}

	rows, err := s.db.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTaskRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}

	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*Task, error) {
	return scanTaskRows(row)
}

func scanTaskRows(row rowScanner) (*Task, error) {
	var (
		id, title, description, status, createdAt, updatedAt, tagsJSON string
		priority                                                       int
		projectID, dueDate, completedAt                                *string
	)

	if err := row.Scan(&id, &title, &description, &status, &priority, &projectID, &dueDate, &completedAt, &tagsJSON, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scan task row: %w", err)
	}

	t := &Task{ID: id, Title: title, Description: description, Status: status, Priority: priority}
	if projectID != nil {
		t.ProjectID = *projectID
	}
	if dueDate != nil {
		t.DueDate = *dueDate
	}
	if completedAt != nil {
		t.CompletedAt = *completedAt
	}
	if tagsJSON != "" {
		_ = json.Unmarshal([]byte(tagsJSON), &t.Tags)
	}
	if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
		t.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		t.UpdatedAt = ts
	}

	return t, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}

	return s
}
