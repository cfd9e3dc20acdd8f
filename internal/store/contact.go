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

// Contact mirrors the contacts table.
type Contact struct {
	ID        string
	Name      string
	Email     string
	Phone     string
	Notes     string
	Tags      []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Contacts struct {
	db *sqlite3.SQLite
}

func NewContacts(db *sqlite3.SQLite) *Contacts {
	return &Contacts{db: db}
}

func (c *Contacts) Create(ctx context.Context, contact Contact) (*Contact, error) {
	if contact.Name == "" {
		return nil, fmt.Errorf("store: contact name is required")
	}
	if contact.Tags == nil {
		contact.Tags = []string{}
	}

	now := time.Now().UTC()
	contact.ID = ulid.Make().String()
	contact.CreatedAt = now
	contact.UpdatedAt = now

	tagsJSON, err := json.Marshal(contact.Tags)
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}

	record := goqu.Record{
		"id":         contact.ID,
		"name":       contact.Name,
		"email":      nullableString(contact.Email),
		"phone":      nullableString(contact.Phone),
		"notes":      contact.Notes,
		"tags":       string(tagsJSON),
		"created_at": now.Format(time.RFC3339),
		"updated_at": now.Format(time.RFC3339),
	}

	query, _, err := c.db.Goqu().Insert(c.db.Table("contacts")).Rows(record).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build contact insert: %w", err)
	}

	if _, err := c.db.DB().ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("insert contact: %w", err)
	}

	return &contact, nil
}

func (c *Contacts) List(ctx context.Context, limit int) ([]Contact, error) {
	ds := c.db.Goqu().From(c.db.Table("contacts")).Order(goqu.I("created_at").Desc())
	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}

	query, _, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build contacts query: %w", err)
	}

	rows, err := c.db.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		var (
			id, name, createdAt, updatedAt, notes, tagsJSON string
			email, phone                                    *string
		)

		if err := rows.Scan(&id, &name, &email, &phone, &notes, &tagsJSON, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan contact row: %w", err)
		}

		contact := Contact{ID: id, Name: name, Notes: notes}
		if email != nil {
			contact.Email = *email
		}
		if phone != nil {
			contact.Phone = *phone
		}
		_ = json.Unmarshal([]byte(tagsJSON), &contact.Tags)
		if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
			contact.CreatedAt = ts
		}
		if ts, err := time.Parse(time.RFC3339, updatedAt); err == nil {
			contact.UpdatedAt = ts
		}

		out = append(out, contact)
	}

	return out, rows.Err()
}
