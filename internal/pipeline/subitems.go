package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/oklog/ulid/v2"
)

// Task mirrors pipeline_tasks: a sub-item of a pipeline item (spec §3, §4.8).
type Task struct {
	ID          string
	PipelineID  string
	Title       string
	Description string
	Status      string
	AssignedTo  string
	Output      string
	CompletedAt string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

var validTaskStatuses = map[string]bool{"todo": true, "doing": true, "done": true, "blocked": true}

// AddPipelineTask inserts a sub-task under pipelineID (spec §4.8).
func (p *Pipelines) AddPipelineTask(ctx context.Context, pipelineID, title, description string) (*Task, error) {
	if title == "" {
		return nil, &ValidationError{Message: "task title is required"}
	}

	now := time.Now().UTC()
	t := Task{ID: ulid.Make().String(), PipelineID: pipelineID, Title: title, Description: description, Status: "todo", CreatedAt: now, UpdatedAt: now}

	record := goqu.Record{
		"id": t.ID, "pipeline_id": t.PipelineID, "title": t.Title, "description": t.Description,
		"status": t.Status, "assigned_to": nil, "output": nil, "completed_at": nil,
		"created_at": now.Format(time.RFC3339), "updated_at": now.Format(time.RFC3339),
	}

	query, _, err := p.db.Goqu().Insert(p.db.Table("pipeline_tasks")).Rows(record).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build pipeline_tasks insert: %w", err)
	}

	if _, err := p.db.DB().ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("insert pipeline task: %w", err)
	}

	return &t, nil
}

// GetPipelineTasks lists sub-tasks for pipelineID (spec §4.8).
func (p *Pipelines) GetPipelineTasks(ctx context.Context, pipelineID string) ([]Task, error) {
	ds := p.db.Goqu().From(p.db.Table("pipeline_tasks")).
		Where(goqu.I("pipeline_id").Eq(pipelineID)).
		Order(goqu.I("created_at").Asc())

	query, _, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build pipeline_tasks query: %w", err)
	}

	rows, err := p.db.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query pipeline_tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var (
			id, pipelineID, title, description, status, createdAt, updatedAt string
			assignedTo, output, completedAt                                  *string
		)

		if err := rows.Scan(&id, &pipelineID, &title, &description, &status, &assignedTo, &output, &completedAt, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan pipeline_tasks row: %w", err)
		}

		task := Task{ID: id, PipelineID: pipelineID, Title: title, Description: description, Status: status}
		if assignedTo != nil {
			task.AssignedTo = *assignedTo
		}
		if output != nil {
			task.Output = *output
		}
		if completedAt != nil {
			task.CompletedAt = *completedAt
		}
		if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
			task.CreatedAt = ts
		}
		if ts, err := time.Parse(time.RFC3339, updatedAt); err == nil {
			task.UpdatedAt = ts
		}

		out = append(out, task)
	}

	return out, rows.Err()
}

// UpdatePipelineTask updates status/output of a sub-task (spec §4.8).
func (p *Pipelines) UpdatePipelineTask(ctx context.Context, id string, status, output string) error {
	if status != "" && !validTaskStatuses[status] {
		return &ValidationError{Message: fmt.Sprintf("invalid task status %q", status)}
	}

	record := goqu.Record{"updated_at": time.Now().UTC().Format(time.RFC3339)}
	if status != "" {
		record["status"] = status
		if status == "done" {
			record["completed_at"] = time.Now().UTC().Format(time.RFC3339)
		}
	}
	if output != "" {
		record["output"] = output
	}

	query, _, err := p.db.Goqu().Update(p.db.Table("pipeline_tasks")).Set(record).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return fmt.Errorf("build pipeline_tasks update: %w", err)
	}

	_, err = p.db.DB().ExecContext(ctx, query)

	return err
}

// Note mirrors pipeline_notes: an append-only audit trail entry (spec §3).
type Note struct {
	ID         string
	PipelineID string
	AgentRole  string
	NoteType   string
	Content    string
	CreatedAt  time.Time
}

var validNoteTypes = map[string]bool{
	"handover": true, "blocker": true, "question": true, "decision": true,
	"info": true, "started": true, "progress": true, "complete": true,
}

// AddPipelineNote appends an audit-trail note (spec §4.8).
func (p *Pipelines) AddPipelineNote(ctx context.Context, pipelineID, agentRole, noteType, content string) (*Note, error) {
	if !validNoteTypes[noteType] {
		return nil, &ValidationError{Message: fmt.Sprintf("invalid note type %q", noteType)}
	}
	if content == "" {
		return nil, &ValidationError{Message: "note content is required"}
	}

	now := time.Now().UTC()
	note := Note{ID: ulid.Make().String(), PipelineID: pipelineID, AgentRole: agentRole, NoteType: noteType, Content: content, CreatedAt: now}

	record := goqu.Record{
		"id": note.ID, "pipeline_id": note.PipelineID, "agent_role": note.AgentRole,
		"note_type": note.NoteType, "content": note.Content, "created_at": now.Format(time.RFC3339),
	}

	query, _, err := p.db.Goqu().Insert(p.db.Table("pipeline_notes")).Rows(record).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build pipeline_notes insert: %w", err)
	}

	if _, err := p.db.DB().ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("insert pipeline note: %w", err)
	}

	return &note, nil
}

// GetPipelineNotes lists notes for pipelineID, oldest first (spec §4.8).
func (p *Pipelines) GetPipelineNotes(ctx context.Context, pipelineID string) ([]Note, error) {
	ds := p.db.Goqu().From(p.db.Table("pipeline_notes")).
		Where(goqu.I("pipeline_id").Eq(pipelineID)).
		Order(goqu.I("created_at").Asc())

	query, _, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build pipeline_notes query: %w", err)
	}

	rows, err := p.db.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query pipeline_notes: %w", err)
	}
	defer rows.Close()

	var out []Note
	for rows.Next() {
		var id, pipelineID, agentRole, noteType, content, createdAt string

		if err := rows.Scan(&id, &pipelineID, &agentRole, &noteType, &content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan pipeline_notes row: %w", err)
		}

		note := Note{ID: id, PipelineID: pipelineID, AgentRole: agentRole, NoteType: noteType, Content: content}
		if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
			note.CreatedAt = ts
		}

		out = append(out, note)
	}

	return out, rows.Err()
}
