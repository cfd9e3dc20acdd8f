// Package pipeline is the Dev Pipeline (I): a typed state machine over
// features, stories, risks, issues, assumptions, and dependencies, each
// scoped to its own valid stage set (spec §4.8).
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/oklog/ulid/v2"

	"github.com/rakunlabs/ocs/internal/activity"
	"github.com/rakunlabs/ocs/internal/storage/sqlite3"
)

// ValidationError reports an invalid stage/type combination or a parent
// type mismatch (spec §4.8 "Failure").
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// validStages is the per-type allowed stage set (spec §4.8 table). The
// stored union of all stages is broader; this table is what the
// validation function consults.
var validStages = map[string][]string{
	"feature":    {"idea", "spec", "spec-review", "building", "final-review", "live"},
	"story":      {"backlog", "in-progress", "qa", "done", "blocked"},
	"risk":       {"identified", "mitigating", "resolved", "accepted"},
	"issue":      {"identified", "investigating", "resolved"},
	"assumption": {"identified", "validated", "invalidated"},
	"dependency": {"identified", "waiting", "resolved", "blocked"},
}

func validateStage(itemType, stage string) error {
	stages, ok := validStages[itemType]
	if !ok {
		return &ValidationError{Message: fmt.Sprintf("unknown pipeline type %q", itemType)}
	}

	for _, s := range stages {
		if s == stage {
			return nil
		}
	}

	return &ValidationError{Message: fmt.Sprintf("invalid stage %q for type %q, valid stages: %v", stage, itemType, stages)}
}

// Item mirrors the pipeline_items table (spec §3).
type Item struct {
	ID                 string
	Type                string
	ParentID            string
	ProjectID           string
	Title               string
	Description         string
	Stage               string
	SpecDoc             string
	AcceptanceCriteria  []string
	ApprovedBy          string
	ApprovedAt          string
	BranchName          string
	ReviewNotes         string
	ReviewPassed        bool
	Priority            int
	AssignedAgent       string
	AssignedTo          string
	StartedAt           string
	CompletedAt         string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func defaultStage(itemType string) string {
	switch itemType {
	case "feature":
		return "idea"
	case "story":
		return "backlog"
	case "risk", "issue", "assumption", "dependency":
		return "identified"
	default:
		return ""
	}
}

// Pipelines is the CRUD + state-machine surface over pipeline_items.
type Pipelines struct {
	db         *sqlite3.SQLite
	activities *activity.Log
	autoRollup bool
}

func New(db *sqlite3.SQLite, activities *activity.Log, autoRollup bool) *Pipelines {
	return &Pipelines{db: db, activities: activities, autoRollup: autoRollup}
}

// CreateInput is createPipeline's argument (spec §4.8).
type CreateInput struct {
	Type               string
	ProjectID           string
	ParentID            string
	Title               string
	Description         string
	Priority            int
	AcceptanceCriteria  []string
}

// CreatePipeline inserts a new item, rejecting a child whose parent does
// not resolve to a feature (spec §4.8).
func (p *Pipelines) CreatePipeline(ctx context.Context, in CreateInput) (*Item, error) {
	if in.Title == "" {
		return nil, &ValidationError{Message: "title is required"}
	}
	if in.Type == "" {
		in.Type = "feature"
	}
	if _, ok := validStages[in.Type]; !ok {
		return nil, &ValidationError{Message: fmt.Sprintf("unknown pipeline type %q", in.Type)}
	}

	if in.ParentID != "" {
		parent, err := p.Get(ctx, in.ParentID)
		if err != nil {
			return nil, err
		}
		if parent.Type != "feature" {
			return nil, &ValidationError{Message: "parent_id must resolve to a feature"}
		}
	}

	if in.Priority == 0 {
		in.Priority = 3
	}
	if in.AcceptanceCriteria == nil {
		in.AcceptanceCriteria = []string{}
	}

	now := time.Now().UTC()
	item := Item{
		ID:                 ulid.Make().String(),
		Type:               in.Type,
		ParentID:           in.ParentID,
		ProjectID:          in.ProjectID,
		Title:              in.Title,
		Description:        in.Description,
		Stage:              defaultStage(in.Type),
		AcceptanceCriteria: in.AcceptanceCriteria,
		Priority:           in.Priority,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	acJSON, _ := json.Marshal(item.AcceptanceCriteria)

	record := goqu.Record{
		"id":                   item.ID,
		"type":                 item.Type,
		"parent_id":            nullableString(item.ParentID),
		"project_id":           nullableString(item.ProjectID),
		"title":                item.Title,
		"description":          item.Description,
		"stage":                item.Stage,
		"spec_doc":             "",
		"acceptance_criteria":  string(acJSON),
		"approved_by":          nil,
		"approved_at":          nil,
		"branch_name":          nil,
		"review_notes":         "",
		"review_passed":        0,
		"health_check":         "{}",
		"priority":             item.Priority,
		"assigned_agent":       nil,
		"assigned_to":          nil,
		"started_at":           nil,
		"completed_at":         nil,
		"created_at":           now.Format(time.RFC3339),
		"updated_at":           now.Format(time.RFC3339),
	}

	query, _, err := p.db.Goqu().Insert(p.db.Table("pipeline_items")).Rows(record).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build pipeline_items insert: %w", err)
	}

	if _, err := p.db.DB().ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("insert pipeline item: %w", err)
	}

	return &item, nil
}

var recognisedPipelineFields = map[string]bool{
	"title": true, "description": true, "stage": true, "spec_doc": true,
	"acceptance_criteria": true, "branch_name": true, "review_notes": true,
	"review_passed": true, "priority": true, "assigned_agent": true,
	"assigned_to": true, "started_at": true, "completed_at": true,
}

// UpdatePipeline applies updates atomically: if stage changed, an Activity
// record is appended describing the transition (spec §4.8).
func (p *Pipelines) UpdatePipeline(ctx context.Context, id string, updates map[string]interface{}, source string) (*Item, error) {
	current, err := p.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	newStage, stageChanging := updates["stage"].(string)
	if stageChanging {
		if err := validateStage(current.Type, newStage); err != nil {
			return nil, err
		}
	}

	record := goqu.Record{}
	for k, v := range updates {
		if !recognisedPipelineFields[k] {
			continue
		}
		if k == "acceptance_criteria" {
			if ac, ok := v.([]string); ok {
				data, _ := json.Marshal(ac)
				record[k] = string(data)
				continue
			}
		}
		record[k] = v
	}
	record["updated_at"] = time.Now().UTC().Format(time.RFC3339)

	query, _, err := p.db.Goqu().Update(p.db.Table("pipeline_items")).Set(record).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build pipeline_items update: %w", err)
	}

	breadcrumb := stageChanging && newStage != current.Stage && p.activities != nil

	tx, err := p.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin pipeline update tx: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("update pipeline item: %w", err)
	}

	if breadcrumb {
		if err := p.activities.LogFullTx(ctx, tx, activity.Entry{
			Action:      "pipeline_stage_changed",
			Category:    "pipeline",
			Description: fmt.Sprintf("%s moved from %s to %s", current.Title, current.Stage, newStage),
			Metadata:    map[string]interface{}{"from": current.Stage, "to": newStage, "title": current.Title},
			RelatedID:   "pipeline:" + id,
			Source:      source,
		}); err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("log pipeline_stage_changed: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit pipeline update tx: %w", err)
	}

	if breadcrumb && p.autoRollup {
		p.applyAutoRollup(ctx, current, newStage, source)
	}

	return p.Get(ctx, id)
}

// applyAutoRollup implements the advisory parent-transition rules (spec
// §4.8): first child story to in-progress nudges the parent feature to
// building; all stories done nudges it to live. Errors are swallowed since
// these transitions are advisory, never required.
func (p *Pipelines) applyAutoRollup(ctx context.Context, story *Item, newStage, source string) {
	if story.Type != "story" || story.ParentID == "" {
		return
	}

	parent, err := p.Get(ctx, story.ParentID)
	if err != nil || parent.Type != "feature" {
		return
	}

	switch {
	case newStage == "in-progress" && parent.Stage == "idea":
		_, _ = p.UpdatePipeline(ctx, parent.ID, map[string]interface{}{"stage": "building"}, source)
	case newStage == "done":
		stats, err := p.GetStoryStats(ctx, parent.ID)
		if err == nil && stats.Total > 0 && stats.Done == stats.Total && parent.Stage != "live" {
			_, _ = p.UpdatePipeline(ctx, parent.ID, map[string]interface{}{"stage": "live"}, source)
		}
	}
}

// ApprovePipeline sets stage=ready (legacy value outside the per-type
// table, used only by the approval gate), approved_by, and approved_at
// (spec §4.8).
func (p *Pipelines) ApprovePipeline(ctx context.Context, id, approvedBy string) (*Item, error) {
	record := goqu.Record{
		"stage":       "ready",
		"approved_by": approvedBy,
		"approved_at": time.Now().UTC().Format(time.RFC3339),
		"updated_at":  time.Now().UTC().Format(time.RFC3339),
	}

	query, _, err := p.db.Goqu().Update(p.db.Table("pipeline_items")).Set(record).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build approve update: %w", err)
	}

	if _, err := p.db.DB().ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("approve pipeline item: %w", err)
	}

	return p.Get(ctx, id)
}

// ListOpts configures ListPipeline.
type ListOpts struct {
	ProjectID string
	ParentID  string
	Stage     string
	Type      string
	Limit     int
}

// ListPipeline lists items; when Stage is absent it excludes done and live
// by default (spec §4.8).
func (p *Pipelines) ListPipeline(ctx context.Context, opts ListOpts) ([]Item, error) {
	ds := p.db.Goqu().From(p.db.Table("pipeline_items")).Order(goqu.I("priority").Asc(), goqu.I("created_at").Asc())

	if opts.ProjectID != "" {
		ds = ds.Where(goqu.I("project_id").Eq(opts.ProjectID))
	}
	if opts.ParentID != "" {
		ds = ds.Where(goqu.I("parent_id").Eq(opts.ParentID))
	}
	if opts.Type != "" {
		ds = ds.Where(goqu.I("type").Eq(opts.Type))
	}

	if opts.Stage != "" {
		ds = ds.Where(goqu.I("stage").Eq(opts.Stage))
	} else {
		ds = ds.Where(goqu.I("stage").NotIn("done", "live"))
	}

	limit := opts.Limit
	if limit == 0 {
		limit = 100
	}
	ds = ds.Limit(uint(limit))

	return p.queryItems(ctx, ds)
}

// GetChildItems returns all children of featureID ordered by priority then
// creation (spec §4.8).
func (p *Pipelines) GetChildItems(ctx context.Context, featureID string) ([]Item, error) {
	ds := p.db.Goqu().From(p.db.Table("pipeline_items")).
		Where(goqu.I("parent_id").Eq(featureID)).
		Order(goqu.I("priority").Asc(), goqu.I("created_at").Asc())

	return p.queryItems(ctx, ds)
}

// StoryStats is getStoryStats's return shape (spec §4.8).
type StoryStats struct {
	Total   int
	Done    int
	ByStage map[string]int
}

func (p *Pipelines) GetStoryStats(ctx context.Context, featureID string) (*StoryStats, error) {
	children, err := p.GetChildItems(ctx, featureID)
	if err != nil {
		return nil, err
	}

	stats := &StoryStats{ByStage: map[string]int{}}
	for _, c := range children {
		stats.Total++
		stats.ByStage[c.Stage]++
		if c.Stage == "done" {
			stats.Done++
		}
	}

	return stats, nil
}

func (p *Pipelines) Get(ctx context.Context, id string) (*Item, error) {
	ds := p.db.Goqu().From(p.db.Table("pipeline_items")).Where(goqu.I("id").Eq(id))

	items, err := p.queryItems(ctx, ds)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("pipeline: item %q not found", id)
	}

	return &items[0], nil
}

func (p *Pipelines) queryItems(ctx context.Context, ds *goqu.SelectDataset) ([]Item, error) {
	query, _, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build pipeline query: %w", err)
	}

	rows, err := p.db.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query pipeline_items: %w", err)
	}
	defer rows.Close()

	var out []Item

	for rows.Next() {
		var (
			id, itemType, title, description, stage, specDoc, acJSON, reviewNotes, healthCheck, createdAt, updatedAt string
			parentID, projectID, approvedBy, approvedAt, branchName, assignedAgent, assignedTo, startedAt, completedAt *string
			reviewPassed, priority                                                                                   int
		)

		if err := rows.Scan(&id, &itemType, &parentID, &projectID, &title, &description, &stage, &specDoc,
			&acJSON, &approvedBy, &approvedAt, &branchName, &reviewNotes, &reviewPassed, &healthCheck,
			&priority, &assignedAgent, &assignedTo, &startedAt, &completedAt, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan pipeline_items row: %w", err)
		}

		item := Item{
			ID: id, Type: itemType, Title: title, Description: description, Stage: stage,
			SpecDoc: specDoc, ReviewNotes: reviewNotes, ReviewPassed: reviewPassed != 0, Priority: priority,
		}
		if parentID != nil {
			item.ParentID = *parentID
		}
		if projectID != nil {
			item.ProjectID = *projectID
		}
		if approvedBy != nil {
			item.ApprovedBy = *approvedBy
		}
		if approvedAt != nil {
			item.ApprovedAt = *approvedAt
		}
		if branchName != nil {
			item.BranchName = *branchName
		}
		if assignedAgent != nil {
			item.AssignedAgent = *assignedAgent
		}
		if assignedTo != nil {
			item.AssignedTo = *assignedTo
		}
		if startedAt != nil {
			item.StartedAt = *startedAt
		}
		if completedAt != nil {
			item.CompletedAt = *completedAt
		}
		_ = json.Unmarshal([]byte(acJSON), &item.AcceptanceCriteria)
		if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
			item.CreatedAt = ts
		}
		if ts, err := time.Parse(time.RFC3339, updatedAt); err == nil {
			item.UpdatedAt = ts
		}

		out = append(out, item)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })

	return out, rows.Err()
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}

	return s
}
