package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/ocs/internal/activity"
	"github.com/rakunlabs/ocs/internal/config"
	"github.com/rakunlabs/ocs/internal/storage/sqlite3"
)

func newTestDB(t *testing.T) *sqlite3.SQLite {
	t.Helper()

	cfg := &config.Store{
		Datasource: t.TempDir() + "/pipeline_test.db",
		Migrate:    config.Migrate{Table: "schema_migrations", Values: map[string]string{}},
	}

	db, err := sqlite3.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func TestCreatePipelineDefaultsStage(t *testing.T) {
	db := newTestDB(t)
	p := New(db, activity.New(db), false)
	ctx := context.Background()

	feature, err := p.CreatePipeline(ctx, CreateInput{Type: "feature", Title: "Launch v2"})
	require.NoError(t, err)
	require.Equal(t, "idea", feature.Stage)
}

func TestCreatePipelineRejectsNonFeatureParent(t *testing.T) {
	db := newTestDB(t)
	p := New(db, activity.New(db), false)
	ctx := context.Background()

	risk, err := p.CreatePipeline(ctx, CreateInput{Type: "risk", Title: "Data loss risk"})
	require.NoError(t, err)

	_, err = p.CreatePipeline(ctx, CreateInput{Type: "story", Title: "Sub story", ParentID: risk.ID})
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
}

func TestUpdatePipelineRejectsInvalidStage(t *testing.T) {
	db := newTestDB(t)
	p := New(db, activity.New(db), false)
	ctx := context.Background()

	story, err := p.CreatePipeline(ctx, CreateInput{Type: "story", Title: "As a user..."})
	require.NoError(t, err)

	_, err = p.UpdatePipeline(ctx, story.ID, map[string]interface{}{"stage": "live"}, "cli")
	require.Error(t, err)
}

func TestUpdatePipelineLogsStageChangeActivity(t *testing.T) {
	db := newTestDB(t)
	log := activity.New(db)
	p := New(db, log, false)
	ctx := context.Background()

	story, err := p.CreatePipeline(ctx, CreateInput{Type: "story", Title: "As a user..."})
	require.NoError(t, err)

	_, err = p.UpdatePipeline(ctx, story.ID, map[string]interface{}{"stage": "in-progress"}, "cli")
	require.NoError(t, err)

	entries, err := log.GetByCategory(ctx, "pipeline", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "pipeline_stage_changed", entries[0].Action)
	require.Equal(t, "pipeline:"+story.ID, entries[0].RelatedID)
}

func TestApprovePipeline(t *testing.T) {
	db := newTestDB(t)
	p := New(db, activity.New(db), false)
	ctx := context.Background()

	feature, err := p.CreatePipeline(ctx, CreateInput{Type: "feature", Title: "Launch v2"})
	require.NoError(t, err)

	approved, err := p.ApprovePipeline(ctx, feature.ID, "ada")
	require.NoError(t, err)
	require.Equal(t, "ready", approved.Stage)
	require.Equal(t, "ada", approved.ApprovedBy)
}

func TestListPipelineExcludesDoneAndLiveByDefault(t *testing.T) {
	db := newTestDB(t)
	p := New(db, activity.New(db), false)
	ctx := context.Background()

	story, err := p.CreatePipeline(ctx, CreateInput{Type: "story", Title: "Story A"})
	require.NoError(t, err)
	_, err = p.UpdatePipeline(ctx, story.ID, map[string]interface{}{"stage": "done"}, "cli")
	require.NoError(t, err)

	_, err = p.CreatePipeline(ctx, CreateInput{Type: "story", Title: "Story B"})
	require.NoError(t, err)

	list, err := p.ListPipeline(ctx, ListOpts{Type: "story"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "Story B", list[0].Title)
}

func TestGetChildItemsAndStoryStats(t *testing.T) {
	db := newTestDB(t)
	p := New(db, activity.New(db), false)
	ctx := context.Background()

	feature, err := p.CreatePipeline(ctx, CreateInput{Type: "feature", Title: "Launch v2"})
	require.NoError(t, err)

	s1, err := p.CreatePipeline(ctx, CreateInput{Type: "story", Title: "Story A", ParentID: feature.ID})
	require.NoError(t, err)
	_, err = p.CreatePipeline(ctx, CreateInput{Type: "story", Title: "Story B", ParentID: feature.ID})
	require.NoError(t, err)

	_, err = p.UpdatePipeline(ctx, s1.ID, map[string]interface{}{"stage": "done"}, "cli")
	require.NoError(t, err)

	children, err := p.GetChildItems(ctx, feature.ID)
	require.NoError(t, err)
	require.Len(t, children, 2)

	stats, err := p.GetStoryStats(ctx, feature.ID)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Total)
	require.Equal(t, 1, stats.Done)
}

func TestAutoRollupPromotesFeatureToBuilding(t *testing.T) {
	db := newTestDB(t)
	p := New(db, activity.New(db), true)
	ctx := context.Background()

	feature, err := p.CreatePipeline(ctx, CreateInput{Type: "feature", Title: "Launch v2"})
	require.NoError(t, err)

	story, err := p.CreatePipeline(ctx, CreateInput{Type: "story", Title: "Story A", ParentID: feature.ID})
	require.NoError(t, err)

	_, err = p.UpdatePipeline(ctx, story.ID, map[string]interface{}{"stage": "in-progress"}, "cli")
	require.NoError(t, err)

	updated, err := p.Get(ctx, feature.ID)
	require.NoError(t, err)
	require.Equal(t, "building", updated.Stage)
}

func TestPipelineTaskLifecycle(t *testing.T) {
	db := newTestDB(t)
	p := New(db, activity.New(db), false)
	ctx := context.Background()

	story, err := p.CreatePipeline(ctx, CreateInput{Type: "story", Title: "Story A"})
	require.NoError(t, err)

	task, err := p.AddPipelineTask(ctx, story.ID, "Write tests", "cover edge cases")
	require.NoError(t, err)
	require.Equal(t, "todo", task.Status)

	require.NoError(t, p.UpdatePipelineTask(ctx, task.ID, "done", "all green"))

	tasks, err := p.GetPipelineTasks(ctx, story.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, "done", tasks[0].Status)
}

func TestPipelineNoteLifecycle(t *testing.T) {
	db := newTestDB(t)
	p := New(db, activity.New(db), false)
	ctx := context.Background()

	story, err := p.CreatePipeline(ctx, CreateInput{Type: "story", Title: "Story A"})
	require.NoError(t, err)

	_, err = p.AddPipelineNote(ctx, story.ID, "developer", "handover", "picking this up tomorrow")
	require.NoError(t, err)

	_, err = p.AddPipelineNote(ctx, story.ID, "developer", "nonsense-type", "bad note")
	require.Error(t, err)

	notes, err := p.GetPipelineNotes(ctx, story.ID)
	require.NoError(t, err)
	require.Len(t, notes, 1)
}
