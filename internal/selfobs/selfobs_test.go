package selfobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/ocs/internal/activity"
	"github.com/rakunlabs/ocs/internal/config"
	"github.com/rakunlabs/ocs/internal/llmapi"
	"github.com/rakunlabs/ocs/internal/router"
	"github.com/rakunlabs/ocs/internal/storage/sqlite3"
)

func newTestDB(t *testing.T) *sqlite3.SQLite {
	t.Helper()

	cfg := &config.Store{
		Datasource: t.TempDir() + "/selfobs_test.db",
		Migrate:    config.Migrate{Table: "schema_migrations", Values: map[string]string{}},
	}

	db, err := sqlite3.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func TestRecordRejectsUnknownAction(t *testing.T) {
	db := newTestDB(t)
	r := NewRecorder(activity.New(db))

	err := r.Record(context.Background(), "not_a_real_action", "", nil)
	require.Error(t, err)
}

func TestRecordDerivesCategory(t *testing.T) {
	db := newTestDB(t)
	log := activity.New(db)
	r := NewRecorder(log)
	ctx := context.Background()

	require.NoError(t, r.Record(ctx, "task_completed", "finished the report", nil))

	entries, err := log.GetByCategory(ctx, CategoryTaskPreference, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "task_completed", entries[0].Action)
}

func TestStoreInsertAndFeedback(t *testing.T) {
	db := newTestDB(t)
	s := NewStore(db)
	ctx := context.Background()

	o, err := s.Insert(ctx, Observation{WeekStart: "2026-07-27", Category: "decision", Observation: "tends to ask before destructive ops"})
	require.NoError(t, err)

	require.NoError(t, s.SetFeedback(ctx, o.ID, "useful", "matches my experience"))

	list, err := s.ListByWeek(ctx, "2026-07-27")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "useful", list[0].Feedback)
}

func TestStoreInsertRejectsInvalidCategory(t *testing.T) {
	db := newTestDB(t)
	s := NewStore(db)

	_, err := s.Insert(context.Background(), Observation{WeekStart: "2026-07-27", Category: "nonsense", Observation: "x"})
	require.Error(t, err)
}

type fakeProvider struct{ text string }

func (f *fakeProvider) Name() string      { return "fake" }
func (f *fakeProvider) Model() string     { return "fake-model" }
func (f *fakeProvider) Cost() llmapi.Cost { return llmapi.Cost{} }
func (f *fakeProvider) Complete(ctx context.Context, req llmapi.CompleteRequest) (*llmapi.CompleteResult, error) {
	return &llmapi.CompleteResult{Text: f.text}, nil
}

func TestSynthesizerRunProducesObservations(t *testing.T) {
	db := newTestDB(t)
	log := activity.New(db)
	recorder := NewRecorder(log)
	ctx := context.Background()

	require.NoError(t, recorder.Record(ctx, "task_completed", "shipped the feature", nil))
	require.NoError(t, recorder.Record(ctx, "decision_autonomous", "deployed without asking", nil))

	r := router.New(config.Router{Routes: map[string]string{"default": "fake", "summarize": "fake"}}, db)
	r.RegisterProvider("fake", &fakeProvider{text: "task_preference|finishes tasks end to end|task_completed\ndecision|acts autonomously on low-risk changes|decision_autonomous"})

	synth := NewSynthesizer(log, NewStore(db), r)

	weekStart := time.Now().UTC().AddDate(0, 0, -3)
	observations, err := synth.Run(ctx, weekStart)
	require.NoError(t, err)
	require.Len(t, observations, 2)
}

func TestSynthesizerRunNoSignalsReturnsNil(t *testing.T) {
	db := newTestDB(t)
	log := activity.New(db)
	r := router.New(config.Router{Routes: map[string]string{"default": "fake"}}, db)

	synth := NewSynthesizer(log, NewStore(db), r)

	observations, err := synth.Run(context.Background(), time.Now().UTC().AddDate(0, 0, -30))
	require.NoError(t, err)
	require.Nil(t, observations)
}
