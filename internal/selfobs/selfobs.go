// Package selfobs is Self-Observation (K): passive signal capture into the
// Activity log under four fixed categories, plus a weekly synthesis step
// that distills the week's signals into SelfObservation rows (spec §4.11).
package selfobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/oklog/ulid/v2"

	"github.com/rakunlabs/ocs/internal/activity"
	"github.com/rakunlabs/ocs/internal/router"
	"github.com/rakunlabs/ocs/internal/storage/sqlite3"
)

// Fixed signal categories (spec §4.11).
const (
	CategoryTaskPreference = "self_obs_task_preference"
	CategoryCommunication  = "self_obs_communication"
	CategoryDecision       = "self_obs_decision"
	CategoryError          = "self_obs_error"
)

var validActions = map[string]string{
	"task_started":              CategoryTaskPreference,
	"task_completed":            CategoryTaskPreference,
	"task_delegated":            CategoryTaskPreference,
	"comm_response":             CategoryCommunication,
	"comm_silence":              CategoryCommunication,
	"decision_autonomous":       CategoryDecision,
	"decision_asked_permission": CategoryDecision,
	"error_tool_failure":        CategoryError,
	"error_self_corrected":      CategoryError,
	"error_user_corrected":      CategoryError,
}

// Recorder appends passive signals to the Activity log under the fixed
// self_obs_* categories.
type Recorder struct {
	activities *activity.Log
}

func NewRecorder(activities *activity.Log) *Recorder {
	return &Recorder{activities: activities}
}

// Record logs a single passive signal. action must be one of the fixed set
// listed in spec §4.11; the category is derived from it, not chosen by the
// caller.
func (r *Recorder) Record(ctx context.Context, action string, description string, metadata map[string]interface{}) error {
	category, ok := validActions[action]
	if !ok {
		return fmt.Errorf("selfobs: unknown signal action %q", action)
	}

	return r.activities.LogFull(ctx, activity.Entry{
		Action:      action,
		Category:    category,
		Description: description,
		Metadata:    metadata,
		Source:      "self-observation",
	})
}

// Observation mirrors the self_observations table (spec §3).
type Observation struct {
	ID           string
	WeekStart    string
	Category     string
	Observation  string
	Evidence     []string
	Confidence   float64
	Feedback     string
	FeedbackNote string
	CreatedAt    time.Time
}

var validObservationCategories = map[string]bool{
	"task_preference": true, "communication": true, "decision": true, "error": true, "other": true,
}

// Store persists synthesized SelfObservation rows and operator feedback.
type Store struct {
	db *sqlite3.SQLite
}

func NewStore(db *sqlite3.SQLite) *Store {
	return &Store{db: db}
}

func (s *Store) Insert(ctx context.Context, o Observation) (*Observation, error) {
	if !validObservationCategories[o.Category] {
		return nil, fmt.Errorf("selfobs: invalid observation category %q", o.Category)
	}
	if o.Confidence == 0 {
		o.Confidence = 0.5
	}
	if o.Evidence == nil {
		o.Evidence = []string{}
	}

	o.ID = ulid.Make().String()
	o.CreatedAt = time.Now().UTC()

	evidenceJSON, err := json.Marshal(o.Evidence)
	if err != nil {
		return nil, fmt.Errorf("marshal evidence: %w", err)
	}

	record := goqu.Record{
		"id":            o.ID,
		"week_start":    o.WeekStart,
		"category":      o.Category,
		"observation":   o.Observation,
		"evidence":      string(evidenceJSON),
		"confidence":    o.Confidence,
		"feedback":      nullableString(o.Feedback),
		"feedback_note": nullableString(o.FeedbackNote),
		"created_at":    o.CreatedAt.Format(time.RFC3339),
	}

	query, _, err := s.db.Goqu().Insert(s.db.Table("self_observations")).Rows(record).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build self_observations insert: %w", err)
	}

	if _, err := s.db.DB().ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("insert self observation: %w", err)
	}

	return &o, nil
}

// SetFeedback stores the operator's useful/not_useful judgment on a row
// (spec §4.11).
func (s *Store) SetFeedback(ctx context.Context, id, feedback, note string) error {
	if feedback != "useful" && feedback != "not_useful" {
		return fmt.Errorf("selfobs: invalid feedback %q", feedback)
	}

	record := goqu.Record{"feedback": feedback, "feedback_note": nullableString(note)}

	query, _, err := s.db.Goqu().Update(s.db.Table("self_observations")).Set(record).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return fmt.Errorf("build feedback update: %w", err)
	}

	_, err = s.db.DB().ExecContext(ctx, query)

	return err
}

func (s *Store) ListByWeek(ctx context.Context, weekStart string) ([]Observation, error) {
	ds := s.db.Goqu().From(s.db.Table("self_observations")).
		Where(goqu.I("week_start").Eq(weekStart)).
		Order(goqu.I("created_at").Asc())

	query, _, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build self_observations query: %w", err)
	}

	rows, err := s.db.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query self_observations: %w", err)
	}
	defer rows.Close()

	var out []Observation
	for rows.Next() {
		var (
			id, weekStart, category, obsText, evidenceJSON, createdAt string
			feedback, feedbackNote                                    *string
			confidence                                                 float64
		)

		if err := rows.Scan(&id, &weekStart, &category, &obsText, &evidenceJSON, &confidence, &feedback, &feedbackNote, &createdAt); err != nil {
			return nil, fmt.Errorf("scan self_observations row: %w", err)
		}

		o := Observation{ID: id, WeekStart: weekStart, Category: category, Observation: obsText, Confidence: confidence}
		if feedback != nil {
			o.Feedback = *feedback
		}
		if feedbackNote != nil {
			o.FeedbackNote = *feedbackNote
		}
		_ = json.Unmarshal([]byte(evidenceJSON), &o.Evidence)
		if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
			o.CreatedAt = ts
		}

		out = append(out, o)
	}

	return out, rows.Err()
}

// Synthesizer runs the weekly synthesis step: gather the week's self_obs_*
// activity entries, call the router to distill 3-5 observations, persist
// them (spec §4.11).
type Synthesizer struct {
	activities *activity.Log
	store      *Store
	router     *router.Router
}

func NewSynthesizer(activities *activity.Log, store *Store, r *router.Router) *Synthesizer {
	return &Synthesizer{activities: activities, store: store, router: r}
}

// Run performs one synthesis pass over [weekStart, weekStart+7d).
func (s *Synthesizer) Run(ctx context.Context, weekStart time.Time) ([]Observation, error) {
	since := weekStart
	until := weekStart.AddDate(0, 0, 7)

	var signals []string
	for category := range map[string]bool{CategoryTaskPreference: true, CategoryCommunication: true, CategoryDecision: true, CategoryError: true} {
		entries, err := s.activities.GetByCategory(ctx, category, 500)
		if err != nil {
			return nil, fmt.Errorf("gather %s signals: %w", category, err)
		}

		for _, e := range entries {
			if e.CreatedAt.Before(since) || !e.CreatedAt.Before(until) {
				continue
			}
			signals = append(signals, fmt.Sprintf("[%s] %s: %s", e.Category, e.Action, e.Description))
		}
	}

	if len(signals) == 0 {
		return nil, nil
	}

	prompt := buildSynthesisPrompt(signals)

	result, err := s.router.Route(ctx, router.Request{Type: "summarize", Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("synthesize observations: %w", err)
	}

	parsed := parseSynthesisOutput(result.Text)

	weekLabel := weekStart.Format("2006-01-02")

	var out []Observation
	for _, p := range parsed {
		o, err := s.store.Insert(ctx, Observation{
			WeekStart:   weekLabel,
			Category:    p.Category,
			Observation: p.Text,
			Evidence:    p.Evidence,
			Confidence:  0.6,
		})
		if err != nil {
			return out, fmt.Errorf("persist observation: %w", err)
		}

		out = append(out, *o)
	}

	return out, nil
}

func buildSynthesisPrompt(signals []string) string {
	var b strings.Builder

	b.WriteString("Summarize the following week of self-observation signals into 3-5 distinct observations. ")
	b.WriteString("For each, output a line formatted as CATEGORY|OBSERVATION|EVIDENCE, where CATEGORY is one of ")
	b.WriteString("task_preference, communication, decision, error.\n\n")

	for _, s := range signals {
		b.WriteString(s)
		b.WriteByte('\n')
	}

	return b.String()
}

type synthesizedObservation struct {
	Category string
	Text     string
	Evidence []string
}

func parseSynthesisOutput(text string) []synthesizedObservation {
	var out []synthesizedObservation

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Split(line, "|")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) < 2 {
			continue
		}

		category := parts[0]
		if !validObservationCategories[category] {
			continue
		}

		obs := synthesizedObservation{Category: category, Text: parts[1]}
		if len(parts) > 2 {
			obs.Evidence = []string{parts[2]}
		}

		out = append(out, obs)

		if len(out) >= 5 {
			break
		}
	}

	return out
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}

	return s
}
