package suggest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"focusline/internal/bus"
	"focusline/internal/config"
	"focusline/internal/db"
	"focusline/internal/domain"
	"focusline/internal/migrate"
	"focusline/internal/store"
)

type fakePredictor struct {
	predictions []Prediction
	err         error
	delay       time.Duration
}

func (f *fakePredictor) Predict(ctx context.Context, limit int) ([]Prediction, error) {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	return f.predictions, f.err
}

type fakeLearner struct {
	mu     sync.Mutex
	got    []domain.Suggestion
	called chan struct{}
}

func newFakeLearner() *fakeLearner {
	return &fakeLearner{called: make(chan struct{}, 8)}
}

func (f *fakeLearner) Learn(ctx context.Context, s domain.Suggestion) error {
	f.mu.Lock()
	f.got = append(f.got, s)
	f.mu.Unlock()
	f.called <- struct{}{}
	return nil
}

func newTestEngine(t *testing.T, p Predictor, l Learner) (*Engine, store.Repository) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	st := store.NewSQLite(conn)
	cfg := config.Default("test")
	cfg.Suggestions.PredictionTimeout = config.Duration(50 * time.Millisecond)
	e := New(st, bus.New(nil), cfg, p, l, nil)
	return e, st
}

func TestSuggestRanksAndPersists(t *testing.T) {
	p := &fakePredictor{predictions: []Prediction{
		{Text: "resume code review", Context: "development"},
		{Text: "reply in #general", Context: "communication"},
	}}
	e, st := newTestEngine(t, p, nil)

	got, err := e.Suggest(context.Background())
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d suggestions, want 2", len(got))
	}
	for i, s := range got {
		if s.Rank != i+1 {
			t.Errorf("rank[%d] = %d", i, s.Rank)
		}
		if s.ID == "" || s.Outcome != domain.OutcomePending {
			t.Errorf("suggestion not initialized: %+v", s)
		}
		persisted, err := st.GetSuggestion(context.Background(), s.ID)
		if err != nil {
			t.Errorf("suggestion %s not persisted: %v", s.ID, err)
		} else if persisted.Text != s.Text {
			t.Errorf("persisted text = %q, want %q", persisted.Text, s.Text)
		}
	}
}

func TestSuggestTruncatesToLimit(t *testing.T) {
	var many []Prediction
	for i := 0; i < 20; i++ {
		many = append(many, Prediction{Text: "task"})
	}
	e, _ := newTestEngine(t, &fakePredictor{predictions: many}, nil)
	got, err := e.Suggest(context.Background())
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if len(got) != e.Config.Suggestions.Limit {
		t.Fatalf("got %d, want limit %d", len(got), e.Config.Suggestions.Limit)
	}
}

func TestSuggestDegradesOnTimeout(t *testing.T) {
	e, _ := newTestEngine(t, &fakePredictor{delay: time.Second}, nil)
	start := time.Now()
	got, err := e.Suggest(context.Background())
	if err != nil {
		t.Fatalf("suggest returned error, want empty degradation: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d suggestions, want 0", len(got))
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("degradation took %v, should respect the 50ms timeout", elapsed)
	}
}

func TestSuggestDegradesOnPredictorError(t *testing.T) {
	e, _ := newTestEngine(t, &fakePredictor{err: errors.New("backend down")}, nil)
	got, err := e.Suggest(context.Background())
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d suggestions, want 0", len(got))
	}
}

func TestFeedbackForwardsToLearner(t *testing.T) {
	p := &fakePredictor{predictions: []Prediction{{Text: "resume code review"}}}
	learner := newFakeLearner()
	e, st := newTestEngine(t, p, learner)

	suggestions, err := e.Suggest(context.Background())
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	id := suggestions[0].ID

	got, err := e.Feedback(context.Background(), id, domain.OutcomeAccepted)
	if err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if got.Outcome != domain.OutcomeAccepted {
		t.Errorf("outcome = %q", got.Outcome)
	}

	select {
	case <-learner.called:
	case <-time.After(2 * time.Second):
		t.Fatal("learner never received the feedback")
	}
	learner.mu.Lock()
	defer learner.mu.Unlock()
	if len(learner.got) != 1 || learner.got[0].ID != id {
		t.Fatalf("learner got %+v", learner.got)
	}

	persisted, err := st.GetSuggestion(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if persisted.Outcome != domain.OutcomeAccepted {
		t.Errorf("persisted outcome = %q", persisted.Outcome)
	}
}

func TestFeedbackUnknownID(t *testing.T) {
	learner := newFakeLearner()
	e, _ := newTestEngine(t, &fakePredictor{}, learner)

	_, err := e.Feedback(context.Background(), "missing", domain.OutcomeRejected)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	select {
	case <-learner.called:
		t.Fatal("learner called for unknown suggestion")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFeedbackRejectsBadOutcome(t *testing.T) {
	e, _ := newTestEngine(t, &fakePredictor{}, nil)
	if _, err := e.Feedback(context.Background(), "any", "maybe"); err == nil {
		t.Fatal("expected error for invalid outcome")
	}
}

func TestHeuristicPredictorRanksByWeightedTime(t *testing.T) {
	e, st := newTestEngine(t, nil, nil)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	seed := []domain.Activity{
		{ID: "a1", Kind: "application", Title: "main.go", AppName: "code",
			StartTime: now.Add(-2 * time.Hour), EndTime: now.Add(-1 * time.Hour), Category: "development"},
		{ID: "a2", Kind: "application", Title: "news", AppName: "chrome",
			StartTime: now.Add(-5 * time.Hour), EndTime: now.Add(-3 * time.Hour), Category: "browsing"},
	}
	for _, a := range seed {
		if err := st.SaveActivity(ctx, a); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	p := NewHeuristicPredictor(st, e.Config)
	p.Now = func() time.Time { return now }
	got, err := p.Predict(ctx, 5)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d predictions, want 2", len(got))
	}
	// code: 1h at weight 1.0 doubles to 2h effective; chrome: 2h at weight
	// 0 stays 2h. The recency tiebreak puts code first, last used an hour
	// ago against chrome's three.
	if got[0].Text != "resume code (main.go)" {
		t.Errorf("top prediction = %q", got[0].Text)
	}
}

func TestHeuristicPredictorTiebreakByRecency(t *testing.T) {
	e, st := newTestEngine(t, nil, nil)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	// Equal effective weight, equal total time; slack was used last.
	seed := []domain.Activity{
		{ID: "b1", Kind: "application", Title: "inbox", AppName: "mail",
			StartTime: now.Add(-6 * time.Hour), EndTime: now.Add(-5 * time.Hour), Category: "communication"},
		{ID: "b2", Kind: "application", Title: "standup", AppName: "slack",
			StartTime: now.Add(-2 * time.Hour), EndTime: now.Add(-1 * time.Hour), Category: "communication"},
	}
	for _, a := range seed {
		if err := st.SaveActivity(ctx, a); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	p := NewHeuristicPredictor(st, e.Config)
	p.Now = func() time.Time { return now }
	got, err := p.Predict(ctx, 5)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d predictions, want 2", len(got))
	}
	if got[0].Text != "resume slack (standup)" {
		t.Errorf("top prediction = %q, want the most recent app", got[0].Text)
	}
}
