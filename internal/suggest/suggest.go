// Package suggest produces ranked task suggestions through an injected
// Predictor and routes feedback back to an injected Learner. The engine
// degrades to an empty list when prediction is unavailable; it never
// blocks the caller on a slow backend.
package suggest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"focusline/internal/bus"
	"focusline/internal/config"
	"focusline/internal/domain"
	"focusline/internal/store"
)

// ErrPredictionUnavailable marks a prediction that timed out or failed.
// The engine logs it and serves an empty list instead of surfacing it.
var ErrPredictionUnavailable = errors.New("prediction unavailable")

// Prediction is a raw candidate from a Predictor, before the engine
// assigns identity and rank.
type Prediction struct {
	Text    string
	Context string
	Weight  float64
}

// Predictor generates candidate suggestions. Implementations must honor
// ctx cancellation; the engine imposes its configured timeout.
type Predictor interface {
	Predict(ctx context.Context, limit int) ([]Prediction, error)
}

// Learner consumes feedback to improve future predictions.
type Learner interface {
	Learn(ctx context.Context, s domain.Suggestion) error
}

type Engine struct {
	Store     store.Repository
	Bus       *bus.Bus
	Config    *config.Config
	Predictor Predictor
	Learner   Learner
	Logger    *slog.Logger
	Now       func() time.Time
}

func New(st store.Repository, b *bus.Bus, cfg *config.Config, p Predictor, l Learner, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Store:     st,
		Bus:       b,
		Config:    cfg,
		Predictor: p,
		Learner:   l,
		Logger:    logger,
		Now:       time.Now,
	}
}

// Suggest returns up to the configured limit of ranked suggestions. Each
// returned suggestion is persisted with a fresh id so feedback can refer
// to it later. A timed-out or failing predictor yields an empty list,
// never an error.
func (e *Engine) Suggest(ctx context.Context) ([]domain.Suggestion, error) {
	limit := e.Config.Suggestions.Limit
	predictions, err := e.predict(ctx, limit)
	if err != nil {
		e.Logger.Warn("prediction degraded to empty list", "error", err)
		return []domain.Suggestion{}, nil
	}
	if len(predictions) > limit {
		predictions = predictions[:limit]
	}

	now := e.Now().UTC()
	suggestions := make([]domain.Suggestion, 0, len(predictions))
	for i, p := range predictions {
		s := domain.Suggestion{
			ID:        uuid.New().String(),
			Rank:      i + 1,
			Text:      p.Text,
			Context:   p.Context,
			Outcome:   domain.OutcomePending,
			CreatedAt: now,
		}
		if err := e.Store.SaveSuggestion(ctx, s); err != nil {
			return nil, fmt.Errorf("persist suggestion: %w", err)
		}
		suggestions = append(suggestions, s)
	}
	return suggestions, nil
}

func (e *Engine) predict(ctx context.Context, limit int) ([]Prediction, error) {
	ctx, cancel := context.WithTimeout(ctx, e.Config.Suggestions.PredictionTimeout.Std())
	defer cancel()

	type result struct {
		predictions []Prediction
		err         error
	}
	ch := make(chan result, 1)
	go func() {
		predictions, err := e.Predictor.Predict(ctx, limit)
		ch <- result{predictions, err}
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrPredictionUnavailable, ctx.Err())
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPredictionUnavailable, res.err)
		}
		return res.predictions, nil
	}
}

// Feedback records the outcome for a suggestion, then forwards it to the
// learner asynchronously so a slow learner cannot delay the caller. An
// unknown id returns the store's not-found error and reaches no learner.
func (e *Engine) Feedback(ctx context.Context, id, outcome string) (domain.Suggestion, error) {
	if outcome != domain.OutcomeAccepted && outcome != domain.OutcomeRejected {
		return domain.Suggestion{}, fmt.Errorf("outcome must be %q or %q, got %q",
			domain.OutcomeAccepted, domain.OutcomeRejected, outcome)
	}
	if err := e.Store.SetSuggestionOutcome(ctx, id, outcome); err != nil {
		return domain.Suggestion{}, err
	}
	s, err := e.Store.GetSuggestion(ctx, id)
	if err != nil {
		return domain.Suggestion{}, err
	}

	e.Bus.Dispatch(bus.Event{Kind: bus.SuggestionFeedback, Timestamp: e.Now().UTC(), Feedback: &s})

	if e.Learner != nil {
		go func(s domain.Suggestion) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := e.Learner.Learn(ctx, s); err != nil {
				e.Logger.Warn("learner rejected feedback", "suggestion", s.ID, "error", err)
			}
		}(s)
	}
	return s, nil
}
