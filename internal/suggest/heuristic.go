package suggest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"focusline/internal/config"
	"focusline/internal/store"
)

// HeuristicPredictor ranks recent applications by time spent inside the
// configured history window and suggests resuming the heaviest ones. It
// is the built-in Predictor; smarter backends plug in behind the same
// interface.
type HeuristicPredictor struct {
	Store  store.Repository
	Config *config.Config
	Now    func() time.Time
}

func NewHeuristicPredictor(st store.Repository, cfg *config.Config) *HeuristicPredictor {
	return &HeuristicPredictor{Store: st, Config: cfg, Now: time.Now}
}

func (p *HeuristicPredictor) Predict(ctx context.Context, limit int) ([]Prediction, error) {
	end := p.Now().UTC()
	start := end.Add(-p.Config.Suggestions.HistoryWindow.Std())
	activities, err := p.Store.ActivitiesByTimeframe(ctx, start, end)
	if err != nil {
		return nil, err
	}

	type bucket struct {
		app, title, category string
		total                time.Duration
		lastSeen             time.Time
	}
	buckets := map[string]*bucket{}
	for _, a := range activities {
		d := a.Duration()
		if d <= 0 {
			continue
		}
		b, ok := buckets[a.AppName]
		if !ok {
			b = &bucket{app: a.AppName}
			buckets[a.AppName] = b
		}
		b.total += d
		if a.EndTime.After(b.lastSeen) {
			b.lastSeen = a.EndTime
			b.title = a.Title
			b.category = a.Category
		}
	}

	ranked := make([]*bucket, 0, len(buckets))
	for _, b := range buckets {
		ranked = append(ranked, b)
	}
	// Heaviest first; weight productive categories up so the top slots
	// favor work over browsing. Ties go to the most recently used app.
	sort.Slice(ranked, func(i, j int) bool {
		wi := ranked[i].total.Seconds() * (1 + p.Config.ProductiveWeight(ranked[i].category))
		wj := ranked[j].total.Seconds() * (1 + p.Config.ProductiveWeight(ranked[j].category))
		if wi != wj {
			return wi > wj
		}
		if !ranked[i].lastSeen.Equal(ranked[j].lastSeen) {
			return ranked[i].lastSeen.After(ranked[j].lastSeen)
		}
		return ranked[i].app < ranked[j].app
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	predictions := make([]Prediction, 0, len(ranked))
	for _, b := range ranked {
		predictions = append(predictions, Prediction{
			Text:    fmt.Sprintf("resume %s (%s)", b.app, b.title),
			Context: b.category,
			Weight:  b.total.Seconds(),
		})
	}
	return predictions, nil
}
