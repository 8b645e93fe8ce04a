// Package analytics computes read-only reports over persisted activities.
// All computation is deterministic for a fixed store and clock.
package analytics

import (
	"context"
	"sort"
	"time"

	"focusline/internal/config"
	"focusline/internal/domain"
	"focusline/internal/store"
)

type Engine struct {
	Store  store.Repository
	Config *config.Config
	Now    func() time.Time
}

func New(st store.Repository, cfg *config.Config) *Engine {
	return &Engine{Store: st, Config: cfg, Now: time.Now}
}

// CategoryTotal is one row of a report breakdown, ordered by duration.
type CategoryTotal struct {
	Category   string        `json:"category"`
	Duration   time.Duration `json:"duration"`
	Productive bool          `json:"productive"`
}

// DailyReport aggregates one calendar day in the given location.
type DailyReport struct {
	Date          string          `json:"date"`
	TotalTracked  time.Duration   `json:"total_tracked"`
	ActivityCount int             `json:"activity_count"`
	Score         float64         `json:"score"`
	ByCategory    []CategoryTotal `json:"by_category,omitempty"`
}

// PatternCell is one hour-of-week bucket of the activity pattern grid.
type PatternCell struct {
	Weekday  time.Weekday  `json:"weekday"`
	Hour     int           `json:"hour"`
	Duration time.Duration `json:"duration"`
}

// Daily builds the report for the calendar day containing date. Portions
// of activities outside the day are clipped out, and open activities are
// clipped at the current time; only observed time inside the day counts.
func (e *Engine) Daily(ctx context.Context, date time.Time) (DailyReport, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)
	horizon := dayEnd
	if now := e.Now(); now.Before(horizon) {
		horizon = now
	}

	activities, err := e.Store.ActivitiesByTimeframe(ctx, dayStart, dayEnd)
	if err != nil {
		return DailyReport{}, err
	}

	report := DailyReport{Date: dayStart.Format("2006-01-02")}
	byCategory := map[string]time.Duration{}
	for _, a := range activities {
		d := clip(a, dayStart, horizon)
		if d <= 0 {
			continue
		}
		report.ActivityCount++
		report.TotalTracked += d
		byCategory[categoryOf(a)] += d
	}
	for cat, d := range byCategory {
		report.ByCategory = append(report.ByCategory, CategoryTotal{
			Category:   cat,
			Duration:   d,
			Productive: e.Config.ProductiveWeight(cat) > 0,
		})
	}
	sort.Slice(report.ByCategory, func(i, j int) bool {
		if report.ByCategory[i].Duration != report.ByCategory[j].Duration {
			return report.ByCategory[i].Duration > report.ByCategory[j].Duration
		}
		return report.ByCategory[i].Category < report.ByCategory[j].Category
	})
	report.Score = e.score(byCategory)
	return report, nil
}

// Score computes the productivity score over [start, end): the weighted
// share of tracked time spent in productive categories. Zero tracked time
// scores zero.
func (e *Engine) Score(ctx context.Context, start, end time.Time) (float64, error) {
	activities, err := e.Store.ActivitiesByTimeframe(ctx, start, end)
	if err != nil {
		return 0, err
	}
	byCategory := map[string]time.Duration{}
	for _, a := range activities {
		d := clip(a, start, end)
		if d <= 0 {
			continue
		}
		byCategory[categoryOf(a)] += d
	}
	return e.score(byCategory), nil
}

func (e *Engine) score(byCategory map[string]time.Duration) float64 {
	var total, weighted float64
	for cat, d := range byCategory {
		total += d.Seconds()
		weighted += d.Seconds() * e.Config.ProductiveWeight(cat)
	}
	if total == 0 {
		return 0
	}
	return weighted / total
}

// Patterns buckets tracked time over the trailing days into an hour by
// weekday grid. Cells with no tracked time are omitted. Activities that
// cross an hour boundary contribute to every hour they touch.
func (e *Engine) Patterns(ctx context.Context, days int) ([]PatternCell, error) {
	end := e.Now()
	start := end.AddDate(0, 0, -days)
	activities, err := e.Store.ActivitiesByTimeframe(ctx, start, end)
	if err != nil {
		return nil, err
	}

	var grid [7][24]time.Duration
	for _, a := range activities {
		aStart, aEnd := a.StartTime, a.EndTime
		if aEnd.IsZero() || aEnd.After(end) {
			aEnd = end
		}
		if aStart.Before(start) {
			aStart = start
		}
		for cur := aStart; cur.Before(aEnd); {
			hourEnd := cur.Truncate(time.Hour).Add(time.Hour)
			if hourEnd.After(aEnd) {
				hourEnd = aEnd
			}
			grid[cur.Weekday()][cur.Hour()] += hourEnd.Sub(cur)
			cur = hourEnd
		}
	}

	var cells []PatternCell
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		for hour := 0; hour < 24; hour++ {
			if d := grid[wd][hour]; d > 0 {
				cells = append(cells, PatternCell{Weekday: wd, Hour: hour, Duration: d})
			}
		}
	}
	return cells, nil
}

// clip returns the portion of the activity inside [start, end). An open
// activity is clipped at end.
func clip(a domain.Activity, start, end time.Time) time.Duration {
	s, e := a.StartTime, a.EndTime
	if e.IsZero() || e.After(end) {
		e = end
	}
	if s.Before(start) {
		s = start
	}
	if !e.After(s) {
		return 0
	}
	return e.Sub(s)
}

func categoryOf(a domain.Activity) string {
	if a.Category == "" {
		return "uncategorized"
	}
	return a.Category
}
