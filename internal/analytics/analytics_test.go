package analytics

import (
	"context"
	"math"
	"testing"
	"time"

	"focusline/internal/config"
	"focusline/internal/db"
	"focusline/internal/domain"
	"focusline/internal/migrate"
	"focusline/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, store.Repository) {
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
	e := New(st, config.Default("test"))
	e.Now = func() time.Time { return time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC) }
	return e, st
}

func ts(day, hour, min int) time.Time {
	return time.Date(2026, 3, day, hour, min, 0, 0, time.UTC)
}

func seed(t *testing.T, st store.Repository, activities ...domain.Activity) {
	t.Helper()
	for _, a := range activities {
		if err := st.SaveActivity(context.Background(), a); err != nil {
			t.Fatalf("save %s: %v", a.ID, err)
		}
	}
}

func TestScoreWeightedRatio(t *testing.T) {
	e, st := newTestEngine(t)
	// 30 minutes development (productive, weight 1.0) and 10 minutes
	// browsing (unproductive) make a 0.75 score.
	seed(t, st,
		domain.Activity{ID: "a1", Kind: "application", Title: "t", AppName: "code",
			StartTime: ts(2, 9, 0), EndTime: ts(2, 9, 30), Category: "development"},
		domain.Activity{ID: "a2", Kind: "application", Title: "t", AppName: "chrome",
			StartTime: ts(2, 9, 30), EndTime: ts(2, 9, 40), Category: "browsing"},
	)
	score, err := e.Score(context.Background(), ts(2, 0, 0), ts(3, 0, 0))
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if math.Abs(score-0.75) > 1e-9 {
		t.Errorf("score = %v, want 0.75", score)
	}
}

func TestScoreEmptyTimeframe(t *testing.T) {
	e, _ := newTestEngine(t)
	score, err := e.Score(context.Background(), ts(2, 0, 0), ts(3, 0, 0))
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score != 0 {
		t.Errorf("score = %v, want 0 for empty timeframe", score)
	}
}

func TestDailyClipsAtDayBoundaries(t *testing.T) {
	e, st := newTestEngine(t)
	seed(t, st,
		// Crosses midnight into March 2: only the hour after midnight counts.
		domain.Activity{ID: "a1", Kind: "application", Title: "t", AppName: "code",
			StartTime: ts(1, 23, 0), EndTime: ts(2, 1, 0), Category: "development"},
		domain.Activity{ID: "a2", Kind: "application", Title: "t", AppName: "slack",
			StartTime: ts(2, 9, 0), EndTime: ts(2, 9, 30), Category: "communication"},
		// Entirely on March 3.
		domain.Activity{ID: "a3", Kind: "application", Title: "t", AppName: "code",
			StartTime: ts(3, 9, 0), EndTime: ts(3, 10, 0), Category: "development"},
	)
	report, err := e.Daily(context.Background(), ts(2, 15, 0))
	if err != nil {
		t.Fatalf("daily: %v", err)
	}
	if report.Date != "2026-03-02" {
		t.Errorf("date = %q", report.Date)
	}
	if report.ActivityCount != 2 {
		t.Errorf("count = %d, want 2", report.ActivityCount)
	}
	if report.TotalTracked != 90*time.Minute {
		t.Errorf("total = %v, want 1h30m", report.TotalTracked)
	}
	if len(report.ByCategory) != 2 || report.ByCategory[0].Category != "development" {
		t.Errorf("breakdown = %+v", report.ByCategory)
	}
	// development 60m at weight 1.0, communication 30m at weight 0.6.
	want := (60.0 + 30.0*0.6) / 90.0
	if math.Abs(report.Score-want) > 1e-9 {
		t.Errorf("score = %v, want %v", report.Score, want)
	}
}

func TestDailyClipsOpenActivityAtNow(t *testing.T) {
	e, st := newTestEngine(t)
	// Still open at noon; only the observed three hours count, not the
	// remainder of the day.
	seed(t, st,
		domain.Activity{ID: "a1", Kind: "application", Title: "t", AppName: "code",
			StartTime: ts(2, 9, 0), Category: "development"},
	)
	report, err := e.Daily(context.Background(), ts(2, 9, 0))
	if err != nil {
		t.Fatalf("daily: %v", err)
	}
	if report.TotalTracked != 3*time.Hour {
		t.Errorf("total = %v, want 3h", report.TotalTracked)
	}
}

func TestDailyDeterministic(t *testing.T) {
	e, st := newTestEngine(t)
	seed(t, st,
		domain.Activity{ID: "a1", Kind: "application", Title: "t", AppName: "code",
			StartTime: ts(2, 9, 0), EndTime: ts(2, 10, 0), Category: "development"},
		domain.Activity{ID: "a2", Kind: "application", Title: "t", AppName: "chrome",
			StartTime: ts(2, 10, 0), EndTime: ts(2, 11, 0), Category: "browsing"},
	)
	first, err := e.Daily(context.Background(), ts(2, 0, 0))
	if err != nil {
		t.Fatalf("daily: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := e.Daily(context.Background(), ts(2, 0, 0))
		if err != nil {
			t.Fatalf("daily: %v", err)
		}
		if len(again.ByCategory) != len(first.ByCategory) {
			t.Fatalf("breakdown length changed")
		}
		for j := range again.ByCategory {
			if again.ByCategory[j] != first.ByCategory[j] {
				t.Fatalf("breakdown order changed: %+v vs %+v", again.ByCategory, first.ByCategory)
			}
		}
	}
}

func TestPatternsBucketsByHourAndWeekday(t *testing.T) {
	e, st := newTestEngine(t)
	// March 2 2026 is a Monday.
	seed(t, st,
		domain.Activity{ID: "a1", Kind: "application", Title: "t", AppName: "code",
			StartTime: ts(2, 9, 30), EndTime: ts(2, 10, 30), Category: "development"},
	)
	cells, err := e.Patterns(context.Background(), 7)
	if err != nil {
		t.Fatalf("patterns: %v", err)
	}
	if len(cells) != 2 {
		t.Fatalf("cells = %+v, want 2 buckets", cells)
	}
	for _, c := range cells {
		if c.Weekday != time.Monday {
			t.Errorf("weekday = %v, want Monday", c.Weekday)
		}
		if c.Duration != 30*time.Minute {
			t.Errorf("hour %d duration = %v, want 30m", c.Hour, c.Duration)
		}
	}
	if cells[0].Hour != 9 || cells[1].Hour != 10 {
		t.Errorf("hours = %d,%d want 9,10", cells[0].Hour, cells[1].Hour)
	}
}
