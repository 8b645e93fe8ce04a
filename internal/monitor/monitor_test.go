package monitor

import (
	"context"
	"errors"
	"strings"
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

type recorder struct {
	mu     sync.Mutex
	events []bus.Event
}

func (r *recorder) handle(evt bus.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recorder) kinds() []bus.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bus.Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

type staticCategorizer struct{}

func (staticCategorizer) Categorize(app, title string) string {
	if strings.Contains(strings.ToLower(app), "code") {
		return "development"
	}
	return "uncategorized"
}

func newTestMonitor(t *testing.T) (*Monitor, store.Repository, *recorder) {
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
	b := bus.New(nil)
	rec := &recorder{}
	b.Subscribe(bus.ActivityStart, rec.handle)
	b.Subscribe(bus.ActivityEnd, rec.handle)

	cfg := config.Default("test")
	m := New(NewReplaySampler(strings.NewReader("")), staticCategorizer{}, st, b, cfg, nil)
	clock := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	m.Now = func() time.Time { return clock }
	return m, st, rec
}

func ts(min int) time.Time {
	return time.Date(2026, 3, 2, 9, min, 0, 0, time.UTC)
}

func TestContextSwitchClosesAndOpens(t *testing.T) {
	m, st, rec := newTestMonitor(t)
	ctx := context.Background()

	m.Observe(ctx, Sample{AppName: "code", Title: "main.go", Timestamp: ts(0)})
	m.Observe(ctx, Sample{AppName: "code", Title: "main.go", Timestamp: ts(1)})
	m.Observe(ctx, Sample{AppName: "slack", Title: "#general", Timestamp: ts(2)})

	want := []bus.Type{bus.ActivityStart, bus.ActivityEnd, bus.ActivityStart}
	got := rec.kinds()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}

	all, err := st.ActivitiesByTimeframe(ctx, ts(0), ts(10))
	if err != nil {
		t.Fatalf("timeframe: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d activities, want 2", len(all))
	}
	closed, open := all[0], all[1]
	if closed.Open() {
		t.Error("first activity still open after switch")
	}
	if !closed.EndTime.Equal(ts(2)) {
		t.Errorf("first activity end = %v, want %v", closed.EndTime, ts(2))
	}
	if closed.Category != "development" {
		t.Errorf("category = %q, want development", closed.Category)
	}
	if !open.Open() {
		t.Error("second activity should be open")
	}
	cur, ok := m.Current()
	if !ok || cur.AppName != "slack" {
		t.Errorf("current = %+v, ok=%v", cur, ok)
	}
}

func TestIdleClosesAtLastActiveMoment(t *testing.T) {
	m, st, rec := newTestMonitor(t)
	ctx := context.Background()

	m.Observe(ctx, Sample{AppName: "code", Title: "main.go", Timestamp: ts(0)})
	m.Observe(ctx, Sample{AppName: "code", Title: "main.go", Timestamp: ts(3)})
	m.Observe(ctx, Sample{Idle: true, Timestamp: ts(8)})

	if _, ok := m.Current(); ok {
		t.Fatal("activity still open after idle")
	}
	all, err := st.ActivitiesByTimeframe(ctx, ts(0), ts(10))
	if err != nil {
		t.Fatalf("timeframe: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d activities, want 1", len(all))
	}
	if !all[0].EndTime.Equal(ts(3)) {
		t.Errorf("end = %v, want last active sample %v", all[0].EndTime, ts(3))
	}

	// Continued idleness emits nothing further.
	before := len(rec.kinds())
	m.Observe(ctx, Sample{Idle: true, Timestamp: ts(9)})
	if after := len(rec.kinds()); after != before {
		t.Errorf("idle while idle emitted %d events", after-before)
	}
}

func TestSampleGapSplitsActivity(t *testing.T) {
	m, st, rec := newTestMonitor(t)
	ctx := context.Background()

	m.Observe(ctx, Sample{AppName: "code", Title: "main.go", Timestamp: ts(0)})
	m.Observe(ctx, Sample{AppName: "code", Title: "main.go", Timestamp: ts(1)})
	// Forty silent minutes in the same app still mean the user was away;
	// the activity splits at the last observed sample.
	m.Observe(ctx, Sample{AppName: "code", Title: "main.go", Timestamp: ts(41)})

	want := []bus.Type{bus.ActivityStart, bus.ActivityEnd, bus.ActivityStart}
	got := rec.kinds()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}

	all, err := st.ActivitiesByTimeframe(ctx, ts(0), ts(50))
	if err != nil {
		t.Fatalf("timeframe: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d activities, want 2", len(all))
	}
	if !all[0].EndTime.Equal(ts(1)) {
		t.Errorf("first activity end = %v, want last sample before the gap %v", all[0].EndTime, ts(1))
	}
	if !all[1].StartTime.Equal(ts(41)) {
		t.Errorf("second activity start = %v, want %v", all[1].StartTime, ts(41))
	}
}

type flakyStore struct {
	store.Repository
	mu    sync.Mutex
	fail  bool
	saves int
}

func (f *flakyStore) SaveActivity(ctx context.Context, a domain.Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.fail {
		return errors.New("disk full")
	}
	return f.Repository.SaveActivity(ctx, a)
}

func TestCheckpointRetriesAfterStorageFailure(t *testing.T) {
	m, st, _ := newTestMonitor(t)
	ctx := context.Background()
	flaky := &flakyStore{Repository: st}
	m.Store = flaky

	m.Observe(ctx, Sample{AppName: "code", Title: "main.go", Timestamp: ts(0)})

	flaky.mu.Lock()
	flaky.fail = true
	flaky.mu.Unlock()
	m.Observe(ctx, Sample{AppName: "code", Title: "main.go", Timestamp: ts(6)})

	flaky.mu.Lock()
	flaky.fail = false
	flaky.mu.Unlock()
	// The failed checkpoint left the record dirty, so the very next cycle
	// retries the write.
	m.Observe(ctx, Sample{AppName: "code", Title: "main.go", Timestamp: ts(6)})

	got, err := st.GetActivity(ctx, mustCurrentID(t, m))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Open() {
		t.Error("checkpointed activity should still be open")
	}
}

func mustCurrentID(t *testing.T, m *Monitor) string {
	t.Helper()
	cur, ok := m.Current()
	if !ok {
		t.Fatal("no open activity")
	}
	return cur.ID
}

func TestStopIsIdempotentAndForceCloses(t *testing.T) {
	m, st, _ := newTestMonitor(t)
	ctx := context.Background()

	m.Observe(ctx, Sample{AppName: "code", Title: "main.go", Timestamp: ts(0)})
	id := mustCurrentID(t, m)

	m.Start(ctx)
	m.Stop()
	m.Stop()

	got, err := st.GetActivity(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Open() {
		t.Error("open activity not force-closed on stop")
	}
}

func TestStopClosesAtLastSampleTime(t *testing.T) {
	m, st, _ := newTestMonitor(t)
	ctx := context.Background()

	m.Observe(ctx, Sample{AppName: "code", Title: "main.go", Timestamp: ts(0)})
	id := mustCurrentID(t, m)
	// The wall clock has run on since the final observation.
	m.Now = func() time.Time { return ts(55) }

	m.Start(ctx)
	m.Stop()

	got, err := st.GetActivity(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.EndTime.Equal(ts(0)) {
		t.Errorf("end = %v, want last sample time %v", got.EndTime, ts(0))
	}
}

func TestReplaySampler(t *testing.T) {
	input := `{"app_name":"code","title":"a","timestamp":"2026-03-02T09:00:00Z"}
{"idle":true,"timestamp":"2026-03-02T09:01:00Z"}
`
	r := NewReplaySampler(strings.NewReader(input))
	first, err := r.Sample(context.Background())
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if first.AppName != "code" {
		t.Errorf("app = %q", first.AppName)
	}
	second, err := r.Sample(context.Background())
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if !second.Idle {
		t.Error("second sample should be idle")
	}
	if _, err := r.Sample(context.Background()); err == nil {
		t.Error("expected EOF after last sample")
	}
	select {
	case <-r.Done():
	default:
		t.Error("Done not closed at EOF")
	}
}
