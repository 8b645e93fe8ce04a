// Package monitor runs the sampling loop that turns raw observations from
// a Sampler into activity records and bus events.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"focusline/internal/bus"
	"focusline/internal/classify"
	"focusline/internal/config"
	"focusline/internal/domain"
	"focusline/internal/store"
)

// Sample is one observation of what the user is doing right now.
type Sample struct {
	AppName   string    `json:"app_name"`
	Title     string    `json:"title"`
	Kind      string    `json:"kind,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Idle      bool      `json:"idle,omitempty"`
}

// Sampler is the platform-specific signal source. Implementations report
// the foreground application, or Idle when no input has been observed.
type Sampler interface {
	Sample(ctx context.Context) (Sample, error)
	// Done is closed when the sampler has no more observations to give.
	// A live sampler never closes it; a replay sampler closes it at EOF.
	Done() <-chan struct{}
}

// Monitor owns the open activity. On every tick it samples, closes the
// open activity when the context switched or the user went idle, and
// checkpoints the open activity so a crash loses at most one interval.
type Monitor struct {
	Sampler     Sampler
	Categorizer classify.Categorizer
	Store       store.Repository
	Bus         *bus.Bus
	Config      *config.Config
	Logger      *slog.Logger
	Now         func() time.Time

	mu             sync.Mutex
	current        *domain.Activity
	lastSample     Sample
	lastCheckpoint time.Time
	dirty          bool

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func New(s Sampler, cat classify.Categorizer, st store.Repository, b *bus.Bus, cfg *config.Config, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		Sampler:     s,
		Categorizer: cat,
		Store:       st,
		Bus:         b,
		Config:      cfg,
		Logger:      logger,
		Now:         time.Now,
	}
}

// Start launches the sampling loop. Calling Start more than once is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		ctx, m.cancel = context.WithCancel(ctx)
		m.wg.Add(1)
		go m.run(ctx)
	})
}

// Stop halts the loop, force-closes the open activity and waits for the
// loop goroutine to exit. Safe to call more than once; later calls return
// after the first has finished.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		if m.cancel != nil {
			m.cancel()
		}
	})
	m.wg.Wait()
}

// Wait blocks until the loop exits on its own, such as a replay sampler
// running out of samples.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()
	interval := m.Config.Monitor.SampleInterval.Std()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.Logger.Info("monitor started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return
		case <-m.Sampler.Done():
			m.Logger.Info("sampler exhausted")
			m.shutdown()
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick processes one sampling cycle. It never lets a failure escape; the
// loop must outlive any single bad sample or storage hiccup.
func (m *Monitor) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.Logger.Error("sampling cycle panicked", "panic", fmt.Sprint(r))
		}
	}()

	sample, err := m.Sampler.Sample(ctx)
	if err != nil {
		m.Logger.Warn("sample failed", "error", err)
		return
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = m.Now().UTC()
	}
	m.Observe(ctx, sample)
}

// Observe feeds one sample through the context-switch logic. It is the
// loop body of tick, exposed so replay tooling can drive the monitor
// without a ticker.
func (m *Monitor) Observe(ctx context.Context, sample Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// A silent stretch between samples reaching the idle threshold counts
	// as idleness even when the foreground app never changed. The open
	// activity closes at the last observed moment and the new sample
	// starts fresh.
	if m.current != nil && !m.lastSample.Timestamp.IsZero() &&
		sample.Timestamp.Sub(m.lastSample.Timestamp) >= m.Config.Monitor.IdleThreshold.Std() {
		m.closeCurrentLocked(ctx, m.lastSample.Timestamp)
	}

	switch {
	case sample.Idle:
		// Idle closes the open activity at the last active moment, not at
		// the time idleness was detected.
		if m.current != nil {
			end := m.lastSample.Timestamp
			if end.IsZero() {
				end = sample.Timestamp
			}
			m.closeCurrentLocked(ctx, end)
		}
	case m.current == nil:
		m.openLocked(ctx, sample)
	case m.current.AppName != sample.AppName || m.current.Title != sample.Title:
		m.closeCurrentLocked(ctx, sample.Timestamp)
		m.openLocked(ctx, sample)
	default:
		m.dirty = true
	}
	m.lastSample = sample
	m.checkpointLocked(ctx, sample.Timestamp)
}

func (m *Monitor) openLocked(ctx context.Context, sample Sample) {
	kind := sample.Kind
	if kind == "" {
		kind = "application"
	}
	a := domain.Activity{
		ID:        uuid.New().String(),
		Kind:      kind,
		Title:     sample.Title,
		AppName:   sample.AppName,
		StartTime: sample.Timestamp,
	}
	if m.Categorizer != nil {
		a.Category = m.Categorizer.Categorize(a.AppName, a.Title)
	}
	m.current = &a
	m.dirty = true
	if err := m.Store.SaveActivity(ctx, a); err != nil {
		m.Logger.Error("persist open activity failed", "activity", a.ID, "error", err)
	} else {
		m.dirty = false
	}
	m.Bus.Dispatch(bus.Event{Kind: bus.ActivityStart, Timestamp: sample.Timestamp, Activity: &a})
}

func (m *Monitor) closeCurrentLocked(ctx context.Context, end time.Time) {
	a := *m.current
	if end.Before(a.StartTime) {
		end = a.StartTime
	}
	a.EndTime = end
	m.current = nil
	m.dirty = false
	if err := m.Store.SaveActivity(ctx, a); err != nil {
		m.Logger.Error("persist closed activity failed", "activity", a.ID, "error", err)
	}
	m.Bus.Dispatch(bus.Event{Kind: bus.ActivityEnd, Timestamp: end, Activity: &a})
}

// checkpointLocked re-persists the open activity on the checkpoint
// schedule. A failed checkpoint marks the record dirty so the next
// cycle retries regardless of the schedule.
func (m *Monitor) checkpointLocked(ctx context.Context, now time.Time) {
	if m.current == nil {
		return
	}
	due := m.lastCheckpoint.IsZero() || now.Sub(m.lastCheckpoint) >= m.Config.Monitor.CheckpointInterval.Std()
	if !due && !m.dirty {
		return
	}
	if err := m.Store.SaveActivity(ctx, *m.current); err != nil {
		m.Logger.Warn("checkpoint failed", "activity", m.current.ID, "error", err)
		m.dirty = true
		return
	}
	m.dirty = false
	m.lastCheckpoint = now
}

func (m *Monitor) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		// Close at the last known sample time; the wall clock may have run
		// on past the final observation.
		end := m.lastSample.Timestamp
		if end.IsZero() {
			end = m.Now().UTC()
		}
		m.closeCurrentLocked(ctx, end)
	}
	m.Logger.Info("monitor stopped")
}

// Current returns a copy of the open activity, or false when none is open.
func (m *Monitor) Current() (domain.Activity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return domain.Activity{}, false
	}
	return *m.current, true
}
