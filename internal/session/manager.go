// Package session groups activities into sessions. A session is a maximal
// run of activity with no idle gap longer than the configured threshold;
// the manager drives its state machine purely from bus events.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"focusline/internal/bus"
	"focusline/internal/config"
	"focusline/internal/domain"
	"focusline/internal/store"
)

// ErrInvalidState is returned when an operation is not legal for the
// session's current state, such as ending an already closed session.
var ErrInvalidState = errors.New("invalid session state")

// Manager tracks at most one open session at a time. New activity either
// joins the open session or, after an idle gap past the threshold, closes
// it and opens the next one.
type Manager struct {
	Store  store.Repository
	Bus    *bus.Bus
	Config *config.Config
	Logger *slog.Logger
	Now    func() time.Time

	mu      sync.Mutex
	current *domain.Session
	lastEnd time.Time

	subs []*bus.Subscription
}

func NewManager(st store.Repository, b *bus.Bus, cfg *config.Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		Store:  st,
		Bus:    b,
		Config: cfg,
		Logger: logger,
		Now:    time.Now,
	}
}

// Attach subscribes the manager to activity events.
func (m *Manager) Attach() {
	m.subs = append(m.subs,
		m.Bus.Subscribe(bus.ActivityStart, m.onActivityStart),
		m.Bus.Subscribe(bus.ActivityEnd, m.onActivityEnd),
	)
}

// Detach removes the manager's subscriptions. Any open session stays open.
func (m *Manager) Detach() {
	for _, s := range m.subs {
		m.Bus.Unsubscribe(s)
	}
	m.subs = nil
}

func (m *Manager) onActivityStart(evt bus.Event) error {
	if evt.Activity == nil {
		return fmt.Errorf("activity.start event without activity")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	threshold := m.Config.Monitor.IdleThreshold.Std()
	if m.current != nil && !m.lastEnd.IsZero() && evt.Activity.StartTime.Sub(m.lastEnd) >= threshold {
		// A gap reaching the threshold ends the previous session at the
		// last activity's close, not at the moment we noticed.
		if err := m.closeLocked(context.Background(), m.lastEnd); err != nil {
			m.Logger.Error("close session at idle gap failed", "error", err)
		}
	}
	if m.current == nil {
		m.current = &domain.Session{
			ID:        uuid.New().String(),
			StartTime: evt.Activity.StartTime,
		}
		m.Logger.Info("session opened", "session", m.current.ID)
	}
	m.current.ActivityIDs = append(m.current.ActivityIDs, evt.Activity.ID)
	if err := m.Store.SaveSession(context.Background(), *m.current); err != nil {
		return fmt.Errorf("persist session %s: %w", m.current.ID, err)
	}
	return nil
}

func (m *Manager) onActivityEnd(evt bus.Event) error {
	if evt.Activity == nil {
		return fmt.Errorf("activity.end event without activity")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if evt.Activity.EndTime.After(m.lastEnd) {
		m.lastEnd = evt.Activity.EndTime
	}
	return nil
}

// EndCurrent closes the open session at the given time, computing and
// persisting its summary. ErrInvalidState when no session is open.
func (m *Manager) EndCurrent(ctx context.Context, end time.Time) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return domain.Session{}, fmt.Errorf("no open session: %w", ErrInvalidState)
	}
	if end.IsZero() {
		end = m.Now().UTC()
	}
	if !m.lastEnd.IsZero() && m.lastEnd.Before(end) && m.lastEnd.After(m.current.StartTime) {
		end = m.lastEnd
	}
	id := m.current.ID
	if err := m.closeLocked(ctx, end); err != nil {
		return domain.Session{}, err
	}
	return m.Store.GetSession(ctx, id)
}

// End closes the session with the given id. Only the open session can be
// ended; a closed session yields ErrInvalidState and an unknown id yields
// the store's not-found error.
func (m *Manager) End(ctx context.Context, id string) (domain.Session, error) {
	m.mu.Lock()
	if m.current != nil && m.current.ID == id {
		m.mu.Unlock()
		return m.EndCurrent(ctx, time.Time{})
	}
	m.mu.Unlock()

	sess, err := m.Store.GetSession(ctx, id)
	if err != nil {
		return domain.Session{}, err
	}
	if !sess.EndTime.IsZero() {
		return domain.Session{}, fmt.Errorf("session %s already closed: %w", id, ErrInvalidState)
	}
	// A persisted open session that is not current means a previous run
	// died without closing it. Close it where its record left off.
	end := sess.StartTime
	summary, lastEnd, err := m.summarize(ctx, sess.ActivityIDs)
	if err != nil {
		return domain.Session{}, err
	}
	if lastEnd.After(end) {
		end = lastEnd
	}
	sess.EndTime = end
	sess.Summary = summary
	if err := m.Store.SaveSession(ctx, sess); err != nil {
		return domain.Session{}, fmt.Errorf("persist session %s: %w", sess.ID, err)
	}
	m.Bus.Dispatch(bus.Event{Kind: bus.SessionBoundary, Timestamp: end, Session: &sess})
	return sess, nil
}

// closeLocked finalizes the current session at end. Caller holds m.mu.
func (m *Manager) closeLocked(ctx context.Context, end time.Time) error {
	sess := *m.current
	if end.Before(sess.StartTime) {
		end = sess.StartTime
	}
	summary, _, err := m.summarize(ctx, sess.ActivityIDs)
	if err != nil {
		return fmt.Errorf("summarize session %s: %w", sess.ID, err)
	}
	sess.EndTime = end
	sess.Summary = summary
	if err := m.Store.SaveSession(ctx, sess); err != nil {
		return fmt.Errorf("persist session %s: %w", sess.ID, err)
	}
	m.current = nil
	m.lastEnd = time.Time{}
	m.Logger.Info("session closed",
		"session", sess.ID,
		"activities", len(sess.ActivityIDs),
		"total", sess.Summary.TotalDuration)
	m.Bus.Dispatch(bus.Event{Kind: bus.SessionBoundary, Timestamp: end, Session: &sess})
	return nil
}

// summarize aggregates the session's activities. Activities missing from
// the store are skipped; open activities contribute nothing yet.
func (m *Manager) summarize(ctx context.Context, activityIDs []string) (domain.Summary, time.Time, error) {
	summary := domain.Summary{ByCategory: map[string]time.Duration{}}
	var lastEnd time.Time
	for _, id := range activityIDs {
		a, err := m.Store.GetActivity(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			m.Logger.Warn("session references missing activity", "activity", id)
			continue
		}
		if err != nil {
			return domain.Summary{}, time.Time{}, err
		}
		d := a.Duration()
		summary.TotalDuration += d
		if d > 0 {
			cat := a.Category
			if cat == "" {
				cat = "uncategorized"
			}
			summary.ByCategory[cat] += d
		}
		if a.EndTime.After(lastEnd) {
			lastEnd = a.EndTime
		}
	}
	if len(summary.ByCategory) == 0 {
		summary.ByCategory = nil
	}
	return summary, lastEnd, nil
}

// Current returns a copy of the open session, or false when none is open.
func (m *Manager) Current() (domain.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return domain.Session{}, false
	}
	return *m.current, true
}
