// Package store provides the persistence contracts and the SQLite
// implementation backing them. Components never touch the storage medium
// directly; they hold a Repository.
package store

import (
	"context"
	"errors"
	"time"

	"focusline/internal/domain"
)

var ErrNotFound = errors.New("not found")

// Repository is the durable home of activity, session and suggestion
// records. Saves are idempotent per-id upserts; concurrent readers and
// writers of disjoint records never block each other.
type Repository interface {
	// SaveActivity upserts an activity by id.
	SaveActivity(ctx context.Context, a domain.Activity) error

	// GetActivity returns ErrNotFound if the id is absent.
	GetActivity(ctx context.Context, id string) (domain.Activity, error)

	// ActivitiesByTimeframe returns activities whose interval intersects
	// [start, end), ordered by start time. Open activities intersect any
	// timeframe beginning after their start.
	ActivitiesByTimeframe(ctx context.Context, start, end time.Time) ([]domain.Activity, error)

	// ActivitiesByCategory returns all matching activities in an order that
	// is stable across repeated calls given no intervening writes.
	ActivitiesByCategory(ctx context.Context, category string) ([]domain.Activity, error)

	// ActivitiesBefore returns closed activities that ended before cutoff.
	ActivitiesBefore(ctx context.Context, cutoff time.Time) ([]domain.Activity, error)

	// DeleteActivitiesBefore removes closed activities that ended before
	// cutoff and reports how many were deleted.
	DeleteActivitiesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// SaveSession upserts a session by id.
	SaveSession(ctx context.Context, s domain.Session) error

	// GetSession returns ErrNotFound if the id is absent.
	GetSession(ctx context.Context, id string) (domain.Session, error)

	// RecentSessions returns up to limit sessions, newest first.
	RecentSessions(ctx context.Context, limit int) ([]domain.Session, error)

	// SaveSuggestion upserts a suggestion by id.
	SaveSuggestion(ctx context.Context, s domain.Suggestion) error

	// GetSuggestion returns ErrNotFound if the id is absent.
	GetSuggestion(ctx context.Context, id string) (domain.Suggestion, error)

	// SetSuggestionOutcome records feedback for a suggestion; ErrNotFound
	// if the id is absent.
	SetSuggestionOutcome(ctx context.Context, id, outcome string) error

	// AppendEvent appends one entry to the event journal and returns its id.
	AppendEvent(ctx context.Context, e domain.JournalEntry) (int64, error)

	// EventsAfter returns journal entries with ids greater than cursor, in
	// ascending order, up to limit.
	EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.JournalEntry, error)

	// LatestEvents returns the newest entries first, optionally filtered by
	// event type.
	LatestEvents(ctx context.Context, limit int, evtType string) ([]domain.JournalEntry, error)

	// LatestEventID returns the most recent journal id, zero when empty.
	LatestEventID(ctx context.Context) (int64, error)

	// Ping verifies the medium is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying medium.
	Close() error
}
