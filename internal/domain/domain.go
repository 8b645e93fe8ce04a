// Package domain holds the core record types shared across focusline.
package domain

import "time"

// Activity is one contiguous unit of engagement with a single
// application/window context. An activity with a zero EndTime is open;
// at most one activity is open per monitored stream.
type Activity struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind" enum:"application,browser,terminal,meeting,unknown"`
	Title     string            `json:"title"`
	AppName   string            `json:"app_name"`
	StartTime time.Time         `json:"start_time" format:"date-time"`
	EndTime   time.Time         `json:"end_time,omitempty" format:"date-time"`
	Category  string            `json:"category,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Open reports whether the activity has not been closed yet.
func (a Activity) Open() bool { return a.EndTime.IsZero() }

// Duration is EndTime-StartTime for a closed activity, zero while open.
func (a Activity) Duration() time.Duration {
	if a.Open() {
		return 0
	}
	return a.EndTime.Sub(a.StartTime)
}

// Session is a maximal run of activities with no idle gap exceeding the
// configured threshold. Sessions partition time: no two sessions overlap.
type Session struct {
	ID          string    `json:"id"`
	ActivityIDs []string  `json:"activity_ids"`
	StartTime   time.Time `json:"start_time" format:"date-time"`
	EndTime     time.Time `json:"end_time,omitempty" format:"date-time"`
	Summary     Summary   `json:"summary"`
}

// Summary is the aggregate computed when a session closes.
type Summary struct {
	TotalDuration time.Duration            `json:"total_duration"`
	ByCategory    map[string]time.Duration `json:"by_category,omitempty"`
}

// Suggestion is a ranked recommendation produced by the suggestion engine.
// Outcome starts as pending and is updated exactly once through feedback.
type Suggestion struct {
	ID        string    `json:"id"`
	Rank      int       `json:"rank"`
	Text      string    `json:"text"`
	Context   string    `json:"context,omitempty"`
	Outcome   string    `json:"outcome" enum:"pending,accepted,rejected"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}

// Suggestion outcomes.
const (
	OutcomePending  = "pending"
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
)

// JournalEntry is one persisted row of the event journal.
type JournalEntry struct {
	ID       int64     `json:"id"`
	TS       time.Time `json:"ts" format:"date-time"`
	Type     string    `json:"type"`
	EntityID string    `json:"entity_id,omitempty"`
	Payload  string    `json:"payload_json"`
}
