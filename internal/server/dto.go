package server

import (
	"time"

	"focusline/internal/analytics"
	"focusline/internal/domain"
)

type ActivityResponse struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	Title     string            `json:"title"`
	AppName   string            `json:"app_name"`
	StartTime time.Time         `json:"start_time"`
	EndTime   *time.Time        `json:"end_time,omitempty"`
	Category  string            `json:"category,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Open      bool              `json:"open"`
}

func activityResponse(a domain.Activity) ActivityResponse {
	res := ActivityResponse{
		ID:        a.ID,
		Kind:      a.Kind,
		Title:     a.Title,
		AppName:   a.AppName,
		StartTime: a.StartTime,
		Category:  a.Category,
		Metadata:  a.Metadata,
		Open:      a.Open(),
	}
	if !a.EndTime.IsZero() {
		end := a.EndTime
		res.EndTime = &end
	}
	return res
}

func mapActivities(items []domain.Activity) []ActivityResponse {
	res := make([]ActivityResponse, 0, len(items))
	for _, a := range items {
		res = append(res, activityResponse(a))
	}
	return res
}

type SessionResponse struct {
	ID            string           `json:"id"`
	ActivityIDs   []string         `json:"activity_ids"`
	StartTime     time.Time        `json:"start_time"`
	EndTime       *time.Time       `json:"end_time,omitempty"`
	TotalDuration int64            `json:"total_duration_ms"`
	ByCategory    map[string]int64 `json:"by_category_ms,omitempty"`
	Open          bool             `json:"open"`
}

func sessionResponse(s domain.Session) SessionResponse {
	res := SessionResponse{
		ID:            s.ID,
		ActivityIDs:   s.ActivityIDs,
		StartTime:     s.StartTime,
		TotalDuration: s.Summary.TotalDuration.Milliseconds(),
		Open:          s.EndTime.IsZero(),
	}
	if len(s.Summary.ByCategory) > 0 {
		res.ByCategory = make(map[string]int64, len(s.Summary.ByCategory))
		for cat, d := range s.Summary.ByCategory {
			res.ByCategory[cat] = d.Milliseconds()
		}
	}
	if !s.EndTime.IsZero() {
		end := s.EndTime
		res.EndTime = &end
	}
	return res
}

func mapSessions(items []domain.Session) []SessionResponse {
	res := make([]SessionResponse, 0, len(items))
	for _, s := range items {
		res = append(res, sessionResponse(s))
	}
	return res
}

type SuggestionResponse struct {
	ID        string    `json:"id"`
	Rank      int       `json:"rank"`
	Text      string    `json:"text"`
	Context   string    `json:"context,omitempty"`
	Outcome   string    `json:"outcome"`
	CreatedAt time.Time `json:"created_at"`
}

func suggestionResponse(s domain.Suggestion) SuggestionResponse {
	return SuggestionResponse{
		ID:        s.ID,
		Rank:      s.Rank,
		Text:      s.Text,
		Context:   s.Context,
		Outcome:   s.Outcome,
		CreatedAt: s.CreatedAt,
	}
}

func mapSuggestions(items []domain.Suggestion) []SuggestionResponse {
	res := make([]SuggestionResponse, 0, len(items))
	for _, s := range items {
		res = append(res, suggestionResponse(s))
	}
	return res
}

type EventResponse struct {
	ID       int64     `json:"id"`
	TS       time.Time `json:"ts"`
	Type     string    `json:"type"`
	EntityID string    `json:"entity_id,omitempty"`
	Payload  string    `json:"payload_json,omitempty"`
}

func eventResponse(e domain.JournalEntry) EventResponse {
	return EventResponse{ID: e.ID, TS: e.TS, Type: e.Type, EntityID: e.EntityID, Payload: e.Payload}
}

func mapEvents(items []domain.JournalEntry) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, eventResponse(e))
	}
	return res
}

type CategoryTotalResponse struct {
	Category   string `json:"category"`
	Duration   int64  `json:"duration_ms"`
	Productive bool   `json:"productive"`
}

type DailyReportResponse struct {
	Date          string                  `json:"date"`
	TotalTracked  int64                   `json:"total_tracked_ms"`
	ActivityCount int                     `json:"activity_count"`
	Score         float64                 `json:"score"`
	ByCategory    []CategoryTotalResponse `json:"by_category,omitempty"`
}

func dailyReportResponse(r analytics.DailyReport) DailyReportResponse {
	res := DailyReportResponse{
		Date:          r.Date,
		TotalTracked:  r.TotalTracked.Milliseconds(),
		ActivityCount: r.ActivityCount,
		Score:         r.Score,
	}
	for _, c := range r.ByCategory {
		res.ByCategory = append(res.ByCategory, CategoryTotalResponse{
			Category:   c.Category,
			Duration:   c.Duration.Milliseconds(),
			Productive: c.Productive,
		})
	}
	return res
}

type PatternCellResponse struct {
	Weekday  string `json:"weekday"`
	Hour     int    `json:"hour"`
	Duration int64  `json:"duration_ms"`
}

func mapPatternCells(cells []analytics.PatternCell) []PatternCellResponse {
	res := make([]PatternCellResponse, 0, len(cells))
	for _, c := range cells {
		res = append(res, PatternCellResponse{
			Weekday:  c.Weekday.String(),
			Hour:     c.Hour,
			Duration: c.Duration.Milliseconds(),
		})
	}
	return res
}

type FeedbackRequest struct {
	Outcome string `json:"outcome" enum:"accepted,rejected"`
}
