// Package server exposes the tracker over HTTP. The read paths serve
// reports and records; the only mutations are ending sessions, posting
// suggestion feedback and triggering a retention sweep.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"focusline/internal/app"
	"focusline/internal/archive"
	"focusline/internal/session"
	"focusline/internal/store"
)

// Config for the HTTP API handler.
type Config struct {
	App      *app.App
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"activity not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError is the error envelope every endpoint returns.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Focusline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Focusline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group, cfg.App)
	registerActivities(group, cfg.App)
	registerSessions(group, cfg.App)
	registerReports(group, cfg.App)
	registerSuggestions(group, cfg.App)
	registerEvents(group, cfg.App)
	registerMaintenance(group, cfg.App)
	registerStream(router, basePath, cfg.App)

	startWebhookDispatcher(cfg.App)
	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, session.ErrInvalidState) {
		return newAPIError(http.StatusConflict, "invalid_state", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") || strings.Contains(lowered, "must be") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "invalid_state"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if err := a.Store.Ping(ctx); err != nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "unavailable", "storage unreachable", nil)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

// parseTimeframe resolves optional start/end query values, defaulting to
// the trailing 24 hours.
func parseTimeframe(startRaw, endRaw string) (time.Time, time.Time, error) {
	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)
	var err error
	if endRaw != "" {
		if end, err = time.Parse(time.RFC3339, endRaw); err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid end, want RFC3339")
		}
	}
	if startRaw != "" {
		if start, err = time.Parse(time.RFC3339, startRaw); err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid start, want RFC3339")
		}
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, errors.New("invalid timeframe, start must precede end")
	}
	return start, end, nil
}

func registerActivities(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "list-activities",
		Method:      http.MethodGet,
		Path:        "/activities",
		Summary:     "List activities by timeframe or category",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Start    string `query:"start" doc:"RFC3339 lower bound, default now-24h"`
		End      string `query:"end" doc:"RFC3339 upper bound, default now"`
		Category string `query:"category" doc:"Exact category filter"`
	}) (*struct {
		Body []ActivityResponse `json:"body"`
	}, error) {
		var items []ActivityResponse
		if input.Category != "" {
			found, err := a.Store.ActivitiesByCategory(ctx, input.Category)
			if err != nil {
				return nil, handleError(err)
			}
			items = mapActivities(found)
		} else {
			start, end, err := parseTimeframe(input.Start, input.End)
			if err != nil {
				return nil, handleError(err)
			}
			found, err := a.Store.ActivitiesByTimeframe(ctx, start, end)
			if err != nil {
				return nil, handleError(err)
			}
			items = mapActivities(found)
		}
		return &struct {
			Body []ActivityResponse `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-activity",
		Method:      http.MethodGet,
		Path:        "/activities/{activity_id}",
		Summary:     "Get activity",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ActivityID string `path:"activity_id"`
	}) (*struct {
		Body ActivityResponse `json:"body"`
	}, error) {
		found, err := a.Store.GetActivity(ctx, input.ActivityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActivityResponse `json:"body"`
		}{Body: activityResponse(found)}, nil
	})
}

func registerSessions(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List recent sessions",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"20" minimum:"1" maximum:"500"`
	}) (*struct {
		Body []SessionResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 20
		}
		items, err := a.Store.RecentSessions(ctx, limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []SessionResponse `json:"body"`
		}{Body: mapSessions(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "current-session",
		Method:      http.MethodGet,
		Path:        "/sessions/current",
		Summary:     "Get the open session",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		cur, ok := a.Sessions.Current()
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", "no open session", nil)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: sessionResponse(cur)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}",
		Summary:     "Get session",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		found, err := a.Store.GetSession(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: sessionResponse(found)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "end-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/end",
		Summary:     "End a session",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		ended, err := a.Sessions.End(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: sessionResponse(ended)}, nil
	})
}

func registerReports(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "daily-report",
		Method:      http.MethodGet,
		Path:        "/reports/daily",
		Summary:     "Daily report",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Date string `query:"date" doc:"Calendar day YYYY-MM-DD, default today"`
	}) (*struct {
		Body DailyReportResponse `json:"body"`
	}, error) {
		date := time.Now().UTC()
		if input.Date != "" {
			var err error
			if date, err = time.Parse("2006-01-02", input.Date); err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid date, want YYYY-MM-DD", nil)
			}
		}
		report, err := a.Analytics.Daily(ctx, date)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DailyReportResponse `json:"body"`
		}{Body: dailyReportResponse(report)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "productivity-score",
		Method:      http.MethodGet,
		Path:        "/reports/score",
		Summary:     "Productivity score over a timeframe",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Start string `query:"start"`
		End   string `query:"end"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		start, end, err := parseTimeframe(input.Start, input.End)
		if err != nil {
			return nil, handleError(err)
		}
		score, err := a.Analytics.Score(ctx, start, end)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"start": start.Format(time.RFC3339),
			"end":   end.Format(time.RFC3339),
			"score": score,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "activity-patterns",
		Method:      http.MethodGet,
		Path:        "/reports/patterns",
		Summary:     "Hour by weekday activity pattern",
	}, func(ctx context.Context, input *struct {
		Days int `query:"days" default:"30" minimum:"1" maximum:"365"`
	}) (*struct {
		Body []PatternCellResponse `json:"body"`
	}, error) {
		days := input.Days
		if days <= 0 {
			days = 30
		}
		cells, err := a.Analytics.Patterns(ctx, days)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []PatternCellResponse `json:"body"`
		}{Body: mapPatternCells(cells)}, nil
	})
}

func registerSuggestions(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "get-suggestions",
		Method:      http.MethodGet,
		Path:        "/suggestions",
		Summary:     "Generate ranked suggestions",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []SuggestionResponse `json:"body"`
	}, error) {
		items, err := a.Suggestions.Suggest(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []SuggestionResponse `json:"body"`
		}{Body: mapSuggestions(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "suggestion-feedback",
		Method:      http.MethodPost,
		Path:        "/suggestions/{suggestion_id}/feedback",
		Summary:     "Record suggestion feedback",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SuggestionID string          `path:"suggestion_id"`
		Body         FeedbackRequest `json:"body"`
	}) (*struct {
		Body SuggestionResponse `json:"body"`
	}, error) {
		updated, err := a.Suggestions.Feedback(ctx, input.SuggestionID, input.Body.Outcome)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SuggestionResponse `json:"body"`
		}{Body: suggestionResponse(updated)}, nil
	})
}

func registerEvents(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Tail the event journal",
	}, func(ctx context.Context, input *struct {
		Limit int    `query:"limit" default:"50" minimum:"1" maximum:"1000"`
		Type  string `query:"type" doc:"Filter by event type"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		items, err := a.Journal.Tail(ctx, limit, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}

func registerMaintenance(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "run-archive",
		Method:      http.MethodPost,
		Path:        "/maintenance/archive",
		Summary:     "Archive activities past retention",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body archive.Result `json:"body"`
	}, error) {
		res, err := a.Archiver.Sweep(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body archive.Result `json:"body"`
		}{Body: res}, nil
	})
}
