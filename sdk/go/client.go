// Package focuslinesdk is a minimal HTTP client for the Focusline API.
package focuslinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Activity is the API activity model.
type Activity struct {
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

// Session is the API session model.
type Session struct {
	ID            string     `json:"id"`
	ActivityIDs   []string   `json:"activity_ids"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	TotalDuration int64      `json:"total_duration_ms"`
	Open          bool       `json:"open"`
}

// Suggestion is the API suggestion model.
type Suggestion struct {
	ID        string    `json:"id"`
	Rank      int       `json:"rank"`
	Text      string    `json:"text"`
	Context   string    `json:"context,omitempty"`
	Outcome   string    `json:"outcome"`
	CreatedAt time.Time `json:"created_at"`
}

// Event is one journal entry.
type Event struct {
	ID       int64     `json:"id"`
	TS       time.Time `json:"ts"`
	Type     string    `json:"type"`
	EntityID string    `json:"entity_id,omitempty"`
	Payload  string    `json:"payload_json,omitempty"`
}

// DailyReport is the daily analytics payload.
type DailyReport struct {
	Date          string  `json:"date"`
	TotalTracked  int64   `json:"total_tracked_ms"`
	ActivityCount int     `json:"activity_count"`
	Score         float64 `json:"score"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Activities lists activities intersecting [start, end).
func (c *Client) Activities(ctx context.Context, start, end time.Time) ([]Activity, error) {
	endpoint := fmt.Sprintf("activities?start=%s&end=%s",
		url.QueryEscape(start.Format(time.RFC3339)), url.QueryEscape(end.Format(time.RFC3339)))
	var resp []Activity
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ActivitiesByCategory lists activities with the exact category.
func (c *Client) ActivitiesByCategory(ctx context.Context, category string) ([]Activity, error) {
	var resp []Activity
	err := c.do(ctx, http.MethodGet, "activities?category="+url.QueryEscape(category), nil, &resp)
	return resp, err
}

// Activity fetches one activity by id.
func (c *Client) Activity(ctx context.Context, id string) (Activity, error) {
	var resp Activity
	err := c.do(ctx, http.MethodGet, "activities/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Sessions lists recent sessions, newest first.
func (c *Client) Sessions(ctx context.Context, limit int) ([]Session, error) {
	endpoint := "sessions"
	if limit > 0 {
		endpoint = fmt.Sprintf("sessions?limit=%d", limit)
	}
	var resp []Session
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CurrentSession fetches the open session.
func (c *Client) CurrentSession(ctx context.Context) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodGet, "sessions/current", nil, &resp)
	return resp, err
}

// EndSession closes a session by id.
func (c *Client) EndSession(ctx context.Context, id string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, "sessions/"+url.PathEscape(id)+"/end", nil, &resp)
	return resp, err
}

// Daily fetches the report for one calendar day.
func (c *Client) Daily(ctx context.Context, date string) (DailyReport, error) {
	endpoint := "reports/daily"
	if date != "" {
		endpoint += "?date=" + url.QueryEscape(date)
	}
	var resp DailyReport
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Suggestions asks the engine for ranked suggestions.
func (c *Client) Suggestions(ctx context.Context) ([]Suggestion, error) {
	var resp []Suggestion
	err := c.do(ctx, http.MethodGet, "suggestions", nil, &resp)
	return resp, err
}

// Feedback records an accepted or rejected outcome for a suggestion.
func (c *Client) Feedback(ctx context.Context, id, outcome string) (Suggestion, error) {
	var resp Suggestion
	err := c.do(ctx, http.MethodPost, "suggestions/"+url.PathEscape(id)+"/feedback",
		map[string]string{"outcome": outcome}, &resp)
	return resp, err
}

// Events tails the journal.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "events"
	if limit > 0 {
		endpoint = fmt.Sprintf("events?limit=%d", limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	fullURL := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &APIError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if !strings.HasSuffix(base, "/v0") {
		base += "/v0"
	}
	return base
}
