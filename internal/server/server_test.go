package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"focusline/internal/app"
	"focusline/internal/bus"
	"focusline/internal/domain"
)

type testServer struct {
	URL    string
	App    *app.App
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	a, err := app.Open(t.TempDir(), app.Options{})
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	handler, err := New(Config{App: a, BasePath: "/v0"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		App:    a,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			a.Close()
		},
	}
	t.Cleanup(ts.close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
}

func TestGetActivityNotFoundEnvelope(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/activities/missing", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v: %s", err, data)
	}
	if envelope.Error.Code != "not_found" {
		t.Errorf("code = %q, want not_found", envelope.Error.Code)
	}
}

func TestActivityTimeframeQuery(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	a := domain.Activity{ID: "a1", Kind: "application", Title: "main.go", AppName: "code",
		StartTime: start, EndTime: start.Add(30 * time.Minute), Category: "development"}
	if err := srv.App.Store.SaveActivity(ctx, a); err != nil {
		t.Fatalf("save: %v", err)
	}

	url := srv.URL + "/v0/activities?start=2026-03-02T08:00:00Z&end=2026-03-02T12:00:00Z"
	res, data := doJSON(t, srv.Client(), http.MethodGet, url, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var items []ActivityResponse
	if err := json.Unmarshal(data, &items); err != nil {
		t.Fatalf("unmarshal: %v: %s", err, data)
	}
	if len(items) != 1 || items[0].ID != "a1" {
		t.Fatalf("items = %+v", items)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/activities?start=bogus", nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad start: status %d: %s", res.StatusCode, data)
	}
}

func TestEndSessionConflictAndNotFound(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions/missing/end", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown session: status %d: %s", res.StatusCode, data)
	}

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	act := domain.Activity{ID: "a1", Kind: "application", Title: "t", AppName: "code",
		StartTime: start, EndTime: start.Add(time.Hour), Category: "development"}
	if err := srv.App.Store.SaveActivity(ctx, act); err != nil {
		t.Fatalf("save activity: %v", err)
	}
	srv.App.Bus.Dispatch(bus.Event{Kind: bus.ActivityStart, Timestamp: act.StartTime, Activity: &act})
	srv.App.Bus.Dispatch(bus.Event{Kind: bus.ActivityEnd, Timestamp: act.EndTime, Activity: &act})

	cur, ok := srv.App.Sessions.Current()
	if !ok {
		t.Fatal("no open session")
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions/"+cur.ID+"/end", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("end session: status %d: %s", res.StatusCode, data)
	}
	var ended SessionResponse
	if err := json.Unmarshal(data, &ended); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ended.TotalDuration != time.Hour.Milliseconds() {
		t.Errorf("total = %d ms, want 1h", ended.TotalDuration)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions/"+cur.ID+"/end", nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("double end: status %d: %s", res.StatusCode, data)
	}
}

func TestDailyReportEndpoint(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	if err := srv.App.Store.SaveActivity(ctx, domain.Activity{ID: "a1", Kind: "application",
		Title: "t", AppName: "code", StartTime: start, EndTime: start.Add(time.Hour),
		Category: "development"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/reports/daily?date=2026-03-02", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var report struct {
		Date  string  `json:"date"`
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if report.Date != "2026-03-02" || report.Score != 1.0 {
		t.Errorf("report = %+v", report)
	}
}

func TestFeedbackUnknownSuggestion(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodPost,
		srv.URL+"/v0/suggestions/missing/feedback", map[string]string{"outcome": "accepted"})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
}

func TestAuthRequiredWhenSecretSet(t *testing.T) {
	a, err := app.Open(t.TempDir(), app.Options{})
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	handler, err := New(Config{App: a, BasePath: "/v0", Auth: AuthConfig{JWTSecret: "topsecret"}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ln.Close()
	})
	url := "http://" + ln.Addr().String()

	res, data := doJSON(t, http.DefaultClient, http.MethodGet, url+"/v0/sessions", nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated: status %d: %s", res.StatusCode, data)
	}
	res, _ = doJSON(t, http.DefaultClient, http.MethodGet, url+"/v0/health", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should bypass auth, got %d", res.StatusCode)
	}
}
