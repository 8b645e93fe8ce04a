package server

import (
	"context"
	"encoding/json"
	"net/http"
	"path"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"focusline/internal/app"
)

const streamPollInterval = time.Second

// registerStream serves the live event feed over a websocket. The client
// receives every journal entry appended after it connected, as JSON, in
// journal order.
func registerStream(router chi.Router, basePath string, a *app.App) {
	router.Get(path.Join(basePath, "events/stream"), func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			a.Logger.Warn("websocket accept failed", "error", err)
			return
		}
		defer ws.Close(websocket.StatusNormalClosure, "stream ended")

		ctx := r.Context()
		cursor, err := a.Store.LatestEventID(ctx)
		if err != nil {
			a.Logger.Error("stream cursor init failed", "error", err)
			ws.Close(websocket.StatusInternalError, "storage unavailable")
			return
		}
		a.Logger.Info("event stream opened", "remote", r.RemoteAddr, "cursor", cursor)

		ticker := time.NewTicker(streamPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cursor, err = pushEvents(ctx, a, ws, cursor)
				if err != nil {
					a.Logger.Debug("event stream closed", "error", err)
					return
				}
			}
		}
	})
}

func pushEvents(ctx context.Context, a *app.App, ws *websocket.Conn, cursor int64) (int64, error) {
	entries, err := a.Store.EventsAfter(ctx, 100, cursor)
	if err != nil {
		return cursor, err
	}
	for _, e := range entries {
		data, err := json.Marshal(eventResponse(e))
		if err != nil {
			return cursor, err
		}
		if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
			return cursor, err
		}
		cursor = e.ID
	}
	return cursor, nil
}
