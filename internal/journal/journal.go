// Package journal persists every dispatched event as an append-only row.
// The journal is the cursor source for webhook delivery and the live
// stream, and the raw material for `fl log`.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"focusline/internal/bus"
	"focusline/internal/domain"
	"focusline/internal/store"
)

type Writer struct {
	Store  store.Repository
	Logger *slog.Logger
}

func NewWriter(st store.Repository, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{Store: st, Logger: logger}
}

// Attach subscribes the writer to every event kind on the bus.
func (w *Writer) Attach(b *bus.Bus) {
	for _, kind := range bus.Kinds() {
		b.Subscribe(kind, w.Record)
	}
}

// Record appends one event to the journal. It is safe to register as a
// bus handler; a journal write failure is reported to the bus, logged,
// and never interrupts the emitting component.
func (w *Writer) Record(evt bus.Event) error {
	entry := domain.JournalEntry{
		TS:   evt.Timestamp,
		Type: string(evt.Kind),
	}
	var payload any
	switch {
	case evt.Activity != nil:
		entry.EntityID = evt.Activity.ID
		payload = evt.Activity
	case evt.Session != nil:
		entry.EntityID = evt.Session.ID
		payload = evt.Session
	case evt.Alert != nil:
		payload = evt.Alert
	case evt.Feedback != nil:
		entry.EntityID = evt.Feedback.ID
		payload = evt.Feedback
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", evt.Kind, err)
		}
		entry.Payload = string(data)
	}
	if _, err := w.Store.AppendEvent(context.Background(), entry); err != nil {
		w.Logger.Error("journal append failed", "type", entry.Type, "entity", entry.EntityID, "error", err)
		return err
	}
	return nil
}

// Tail returns the newest limit entries, oldest first, optionally
// filtered by event type.
func (w *Writer) Tail(ctx context.Context, limit int, evtType string) ([]domain.JournalEntry, error) {
	entries, err := w.Store.LatestEvents(ctx, limit, evtType)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}
