// Package bus implements the synchronous in-process event bus. The bus owns
// no state beyond its subscription table; it is constructed once by the
// composition root and passed explicitly to every component that needs it.
package bus

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"focusline/internal/domain"
)

// Type tags the closed set of event kinds carried by the bus.
type Type string

const (
	ActivityStart      Type = "activity.start"
	ActivityEnd        Type = "activity.end"
	SessionBoundary    Type = "session.boundary"
	ProductivityAlert  Type = "productivity.alert"
	SuggestionFeedback Type = "suggestion.feedback"
)

// Kinds returns every event kind the bus carries, in a fixed order.
func Kinds() []Type {
	return []Type{ActivityStart, ActivityEnd, SessionBoundary, ProductivityAlert, SuggestionFeedback}
}

// Event is an immutable message dispatched to subscribers. Exactly one of
// the payload fields is set, matching Kind.
type Event struct {
	Kind      Type
	Timestamp time.Time

	Activity *domain.Activity   // ActivityStart, ActivityEnd
	Session  *domain.Session    // SessionBoundary
	Alert    *AlertPayload      // ProductivityAlert
	Feedback *domain.Suggestion // SuggestionFeedback
}

// AlertPayload carries a productivity alert.
type AlertPayload struct {
	Score      float64
	Threshold  float64
	Window     time.Duration
	Suggestion string
}

// Handler consumes one event. A returned error is logged and isolated; it
// never reaches the dispatcher's caller or other handlers.
type Handler func(Event) error

// Subscription identifies one registered handler for Unsubscribe.
type Subscription struct {
	kind Type
	seq  uint64
}

type entry struct {
	seq     uint64
	handler Handler
}

// Bus dispatches events synchronously, in registration order, on the
// calling goroutine.
type Bus struct {
	logger *slog.Logger

	mu      sync.RWMutex
	nextSeq uint64
	subs    map[Type][]entry
}

// New returns an empty bus. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger,
		subs:   make(map[Type][]entry),
	}
}

// Subscribe registers a handler for one event kind. Handlers for the same
// kind are invoked in registration order.
func (b *Bus) Subscribe(kind Type, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSeq++
	b.subs[kind] = append(b.subs[kind], entry{seq: b.nextSeq, handler: h})
	return &Subscription{kind: kind, seq: b.nextSeq}
}

// Unsubscribe removes a previously registered handler. Unknown or already
// removed subscriptions are a no-op.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.subs[sub.kind]
	for i, e := range entries {
		if e.seq == sub.seq {
			b.subs[sub.kind] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// Dispatch delivers the event to every handler currently registered for its
// kind, synchronously and in registration order. A handler error or panic is
// logged and does not prevent the remaining handlers from running.
func (b *Bus) Dispatch(evt Event) {
	b.mu.RLock()
	entries := make([]entry, len(b.subs[evt.Kind]))
	copy(entries, b.subs[evt.Kind])
	b.mu.RUnlock()

	for _, e := range entries {
		if err := b.call(e.handler, evt); err != nil {
			b.logger.Error("event handler failed",
				"event", string(evt.Kind),
				"error", err)
		}
	}
}

func (b *Bus) call(h Handler, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(evt)
}
