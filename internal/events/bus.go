package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event is an emitted notification with its envelope
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      EventData `json:"data"`
}

// Handler processes a published event. Handlers must not block: delivery
// is synchronous on the publisher's goroutine and is not retried.
type Handler func(*Event)

// recentCapacity bounds the in-memory ring of recent events
const recentCapacity = 256

// Bus fans out events to subscribers. Delivery is best-effort and
// fire-and-forget; a slow or failing subscriber never affects the
// state transition that produced the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[EventType][]Handler
	all    map[int]Handler
	nextID int
	recent []*Event
	log    zerolog.Logger
}

// NewBus creates a new event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subs: make(map[EventType][]Handler),
		all:  make(map[int]Handler),
		log:  log.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers a handler for one event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventType] = append(b.subs[eventType], handler)
}

// SubscribeAll registers a handler for every event type. The returned
// function removes the handler again; connection-scoped subscribers must
// call it on disconnect so the bus doesn't accumulate dead handlers.
func (b *Bus) SubscribeAll(handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.all[id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.all, id)
	}
}

// Publish wraps the payload in an envelope and delivers it to all
// matching subscribers
func (b *Bus) Publish(data EventData) *Event {
	event := &Event{
		ID:        uuid.NewString(),
		Type:      data.EventType(),
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	b.mu.Lock()
	b.recent = append(b.recent, event)
	if len(b.recent) > recentCapacity {
		b.recent = b.recent[len(b.recent)-recentCapacity:]
	}
	handlers := make([]Handler, 0, len(b.subs[event.Type])+len(b.all))
	handlers = append(handlers, b.subs[event.Type]...)
	for _, h := range b.all {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	b.log.Debug().
		Str("event_id", event.ID).
		Str("event_type", string(event.Type)).
		Msg("Event published")

	for _, h := range handlers {
		h(event)
	}

	return event
}

// Recent returns up to limit most recent events, newest last
func (b *Bus) Recent(limit int) []*Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if limit <= 0 || limit > len(b.recent) {
		limit = len(b.recent)
	}
	out := make([]*Event, limit)
	copy(out, b.recent[len(b.recent)-limit:])
	return out
}
