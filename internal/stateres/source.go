package stateres

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/concord/internal/event"
)

// EventSource fetches events by identifier. It returns an error wrapping
// ErrNotFound for events it does not hold; any other error aborts the
// resolution as-is.
type EventSource interface {
	Event(ctx context.Context, id string) (*event.Event, error)
}

// MemorySource is an EventSource over an in-memory table. Safe for
// concurrent use.
type MemorySource struct {
	mu     sync.RWMutex
	events map[string]*event.Event
}

// NewMemorySource returns a source holding events.
func NewMemorySource(events ...*event.Event) *MemorySource {
	m := &MemorySource{events: make(map[string]*event.Event, len(events))}
	m.Add(events...)
	return m
}

// Add stores events, replacing any with the same identifier.
func (m *MemorySource) Add(events ...*event.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range events {
		m.events[ev.ID()] = ev
	}
}

// Remove forgets the given identifiers.
func (m *MemorySource) Remove(ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.events, id)
	}
}

// Len returns the number of events held.
func (m *MemorySource) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// Event implements EventSource.
func (m *MemorySource) Event(ctx context.Context, id string) (*event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.events[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return ev, nil
}

// loader memoizes EventSource reads for one resolution and records every
// identifier the source could not supply.
type loader struct {
	ctx     context.Context
	source  EventSource
	budget  *budget
	roomID  string
	events  map[string]*event.Event
	missing map[string]bool
}

func newLoader(ctx context.Context, source EventSource, b *budget, roomID string) *loader {
	return &loader{
		ctx:     ctx,
		source:  source,
		budget:  b,
		roomID:  roomID,
		events:  make(map[string]*event.Event),
		missing: make(map[string]bool),
	}
}

// get returns the event with id. A missing event yields (nil, nil) and is
// recorded; callers check missingIDs once they have gathered everything.
func (l *loader) get(id string) (*event.Event, error) {
	if ev, ok := l.events[id]; ok {
		return ev, nil
	}
	if l.missing[id] {
		return nil, nil
	}
	if err := l.budget.checkTime(); err != nil {
		return nil, err
	}

	ev, err := l.source.Event(l.ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		l.missing[id] = true
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("load event %s: %w", id, err)
	}

	if ev.ID() != id {
		return nil, &event.MalformedError{
			EventID: id,
			Field:   "event_id",
			Reason:  "source returned event " + ev.ID(),
		}
	}
	if ev.RoomID() != l.roomID {
		return nil, &event.MalformedError{
			EventID: id,
			Field:   "room_id",
			Reason:  "event belongs to " + ev.RoomID() + ", resolving " + l.roomID,
		}
	}

	l.events[id] = ev
	if err := l.budget.checkLoaded(len(l.events)); err != nil {
		return nil, err
	}
	return ev, nil
}

// missingErr returns MISSING_DEPENDENCY naming every identifier recorded so
// far, or nil.
func (l *loader) missingErr() error {
	if len(l.missing) == 0 {
		return nil
	}
	return missingDependency(l.roomID, sortedKeys(l.missing))
}

// authEvent returns the event of type typ with an empty state key among
// ev's auth_events, or nil.
func (l *loader) authEvent(ev *event.Event, typ string) (*event.Event, error) {
	for _, id := range ev.AuthEvents() {
		a, err := l.get(id)
		if err != nil {
			return nil, err
		}
		if a != nil && a.Is(typ, "") {
			return a, nil
		}
	}
	return nil, nil
}
