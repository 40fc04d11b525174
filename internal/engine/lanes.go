package engine

import (
	"context"
	"sync"
)

// lanes serializes work per room. Each room has a chain of tickets; a
// ticket may proceed once the ticket before it in the same room has been
// released. Tickets are issued synchronously, so work on one room runs in
// the order it was submitted while different rooms proceed in parallel.
type lanes struct {
	mu   sync.Mutex
	tail map[string]chan struct{}
}

func newLanes() *lanes {
	return &lanes{tail: make(map[string]chan struct{})}
}

type ticket struct {
	lanes *lanes
	room  string
	prev  <-chan struct{}
	done  chan struct{}
}

// enter issues the next ticket for room.
func (l *lanes) enter(room string) *ticket {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := &ticket{lanes: l, room: room, prev: l.tail[room], done: make(chan struct{})}
	l.tail[room] = t.done
	return t
}

// Len returns the number of rooms with outstanding tickets.
func (l *lanes) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tail)
}

// wait blocks until the previous ticket is released. On cancellation the
// ticket is released in the background once its predecessor is, keeping
// the chain intact for later tickets.
func (t *ticket) wait(ctx context.Context) error {
	if t.prev == nil {
		return nil
	}
	select {
	case <-t.prev:
		return nil
	case <-ctx.Done():
		go func() {
			<-t.prev
			t.release()
		}()
		return ctx.Err()
	}
}

// release lets the next ticket in the room proceed.
func (t *ticket) release() {
	l := t.lanes
	l.mu.Lock()
	if l.tail[t.room] == t.done {
		delete(l.tail, t.room)
	}
	l.mu.Unlock()
	close(t.done)
}
