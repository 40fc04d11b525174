package engine

import (
	"sync"

	"github.com/roach88/concord/internal/event"
)

// Submission is an event waiting to be processed, with the version of the
// room it belongs to.
type Submission struct {
	RoomVersion string
	Event       *event.Event
}

// submissionQueue is a thread-safe unbounded FIFO of submissions.
//
// Federation receivers enqueue from their own goroutines while Run dequeues.
// The signal channel (buffer 1) coalesces wake-ups and is closed by Close so
// a waiting Run loop returns.
type submissionQueue struct {
	mu     sync.Mutex
	items  []Submission
	closed bool
	signal chan struct{}
}

func newSubmissionQueue() *submissionQueue {
	return &submissionQueue{
		items:  make([]Submission, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends s. Returns false if the queue is closed.
func (q *submissionQueue) Enqueue(s Submission) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, s)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front submission without blocking.
func (q *submissionQueue) TryDequeue() (Submission, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Submission{}, false
	}
	s := q.items[0]

	// Clear the slot so the backing array does not pin the event.
	q.items[0] = Submission{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return s, true
}

// Wait returns a channel that fires when submissions may be available or
// the queue has been closed.
func (q *submissionQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued submissions.
func (q *submissionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed reports whether Close has been called.
func (q *submissionQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops accepting submissions and wakes waiters. Idempotent.
func (q *submissionQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
