package engine

import "sync/atomic"

// Clock is the logical sequence counter that stamps stored events and
// resolution runs.
//
// Sequence numbers order rows in the store; wall-clock time never does. An
// engine opened on an existing database resumes from store.LastSeq so
// numbering stays strictly increasing across restarts.
//
// Thread-safety: safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock whose next value is start+1.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
