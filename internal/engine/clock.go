package engine

import "sync/atomic"

// Clock is a monotonic logical clock for event ordering.
//
// Every processed event is stamped with a strictly increasing seq. Trace
// rows written during an event reuse its seq, so a trace sorts into the
// order the loop actually ran.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
// In practice only the Run goroutine calls Next.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock that resumes after start, so a reopened
// trace keeps increasing.
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
