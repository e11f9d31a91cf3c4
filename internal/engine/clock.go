package engine

import "sync/atomic"

// Clock is a monotonic logical clock for receipt numbers.
//
// Every submitted event is stamped with a strictly increasing receipt number.
// Receipt numbers correlate log lines and order the inbox log; they never
// influence classification, which depends only on producer sequences.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a new clock starting at a specific receipt number.
// Used to resume after the last receipt recorded in the inbox.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next receipt number and increments the clock.
// Calls are linearizable - each call returns a unique, increasing value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current receipt number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
