package eventlog

import "sync/atomic"

// Clock hands out log offsets.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
// However, the log's single-writer design means only the appending
// goroutine calls Next().
type Clock struct {
	seq atomic.Int64
}

// NewClockAt creates a clock whose last issued offset is start.
// Use -1 for an empty log so the first Next() returns 0.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next offset and advances the clock.
// Calls are linearizable - each call returns a unique, increasing value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued offset without advancing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
