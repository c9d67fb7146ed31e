package engine

import "sync/atomic"

// Clock numbers sync cycles.
//
// Cycle numbers are process-local and only used to correlate log lines;
// durable identity belongs to the sync log id.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock whose next cycle is start+1.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next cycle number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued cycle number.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
