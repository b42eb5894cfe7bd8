package testutil

import "sync"

// DeterministicClock hands out event timestamps for tests.
//
// Timestamps start at a chosen base and only move forward, so traces built
// from one clock are always ordered. Reset makes the same builder code
// produce identical traces run after run.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu   sync.Mutex
	base int64
	now  int64
}

// NewDeterministicClock creates a clock whose first Next() returns base+1.
func NewDeterministicClock(base int64) *DeterministicClock {
	return &DeterministicClock{base: base, now: base}
}

// Next advances by one and returns the new timestamp.
func (c *DeterministicClock) Next() int64 {
	return c.Advance(1)
}

// Advance moves the clock forward by d and returns the new timestamp.
// Negative d is treated as zero.
func (c *DeterministicClock) Advance(d int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now += d
	}
	return c.now
}

// Current returns the current timestamp without advancing.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Reset returns the clock to its base.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.base
}
