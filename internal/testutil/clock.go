package testutil

import "sync"

// DefaultEpoch is the first time returned by a new DeterministicClock:
// 2024-01-01T00:00:00Z in unix nanoseconds.
const DefaultEpoch int64 = 1704067200_000000000

// DeterministicClock is a stepping time source for tests. Each Now advances
// by a fixed step, so a scenario run twice stamps identical times.
//
// It satisfies engine.Clock.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	start int64
	step  int64
	now   int64
}

// NewDeterministicClock returns a clock starting at DefaultEpoch that
// advances one millisecond per call.
func NewDeterministicClock() *DeterministicClock {
	return NewStepClock(DefaultEpoch, 1_000_000)
}

// NewStepClock returns a clock whose first Now is start and which advances
// by step afterwards.
func NewStepClock(start, step int64) *DeterministicClock {
	return &DeterministicClock{start: start, step: step, now: start - step}
}

// Now advances the clock and returns the new time.
func (c *DeterministicClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += c.step
	return c.now
}

// Current returns the last time handed out without advancing.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Reset rewinds the clock; the next Now returns the start time again.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.start - c.step
}
