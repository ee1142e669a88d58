// Package clock provides the microsecond timers used for edge timing and the
// calibration window.
package clock

import (
	"sync"
	"time"
)

// Clock reads a monotonic microsecond counter.
type Clock interface {
	// Now returns microseconds since the last reset. It has no side effects.
	Now() uint64
}

// Timer is a resettable, pausable microsecond counter backed by the
// monotonic wall clock. It is safe for concurrent use.
type Timer struct {
	mu      sync.Mutex
	now     func() time.Time
	since   time.Time     // when the current running stretch began
	elapsed time.Duration // accumulated before the current running stretch
	running bool
}

// NewTimer returns a timer counting from zero. If start is true the timer
// is already running, like a free-running hardware counter.
func NewTimer(start bool) *Timer {
	return newTimer(time.Now, start)
}

func newTimer(now func() time.Time, start bool) *Timer {
	t := &Timer{now: now}
	if start {
		t.since = now()
		t.running = true
	}
	return t
}

// Now returns microseconds counted since the last Reset.
func (t *Timer) Now() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return uint64(t.value() / time.Microsecond)
}

func (t *Timer) value() time.Duration {
	if !t.running {
		return t.elapsed
	}
	return t.elapsed + t.now().Sub(t.since)
}

// Reset sets the counter to zero. A running timer keeps running.
func (t *Timer) Reset() {
	t.mu.Lock()
	t.elapsed = 0
	t.since = t.now()
	t.mu.Unlock()
}

// Start resumes counting. Starting a running timer has no effect.
func (t *Timer) Start() {
	t.mu.Lock()
	if !t.running {
		t.since = t.now()
		t.running = true
	}
	t.mu.Unlock()
}

// Pause freezes the counter at its current value.
func (t *Timer) Pause() {
	t.mu.Lock()
	if t.running {
		t.elapsed = t.value()
		t.running = false
	}
	t.mu.Unlock()
}

// Running reports whether the timer is counting.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}
