package clock

import "sync"

// Fake is a manually advanced Clock for tests.
type Fake struct {
	mu sync.Mutex
	us uint64
}

// NewFake returns a Fake reading us microseconds.
func NewFake(us uint64) *Fake {
	return &Fake{us: us}
}

// Now returns the current fake time in microseconds.
func (f *Fake) Now() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.us
}

// Set moves the fake clock to us microseconds.
func (f *Fake) Set(us uint64) {
	f.mu.Lock()
	f.us = us
	f.mu.Unlock()
}

// AdvanceMs moves the fake clock forward by ms milliseconds.
func (f *Fake) AdvanceMs(ms uint64) {
	f.mu.Lock()
	f.us += ms * 1000
	f.mu.Unlock()
}
