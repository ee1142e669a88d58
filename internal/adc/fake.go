package adc

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/sweeney/speedometer/internal/logic"
)

// FakeSource is a test double that returns scripted frames.
type FakeSource struct {
	mu sync.Mutex

	// Frames contains the scripted frames. Each ReadFrame consumes one.
	// When exhausted, ReadFrame blocks until the context is cancelled,
	// or returns io.EOF if EOFWhenDone is set.
	Frames [][]logic.Sample

	// EOFWhenDone makes an exhausted source report io.EOF.
	EOFWhenDone bool

	// OpenError, if set, is returned by Open.
	OpenError error

	// ReadError, if set, is returned by ReadFrame.
	ReadError error

	index  int
	opened bool
	closed bool
	cfg    Config
}

// NewFakeSource creates a FakeSource with the given frames.
func NewFakeSource(frames ...[]logic.Sample) *FakeSource {
	return &FakeSource{Frames: frames}
}

// Open records the configuration.
func (f *FakeSource) Open(cfg Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.OpenError != nil {
		return f.OpenError
	}
	if f.opened && !f.closed {
		return errors.New("fake source already claimed")
	}
	f.opened = true
	f.closed = false
	f.cfg = cfg
	return nil
}

// ReadFrame copies the next scripted frame.
func (f *FakeSource) ReadFrame(ctx context.Context, frame []logic.Sample) (int, error) {
	f.mu.Lock()
	if f.ReadError != nil {
		err := f.ReadError
		f.mu.Unlock()
		return 0, err
	}
	if f.index < len(f.Frames) {
		n := copy(frame, f.Frames[f.index])
		f.index++
		f.mu.Unlock()
		return n, nil
	}
	eof := f.EOFWhenDone
	f.mu.Unlock()

	if eof {
		return 0, io.EOF
	}
	<-ctx.Done()
	return 0, ctx.Err()
}

// Close marks the source as released.
func (f *FakeSource) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Opened reports whether Open succeeded at least once.
func (f *FakeSource) Opened() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

// Closed reports whether Close was called after the last Open.
func (f *FakeSource) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Consumed returns how many frames have been read.
func (f *FakeSource) Consumed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.index
}
