//go:build !linux

package adc

import (
	"context"
	"errors"

	"github.com/sweeney/speedometer/internal/logic"
)

// GPIOSource is not available on non-Linux platforms.
type GPIOSource struct{}

// FullScale is the raw value reported for an active line.
const FullScale = 0x0FFF

// NewGPIOSource returns a source whose Open always fails.
func NewGPIOSource(chip string, offset int, activeLow bool) *GPIOSource {
	return &GPIOSource{}
}

// Open returns an error on non-Linux platforms.
func (g *GPIOSource) Open(cfg Config) error {
	return errors.New("gpio: not supported on this platform (requires Linux)")
}

// ReadFrame is not implemented on non-Linux platforms.
func (g *GPIOSource) ReadFrame(ctx context.Context, frame []logic.Sample) (int, error) {
	return 0, errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (g *GPIOSource) Close() error {
	return nil
}
