//go:build linux

package adc

import (
	"context"
	"fmt"

	"github.com/warthog618/go-gpiocdev"

	"github.com/sweeney/speedometer/internal/logic"
)

// GPIOSource samples a digital sensor output (hall switch or comparator) on
// a GPIO line at the converter rate. An active line reads as FullScale, an
// inactive one as zero, so the threshold detector works unchanged.
type GPIOSource struct {
	chipName  string
	offset    int
	activeLow bool

	chip    *gpiocdev.Chip
	line    *gpiocdev.Line
	channel uint8
	pacer   *pacer
}

// FullScale is the raw value reported for an active line.
const FullScale = 0x0FFF

// NewGPIOSource creates a source for the given chip and line offset.
func NewGPIOSource(chip string, offset int, activeLow bool) *GPIOSource {
	if chip == "" {
		chip = "gpiochip0"
	}
	return &GPIOSource{chipName: chip, offset: offset, activeLow: activeLow}
}

// Open requests the line as an input with pull-down.
func (g *GPIOSource) Open(cfg Config) error {
	chip, err := gpiocdev.NewChip(g.chipName)
	if err != nil {
		return fmt.Errorf("open gpio chip: %w", err)
	}

	opts := []gpiocdev.LineReqOption{gpiocdev.AsInput, gpiocdev.WithPullDown}
	if g.activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	line, err := chip.RequestLine(g.offset, opts...)
	if err != nil {
		chip.Close()
		return fmt.Errorf("request line %d: %w", g.offset, err)
	}

	g.chip = chip
	g.line = line
	g.channel = cfg.Channel
	g.pacer = newPacer(cfg.RateHz)
	return nil
}

// ReadFrame reads the line once per sample slot.
func (g *GPIOSource) ReadFrame(ctx context.Context, frame []logic.Sample) (int, error) {
	for i := range frame {
		v, err := g.line.Value()
		if err != nil {
			return 0, fmt.Errorf("read line %d: %w", g.offset, err)
		}
		s := logic.Sample{Channel: g.channel}
		if v != 0 {
			s.Value = FullScale
		}
		frame[i] = s
	}
	if err := g.pacer.wait(ctx, len(frame)); err != nil {
		return 0, err
	}
	return len(frame), nil
}

// Close reconfigures the line to the boot default (input, pull-down) and
// releases it.
func (g *GPIOSource) Close() error {
	var errs []error

	if g.line != nil {
		if err := g.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure line: %w", err))
		}
		if err := g.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line: %w", err))
		}
		g.line = nil
	}
	if g.chip != nil {
		if err := g.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		g.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
