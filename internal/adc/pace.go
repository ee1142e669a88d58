package adc

import (
	"context"
	"time"
)

// pacer spaces frames so that samples are delivered at a fixed rate.
type pacer struct {
	rate  int
	start time.Time
	n     uint64 // samples delivered so far
}

func newPacer(rate int) *pacer {
	return &pacer{rate: rate, start: time.Now()}
}

// wait blocks until the wall clock catches up with n more samples.
func (p *pacer) wait(ctx context.Context, n int) error {
	p.n += uint64(n)
	due := p.start.Add(time.Duration(p.n) * time.Second / time.Duration(p.rate))
	d := time.Until(due)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
