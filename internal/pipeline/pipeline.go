// Package pipeline wires the sampler, detector, estimator and shared state
// into the three cooperating loops of the speedometer: batch consumer,
// edge handler and periodic estimator.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sweeney/speedometer/internal/adc"
	"github.com/sweeney/speedometer/internal/clock"
	"github.com/sweeney/speedometer/internal/logic"
	"github.com/sweeney/speedometer/internal/status"
)

// BatchReader is the consumer side of the sampler.
type BatchReader interface {
	Ready() <-chan struct{}
	ReadBatch(timeout time.Duration) (adc.Batch, error)
	Stats() adc.Stats
}

// Config holds the pipeline settings.
type Config struct {
	Channel    uint8
	Threshold  uint16
	Hysteresis uint16
	// Refractory is the pause after each handled edge.
	Refractory time.Duration
	Estimator  logic.EstimatorConfig
	// OnEstimate, if set, is called after every estimator tick with the
	// state that tick published.
	OnEstimate func(res logic.Result, snap status.Snapshot)
}

// Pipeline owns the detector, edge timer and estimator.
type Pipeline struct {
	cfg       Config
	reader    BatchReader
	clock     clock.Clock
	tracker   *status.Tracker
	detector  *logic.Detector
	edgeTimer logic.EdgeTimer
	estimator *logic.Estimator
	edges     chan uint64

	invalid uint64
}

// New creates a pipeline reading from reader and publishing into tracker.
func New(cfg Config, reader BatchReader, clk clock.Clock, tracker *status.Tracker) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		reader:    reader,
		clock:     clk,
		tracker:   tracker,
		detector:  logic.NewDetector(cfg.Threshold, cfg.Hysteresis, cfg.Channel),
		estimator: logic.NewEstimator(cfg.Estimator),
		edges:     make(chan uint64, 1),
	}
}

// Run starts the three loops and blocks until ctx is cancelled or one of
// them fails.
func (p *Pipeline) Run(ctx context.Context, tick <-chan time.Time) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Consume(ctx) })
	g.Go(func() error { return p.HandleEdges(ctx) })
	g.Go(func() error { return p.Estimate(ctx, tick) })
	return g.Wait()
}

// Consume waits for the sampler's ready signal and drains every stored
// batch through the detector.
func (p *Pipeline) Consume(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.reader.Ready():
		}

		for {
			b, err := p.reader.ReadBatch(0)
			if errors.Is(err, adc.ErrTimeout) {
				break
			}
			if err != nil {
				return fmt.Errorf("read batch: %w", err)
			}
			p.processBatch(b)
		}

		stats := p.reader.Stats()
		p.tracker.SetCounters(status.Counters{
			Batches:        stats.Batches,
			Dropped:        stats.Dropped,
			Edges:          p.detector.Edges(),
			InvalidSamples: p.invalid,
		})
	}
}

// processBatch runs every sample in arrival order and signals the edge
// handler on each rising edge.
func (p *Pipeline) processBatch(b adc.Batch) {
	invalid := 0
	var bad logic.Sample
	for _, s := range b {
		rising, err := p.detector.Process(s)
		if err != nil {
			invalid++
			bad = s
			continue
		}
		if !rising {
			continue
		}
		t := p.clock.Now()
		select {
		case p.edges <- t:
		default:
			// handler still busy with the previous edge
		}
	}
	if invalid > 0 {
		p.invalid += uint64(invalid)
		log.Printf("adc: %d invalid samples in batch [channel: %d, value: %d]", invalid, bad.Channel, bad.Value)
	}
}

// HandleEdges turns edge timestamps into published periods.
func (p *Pipeline) HandleEdges(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-p.edges:
			p.handleEdge(t)
		}

		if p.cfg.Refractory <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(p.cfg.Refractory):
		}
	}
}

func (p *Pipeline) handleEdge(t uint64) {
	if period, ok := p.edgeTimer.Edge(t); ok {
		p.tracker.PublishPeriod(period)
	}
}

// Estimate runs one estimator tick per value received from tick.
func (p *Pipeline) Estimate(ctx context.Context, tick <-chan time.Time) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			p.estimateOnce()
		}
	}
}

func (p *Pipeline) estimateOnce() logic.Result {
	res := p.estimator.Tick(logic.Tick{
		Period: p.tracker.Period(),
		NowMs:  p.clock.Now() / 1000,
		Window: p.tracker.Window(),
	})
	p.tracker.PublishEstimate(res)

	if res.Discarded != 0 {
		log.Printf("calibration: window %d replaced before finalize, samples discarded", res.Discarded)
	}
	if c := res.Calibration; c != nil {
		if c.OK {
			log.Printf("calibration: average rpm %d over %d ms, diameter %.4f m", c.AverageRPM, c.ElapsedMs, c.Diameter)
		} else {
			log.Printf("calibration: failed (samples=%d average rpm=%d elapsed=%d ms), diameter unchanged", c.Samples, c.AverageRPM, c.ElapsedMs)
		}
	}

	if p.cfg.OnEstimate != nil {
		p.cfg.OnEstimate(res, p.tracker.Snapshot())
	}
	return res
}
