package pipeline

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/speedometer/internal/adc"
	"github.com/sweeney/speedometer/internal/calibration"
	"github.com/sweeney/speedometer/internal/clock"
	"github.com/sweeney/speedometer/internal/logic"
	"github.com/sweeney/speedometer/internal/status"
)

const testChannel = 4

// queueReader is a BatchReader fed directly by the test.
type queueReader struct {
	mu      sync.Mutex
	batches []adc.Batch
	ready   chan struct{}
	err     error
}

func newQueueReader() *queueReader {
	return &queueReader{ready: make(chan struct{}, 1)}
}

func (q *queueReader) push(b adc.Batch) {
	q.mu.Lock()
	q.batches = append(q.batches, b)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *queueReader) Ready() <-chan struct{} { return q.ready }

func (q *queueReader) ReadBatch(time.Duration) (adc.Batch, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	if len(q.batches) == 0 {
		return nil, adc.ErrTimeout
	}
	b := q.batches[0]
	q.batches = q.batches[1:]
	return b, nil
}

func (q *queueReader) Stats() adc.Stats { return adc.Stats{} }

func batch(values ...uint16) adc.Batch {
	b := make(adc.Batch, len(values))
	for i, v := range values {
		b[i] = logic.Sample{Channel: testChannel, Value: v}
	}
	return b
}

func testConfig() Config {
	return Config{
		Channel:    testChannel,
		Threshold:  logic.DefaultThreshold,
		Hysteresis: logic.DefaultHysteresis,
		Estimator:  logic.EstimatorConfig{TimeoutMs: logic.DefaultTimeoutMs, DistanceM: logic.DefaultDistanceM},
	}
}

func newTestPipeline(cfg Config) (*Pipeline, *clock.Fake, *status.Tracker, *queueReader) {
	clk := clock.NewFake(0)
	tr := status.NewTracker(time.Now(), status.Config{})
	q := newQueueReader()
	return New(cfg, q, clk, tr), clk, tr, q
}

// drainEdge hands the pending edge timestamp, if any, to the edge handler.
func drainEdge(p *Pipeline) bool {
	select {
	case t := <-p.edges:
		p.handleEdge(t)
		return true
	default:
		return false
	}
}

func TestEdgesPublishPeriod(t *testing.T) {
	p, clk, tr, _ := newTestPipeline(testConfig())

	clk.Set(1_000_000)
	p.processBatch(batch(100, 2000, 2100))
	if !drainEdge(p) {
		t.Fatal("expected an edge signal")
	}
	if tr.Period().Ms != 0 {
		t.Error("a single edge must not publish a period")
	}

	clk.Set(1_600_000)
	p.processBatch(batch(1000, 3000))
	drainEdge(p)

	got := tr.Period()
	if got.Ms != 600 || got.UpdatedMs != 1600 {
		t.Errorf("Period: got %+v, want {Ms:600 UpdatedMs:1600}", got)
	}
}

func TestHysteresisAcrossBatches(t *testing.T) {
	p, clk, _, _ := newTestPipeline(testConfig())

	clk.Set(1000)
	p.processBatch(batch(1899, 1901, 1899, 1901))
	p.processBatch(batch(1899, 1901, 1860, 1901))
	drainEdge(p)
	if drainEdge(p) {
		t.Error("only one edge expected while inside the hysteresis band")
	}
	if p.detector.Edges() != 1 {
		t.Errorf("Edges: got %d, want 1", p.detector.Edges())
	}
}

func TestInvalidChannelCounted(t *testing.T) {
	p, _, _, _ := newTestPipeline(testConfig())

	b := adc.Batch{
		{Channel: 7, Value: 4000},
		{Channel: testChannel, Value: 100},
		{Channel: 9, Value: 0},
	}
	p.processBatch(b)
	if p.invalid != 2 {
		t.Errorf("invalid: got %d, want 2", p.invalid)
	}
	if drainEdge(p) {
		t.Error("invalid samples must not produce edges")
	}
}

func TestEdgeSignalDoesNotBlock(t *testing.T) {
	p, _, _, _ := newTestPipeline(testConfig())

	// Three edges in one batch with no handler running
	p.processBatch(batch(3000, 0, 3000, 0, 3000))
	if p.detector.Edges() != 3 {
		t.Errorf("Edges: got %d, want 3", p.detector.Edges())
	}
	if len(p.edges) != 1 {
		t.Errorf("pending signals: got %d, want 1", len(p.edges))
	}
}

func TestEstimateOnceUsesTrackerState(t *testing.T) {
	p, clk, tr, _ := newTestPipeline(testConfig())

	tr.PublishPeriod(logic.Period{Ms: 60, UpdatedMs: 5000})
	clk.Set(5_500_000)
	res := p.estimateOnce()
	if res.Speed.RPM != 1000 {
		t.Errorf("RPM: got %d, want 1000", res.Speed.RPM)
	}
	if tr.Snapshot().Speed.RPM != 1000 {
		t.Error("estimate not published to tracker")
	}

	clk.Set(7_000_000)
	if res := p.estimateOnce(); res.Speed.RPM != 0 {
		t.Errorf("stale RPM: got %d, want 0", res.Speed.RPM)
	}
}

func TestCalibrationThroughController(t *testing.T) {
	p, clk, tr, _ := newTestPipeline(testConfig())
	windowTimer := &manualTimer{}
	ctrl := calibration.NewController(windowTimer, tr)

	ctrl.Start()
	now := uint64(10_000)
	for i := 0; i < 120; i++ {
		now += 500
		tr.PublishPeriod(logic.Period{Ms: 600, UpdatedMs: now - 50})
		clk.Set(now * 1000)
		p.estimateOnce()
	}
	if got := tr.Snapshot().Accumulator.Count; got != 120 {
		t.Fatalf("accumulated samples: got %d, want 120", got)
	}

	windowTimer.us = 60_000_000
	ctrl.Stop()

	now += 500
	clk.Set(now * 1000)
	res := p.estimateOnce()
	if res.Calibration == nil || !res.Calibration.OK {
		t.Fatalf("expected successful calibration, got %+v", res.Calibration)
	}

	snap := tr.Snapshot()
	if math.Abs(float64(snap.Diameter)-0.3183) > 1e-4 {
		t.Errorf("Diameter: got %f, want ~0.3183", snap.Diameter)
	}
	if !res.Speed.DiameterKnown {
		t.Error("closing tick should report a known diameter")
	}
	// The closing tick's snapshot agrees with the speed it reports
	want := fmt.Sprintf("%.2f", res.Speed.Speed)
	if got := status.SpeedString(snap); got != want || got != "6.00" {
		t.Errorf("SpeedString on closing tick: got %q, want %q (6.00)", got, want)
	}

	// A second STOP is a no-op and does not re-finalize
	ctrl.Stop()
	clk.Set((now + 500) * 1000)
	if res := p.estimateOnce(); res.Calibration != nil {
		t.Error("repeated STOP must not finalize again")
	}
	if tr.Snapshot().Diameter != snap.Diameter {
		t.Error("diameter changed after repeated STOP")
	}
}

func TestStopStartBetweenTicksDiscardsWindow(t *testing.T) {
	p, clk, tr, _ := newTestPipeline(testConfig())
	windowTimer := &manualTimer{}
	ctrl := calibration.NewController(windowTimer, tr)

	tr.PublishPeriod(logic.Period{Ms: 600, UpdatedMs: 1000})
	clk.Set(1_100_000)
	ctrl.Start()
	p.estimateOnce()
	p.estimateOnce()

	windowTimer.us = 1_000_000
	ctrl.Stop()
	ctrl.Start()
	res := p.estimateOnce()
	if res.Discarded != 1 {
		t.Errorf("Discarded: got %d, want 1", res.Discarded)
	}
	if res.Calibration != nil {
		t.Error("replaced window must not finalize")
	}
	if got := tr.Snapshot().Accumulator.Count; got != 1 {
		t.Errorf("new window samples: got %d, want 1", got)
	}
}

func TestOnEstimateCalled(t *testing.T) {
	cfg := testConfig()
	var got []uint32
	cfg.OnEstimate = func(res logic.Result, snap status.Snapshot) {
		got = append(got, snap.Speed.RPM)
	}
	p, clk, tr, _ := newTestPipeline(cfg)

	tr.PublishPeriod(logic.Period{Ms: 600, UpdatedMs: 1000})
	clk.Set(1_100_000)
	p.estimateOnce()
	p.estimateOnce()

	if len(got) != 2 || got[0] != 100 {
		t.Errorf("OnEstimate calls: got %v", got)
	}
}

func TestRunEndToEnd(t *testing.T) {
	cfg := testConfig()
	p, clk, tr, q := newTestPipeline(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	tick := make(chan time.Time)
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx, tick) }()

	waitEdges := func(n uint64) {
		t.Helper()
		deadline := time.Now().Add(time.Second)
		for tr.Snapshot().Counters.Edges < n {
			if time.Now().After(deadline) {
				t.Fatalf("timed out waiting for %d edges", n)
			}
			time.Sleep(time.Millisecond)
		}
	}
	waitPeriod := func(ms uint32) {
		t.Helper()
		deadline := time.Now().Add(time.Second)
		for tr.Period().Ms != ms {
			if time.Now().After(deadline) {
				t.Fatalf("timed out waiting for period %d", ms)
			}
			time.Sleep(time.Millisecond)
		}
	}

	clk.Set(2_000_000)
	q.push(batch(0, 3000, 3000, 0))
	waitEdges(1)
	time.Sleep(10 * time.Millisecond)

	clk.Set(2_600_000)
	q.push(batch(0, 3000))
	waitEdges(2)
	waitPeriod(600)

	clk.Set(3_000_000)
	tick <- time.Time{}
	tick <- time.Time{}

	if got := tr.Snapshot().Speed.RPM; got != 100 {
		t.Errorf("RPM: got %d, want 100", got)
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}

func TestConsumeStopsWhenSamplerStops(t *testing.T) {
	p, _, _, q := newTestPipeline(testConfig())
	q.err = adc.ErrNotRunning
	q.push(nil)

	err := p.Consume(context.Background())
	if err == nil {
		t.Fatal("expected error when sampler stops")
	}
}

// manualTimer is a calibration.WindowTimer set by the test.
type manualTimer struct {
	us uint64
}

func (m *manualTimer) Now() uint64 { return m.us }
func (m *manualTimer) Reset()      { m.us = 0 }
func (m *manualTimer) Start()      {}
func (m *manualTimer) Pause()      {}
