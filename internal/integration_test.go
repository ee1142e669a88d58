package internal

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/speedometer/internal/adc"
	"github.com/sweeney/speedometer/internal/calibration"
	"github.com/sweeney/speedometer/internal/clock"
	"github.com/sweeney/speedometer/internal/logic"
	"github.com/sweeney/speedometer/internal/mqtt"
	"github.com/sweeney/speedometer/internal/pipeline"
	"github.com/sweeney/speedometer/internal/status"
)

// rig wires a simulated wheel through the real sampler and pipeline.
type rig struct {
	tracker    *status.Tracker
	controller *calibration.Controller
	publisher  *mqtt.FakePublisher

	mu      sync.Mutex
	results []logic.Result

	cancel context.CancelFunc
	done   chan error
}

func startRig(t *testing.T, rpm float64, distanceM float32) *rig {
	t.Helper()

	sampler := adc.NewSampler(adc.NewSimSource(adc.SimConfig{
		RPM:   rpm,
		High:  3000,
		Low:   200,
		Duty:  0.1,
		Noise: 20,
	}), adc.Config{Channel: adc.DefaultChannel})
	if err := sampler.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	r := &rig{
		tracker:   status.NewTracker(time.Now(), status.Config{}),
		publisher: mqtt.NewFakePublisher(),
		done:      make(chan error, 1),
	}
	r.controller = calibration.NewController(clock.NewTimer(false), r.tracker)
	r.publisher.SubscribeCommands(func(p string) { r.controller.Handle(p) })

	p := pipeline.New(pipeline.Config{
		Channel:    adc.DefaultChannel,
		Threshold:  logic.DefaultThreshold,
		Hysteresis: logic.DefaultHysteresis,
		Refractory: 10 * time.Millisecond,
		Estimator:  logic.EstimatorConfig{TimeoutMs: logic.DefaultTimeoutMs, DistanceM: distanceM},
		OnEstimate: func(res logic.Result, snap status.Snapshot) {
			r.mu.Lock()
			r.results = append(r.results, res)
			r.mu.Unlock()
			r.publisher.PublishReading(mqtt.NewReading(snap))
		},
	}, sampler, clock.NewTimer(true), r.tracker)

	ticker := time.NewTicker(50 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go func() { r.done <- p.Run(ctx, ticker.C) }()

	t.Cleanup(func() {
		r.cancel()
		<-r.done
		ticker.Stop()
		sampler.Stop()
	})
	return r
}

// calibrations returns the finalize results seen so far.
func (r *rig) calibrations() []logic.Calibration {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []logic.Calibration
	for _, res := range r.results {
		if res.Calibration != nil {
			out = append(out, *res.Calibration)
		}
	}
	return out
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// TestIntegrationPeriodFromSimulatedWheel runs a 600 rpm wheel (100 ms per
// revolution) through the full sampling path.
func TestIntegrationPeriodFromSimulatedWheel(t *testing.T) {
	if testing.Short() {
		t.Skip("real-time sampling")
	}
	r := startRig(t, 600, logic.DefaultDistanceM)

	waitFor(t, "period", 3*time.Second, func() bool {
		ms := r.tracker.Period().Ms
		return ms >= 95 && ms <= 105
	})
	waitFor(t, "rpm", 2*time.Second, func() bool {
		rpm := r.tracker.Snapshot().Speed.RPM
		return rpm >= 570 && rpm <= 630
	})

	snap := r.tracker.Snapshot()
	if snap.Calibrated() {
		t.Error("expected wheel to be uncalibrated")
	}
	if snap.Counters.Edges < 2 || snap.Counters.Batches == 0 {
		t.Errorf("counters: %+v", snap.Counters)
	}
	if snap.Counters.InvalidSamples != 0 {
		t.Errorf("expected no invalid samples, got %d", snap.Counters.InvalidSamples)
	}
}

// TestIntegrationCalibrationRun opens a window over MQTT, lets the wheel
// turn, closes it and checks the derived diameter.
func TestIntegrationCalibrationRun(t *testing.T) {
	if testing.Short() {
		t.Skip("real-time sampling")
	}
	const distance = 5
	r := startRig(t, 600, distance)

	waitFor(t, "rpm", 3*time.Second, func() bool {
		return r.tracker.Snapshot().Speed.RPM > 0
	})

	r.publisher.Deliver("START")
	time.Sleep(time.Second)
	r.publisher.Deliver("STOP")

	waitFor(t, "calibration", 2*time.Second, func() bool {
		return len(r.calibrations()) > 0
	})

	cals := r.calibrations()
	if len(cals) != 1 {
		t.Fatalf("expected 1 calibration, got %d", len(cals))
	}
	c := cals[0]
	if !c.OK {
		t.Fatalf("calibration failed: %+v", c)
	}
	if c.AverageRPM < 570 || c.AverageRPM > 630 {
		t.Errorf("average rpm: got %d, want about 600", c.AverageRPM)
	}

	// diameter = distance / seconds * 60 / (rpm * pi)
	want := float64(distance) / (float64(c.ElapsedMs) / 1000) * 60 / (float64(c.AverageRPM) * math.Pi)
	if math.Abs(float64(c.Diameter)-want) > 1e-4 {
		t.Errorf("diameter: got %v, want %v", c.Diameter, want)
	}

	waitFor(t, "calibrated speed", 2*time.Second, func() bool {
		return r.tracker.Snapshot().Speed.DiameterKnown
	})
	snap := r.tracker.Snapshot()
	if got := status.SpeedString(snap); got == status.Uncalibrated {
		t.Errorf("expected numeric speed after calibration, got %q", got)
	}

	// With the diameter derived from the same wheel, speed over the
	// window is distance / elapsed.
	wantKmh := float64(distance) / (float64(c.ElapsedMs) / 1000) * 3.6
	if math.Abs(float64(snap.Speed.Speed)-wantKmh) > wantKmh*0.1 {
		t.Errorf("speed: got %v km/h, want about %v", snap.Speed.Speed, wantKmh)
	}
}

// TestIntegrationReadingPayloads checks what a telemetry subscriber sees.
func TestIntegrationReadingPayloads(t *testing.T) {
	if testing.Short() {
		t.Skip("real-time sampling")
	}
	r := startRig(t, 0, logic.DefaultDistanceM)

	waitFor(t, "readings", 2*time.Second, func() bool {
		return r.publisher.ReadingCount() >= 3
	})

	r.publisher.Deliver("STOP") // no window open: ignored
	if r.tracker.Window().Active {
		t.Error("STOP without START must not open a window")
	}

	for i, payload := range r.publisher.ReadingPayloads()[:3] {
		var parsed mqtt.Payload
		if err := json.Unmarshal(payload, &parsed); err != nil {
			t.Fatalf("payload %d: invalid JSON: %v", i, err)
		}
		if parsed.Speedometer.Speed != "Calibrate" {
			t.Errorf("payload %d: speed %q, want Calibrate", i, parsed.Speedometer.Speed)
		}
		if parsed.Speedometer.RPM != 0 {
			t.Errorf("payload %d: stationary wheel reported %d rpm", i, parsed.Speedometer.RPM)
		}
	}
}
