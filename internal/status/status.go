// Package status holds the state shared between the sampling, estimation
// and telemetry goroutines. Every aggregate is replaced as a whole under
// the lock, so readers never see a torn combination of old and new fields.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/speedometer/internal/logic"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Source       string
	RateHz       int
	BatchSize    int
	Channel      uint8
	Threshold    uint16
	Hysteresis   uint16
	IntervalMs   int64
	TimeoutMs    int64
	RefractoryMs int64
	DistanceM    float64
	Broker       string
	HTTPAddr     string
}

// Counters are pipeline counters since startup.
type Counters struct {
	Batches        uint64
	Dropped        uint64
	Edges          uint64
	InvalidSamples uint64
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Period          logic.Period
	Speed           logic.Speed
	Diameter        float32
	Window          logic.Window
	Accumulator     logic.Accumulator
	LastCalibration *logic.Calibration
	CalibratedAt    time.Time
	Counters        Counters
	StartTime       time.Time
	Now             time.Time
	MQTTConnected   bool
	Network         *NetworkInfo
	Config          Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Calibrated reports whether a wheel diameter is known.
func (s Snapshot) Calibrated() bool {
	return s.Diameter != 0
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// PublishPeriod replaces the latest period. Written by the edge handler.
func (t *Tracker) PublishPeriod(p logic.Period) {
	t.mu.Lock()
	t.snap.Period = p
	t.mu.Unlock()
}

// Period returns the latest period.
func (t *Tracker) Period() logic.Period {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap.Period
}

// PublishEstimate stores one estimator result. Written by the estimator.
func (t *Tracker) PublishEstimate(res logic.Result) {
	t.mu.Lock()
	t.snap.Speed = res.Speed
	t.snap.Diameter = res.Diameter
	t.snap.Accumulator = res.Accumulator
	if res.Calibration != nil {
		c := *res.Calibration
		t.snap.LastCalibration = &c
		t.snap.CalibratedAt = t.now()
	}
	t.mu.Unlock()
}

// SetWindow replaces the calibration window. Written by the controller.
func (t *Tracker) SetWindow(w logic.Window) {
	t.mu.Lock()
	t.snap.Window = w
	t.mu.Unlock()
}

// Window returns the calibration window.
func (t *Tracker) Window() logic.Window {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap.Window
}

// SetCounters replaces the pipeline counters. Written by the batch consumer.
func (t *Tracker) SetCounters(c Counters) {
	t.mu.Lock()
	t.snap.Counters = c
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	if s.LastCalibration != nil {
		c := *s.LastCalibration
		s.LastCalibration = &c
	}
	s.Now = t.now()
	return s
}
