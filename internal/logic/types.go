// Package logic contains the pure measurement logic of the speedometer:
// threshold-crossing detection, edge timing, RPM/speed estimation and
// calibration accumulation.
// This package has NO hardware, MQTT, OS or sleep dependencies.
// Time is always injected as microsecond or millisecond counter values.
package logic

import "errors"

// Defaults for a single-pulse-per-revolution wheel sensor on a 12-bit converter.
const (
	DefaultThreshold  = 1900 // raw converter units
	DefaultHysteresis = 50   // raw converter units below the threshold
	DefaultTimeoutMs  = 2000 // readings older than this are stale
	DefaultDistanceM  = 100  // calibration course length in metres
)

// ErrInvalidChannel is returned for a sample tagged with a channel the
// detector was not configured for.
var ErrInvalidChannel = errors.New("invalid channel")

// Level is the detector arm state of one channel.
type Level string

const (
	LevelBelow Level = "BELOW"
	LevelAbove Level = "ABOVE"
)

// Sample is one raw conversion result.
type Sample struct {
	Channel uint8
	Value   uint16 // raw converter units
}

// Period is the latest time between two qualifying rising edges.
type Period struct {
	Ms        uint32 // LatestPeriodMs
	UpdatedMs uint64 // clock time of the edge that produced Ms
}

// Speed is the estimator output for one tick.
type Speed struct {
	RPM           uint32
	Speed         float32 // km/h, 0 while DiameterKnown is false
	DiameterKnown bool
}

// Window is the calibration window as published by the controller.
type Window struct {
	Active     bool
	Generation uint64 // incremented on every START
	StartMs    uint64
	DurationMs uint64 // set on STOP
}

// Accumulator holds the RPM samples collected during an open window.
type Accumulator struct {
	Count uint32
	Sum   uint32
}

// Calibration is the outcome of closing a window.
type Calibration struct {
	Samples    uint32
	AverageRPM uint32
	ElapsedMs  uint64
	Diameter   float32 // metres; only meaningful when OK
	OK         bool
}
