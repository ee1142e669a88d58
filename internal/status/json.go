package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string          `json:"event,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	PeriodMs      uint32          `json:"period_ms"`
	RPM           uint32          `json:"rpm"`
	Speed         string          `json:"speed"`
	SpeedKmh      float32         `json:"speed_kmh"`
	Calibrated    bool            `json:"calibrated"`
	DiameterM     float32         `json:"diameter_m"`
	Calibration   CalibrationJSON `json:"calibration"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	StartTime     string          `json:"start_time"`
	Timestamp     string          `json:"timestamp"`
	MQTT          MQTTStatus      `json:"mqtt"`
	Counters      CountersJSON    `json:"counters"`
	Network       *NetworkJSON    `json:"network,omitempty"`
	Config        ConfigJSON      `json:"config"`
}

// CalibrationJSON is the JSON representation of the calibration state.
type CalibrationJSON struct {
	Active           bool             `json:"active"`
	Samples          uint32           `json:"samples"`
	RPMSum           uint32           `json:"rpm_sum"`
	WindowStartMs    uint64           `json:"window_start_ms"`
	WindowDurationMs uint64           `json:"window_duration_ms"`
	Last             *CalibrationLast `json:"last,omitempty"`
}

// CalibrationLast describes the most recent finalized window.
type CalibrationLast struct {
	Samples    uint32  `json:"samples"`
	AverageRPM uint32  `json:"average_rpm"`
	ElapsedMs  uint64  `json:"elapsed_ms"`
	DiameterM  float32 `json:"diameter_m"`
	OK         bool    `json:"ok"`
	Timestamp  string  `json:"timestamp"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountersJSON is the JSON representation of pipeline counters.
type CountersJSON struct {
	Batches        uint64 `json:"batches"`
	Dropped        uint64 `json:"dropped_batches"`
	Edges          uint64 `json:"edges"`
	InvalidSamples uint64 `json:"invalid_samples"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Source       string  `json:"source"`
	RateHz       int     `json:"rate_hz"`
	BatchSize    int     `json:"batch_size"`
	Channel      uint8   `json:"channel"`
	Threshold    uint16  `json:"threshold"`
	Hysteresis   uint16  `json:"hysteresis"`
	IntervalMs   int64   `json:"interval_ms"`
	TimeoutMs    int64   `json:"timeout_ms"`
	RefractoryMs int64   `json:"refractory_ms"`
	DistanceM    float64 `json:"distance_m"`
	Broker       string  `json:"broker"`
	HTTPAddr     string  `json:"http_addr"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		PeriodMs:   snap.Period.Ms,
		RPM:        snap.Speed.RPM,
		Speed:      SpeedString(snap),
		SpeedKmh:   snap.Speed.Speed,
		Calibrated: snap.Calibrated(),
		DiameterM:  snap.Diameter,
		Calibration: CalibrationJSON{
			Active:           snap.Window.Active,
			Samples:          snap.Accumulator.Count,
			RPMSum:           snap.Accumulator.Sum,
			WindowStartMs:    snap.Window.StartMs,
			WindowDurationMs: snap.Window.DurationMs,
		},
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counters: CountersJSON{
			Batches:        snap.Counters.Batches,
			Dropped:        snap.Counters.Dropped,
			Edges:          snap.Counters.Edges,
			InvalidSamples: snap.Counters.InvalidSamples,
		},
		Config: ConfigJSON{
			Source:       snap.Config.Source,
			RateHz:       snap.Config.RateHz,
			BatchSize:    snap.Config.BatchSize,
			Channel:      snap.Config.Channel,
			Threshold:    snap.Config.Threshold,
			Hysteresis:   snap.Config.Hysteresis,
			IntervalMs:   snap.Config.IntervalMs,
			TimeoutMs:    snap.Config.TimeoutMs,
			RefractoryMs: snap.Config.RefractoryMs,
			DistanceM:    snap.Config.DistanceM,
			Broker:       snap.Config.Broker,
			HTTPAddr:     snap.Config.HTTPAddr,
		},
	}
	if c := snap.LastCalibration; c != nil {
		inner.Calibration.Last = &CalibrationLast{
			Samples:    c.Samples,
			AverageRPM: c.AverageRPM,
			ElapsedMs:  c.ElapsedMs,
			DiameterM:  c.Diameter,
			OK:         c.OK,
			Timestamp:  snap.CalibratedAt.UTC().Format(time.RFC3339),
		}
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)
	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)
	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
