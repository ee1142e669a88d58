// Package mqtt publishes speedometer readings and receives calibration
// commands over MQTT, with an abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/speedometer/internal/status"
)

// DefaultTopicPrefix is the topic root used when none is configured.
const DefaultTopicPrefix = "sensors/speedometer"

// Topics are the MQTT topics under one prefix.
type Topics struct {
	Period  string // 4-byte little-endian period counter
	Speed   string // speed string, "Calibrate" while uncalibrated
	Reading string // JSON reading
	Command string // inbound START / STOP
	System  string // lifecycle and calibration events
}

// NewTopics derives the topic set from a prefix.
func NewTopics(prefix string) Topics {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{
		Period:  prefix + "/period",
		Speed:   prefix + "/speed",
		Reading: prefix + "/reading",
		Command: prefix + "/command",
		System:  prefix + "/system",
	}
}

// Publisher publishes telemetry to MQTT.
type Publisher interface {
	// PublishReading sends the latest reading to the broker.
	// Returns error if publishing fails (should not crash the process).
	PublishReading(r Reading) error

	// PublishSystem sends a system event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// CommandSource delivers inbound command payloads.
type CommandSource interface {
	// SubscribeCommands registers the handler for command payloads.
	SubscribeCommands(handler func(payload string)) error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system event (e.g., startup, shutdown, calibration).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "CALIBRATED"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Reading is one estimator tick as seen by telemetry readers.
type Reading struct {
	Timestamp         time.Time
	PeriodMs          uint32
	RPM               uint32
	Speed             string
	SpeedKmh          float32
	Calibrated        bool
	CalibrationActive bool
	periodBytes       []byte
}

// NewReading captures a reading from a tracker snapshot.
func NewReading(snap status.Snapshot) Reading {
	return Reading{
		Timestamp:         snap.Now,
		PeriodMs:          snap.Period.Ms,
		RPM:               snap.Speed.RPM,
		Speed:             status.SpeedString(snap),
		SpeedKmh:          snap.Speed.Speed,
		Calibrated:        snap.Calibrated(),
		CalibrationActive: snap.Window.Active,
		periodBytes:       status.PeriodBytes(snap),
	}
}

// PeriodPayload returns the period counter as 4 little-endian bytes.
func (r Reading) PeriodPayload() []byte {
	if r.periodBytes != nil {
		return r.periodBytes
	}
	return status.PeriodBytes(status.Snapshot{})
}

// Payload represents the MQTT reading payload structure.
type Payload struct {
	Speedometer ReadingPayload `json:"speedometer"`
}

// ReadingPayload contains the reading details.
type ReadingPayload struct {
	Timestamp         string  `json:"timestamp"`
	PeriodMs          uint32  `json:"period_ms"`
	RPM               uint32  `json:"rpm"`
	Speed             string  `json:"speed"`
	SpeedKmh          float32 `json:"speed_kmh"`
	Calibrated        bool    `json:"calibrated"`
	CalibrationActive bool    `json:"calibration_active"`
}

// FormatPayload creates the JSON payload for a reading.
func FormatPayload(r Reading) ([]byte, error) {
	payload := Payload{
		Speedometer: ReadingPayload{
			Timestamp:         r.Timestamp.UTC().Format(time.RFC3339),
			PeriodMs:          r.PeriodMs,
			RPM:               r.RPM,
			Speed:             r.Speed,
			SpeedKmh:          r.SpeedKmh,
			Calibrated:        r.Calibrated,
			CalibrationActive: r.CalibrationActive,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (will, reconnect) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp,omitempty"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	inner := SystemPayloadInner{
		Event:  event.Event,
		Reason: event.Reason,
	}
	if !event.Timestamp.IsZero() {
		inner.Timestamp = event.Timestamp.UTC().Format(time.RFC3339)
	}
	return json.Marshal(SystemPayload{System: inner})
}

// WillPayload is the retained message the broker publishes if the daemon
// disappears without a clean shutdown.
func WillPayload() []byte {
	data, _ := FormatSystemPayload(SystemEvent{Event: "OFFLINE", Reason: "CONNECTION_LOST"})
	return data
}
