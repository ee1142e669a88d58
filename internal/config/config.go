// Package config loads the speedometer daemon configuration from YAML.
package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/speedometer/internal/adc"
	"github.com/sweeney/speedometer/internal/logic"
	"github.com/sweeney/speedometer/internal/mqtt"
	"github.com/sweeney/speedometer/internal/status"
)

// Converter backends selectable with sampler.source.
const (
	SourceSim    = "sim"
	SourceSerial = "serial"
	SourceGPIO   = "gpio"
)

// Config represents the daemon configuration.
type Config struct {
	Sampler     SamplerConfig     `yaml:"sampler"`
	Detector    DetectorConfig    `yaml:"detector"`
	Estimator   EstimatorConfig   `yaml:"estimator"`
	Calibration CalibrationConfig `yaml:"calibration"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	HTTP        HTTPConfig        `yaml:"http"`
}

// SamplerConfig contains converter settings.
type SamplerConfig struct {
	Source       string       `yaml:"source"`
	RateHz       int          `yaml:"rate_hz"`
	BatchSize    int          `yaml:"batch_size"`
	Channel      uint8        `yaml:"channel"`
	StoreBatches int          `yaml:"store_batches"` // batches held before the oldest is dropped
	Serial       SerialConfig `yaml:"serial"`
	GPIO         GPIOConfig   `yaml:"gpio"`
	Sim          SimConfig    `yaml:"sim"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// GPIOConfig selects the line a digital pulse sensor is wired to.
type GPIOConfig struct {
	Chip      string `yaml:"chip"`
	Line      int    `yaml:"line"`
	ActiveLow bool   `yaml:"active_low"`
}

// SimConfig contains simulated wheel parameters.
type SimConfig struct {
	RPM   float64 `yaml:"rpm"`
	High  uint16  `yaml:"high"`
	Low   uint16  `yaml:"low"`
	Duty  float64 `yaml:"duty"`
	Noise uint16  `yaml:"noise"`
}

// DetectorConfig contains threshold detector parameters.
type DetectorConfig struct {
	Threshold  uint16        `yaml:"threshold"`
	Hysteresis uint16        `yaml:"hysteresis"`
	Refractory time.Duration `yaml:"refractory"` // pause after each edge
}

// EstimatorConfig contains estimator cadence and staleness.
type EstimatorConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// CalibrationConfig contains the calibration run parameters.
type CalibrationConfig struct {
	DistanceM float64 `yaml:"distance_m"` // distance travelled during a calibration window
}

// MQTTConfig contains broker settings. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	BufferSize  int    `yaml:"buffer_size"`
}

// HTTPConfig contains the status server settings.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Sampler: SamplerConfig{
			Source:       SourceSim,
			RateHz:       adc.DefaultRateHz,
			BatchSize:    adc.DefaultBatchSize,
			Channel:      adc.DefaultChannel,
			StoreBatches: adc.DefaultStoreBatches,
			Serial: SerialConfig{
				Port:     "/dev/ttyUSB0",
				BaudRate: adc.DefaultBaudRate,
			},
			GPIO: GPIOConfig{
				Chip: "gpiochip0",
				Line: 17,
			},
			Sim: SimConfig{
				RPM:   300,
				High:  3000,
				Low:   200,
				Duty:  0.1,
				Noise: 30,
			},
		},
		Detector: DetectorConfig{
			Threshold:  logic.DefaultThreshold,
			Hysteresis: logic.DefaultHysteresis,
			Refractory: 10 * time.Millisecond,
		},
		Estimator: EstimatorConfig{
			Interval: 500 * time.Millisecond,
			Timeout:  logic.DefaultTimeoutMs * time.Millisecond,
		},
		Calibration: CalibrationConfig{
			DistanceM: logic.DefaultDistanceM,
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "speedometer",
			TopicPrefix: mqtt.DefaultTopicPrefix,
			BufferSize:  mqtt.DefaultBufferSize,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ensureDefaults restores defaults for fields a file explicitly zeroed
// where zero is never meaningful.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Sampler.Source == "" {
		c.Sampler.Source = def.Sampler.Source
	}
	if c.Sampler.RateHz == 0 {
		c.Sampler.RateHz = def.Sampler.RateHz
	}
	if c.Sampler.BatchSize == 0 {
		c.Sampler.BatchSize = def.Sampler.BatchSize
	}
	if c.Sampler.StoreBatches == 0 {
		c.Sampler.StoreBatches = def.Sampler.StoreBatches
	}
	if c.Sampler.Serial.BaudRate == 0 {
		c.Sampler.Serial.BaudRate = def.Sampler.Serial.BaudRate
	}

	if c.Detector.Threshold == 0 {
		c.Detector.Threshold = def.Detector.Threshold
	}

	if c.Estimator.Interval == 0 {
		c.Estimator.Interval = def.Estimator.Interval
	}
	if c.Estimator.Timeout == 0 {
		c.Estimator.Timeout = def.Estimator.Timeout
	}

	if c.Calibration.DistanceM == 0 {
		c.Calibration.DistanceM = def.Calibration.DistanceM
	}

	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = def.MQTT.TopicPrefix
	}
	if c.MQTT.BufferSize == 0 {
		c.MQTT.BufferSize = def.MQTT.BufferSize
	}
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	switch c.Sampler.Source {
	case SourceSim, SourceSerial, SourceGPIO:
	default:
		return fmt.Errorf("sampler.source: unknown source %q", c.Sampler.Source)
	}
	if err := c.SamplerConfig().Validate(); err != nil {
		return fmt.Errorf("sampler: %w", err)
	}
	if c.Sampler.Source == SourceSerial && c.Sampler.Serial.Port == "" {
		return fmt.Errorf("sampler.serial.port: required for serial source")
	}
	if c.Sampler.Sim.RPM < 0 {
		return fmt.Errorf("sampler.sim.rpm: must not be negative, got %v", c.Sampler.Sim.RPM)
	}

	if c.Detector.Hysteresis > c.Detector.Threshold {
		return fmt.Errorf("detector.hysteresis: %d exceeds threshold %d", c.Detector.Hysteresis, c.Detector.Threshold)
	}
	if c.Detector.Refractory < 0 {
		return fmt.Errorf("detector.refractory: must not be negative")
	}

	if c.Estimator.Interval <= 0 {
		return fmt.Errorf("estimator.interval: must be positive")
	}
	if c.Estimator.Timeout < time.Millisecond {
		return fmt.Errorf("estimator.timeout: must be at least 1ms")
	}

	d := c.Calibration.DistanceM
	if d <= 0 || math.IsInf(d, 0) || math.IsNaN(d) {
		return fmt.Errorf("calibration.distance_m: must be positive and finite, got %v", d)
	}

	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr: required")
	}
	return nil
}

// SamplerConfig returns the converter pipeline settings.
func (c *Config) SamplerConfig() adc.Config {
	return adc.Config{
		RateHz:       c.Sampler.RateHz,
		BatchSize:    c.Sampler.BatchSize,
		Channel:      c.Sampler.Channel,
		StoreBatches: c.Sampler.StoreBatches,
	}
}

// EstimatorConfig returns the estimator settings.
func (c *Config) EstimatorConfig() logic.EstimatorConfig {
	return logic.EstimatorConfig{
		TimeoutMs: uint64(c.Estimator.Timeout / time.Millisecond),
		DistanceM: float32(c.Calibration.DistanceM),
	}
}

// StatusConfig returns the settings shown on the status surfaces.
func (c *Config) StatusConfig() status.Config {
	return status.Config{
		Source:       c.Sampler.Source,
		RateHz:       c.Sampler.RateHz,
		BatchSize:    c.Sampler.BatchSize,
		Channel:      c.Sampler.Channel,
		Threshold:    c.Detector.Threshold,
		Hysteresis:   c.Detector.Hysteresis,
		IntervalMs:   c.Estimator.Interval.Milliseconds(),
		TimeoutMs:    c.Estimator.Timeout.Milliseconds(),
		RefractoryMs: c.Detector.Refractory.Milliseconds(),
		DistanceM:    c.Calibration.DistanceM,
		Broker:       c.MQTT.Broker,
		HTTPAddr:     c.HTTP.Addr,
	}
}
