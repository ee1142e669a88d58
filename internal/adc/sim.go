package adc

import (
	"context"
	"errors"
	"math/rand"

	"github.com/sweeney/speedometer/internal/logic"
)

// SimConfig describes a simulated wheel passing a pulse sensor.
type SimConfig struct {
	RPM   float64 // wheel speed; 0 means stationary
	High  uint16  // reading while the magnet/mark is under the sensor
	Low   uint16  // resting reading
	Duty  float64 // fraction of a revolution the reading is high
	Noise uint16  // peak random noise added to every reading
}

// SimSource generates a pulse train in real time, one pulse per revolution.
type SimSource struct {
	cfg     SimConfig
	rate    int
	channel uint8
	rng     *rand.Rand
	pacer   *pacer
	index   uint64
}

// NewSimSource creates a simulated source.
func NewSimSource(cfg SimConfig) *SimSource {
	if cfg.Duty <= 0 || cfg.Duty >= 1 {
		cfg.Duty = 0.1
	}
	if cfg.High == 0 {
		cfg.High = 3000
	}
	return &SimSource{cfg: cfg}
}

// Open starts the simulated converter clock.
func (s *SimSource) Open(cfg Config) error {
	if cfg.RateHz <= 0 {
		return errors.New("sim: rate must be positive")
	}
	s.rate = cfg.RateHz
	s.channel = cfg.Channel
	s.rng = rand.New(rand.NewSource(1))
	s.pacer = newPacer(cfg.RateHz)
	s.index = 0
	return nil
}

// ReadFrame fills frame with the next simulated readings, paced to the
// configured sample rate.
func (s *SimSource) ReadFrame(ctx context.Context, frame []logic.Sample) (int, error) {
	for i := range frame {
		frame[i] = logic.Sample{Channel: s.channel, Value: s.valueAt(s.index)}
		s.index++
	}
	if err := s.pacer.wait(ctx, len(frame)); err != nil {
		return 0, err
	}
	return len(frame), nil
}

func (s *SimSource) valueAt(index uint64) uint16 {
	v := s.cfg.Low
	if s.cfg.RPM > 0 {
		period := uint64(float64(s.rate)*60/s.cfg.RPM + 0.5)
		if period == 0 {
			period = 1
		}
		if float64(index%period) < s.cfg.Duty*float64(period) {
			v = s.cfg.High
		}
	}
	if s.cfg.Noise > 0 {
		n := s.rng.Intn(int(s.cfg.Noise)*2+1) - int(s.cfg.Noise)
		if n < 0 && uint16(-n) > v {
			return 0
		}
		v = uint16(int(v) + n)
	}
	if v > 0x0FFF {
		v = 0x0FFF
	}
	return v
}

// Close stops the simulation.
func (s *SimSource) Close() error {
	return nil
}
