package adc

import (
	"errors"
	"testing"
	"time"

	"github.com/sweeney/speedometer/internal/logic"
)

func frame(ch uint8, values ...uint16) []logic.Sample {
	out := make([]logic.Sample, len(values))
	for i, v := range values {
		out[i] = logic.Sample{Channel: ch, Value: v}
	}
	return out
}

func testConfig() Config {
	return Config{RateHz: DefaultRateHz, BatchSize: 4, Channel: 4, StoreBatches: 2}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"channel out of range", func(c *Config) { c.Channel = 16 }, true},
		{"rate too low", func(c *Config) { c.RateHz = 100 }, true},
		{"rate too high", func(c *Config) { c.RateHz = 100000 }, true},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }, true},
		{"zero store", func(c *Config) { c.StoreBatches = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate: got %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewSamplerDefaults(t *testing.T) {
	s := NewSampler(NewFakeSource(), Config{Channel: 4})
	cfg := s.Config()
	if cfg.RateHz != DefaultRateHz {
		t.Errorf("RateHz: got %d, want %d", cfg.RateHz, DefaultRateHz)
	}
	if cfg.BatchSize != DefaultBatchSize {
		t.Errorf("BatchSize: got %d, want %d", cfg.BatchSize, DefaultBatchSize)
	}
	if cfg.StoreBatches != DefaultStoreBatches {
		t.Errorf("StoreBatches: got %d, want %d", cfg.StoreBatches, DefaultStoreBatches)
	}
}

func TestStartInvalidConfigIsHardwareInitError(t *testing.T) {
	src := NewFakeSource()
	cfg := testConfig()
	cfg.Channel = 20
	s := NewSampler(src, cfg)

	err := s.Start()
	if !errors.Is(err, ErrHardwareInit) {
		t.Fatalf("expected ErrHardwareInit, got %v", err)
	}
	if src.Opened() {
		t.Error("source must not be opened with invalid config")
	}
}

func TestStartOpenFailureIsHardwareInitError(t *testing.T) {
	src := NewFakeSource()
	src.OpenError = errors.New("busy")
	s := NewSampler(src, testConfig())

	if err := s.Start(); !errors.Is(err, ErrHardwareInit) {
		t.Fatalf("expected ErrHardwareInit, got %v", err)
	}
	if _, err := s.ReadBatch(0); !errors.Is(err, ErrNotRunning) {
		t.Errorf("ReadBatch after failed start: got %v, want ErrNotRunning", err)
	}
}

func TestStartTwiceFails(t *testing.T) {
	s := NewSampler(NewFakeSource(), testConfig())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if err := s.Start(); !errors.Is(err, ErrHardwareInit) {
		t.Errorf("second Start: got %v, want ErrHardwareInit", err)
	}
}

func TestReadBatchDeliversInOrder(t *testing.T) {
	src := NewFakeSource(frame(4, 1, 2, 3, 4), frame(4, 5, 6, 7, 8))
	s := NewSampler(src, Config{RateHz: DefaultRateHz, BatchSize: 4, Channel: 4, StoreBatches: 4})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	var got []uint16
	for len(got) < 8 {
		b, err := s.ReadBatch(time.Second)
		if err != nil {
			t.Fatalf("ReadBatch: %v", err)
		}
		for _, smp := range b {
			got = append(got, smp.Value)
		}
	}
	for i, v := range got {
		if v != uint16(i+1) {
			t.Errorf("sample %d: got %d, want %d", i, v, i+1)
		}
	}
}

func TestReadBatchTimeoutWhenIdle(t *testing.T) {
	s := NewSampler(NewFakeSource(), testConfig())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if _, err := s.ReadBatch(0); !errors.Is(err, ErrTimeout) {
		t.Errorf("immediate drain: got %v, want ErrTimeout", err)
	}
	if _, err := s.ReadBatch(10 * time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Errorf("timed read: got %v, want ErrTimeout", err)
	}
}

func TestReadySignalled(t *testing.T) {
	s := NewSampler(NewFakeSource(frame(4, 100, 200, 300, 400)), testConfig())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	select {
	case <-s.Ready():
	case <-time.After(time.Second):
		t.Fatal("no ready signal")
	}
	b, err := s.ReadBatch(0)
	if err != nil {
		t.Fatalf("ReadBatch: %v", err)
	}
	if len(b) != 4 {
		t.Errorf("batch length: got %d, want 4", len(b))
	}
}

func TestStopThenReadIsNotRunning(t *testing.T) {
	src := NewFakeSource()
	s := NewSampler(src, testConfig())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !src.Closed() {
		t.Error("source should be closed after Stop")
	}
	if _, err := s.ReadBatch(0); !errors.Is(err, ErrNotRunning) {
		t.Errorf("ReadBatch after Stop: got %v, want ErrNotRunning", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestStopWakesBlockedReader(t *testing.T) {
	s := NewSampler(NewFakeSource(), testConfig())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := s.ReadBatch(10 * time.Second)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrNotRunning) {
			t.Errorf("blocked reader: got %v, want ErrNotRunning", err)
		}
	case <-time.After(time.Second):
		t.Fatal("reader not woken by Stop")
	}
}

func TestSlowConsumerDropsOldest(t *testing.T) {
	src := NewFakeSource(
		frame(4, 1, 1, 1, 1),
		frame(4, 2, 2, 2, 2),
		frame(4, 3, 3, 3, 3),
		frame(4, 4, 4, 4, 4),
	)
	s := NewSampler(src, testConfig()) // store holds 2 batches
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(time.Second)
	for src.Consumed() < 4 || s.Stats().Batches < 4 {
		if time.Now().After(deadline) {
			t.Fatal("source not drained")
		}
		time.Sleep(time.Millisecond)
	}

	stats := s.Stats()
	if stats.Dropped != 2 {
		t.Errorf("Dropped: got %d, want 2", stats.Dropped)
	}
	b1, _ := s.ReadBatch(0)
	b2, _ := s.ReadBatch(0)
	if len(b1) == 0 || len(b2) == 0 {
		t.Fatal("expected two stored batches")
	}
	if b1[0].Value != 3 || b2[0].Value != 4 {
		t.Errorf("kept batches: got %d,%d want 3,4", b1[0].Value, b2[0].Value)
	}
}

func TestSourceEOFStopsProducing(t *testing.T) {
	src := NewFakeSource(frame(4, 9, 9, 9, 9))
	src.EOFWhenDone = true
	s := NewSampler(src, testConfig())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if _, err := s.ReadBatch(time.Second); err != nil {
		t.Fatalf("ReadBatch: %v", err)
	}
	if _, err := s.ReadBatch(20 * time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Errorf("after EOF: got %v, want ErrTimeout", err)
	}
}
