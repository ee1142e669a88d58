package adc

import (
	"context"
	"testing"

	"github.com/sweeney/speedometer/internal/logic"
)

func TestSimSourcePulsePerRevolution(t *testing.T) {
	// 1000 rpm at 20 kHz is 1200 samples per revolution
	src := NewSimSource(SimConfig{RPM: 1000, High: 3000, Low: 500, Duty: 0.1})
	if err := src.Open(Config{RateHz: 20000, BatchSize: 16, Channel: 4}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	d := logic.NewDetector(logic.DefaultThreshold, logic.DefaultHysteresis, 4)
	edges := 0
	for i := uint64(0); i < 3600; i++ {
		rising, err := d.Process(logic.Sample{Channel: 4, Value: src.valueAt(i)})
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if rising {
			edges++
		}
	}
	if edges != 3 {
		t.Errorf("edges over three revolutions: got %d, want 3", edges)
	}
}

func TestSimSourceStationary(t *testing.T) {
	src := NewSimSource(SimConfig{Low: 700})
	if err := src.Open(Config{RateHz: 20000, Channel: 4}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := uint64(0); i < 100; i++ {
		if v := src.valueAt(i); v != 700 {
			t.Fatalf("sample %d: got %d, want 700", i, v)
		}
	}
}

func TestSimSourceReadFrameTagsChannel(t *testing.T) {
	src := NewSimSource(SimConfig{RPM: 600})
	if err := src.Open(Config{RateHz: 80000, Channel: 3}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	buf := make([]logic.Sample, 8)
	n, err := src.ReadFrame(context.Background(), buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if n != 8 {
		t.Fatalf("n: got %d, want 8", n)
	}
	for i, s := range buf {
		if s.Channel != 3 {
			t.Errorf("sample %d: channel %d, want 3", i, s.Channel)
		}
	}
}
