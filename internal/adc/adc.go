// Package adc provides the continuous sampler that feeds raw conversion
// results to the edge detector, with pluggable converter sources.
// Real sources read a serial-attached converter or a Linux GPIO line.
// The fake source allows testing without hardware.
package adc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sweeney/speedometer/internal/logic"
)

// Sampler errors.
var (
	// ErrHardwareInit means the converter could not be configured or claimed.
	ErrHardwareInit = errors.New("adc: hardware init failed")
	// ErrTimeout means no batch arrived in time. This is the normal idle case.
	ErrTimeout = errors.New("adc: timeout")
	// ErrNotRunning is returned by ReadBatch after Stop or before Start.
	ErrNotRunning = errors.New("adc: not running")
)

// Converter limits and defaults.
const (
	MaxChannel          = 15 // 4-bit channel field
	MinRateHz           = 611
	MaxRateHz           = 83333
	DefaultRateHz       = 20000
	DefaultBatchSize    = 16
	DefaultChannel      = 4
	DefaultStoreBatches = 4
)

// Batch is one conversion cycle worth of samples, in arrival order.
type Batch []logic.Sample

// Source is a converter backend.
type Source interface {
	// Open claims and configures the converter.
	Open(cfg Config) error

	// ReadFrame fills frame with consecutive samples and returns how many
	// were written. It blocks until the frame is filled or ctx is done.
	// io.EOF means the source is exhausted.
	ReadFrame(ctx context.Context, frame []logic.Sample) (int, error)

	// Close releases the converter.
	Close() error
}

// Config describes the conversion pipeline.
type Config struct {
	RateHz       int
	BatchSize    int
	Channel      uint8
	StoreBatches int // batches held for a slow consumer before dropping
}

// Validate checks the pipeline settings the converter can accept.
func (c Config) Validate() error {
	if c.Channel > MaxChannel {
		return fmt.Errorf("channel %d out of range 0-%d", c.Channel, MaxChannel)
	}
	if c.RateHz < MinRateHz || c.RateHz > MaxRateHz {
		return fmt.Errorf("sample rate %d Hz out of range %d-%d", c.RateHz, MinRateHz, MaxRateHz)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.StoreBatches <= 0 {
		return fmt.Errorf("store batches must be positive, got %d", c.StoreBatches)
	}
	return nil
}

// Stats are sampler counters since Start.
type Stats struct {
	Batches uint64
	Dropped uint64
}

// Sampler runs a source on its own goroutine and hands out batches.
type Sampler struct {
	src Source
	cfg Config

	mu      sync.Mutex
	running bool
	batches chan Batch
	ready   chan struct{}
	stopped chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}

	produced atomic.Uint64
	dropped  atomic.Uint64
}

// NewSampler creates a sampler for the given source. Zero config fields
// take the defaults.
func NewSampler(src Source, cfg Config) *Sampler {
	if cfg.RateHz == 0 {
		cfg.RateHz = DefaultRateHz
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.StoreBatches == 0 {
		cfg.StoreBatches = DefaultStoreBatches
	}
	return &Sampler{
		src:   src,
		cfg:   cfg,
		ready: make(chan struct{}, 1),
	}
}

// Config returns the effective pipeline settings.
func (s *Sampler) Config() Config {
	return s.cfg
}

// Start configures the source and begins sampling. Any failure is wrapped
// in ErrHardwareInit.
func (s *Sampler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("%w: already running", ErrHardwareInit)
	}
	if err := s.cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrHardwareInit, err)
	}
	if err := s.src.Open(s.cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrHardwareInit, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.batches = make(chan Batch, s.cfg.StoreBatches)
	s.stopped = make(chan struct{})
	s.done = make(chan struct{})
	s.cancel = cancel
	s.running = true
	s.produced.Store(0)
	s.dropped.Store(0)

	go s.run(ctx, s.batches, s.done)
	return nil
}

func (s *Sampler) run(ctx context.Context, out chan Batch, done chan struct{}) {
	defer close(done)

	for {
		frame := make(Batch, s.cfg.BatchSize)
		n, err := s.src.ReadFrame(ctx, frame)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Printf("adc: source exhausted")
				return
			}
			log.Printf("adc: read error: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		if n == 0 {
			continue
		}
		s.push(out, frame[:n])
	}
}

// push stores a batch, dropping the oldest one when the store is full.
func (s *Sampler) push(out chan Batch, b Batch) {
	for {
		select {
		case out <- b:
			s.produced.Add(1)
			select {
			case s.ready <- struct{}{}:
			default:
			}
			return
		default:
		}
		select {
		case <-out:
			s.dropped.Add(1)
		default:
		}
	}
}

// Ready is signalled after a batch has been stored. One signal may stand for
// several batches, so the consumer should drain with ReadBatch(0).
func (s *Sampler) Ready() <-chan struct{} {
	return s.ready
}

// ReadBatch returns the next batch, waiting at most timeout. A timeout of
// zero returns immediately. ErrTimeout is returned when nothing arrived.
func (s *Sampler) ReadBatch(timeout time.Duration) (Batch, error) {
	s.mu.Lock()
	running, batches, stopped := s.running, s.batches, s.stopped
	s.mu.Unlock()

	if !running {
		return nil, ErrNotRunning
	}

	if timeout <= 0 {
		select {
		case b := <-batches:
			return b, nil
		case <-stopped:
			return nil, ErrNotRunning
		default:
			return nil, ErrTimeout
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case b := <-batches:
		return b, nil
	case <-stopped:
		return nil, ErrNotRunning
	case <-timer.C:
		return nil, ErrTimeout
	}
}

// Stop halts sampling and releases the source.
func (s *Sampler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopped)
	s.cancel()
	done := s.done
	s.mu.Unlock()

	<-done
	if err := s.src.Close(); err != nil {
		return fmt.Errorf("close source: %w", err)
	}
	return nil
}

// Stats returns the sampler counters.
func (s *Sampler) Stats() Stats {
	return Stats{
		Batches: s.produced.Load(),
		Dropped: s.dropped.Load(),
	}
}
