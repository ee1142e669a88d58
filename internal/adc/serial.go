package adc

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"go.bug.st/serial"

	"github.com/sweeney/speedometer/internal/logic"
)

// DefaultBaudRate suits a converter streaming 20 kS/s of 2-byte results.
const DefaultBaudRate = 921600

// SerialSource reads raw TYPE1 conversion results streamed by an external
// converter over a serial port.
type SerialSource struct {
	port     string
	baudRate int
	channel  uint8
	conn     io.ReadCloser
	buf      []byte
	resyncs  uint64
}

// NewSerialSource creates a source for the given port.
func NewSerialSource(port string, baudRate int) *SerialSource {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	return &SerialSource{port: port, baudRate: baudRate}
}

// Open opens the serial port.
func (s *SerialSource) Open(cfg Config) error {
	if s.port == "" {
		return fmt.Errorf("serial: no port configured")
	}
	conn, err := serial.Open(s.port, &serial.Mode{BaudRate: s.baudRate})
	if err != nil {
		return fmt.Errorf("open serial port %s: %w", s.port, err)
	}
	// Short read timeout so cancellation is noticed between reads
	if err := conn.SetReadTimeout(50 * time.Millisecond); err != nil {
		conn.Close()
		return fmt.Errorf("set read timeout: %w", err)
	}
	s.conn = conn
	s.channel = cfg.Channel
	s.buf = make([]byte, cfg.BatchSize*FrameBytes)
	return nil
}

// ReadFrame reads len(frame) conversion results from the port. A frame in
// which no result carries the configured channel is taken as a stream
// misaligned by one byte: the first byte is dropped and one more is read
// before decoding.
func (s *SerialSource) ReadFrame(ctx context.Context, frame []logic.Sample) (int, error) {
	want := len(frame) * FrameBytes
	if cap(s.buf) < want {
		s.buf = make([]byte, want)
	}
	buf := s.buf[:want]

	if err := s.readFull(ctx, buf); err != nil {
		return 0, err
	}
	if want > 0 && !s.onChannel(buf) {
		copy(buf, buf[1:])
		if err := s.readFull(ctx, buf[want-1:]); err != nil {
			return 0, err
		}
		s.resyncs++
		if s.resyncs%1000 == 1 {
			log.Printf("adc: serial resync, dropped one byte (%d total)", s.resyncs)
		}
	}

	for i := range frame {
		frame[i] = DecodeType1(buf[i*FrameBytes], buf[i*FrameBytes+1])
	}
	return len(frame), nil
}

// Resyncs returns how many times ReadFrame dropped a byte to realign.
func (s *SerialSource) Resyncs() uint64 {
	return s.resyncs
}

func (s *SerialSource) readFull(ctx context.Context, buf []byte) error {
	got := 0
	for got < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := s.conn.Read(buf[got:])
		if err != nil {
			return fmt.Errorf("read serial: %w", err)
		}
		got += n
	}
	return nil
}

func (s *SerialSource) onChannel(buf []byte) bool {
	for i := 0; i+1 < len(buf); i += FrameBytes {
		if DecodeType1(buf[i], buf[i+1]).Channel == s.channel {
			return true
		}
	}
	return false
}

// Close closes the serial port.
func (s *SerialSource) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	if err != nil {
		return fmt.Errorf("close serial port: %w", err)
	}
	return nil
}
