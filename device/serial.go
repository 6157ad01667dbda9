package device

import (
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// DefaultBaudRate is the AD2 serial interface's factory rate.
const DefaultBaudRate = 19200

// SerialConfig configures a SerialDevice.
type SerialConfig struct {
	// Path is the serial port, e.g. /dev/ttyS0 or COM3.
	Path string

	// BaudRate defaults to DefaultBaudRate when zero.
	BaudRate int
}

// SerialDevice reaches an AD2 over a native serial port.
type SerialDevice struct {
	cfg SerialConfig

	mu   sync.Mutex
	port serial.Port
}

// NewSerialDevice creates an unopened serial transport.
func NewSerialDevice(cfg SerialConfig) *SerialDevice {
	return &SerialDevice{cfg: cfg}
}

func (s *SerialDevice) Open() error {
	baud := s.cfg.BaudRate
	if baud <= 0 {
		baud = DefaultBaudRate
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(s.cfg.Path, mode)
	if err != nil {
		return fmt.Errorf("device: failed to open serial port %s: %w", s.cfg.Path, err)
	}

	s.mu.Lock()
	s.port = port
	s.mu.Unlock()
	return nil
}

func (s *SerialDevice) Read(p []byte, timeout time.Duration) (int, error) {
	port := s.current()
	if port == nil {
		return 0, fmt.Errorf("device: serial port not open")
	}

	if err := port.SetReadTimeout(timeout); err != nil {
		return 0, err
	}

	n, err := port.Read(p)
	if err != nil {
		return n, err
	}
	if n == 0 {
		// A zero-length read after SetReadTimeout means the timer expired.
		return 0, ErrTimeout
	}
	return n, nil
}

func (s *SerialDevice) Write(p []byte) (int, error) {
	port := s.current()
	if port == nil {
		return 0, fmt.Errorf("device: serial port not open")
	}
	return port.Write(p)
}

func (s *SerialDevice) Close() error {
	s.mu.Lock()
	port := s.port
	s.port = nil
	s.mu.Unlock()

	if port == nil {
		return nil
	}
	return port.Close()
}

func (s *SerialDevice) String() string {
	return "serial://" + s.cfg.Path
}

func (s *SerialDevice) current() serial.Port {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}
