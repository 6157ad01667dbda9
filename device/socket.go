package device

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

const defaultDialTimeout = 30 * time.Second

// SocketConfig configures a SocketDevice.
type SocketConfig struct {
	// Address is the host:port of the ser2sock endpoint.
	Address string

	// TLS, when non-nil, wraps the connection in a TLS client session.
	// Certificate and trust material is carried in the standard config.
	TLS *tls.Config

	// DialTimeout bounds connection establishment. Zero means 30s.
	DialTimeout time.Duration
}

// SocketDevice reaches an AD2 through a TCP socket, optionally TLS-wrapped,
// as exposed by ser2sock or the AD2Pi network appliance.
type SocketDevice struct {
	cfg SocketConfig

	mu   sync.Mutex
	conn net.Conn
}

// NewSocketDevice creates an unopened socket transport.
func NewSocketDevice(cfg SocketConfig) *SocketDevice {
	return &SocketDevice{cfg: cfg}
}

func (s *SocketDevice) Open() error {
	timeout := s.cfg.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}

	conn, err := net.DialTimeout("tcp", s.cfg.Address, timeout)
	if err != nil {
		return fmt.Errorf("device: failed to connect to %s: %w", s.cfg.Address, err)
	}

	if s.cfg.TLS != nil {
		tconn := tls.Client(conn, s.cfg.TLS)
		if err := tconn.Handshake(); err != nil {
			conn.Close()
			return fmt.Errorf("device: TLS handshake with %s failed: %w", s.cfg.Address, err)
		}
		conn = tconn
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	return nil
}

func (s *SocketDevice) Read(p []byte, timeout time.Duration) (int, error) {
	conn := s.current()
	if conn == nil {
		return 0, fmt.Errorf("device: socket not open")
	}

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, err
	}

	n, err := conn.Read(p)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return n, ErrTimeout
		}
		return n, err
	}
	return n, nil
}

func (s *SocketDevice) Write(p []byte) (int, error) {
	conn := s.current()
	if conn == nil {
		return 0, fmt.Errorf("device: socket not open")
	}
	return conn.Write(p)
}

func (s *SocketDevice) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (s *SocketDevice) String() string {
	if s.cfg.TLS != nil {
		return "ssl://" + s.cfg.Address
	}
	return "tcp://" + s.cfg.Address
}

func (s *SocketDevice) current() net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}
