// Package device provides the physical transports an AD2 interface is
// reachable over: a TCP/TLS socket (ser2sock), a native serial port, and the
// AD2USB bridge.
package device

import (
	"errors"
	"time"
)

// ErrTimeout is returned by Transport.Read when no bytes arrived within the
// timeout. It is an expected, recoverable condition: the session's read loop
// uses it to run periodic housekeeping while the line is idle.
var ErrTimeout = errors.New("device: read timed out")

// Transport is the byte-oriented duplex stream between an alarm session and
// the AD2 hardware. A Transport is exclusively owned by the session that
// opened it. Read is called only from the session's read loop; Write may be
// called from any goroutine and implementations must serialize writes
// independently of reads.
type Transport interface {
	// Open acquires the underlying stream. Open may be called again after
	// Close to establish a fresh connection.
	Open() error

	// Read fills p with whatever bytes are available, waiting at most
	// timeout for the first byte. It returns ErrTimeout when nothing
	// arrived; any other error is terminal for the connection.
	Read(p []byte, timeout time.Duration) (int, error)

	// Write sends p to the device.
	Write(p []byte) (int, error)

	// Close releases the stream. Closing an unopened or already-closed
	// transport is a no-op.
	Close() error

	// String identifies the endpoint for logging.
	String() string
}
