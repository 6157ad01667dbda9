package alarmdecoder

import (
	"errors"
	"fmt"
)

// ErrNotOpen is returned when a command is issued against a session that is
// not running. Misuse fails immediately; nothing is queued.
var ErrNotOpen = errors.New("alarmdecoder: session is not open")

// ConnectionError reports that the transport could not be acquired.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("alarmdecoder: failed to connect: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// WriteError reports that a command could not be transmitted.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("alarmdecoder: failed to write command: %v", e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// DecodeError describes a line that could not be framed or classified. It is
// non-fatal and delivered on the decode-error topic; the read loop keeps
// running.
type DecodeError struct {
	Line   string
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Line == "" {
		return fmt.Sprintf("alarmdecoder: decode error: %s", e.Reason)
	}
	return fmt.Sprintf("alarmdecoder: decode error: %s: %q", e.Reason, e.Line)
}
