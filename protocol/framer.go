package protocol

// DefaultMaxLineLength bounds the framer's partial-line buffer. Real AD2
// lines top out in the low hundreds of bytes; anything longer means the
// stream has lost its terminator.
const DefaultMaxLineLength = 1024

// Framer accumulates raw transport bytes into complete protocol lines. It is
// a pure buffering transform: Feed never blocks, retains any trailing
// partial line between calls, and tolerates the terminator being split
// across reads. Lines are terminated by LF; a preceding CR and any NUL
// padding bytes are stripped.
type Framer struct {
	max        int
	buf        []byte
	discarding bool
}

// NewFramer returns a framer with the given maximum buffered-line length.
// Zero or negative means DefaultMaxLineLength.
func NewFramer(max int) *Framer {
	if max <= 0 {
		max = DefaultMaxLineLength
	}
	return &Framer{max: max}
}

// Feed consumes a chunk of bytes and returns the complete lines it finished,
// in order, plus the number of over-length lines that were discarded. Blank
// lines are dropped. The split of input across Feed calls does not affect
// which lines come out.
func (f *Framer) Feed(p []byte) (lines []string, dropped int) {
	for _, b := range p {
		if b == '\n' {
			if f.discarding {
				f.discarding = false
				continue
			}
			line := trimLine(f.buf)
			f.buf = f.buf[:0]
			if len(line) > 0 {
				lines = append(lines, string(line))
			}
			continue
		}

		if f.discarding {
			continue
		}

		f.buf = append(f.buf, b)
		if len(f.buf) > f.max {
			// Runaway line with no terminator. Drop it and skip the rest
			// until the next terminator.
			f.buf = f.buf[:0]
			f.discarding = true
			dropped++
		}
	}

	return lines, dropped
}

// Pending returns the number of buffered bytes awaiting a terminator.
func (f *Framer) Pending() int {
	return len(f.buf)
}

// Reset drops any buffered partial line.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
	f.discarding = false
}

func trimLine(b []byte) []byte {
	for len(b) > 0 && b[len(b)-1] == '\r' {
		b = b[:len(b)-1]
	}
	for len(b) > 0 && b[0] == 0 {
		b = b[1:]
	}
	return b
}
