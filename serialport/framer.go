package serialport

import "bytes"

// MaxLineLength caps the bytes buffered while waiting for a terminator.
// A line growing past it is discarded up to and including its newline.
const MaxLineLength = 64 * 1024

// LineFramer reassembles newline-terminated lines from arbitrarily split reads.
// A trailing carriage return is stripped. Lines are returned in arrival order.
type LineFramer struct {
	buf        []byte
	discarding bool
}

// Feed appends p to the pending buffer and returns every line it completes.
func (f *LineFramer) Feed(p []byte) []string {
	if f.discarding {
		idx := bytes.IndexByte(p, '\n')
		if idx < 0 {
			return nil
		}
		f.discarding = false
		p = p[idx+1:]
	}
	f.buf = append(f.buf, p...)

	var lines []string
	for {
		idx := bytes.IndexByte(f.buf, '\n')
		if idx < 0 {
			break
		}
		line := f.buf[:idx]
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}
		lines = append(lines, string(line))
		f.buf = f.buf[idx+1:]
	}

	if len(f.buf) > MaxLineLength {
		f.buf = nil
		f.discarding = true
	}
	return lines
}

// Pending returns the number of buffered bytes not yet terminated.
func (f *LineFramer) Pending() int {
	return len(f.buf)
}
