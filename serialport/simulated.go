package serialport

import (
	"bytes"
	"io"
	"sync"
)

// Simulated is an in-process serial device. It is only ever selected through
// the simulated driver, never as a fallback for a failed hardware open.
//
// Each Open creates a fresh pipe pair, so the device survives reconnects.
// Inject feeds a line to whichever port is currently open.
type Simulated struct {
	mu        sync.Mutex
	port      *simPort
	written   []string
	responder func(line string) []string
	openErr   error
	opens     int
}

// NewSimulated returns an idle simulated device.
func NewSimulated() *Simulated {
	return &Simulated{}
}

// Open implements Opener.
func (s *Simulated) Open(path string, baud int) (io.ReadWriteCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.opens++
	if s.openErr != nil {
		return nil, s.openErr
	}

	r, w := io.Pipe()
	p := &simPort{dev: s, r: r, w: w}
	s.port = p
	return p, nil
}

// Opens returns how many times Open was called.
func (s *Simulated) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

// SetOpenError makes subsequent opens fail with err. nil restores success.
func (s *Simulated) SetOpenError(err error) {
	s.mu.Lock()
	s.openErr = err
	s.mu.Unlock()
}

// SetResponder installs fn, called for every line written to the device.
// Lines it returns are injected back as replies.
func (s *Simulated) SetResponder(fn func(line string) []string) {
	s.mu.Lock()
	s.responder = fn
	s.mu.Unlock()
}

// Inject delivers raw bytes to the reader side of the open port.
// It blocks until the transport consumes them.
func (s *Simulated) Inject(line string) error {
	return s.InjectBytes([]byte(line + "\n"))
}

// InjectBytes delivers p unmodified, so a test can split a line across reads.
func (s *Simulated) InjectBytes(p []byte) error {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()

	if port == nil {
		return ErrNotOpen
	}
	if _, err := port.w.Write(p); err != nil {
		return ErrNotOpen
	}
	return nil
}

// Fail breaks the open port so the next read returns err.
func (s *Simulated) Fail(err error) {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()

	if port != nil {
		port.w.CloseWithError(err)
	}
}

// Written returns every line written to the device so far.
func (s *Simulated) Written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.written))
	copy(out, s.written)
	return out
}

func (s *Simulated) record(lines []string) {
	s.mu.Lock()
	s.written = append(s.written, lines...)
	fn := s.responder
	s.mu.Unlock()

	if fn == nil {
		return
	}
	for _, line := range lines {
		replies := fn(line)
		if len(replies) == 0 {
			continue
		}
		go func() {
			for _, r := range replies {
				if err := s.Inject(r); err != nil {
					return
				}
			}
		}()
	}
}

func (s *Simulated) detach(p *simPort) {
	s.mu.Lock()
	if s.port == p {
		s.port = nil
	}
	s.mu.Unlock()
}

type simPort struct {
	dev *Simulated
	r   *io.PipeReader
	w   *io.PipeWriter

	mu      sync.Mutex
	partial []byte
	closed  bool
}

func (p *simPort) Read(b []byte) (int, error) {
	return p.r.Read(b)
}

func (p *simPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	p.partial = append(p.partial, b...)
	var lines []string
	for {
		idx := bytes.IndexByte(p.partial, '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, string(p.partial[:idx]))
		p.partial = p.partial[idx+1:]
	}
	p.mu.Unlock()

	p.dev.record(lines)
	return len(b), nil
}

func (p *simPort) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.dev.detach(p)
	p.w.Close()
	return p.r.Close()
}
