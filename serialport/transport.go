package serialport

import (
	"fmt"
	"io"
	"sync"
	"time"

	"rollcall/monitor"
)

// EventKind identifies a transport event.
type EventKind int

const (
	EventOpened EventKind = iota
	EventLine
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventLine:
		return "line_received"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is emitted by a Transport to its single subscriber.
// Gen is the generation the transport was opened with, so a subscriber can
// ignore events from a transport it already replaced.
type Event struct {
	Gen  uint64
	Kind EventKind
	Line string
	Err  error
	At   time.Time
}

// Transport owns one open serial port and its reader goroutine.
type Transport struct {
	path   string
	baud   int
	gen    uint64
	port   io.ReadWriteCloser
	events chan<- Event

	mu     sync.Mutex
	closed bool

	releaseOnce sync.Once
	quitOnce    sync.Once
	quit        chan struct{}
	done        chan struct{}
}

// Open claims the device through open and starts reading. The first event
// delivered is EventOpened, followed by one EventLine per complete line.
// A read failure closes the port and delivers a single EventError.
func Open(open Opener, path string, baud int, gen uint64, events chan<- Event) (*Transport, error) {
	port, err := open(path, baud)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrPortUnavailable, path, err)
	}

	t := &Transport{
		path:   path,
		baud:   baud,
		gen:    gen,
		port:   port,
		events: events,
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

// Path returns the device path.
func (t *Transport) Path() string { return t.path }

// Baud returns the baud rate the port was opened with.
func (t *Transport) Baud() int { return t.baud }

// Done is closed once the reader goroutine has exited.
func (t *Transport) Done() <-chan struct{} { return t.done }

// WriteLine writes line followed by a newline terminator.
func (t *Transport) WriteLine(line string) error {
	if t == nil {
		return ErrNotOpen
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrNotOpen
	}
	if _, err := io.WriteString(t.port, line+"\n"); err != nil {
		return fmt.Errorf("write %s: %w", t.path, err)
	}
	return nil
}

// Close releases the port. Safe to call more than once; only the first call
// can return an error. No further events are delivered after Close.
func (t *Transport) Close() error {
	if t == nil {
		return nil
	}
	t.quitOnce.Do(func() { close(t.quit) })
	return t.release()
}

func (t *Transport) release() error {
	var err error
	t.releaseOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		err = t.port.Close()
	})
	return err
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) emit(ev Event) bool {
	ev.Gen = t.gen
	ev.At = time.Now()
	select {
	case <-t.quit:
		return false
	default:
	}
	select {
	case t.events <- ev:
		return true
	case <-t.quit:
		return false
	}
}

func (t *Transport) readLoop() {
	defer close(t.done)

	if !t.emit(Event{Kind: EventOpened}) {
		return
	}

	var framer LineFramer
	buf := make([]byte, 1024)

	for {
		n, err := t.port.Read(buf)
		if n > 0 {
			monitor.BytesReceived.Add(float64(n))
			for _, line := range framer.Feed(buf[:n]) {
				if !t.emit(Event{Kind: EventLine, Line: line}) {
					return
				}
			}
		}

		if err != nil {
			if t.isClosed() {
				return
			}
			_ = t.release()
			t.emit(Event{Kind: EventError, Err: fmt.Errorf("read %s: %w", t.path, err)})
			return
		}

		if t.isClosed() {
			return
		}
	}
}
