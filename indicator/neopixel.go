package indicator

import (
	"fmt"
	"os"
	"sync"
)

// Neopixel command strings for the external neopixel tool.
const (
	neoConnectionLost = "@2 !150000 001010"
	neoReady          = "@3 !150000 400000"
	neoCheckedIn      = "@1 !50000 8000"
	neoRejected       = "@2 !10000 ff"
	neoTerminated     = "@0 010101"
)

// Neopixel implements Indicator by writing commands for an external neopixel
// tool to a named pipe.
type Neopixel struct {
	mu   sync.Mutex
	pipe *os.File
}

// NewNeopixel opens the pipe and shows the connection-lost pattern until the
// reader is ready.
func NewNeopixel(pipePath string) (*Neopixel, error) {
	f, err := os.OpenFile(pipePath, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open neopixel pipe %s: %w", pipePath, err)
	}

	n := &Neopixel{pipe: f}
	n.write(neoConnectionLost)
	return n, nil
}

// Ready implements Indicator.Ready.
func (n *Neopixel) Ready() {
	n.write(neoReady)
}

// CheckedIn implements Indicator.CheckedIn.
func (n *Neopixel) CheckedIn(info *ScanInfo) {
	n.write(neoCheckedIn)
}

// Rejected implements Indicator.Rejected.
func (n *Neopixel) Rejected(info *ScanInfo) {
	n.write(neoRejected)
}

// ConnectionLost implements Indicator.ConnectionLost.
func (n *Neopixel) ConnectionLost() {
	n.write(neoConnectionLost)
}

// Shutdown implements Indicator.Shutdown.
func (n *Neopixel) Shutdown() {
	n.write(neoTerminated)
}

// Release implements Indicator.Release.
func (n *Neopixel) Release() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.pipe == nil {
		return nil
	}
	err := n.pipe.Close()
	n.pipe = nil
	return err
}

// write sends one command line to the tool.
func (n *Neopixel) write(s string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.pipe != nil {
		n.pipe.Write([]byte(s + "\n"))
	}
}
