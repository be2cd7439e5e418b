package serialport

import (
	"errors"
	"fmt"
	"io"
	"time"

	jacobsa "github.com/jacobsa/go-serial/serial"
	tarm "github.com/tarm/serial"
	"go.bug.st/serial"
)

// Supported drivers.
const (
	DriverSerial    = "serial"  // go.bug.st/serial
	DriverTarm      = "tarm"    // github.com/tarm/serial
	DriverJacobsa   = "jacobsa" // github.com/jacobsa/go-serial
	DriverSimulated = "simulated"
)

// readTimeout bounds every blocking Read so the reader goroutine can notice Close.
const readTimeout = 100 * time.Millisecond

var (
	// ErrPortUnavailable is returned when a device cannot be claimed:
	// already open elsewhere, permission denied or not found.
	ErrPortUnavailable = errors.New("serial port unavailable")

	// ErrNotOpen is returned when writing to a closed transport.
	ErrNotOpen = errors.New("serial port not open")
)

// Opener opens a serial device at the given baud rate.
// Implementations must return a port whose Read returns (0, nil) on timeout.
type Opener func(path string, baud int) (io.ReadWriteCloser, error)

// NewOpener returns the Opener for the named driver. An empty driver selects
// DriverSerial. The simulated driver requires sim.
func NewOpener(driver string, sim *Simulated) (Opener, error) {
	switch driver {
	case "", DriverSerial:
		return openSerial, nil
	case DriverTarm:
		return openTarm, nil
	case DriverJacobsa:
		return openJacobsa, nil
	case DriverSimulated:
		if sim == nil {
			return nil, errors.New("simulated driver requires a simulated device")
		}
		return sim.Open, nil
	default:
		return nil, fmt.Errorf("unknown serial driver %q", driver)
	}
}

func openSerial(path string, baud int) (io.ReadWriteCloser, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}

	p, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	if err := p.SetReadTimeout(readTimeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	return p, nil
}

func openTarm(path string, baud int) (io.ReadWriteCloser, error) {
	c := &tarm.Config{
		Name:        path,
		Baud:        baud,
		ReadTimeout: readTimeout,
	}
	p, err := tarm.OpenPort(c)
	if err != nil {
		return nil, err
	}
	return eofTimeout{p}, nil
}

func openJacobsa(path string, baud int) (io.ReadWriteCloser, error) {
	opts := jacobsa.OpenOptions{
		PortName:              path,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       0,
		InterCharacterTimeout: uint(readTimeout / time.Millisecond),
	}
	p, err := jacobsa.Open(opts)
	if err != nil {
		return nil, err
	}
	return eofTimeout{p}, nil
}

// eofTimeout adapts termios-timeout drivers, where an expired read surfaces
// as (0, io.EOF), to the (0, nil) convention.
type eofTimeout struct {
	io.ReadWriteCloser
}

func (p eofTimeout) Read(b []byte) (int, error) {
	n, err := p.ReadWriteCloser.Read(b)
	if n == 0 && err == io.EOF {
		return 0, nil
	}
	return n, err
}
