package indicator

import (
	"fmt"
	"sync"

	"github.com/hjkoskel/govattu"
)

// GPIO implements Indicator using discrete green, yellow and red LEDs on the
// Raspberry Pi header.
type GPIO struct {
	mu        sync.Mutex
	hw        govattu.Vattu
	greenPin  *uint8
	yellowPin *uint8
	redPin    *uint8
}

// NewGPIO creates a new GPIO-based indicator.
func NewGPIO(greenPin, yellowPin, redPin *uint8) (*GPIO, error) {
	hw, err := govattu.Open()
	if err != nil {
		return nil, fmt.Errorf("open gpio: %w", err)
	}

	g := &GPIO{
		hw:        hw,
		greenPin:  greenPin,
		yellowPin: yellowPin,
		redPin:    redPin,
	}

	// Initialize all pins as outputs, start off
	if greenPin != nil {
		hw.PinMode(*greenPin, govattu.ALToutput)
		hw.PinClear(*greenPin)
	}
	if yellowPin != nil {
		hw.PinMode(*yellowPin, govattu.ALToutput)
		hw.PinClear(*yellowPin)
	}
	if redPin != nil {
		hw.PinMode(*redPin, govattu.ALToutput)
		hw.PinClear(*redPin)
	}

	return g, nil
}

// Ready lights yellow alone: the reader is up and waiting.
func (g *GPIO) Ready() {
	g.only(g.yellowPin)
}

// CheckedIn implements Indicator.CheckedIn.
func (g *GPIO) CheckedIn(info *ScanInfo) {
	g.only(g.greenPin)
}

// Rejected implements Indicator.Rejected.
func (g *GPIO) Rejected(info *ScanInfo) {
	g.only(g.redPin)
}

// ConnectionLost lights yellow and red together.
func (g *GPIO) ConnectionLost() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.allOff()
	g.set(g.yellowPin)
	g.set(g.redPin)
}

// Shutdown implements Indicator.Shutdown.
func (g *GPIO) Shutdown() {
	g.only(nil)
}

// Release implements Indicator.Release.
func (g *GPIO) Release() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.allOff()
	return g.hw.Close()
}

func (g *GPIO) only(pin *uint8) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.allOff()
	g.set(pin)
}

func (g *GPIO) set(pin *uint8) {
	if pin != nil {
		g.hw.PinSet(*pin)
	}
}

// allOff clears every configured pin. Caller holds g.mu.
func (g *GPIO) allOff() {
	if g.greenPin != nil {
		g.hw.PinClear(*g.greenPin)
	}
	if g.yellowPin != nil {
		g.hw.PinClear(*g.yellowPin)
	}
	if g.redPin != nil {
		g.hw.PinClear(*g.redPin)
	}
}
