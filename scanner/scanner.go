// Package scanner reads codes from a keyboard-wedge QR/barcode scanner.
package scanner

import (
	"context"
	"fmt"
	"strings"

	"github.com/kenshaw/evdev"
	"github.com/sirupsen/logrus"
)

// Config selects the scanner's input device. An empty device disables it.
type Config struct {
	Device string `yaml:"device"` // e.g. "/dev/input/by-id/usb-scanner-event-kbd"
}

// Scanner turns key events into codes, one per Enter.
type Scanner struct {
	device *evdev.Evdev
	log    logrus.FieldLogger
}

// New opens the scanner device. Returns nil if no device is configured.
func New(cfg Config, log logrus.FieldLogger) (*Scanner, error) {
	if cfg.Device == "" {
		return nil, nil
	}
	dev, err := evdev.OpenFile(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("open evdev %s: %w", cfg.Device, err)
	}

	log = log.WithField("component", "scanner")
	log.WithFields(logrus.Fields{
		"name":    dev.Name(),
		"vendor":  fmt.Sprintf("0x%04x", dev.ID().Vendor),
		"product": fmt.Sprintf("0x%04x", dev.ID().Product),
	}).Info("opened scanner")

	return &Scanner{device: dev, log: log}, nil
}

// Read blocks until a complete code has been typed or ctx is done.
func (s *Scanner) Read(ctx context.Context) (string, error) {
	ch := s.device.Poll(ctx)
	var dec decoder

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case event := <-ch:
			if event == nil {
				return "", fmt.Errorf("scanner device closed")
			}
			if _, ok := event.Type.(evdev.KeyType); !ok {
				continue
			}
			if code, done := dec.feed(evdev.KeyType(event.Code), event.Value); done {
				s.log.WithField("code", code).Debug("scanned")
				return code, nil
			}
		}
	}
}

func (s *Scanner) Close() error {
	if s.device == nil {
		return nil
	}
	return s.device.Close()
}

// decoder assembles typed characters into a code.
type decoder struct {
	shift bool
	buf   strings.Builder
}

// feed handles one key event (value 1 = press, 0 = release) and reports a
// finished code on Enter. Empty codes are ignored.
func (d *decoder) feed(key evdev.KeyType, value int32) (string, bool) {
	if key == evdev.KeyLeftShift || key == evdev.KeyRightShift {
		d.shift = value != 0
		return "", false
	}
	if value != 1 {
		return "", false
	}

	switch key {
	case evdev.KeyEnter:
		code := d.buf.String()
		d.buf.Reset()
		return code, code != ""
	case evdev.KeySemiColon:
		if d.shift {
			d.buf.WriteByte(':')
		} else {
			d.buf.WriteByte(';')
		}
		return "", false
	case evdev.KeyMinus:
		if d.shift {
			d.buf.WriteByte('_')
		} else {
			d.buf.WriteByte('-')
		}
		return "", false
	}

	name := key.String()
	if len(name) != 1 {
		return "", false
	}
	c := name[0]
	switch {
	case c >= 'A' && c <= 'Z' && !d.shift:
		c += 'a' - 'A'
	case c >= 'a' && c <= 'z' && d.shift:
		c -= 'a' - 'A'
	}
	d.buf.WriteByte(c)
	return "", false
}
