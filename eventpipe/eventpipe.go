// Package eventpipe lets a developer drive the simulated reader from a shell:
// commands written to a named pipe become wire lines injected into the
// simulated serial port.
package eventpipe

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds configuration for the event pipe.
type Config struct {
	Path string `yaml:"path"` // Path to named pipe (e.g., "/tmp/rollcall-events")
}

// LineHandler receives each wire line produced by a command.
type LineHandler func(line string) error

// EventPipe listens for commands on a named pipe.
type EventPipe struct {
	path    string
	handler LineHandler
	log     logrus.FieldLogger
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates the named pipe. Returns nil if path is empty.
func New(cfg Config, handler LineHandler, log logrus.FieldLogger) (*EventPipe, error) {
	if cfg.Path == "" {
		return nil, nil
	}

	os.Remove(cfg.Path)
	if err := syscall.Mkfifo(cfg.Path, 0666); err != nil {
		return nil, fmt.Errorf("create named pipe %s: %w", cfg.Path, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &EventPipe{
		path:    cfg.Path,
		handler: handler,
		log:     log.WithField("component", "eventpipe"),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start reads commands until Close. Call it in its own goroutine.
func (ep *EventPipe) Start() {
	ep.log.WithField("path", ep.path).Info("event pipe listening")

	for {
		if ep.ctx.Err() != nil {
			return
		}

		// blocks until a writer opens the pipe
		file, err := os.OpenFile(ep.path, os.O_RDONLY, 0)
		if err != nil {
			if ep.ctx.Err() != nil {
				return
			}
			ep.log.WithError(err).Warn("event pipe open")
			time.Sleep(time.Second)
			continue
		}

		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			if ep.ctx.Err() != nil {
				file.Close()
				return
			}

			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}

			wire, err := parseLine(line, time.Now())
			if err != nil {
				ep.log.WithError(err).Warn("event pipe parse")
				continue
			}
			if ep.handler != nil {
				if err := ep.handler(wire); err != nil {
					ep.log.WithError(err).Warn("event pipe inject")
				}
			}
		}

		// writer closed the pipe; wait for the next one
		file.Close()
	}
}

// Close stops the listener and removes the pipe.
func (ep *EventPipe) Close() error {
	ep.cancel()
	// wake a reader blocked in open
	if f, err := os.OpenFile(ep.path, os.O_WRONLY|syscall.O_NONBLOCK, 0); err == nil {
		f.Close()
	}
	return os.Remove(ep.path)
}

// parseLine turns a command into one reader wire line.
// Command format:
//
//	tag <hex> [reader]     - JSON RFID_TAG message
//	rfid <hex> [reader]    - Alias for tag
//	text <hex>             - Korean free-text tag line
//	heartbeat [reader]     - JSON HEARTBEAT message
//	status                 - JSON SYSTEM_STATUS message
//	line <raw...>          - Raw line, sent as is
func parseLine(line string, now time.Time) (string, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return "", fmt.Errorf("empty command")
	}

	cmd := strings.ToLower(parts[0])
	switch cmd {
	case "tag", "rfid":
		if len(parts) < 2 {
			return "", fmt.Errorf("%s requires card id", cmd)
		}
		if _, err := strconv.ParseUint(parts[1], 16, 64); err != nil {
			return "", fmt.Errorf("invalid card id: %s", parts[1])
		}
		msg := map[string]string{"type": "RFID_TAG", "card_id": strings.ToUpper(parts[1])}
		if len(parts) > 2 {
			msg["reader_id"] = parts[2]
		}
		return encode(msg)

	case "text":
		if len(parts) < 2 {
			return "", fmt.Errorf("text requires card id")
		}
		return "태그 번호: " + parts[1], nil

	case "heartbeat":
		msg := map[string]string{
			"type":      "HEARTBEAT",
			"timestamp": strconv.FormatInt(now.UnixMilli(), 10),
			"state":     "idle",
		}
		if len(parts) > 1 {
			msg["reader_id"] = parts[1]
		}
		return encode(msg)

	case "status":
		return encode(map[string]string{"type": "SYSTEM_STATUS", "source": "eventpipe", "rfid": "simulated"})

	case "line":
		raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), parts[0]))
		if raw == "" {
			return "", fmt.Errorf("line requires text")
		}
		return raw, nil

	default:
		return "", fmt.Errorf("unknown command: %s", cmd)
	}
}

func encode(msg map[string]string) (string, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
