package bridge

import (
	"fmt"
	"time"
)

// State is the reader link's connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Error
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StatusSnapshot is a point-in-time copy of the connection state.
type StatusSnapshot struct {
	Connected         bool       `json:"connected"`
	State             State      `json:"state"`
	Port              string     `json:"port"`
	BaudRate          int        `json:"baud_rate"`
	LastPing          *time.Time `json:"last_ping"`
	CurrentPage       *string    `json:"current_page"`
	MockMode          bool       `json:"mock_mode"`
	ReconnectAttempts int        `json:"reconnect_attempts"`
	LastError         string     `json:"last_error,omitempty"`
}

// TestResult is the outcome of a STATUS round trip.
type TestResult struct {
	Success    bool                   `json:"success"`
	PingTime   int64                  `json:"ping_time"` // milliseconds
	ReaderInfo map[string]interface{} `json:"reader_info,omitempty"`
	Error      string                 `json:"error,omitempty"`
}
