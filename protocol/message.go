// Package protocol parses the reader's newline-delimited wire protocol and
// encodes commands sent back to it.
//
// Inbound lines are either a JSON envelope carrying a "type" field or free
// text printed by the reader firmware. Every line maps to exactly one Message.
package protocol

// Kind identifies the concrete Message type.
type Kind string

const (
	KindRFIDTag       Kind = "rfid_tag"
	KindHeartbeat     Kind = "heartbeat"
	KindSystemMessage Kind = "system_message"
	KindSystemStatus  Kind = "system_status"
	KindTextStatus    Kind = "text_status"
	KindUnrecognized  Kind = "unrecognized"
)

// Message is one parsed inbound line.
type Message interface {
	Kind() Kind
}

// Source records which wire representation a tag came from.
type Source string

const (
	SourceArduinoJSON Source = "arduino_json"
	SourceArduinoText Source = "arduino_text"
)

// TextClass classifies a free-text status line.
type TextClass string

const (
	ClassRFID       TextClass = "rfid"
	ClassConnection TextClass = "connection"
	ClassError      TextClass = "error"
	ClassStatus     TextClass = "status"
)

// RFIDTag is a card scan. UID is never empty.
type RFIDTag struct {
	UID      string `json:"uid"`
	ReaderID string `json:"reader_id,omitempty"`
	Source   Source `json:"source"`
}

// Heartbeat is the reader's periodic liveness message.
type Heartbeat struct {
	Timestamp string `json:"timestamp,omitempty"`
	ReaderID  string `json:"reader_id,omitempty"`
	State     string `json:"state,omitempty"`
}

type SystemMessage struct {
	MessageType string `json:"message_type,omitempty"`
	Message     string `json:"message"`
}

// SystemStatus carries the reader's status payload verbatim, minus "type".
type SystemStatus struct {
	Payload map[string]interface{} `json:"payload"`
}

type TextStatus struct {
	Class TextClass `json:"kind"`
	Text  string    `json:"text"`
}

// Unrecognized is a line that could not be classified. Context holds a short
// window of the raw line for logging.
type Unrecognized struct {
	Raw     string `json:"raw"`
	Reason  string `json:"reason"`
	Context string `json:"context,omitempty"`
}

func (RFIDTag) Kind() Kind       { return KindRFIDTag }
func (Heartbeat) Kind() Kind     { return KindHeartbeat }
func (SystemMessage) Kind() Kind { return KindSystemMessage }
func (SystemStatus) Kind() Kind  { return KindSystemStatus }
func (TextStatus) Kind() Kind    { return KindTextStatus }
func (Unrecognized) Kind() Kind  { return KindUnrecognized }
