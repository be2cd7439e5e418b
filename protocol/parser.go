package protocol

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Wire envelope types.
const (
	TypeRFIDTag       = "RFID_TAG"
	TypeHeartbeat     = "HEARTBEAT"
	TypeSystemMessage = "SYSTEM_MESSAGE"
	TypeSystemStatus  = "SYSTEM_STATUS"
)

// contextWindow is the number of characters kept around the midpoint of a
// malformed line.
const contextWindow = 20

// tagNumberRe matches the firmware's text tag line, e.g. "태그 번호: 1f3ce217".
var tagNumberRe = regexp.MustCompile(`(?i)태그\s*번호\s*:\s*([0-9a-f]+)`)

// Free-text keywords, checked in this order after the tag pattern.
var (
	rfidKeywords       = []string{"rfid", "카드", "태그", "card", "tag"}
	connectionKeywords = []string{"연결", "준비", "ready", "connect"}
	errorKeywords      = []string{"오류", "에러", "실패", "error", "fail"}
)

// Parse classifies one line. The trailing newline must already be removed.
// ok is false for blank lines, which produce no message. Parse never fails:
// anything it cannot classify becomes Unrecognized.
func Parse(line string) (msg Message, ok bool) {
	text := strings.TrimSpace(line)
	if text == "" {
		return nil, false
	}

	if strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}") {
		return parseEnvelope(text), true
	}
	return parseText(text), true
}

func parseEnvelope(text string) Message {
	var env map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return Unrecognized{Raw: text, Reason: "malformed json: " + err.Error(), Context: Context(text)}
	}

	typ := field(env, "type")
	switch typ {
	case TypeRFIDTag:
		uid := field(env, "card_id")
		if uid == "" {
			return Unrecognized{Raw: text, Reason: "RFID_TAG without card_id"}
		}
		return RFIDTag{
			UID:      uid,
			ReaderID: field(env, "reader_id"),
			Source:   SourceArduinoJSON,
		}

	case TypeHeartbeat:
		return Heartbeat{
			Timestamp: field(env, "timestamp"),
			ReaderID:  field(env, "reader_id"),
			State:     field(env, "state"),
		}

	case TypeSystemMessage:
		return SystemMessage{
			MessageType: field(env, "message_type"),
			Message:     field(env, "message"),
		}

	case TypeSystemStatus:
		payload := make(map[string]interface{}, len(env))
		for k, raw := range env {
			if k == "type" {
				continue
			}
			var v interface{}
			if err := json.Unmarshal(raw, &v); err == nil {
				payload[k] = v
			}
		}
		return SystemStatus{Payload: payload}

	case "":
		return Unrecognized{Raw: text, Reason: "missing type"}

	default:
		return Unrecognized{Raw: text, Reason: "unknown type " + strconv.Quote(typ)}
	}
}

func parseText(text string) Message {
	if m := tagNumberRe.FindStringSubmatch(text); m != nil {
		return RFIDTag{UID: strings.ToUpper(m[1]), Source: SourceArduinoText}
	}

	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, rfidKeywords):
		return TextStatus{Class: ClassRFID, Text: text}
	case containsAny(lower, connectionKeywords):
		return TextStatus{Class: ClassConnection, Text: text}
	case containsAny(lower, errorKeywords):
		return TextStatus{Class: ClassError, Text: text}
	default:
		return TextStatus{Class: ClassStatus, Text: text}
	}
}

// field returns a string or number field as a string, "" when absent or of
// another JSON type.
func field(env map[string]json.RawMessage, key string) string {
	raw, ok := env[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// Context returns up to 20 characters of s centred on its midpoint.
func Context(s string) string {
	r := []rune(s)
	mid := len(r) / 2
	start := max(0, mid-contextWindow/2)
	end := min(len(r), mid+contextWindow/2)
	return string(r[start:end])
}
