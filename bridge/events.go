package bridge

import (
	"sort"
	"sync"
	"time"

	"rollcall/protocol"
)

// EventType names a bridge event.
type EventType string

const (
	EventConnected       EventType = "connected"
	EventConnectionError EventType = "connection_error"
	EventDisconnected    EventType = "disconnected"
	EventOwnerChanged    EventType = "owner_changed"
	EventRFIDTag         EventType = "rfid_tag"
	EventHeartbeat       EventType = "heartbeat"
	EventSystemMessage   EventType = "system_message"
	EventSystemStatus    EventType = "system_status"
	EventMessage         EventType = "message"
)

// Disconnect reasons.
const (
	ReasonRequested = "requested"
	ReasonEvicted   = "evicted"
	ReasonReset     = "reset"
	ReasonExhausted = "reconnect attempts exhausted"
	ReasonShutdown  = "shutdown"
)

// Event is delivered to subscribers. Only the fields relevant to Type are set.
type Event struct {
	Type          EventType               `json:"type"`
	At            time.Time               `json:"at"`
	Port          string                  `json:"port,omitempty"`
	Owner         string                  `json:"owner,omitempty"`
	PreviousOwner string                  `json:"previous_owner,omitempty"`
	Reason        string                  `json:"reason,omitempty"`
	Error         string                  `json:"error,omitempty"`
	Tag           *TagEvent               `json:"tag,omitempty"`
	Heartbeat     *protocol.Heartbeat     `json:"heartbeat,omitempty"`
	SystemMessage *protocol.SystemMessage `json:"system_message,omitempty"`
	Status        map[string]interface{}  `json:"status,omitempty"`
	Message       protocol.Message        `json:"message,omitempty"`
}

// Handler receives events on the manager's goroutine. It must not block and
// must not call back into the Manager.
type Handler func(Event)

type subscribers struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]Handler
}

func (s *subscribers) add(h Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subs == nil {
		s.subs = make(map[int]Handler)
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = h

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *subscribers) publish(ev Event) {
	s.mu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	handlers := make([]Handler, 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		handlers = append(handlers, s.subs[id])
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}
