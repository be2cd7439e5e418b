package bridge

import (
	"sort"
	"sync"
	"time"

	"rollcall/protocol"
)

// TagEvent is one normalized card scan. Only Processed ever changes.
type TagEvent struct {
	ID         int64           `json:"id"`
	CardID     string          `json:"rfid_card_id"`
	ObservedAt time.Time       `json:"observed_at"`
	ReaderID   string          `json:"reader_id,omitempty"`
	Source     protocol.Source `json:"source"`
	Processed  bool            `json:"processed"`
}

// TagQueue is an append-only FIFO of tag events. Entries are never removed,
// so it grows for as long as the process runs.
//
// Ids are strictly increasing in insertion order. They default to the
// observation time in milliseconds, bumped past the previous id on collision.
type TagQueue struct {
	mu     sync.RWMutex
	events []TagEvent
	head   int // index of the first possibly-unprocessed entry
	lastID int64
}

func NewTagQueue() *TagQueue {
	return &TagQueue{}
}

// Enqueue appends ev and returns it with its final id. An id that is zero or
// not greater than the previous one is replaced.
func (q *TagQueue) Enqueue(ev TagEvent) TagEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	if ev.ID <= q.lastID {
		ev.ID = max(ev.ObservedAt.UnixMilli(), q.lastID+1)
	}
	ev.Processed = false
	q.lastID = ev.ID
	q.events = append(q.events, ev)
	return ev
}

// Latest returns the oldest unprocessed event by insertion order.
func (q *TagQueue) Latest() (TagEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.head < len(q.events) && q.events[q.head].Processed {
		q.head++
	}
	if q.head == len(q.events) {
		return TagEvent{}, false
	}
	return q.events[q.head], true
}

// MarkProcessed flags the event with the given id. It reports whether the id
// was found; an unknown id is a no-op.
func (q *TagQueue) MarkProcessed(id int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	i, ok := q.index(id)
	if !ok {
		return false
	}
	q.events[i].Processed = true
	return true
}

// Get returns the event with the given id.
func (q *TagQueue) Get(id int64) (TagEvent, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	i, ok := q.index(id)
	if !ok {
		return TagEvent{}, false
	}
	return q.events[i], true
}

// All returns a copy of every event in insertion order.
func (q *TagQueue) All() []TagEvent {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]TagEvent, len(q.events))
	copy(out, q.events)
	return out
}

func (q *TagQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.events)
}

// index relies on ids increasing with insertion order. Caller holds q.mu.
func (q *TagQueue) index(id int64) (int, bool) {
	i := sort.Search(len(q.events), func(i int) bool { return q.events[i].ID >= id })
	if i < len(q.events) && q.events[i].ID == id {
		return i, true
	}
	return 0, false
}
