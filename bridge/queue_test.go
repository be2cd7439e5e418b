package bridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/protocol"
)

func TestQueueFIFO(t *testing.T) {
	q := NewTagQueue()
	at := time.Unix(0, 0)
	for i := int64(1); i <= 3; i++ {
		q.Enqueue(TagEvent{ID: i, CardID: "C", ObservedAt: at, Source: protocol.SourceArduinoJSON})
	}

	for want := int64(1); want <= 3; want++ {
		ev, ok := q.Latest()
		require.True(t, ok)
		assert.Equal(t, want, ev.ID)
		assert.True(t, q.MarkProcessed(ev.ID))
	}
	_, ok := q.Latest()
	assert.False(t, ok)
	assert.Equal(t, 3, q.Len())
}

func TestQueueMarkOutOfOrder(t *testing.T) {
	q := NewTagQueue()
	for i := int64(1); i <= 3; i++ {
		q.Enqueue(TagEvent{ID: i, CardID: "C"})
	}

	require.True(t, q.MarkProcessed(2))
	ev, ok := q.Latest()
	require.True(t, ok)
	assert.Equal(t, int64(1), ev.ID)

	require.True(t, q.MarkProcessed(1))
	ev, ok = q.Latest()
	require.True(t, ok)
	assert.Equal(t, int64(3), ev.ID)
}

func TestQueueUnknownID(t *testing.T) {
	q := NewTagQueue()
	q.Enqueue(TagEvent{ID: 5, CardID: "C"})

	assert.False(t, q.MarkProcessed(4))
	assert.False(t, q.MarkProcessed(6))

	ev, ok := q.Latest()
	require.True(t, ok)
	assert.False(t, ev.Processed)
}

func TestQueueIDsStrictlyIncrease(t *testing.T) {
	q := NewTagQueue()
	at := time.UnixMilli(1_700_000_000_000)

	a := q.Enqueue(TagEvent{CardID: "A", ObservedAt: at})
	b := q.Enqueue(TagEvent{CardID: "B", ObservedAt: at})
	c := q.Enqueue(TagEvent{CardID: "C", ObservedAt: at.Add(-time.Second)})

	assert.Equal(t, at.UnixMilli(), a.ID)
	assert.Equal(t, a.ID+1, b.ID)
	assert.Equal(t, b.ID+1, c.ID)

	got, ok := q.Get(b.ID)
	require.True(t, ok)
	assert.Equal(t, "B", got.CardID)
}

func TestQueueAllIsACopy(t *testing.T) {
	q := NewTagQueue()
	q.Enqueue(TagEvent{ID: 1, CardID: "A"})

	all := q.All()
	all[0].Processed = true

	ev, ok := q.Latest()
	require.True(t, ok)
	assert.False(t, ev.Processed)
}
