package serialport

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transport event")
		return Event{}
	}
}

func TestTransportLifecycle(t *testing.T) {
	sim := NewSimulated()
	events := make(chan Event, 16)

	tr, err := Open(sim.Open, "SIM0", 9600, 7, events)
	require.NoError(t, err)

	ev := nextEvent(t, events)
	assert.Equal(t, EventOpened, ev.Kind)
	assert.Equal(t, uint64(7), ev.Gen)

	require.NoError(t, sim.InjectBytes([]byte(`{"type":"HEART`)))
	require.NoError(t, sim.InjectBytes([]byte("BEAT\"}\r\nsecond\n")))

	ev = nextEvent(t, events)
	assert.Equal(t, EventLine, ev.Kind)
	assert.Equal(t, `{"type":"HEARTBEAT"}`, ev.Line)
	ev = nextEvent(t, events)
	assert.Equal(t, "second", ev.Line)

	require.NoError(t, tr.WriteLine(`{"command":"STATUS"}`))
	assert.Equal(t, []string{`{"command":"STATUS"}`}, sim.Written())

	require.NoError(t, tr.Close())
	assert.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.WriteLine("x"), ErrNotOpen)

	select {
	case <-tr.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("reader goroutine did not exit")
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected event after close: %v", ev.Kind)
	default:
	}
}

func TestTransportReadErrorClosesPort(t *testing.T) {
	sim := NewSimulated()
	events := make(chan Event, 16)

	tr, err := Open(sim.Open, "SIM0", 9600, 1, events)
	require.NoError(t, err)
	assert.Equal(t, EventOpened, nextEvent(t, events).Kind)

	unplugged := errors.New("device unplugged")
	sim.Fail(unplugged)

	ev := nextEvent(t, events)
	assert.Equal(t, EventError, ev.Kind)
	assert.ErrorIs(t, ev.Err, unplugged)
	assert.ErrorIs(t, tr.WriteLine("x"), ErrNotOpen)
	assert.NoError(t, tr.Close())
}

func TestOpenUnavailable(t *testing.T) {
	busy := errors.New("port busy")
	open := func(string, int) (io.ReadWriteCloser, error) { return nil, busy }

	tr, err := Open(open, "/dev/ttyACM0", 9600, 1, make(chan Event, 1))
	assert.Nil(t, tr)
	assert.ErrorIs(t, err, ErrPortUnavailable)
	assert.ErrorIs(t, err, busy)
}

func TestNilTransport(t *testing.T) {
	var tr *Transport
	assert.ErrorIs(t, tr.WriteLine("x"), ErrNotOpen)
	assert.NoError(t, tr.Close())
}

func TestNewOpener(t *testing.T) {
	for _, driver := range []string{"", DriverSerial, DriverTarm, DriverJacobsa} {
		open, err := NewOpener(driver, nil)
		assert.NoError(t, err, driver)
		assert.NotNil(t, open, driver)
	}

	_, err := NewOpener(DriverSimulated, nil)
	assert.Error(t, err)

	open, err := NewOpener(DriverSimulated, NewSimulated())
	require.NoError(t, err)
	port, err := open("SIM", 9600)
	require.NoError(t, err)
	assert.NoError(t, port.Close())

	_, err = NewOpener("usb-magic", nil)
	assert.Error(t, err)
}

func TestSimulatedResponder(t *testing.T) {
	sim := NewSimulated()
	sim.SetResponder(func(line string) []string {
		if line == "PING" {
			return []string{"PONG"}
		}
		return nil
	})
	events := make(chan Event, 16)

	tr, err := Open(sim.Open, "SIM0", 9600, 1, events)
	require.NoError(t, err)
	defer tr.Close()
	assert.Equal(t, EventOpened, nextEvent(t, events).Kind)

	require.NoError(t, tr.WriteLine("PING"))
	ev := nextEvent(t, events)
	assert.Equal(t, EventLine, ev.Kind)
	assert.Equal(t, "PONG", ev.Line)
}
