package main

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/bridge"
	"rollcall/indicator"
	"rollcall/mqtt"
	"rollcall/serialport"
)

type fakeIndicator struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeIndicator) record(s string) {
	f.mu.Lock()
	f.calls = append(f.calls, s)
	f.mu.Unlock()
}

func (f *fakeIndicator) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return ""
	}
	return f.calls[len(f.calls)-1]
}

func (f *fakeIndicator) Ready()                             { f.record("ready") }
func (f *fakeIndicator) CheckedIn(info *indicator.ScanInfo) { f.record("checked_in:" + info.StudentID) }
func (f *fakeIndicator) Rejected(info *indicator.ScanInfo)  { f.record("rejected:" + info.Reason) }
func (f *fakeIndicator) ConnectionLost()                    { f.record("connection_lost") }
func (f *fakeIndicator) Shutdown()                          { f.record("shutdown") }
func (f *fakeIndicator) Release() error                     { return nil }

func newTestApp(t *testing.T) (*App, *fakeIndicator) {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := DefaultConfig()
	cfg.Bridge.Driver = serialport.DriverSimulated
	cfg.Bridge.AutoCheckIn = true
	cfg.Database.Roster = writeFile(t, "roster.tsv", "# card\tid\tname\nDEADBEEF\tS1\t김민수\n")

	ctx, cancel := context.WithCancel(context.Background())
	ind := &fakeIndicator{}
	app := &App{
		cfg:       &cfg,
		log:       log,
		indicator: ind,
		events:    make(chan bridge.Event, 256),
		ctx:       ctx,
		cancel:    cancel,
	}
	require.NoError(t, app.setupAttendance())
	require.NoError(t, app.setupBridge())

	var err error
	app.mqtt, err = mqtt.New(mqtt.Config{}, mqtt.Handlers{}, log)
	require.NoError(t, err)

	go app.bridge.Run(ctx)
	go app.forwardEvents()
	t.Cleanup(func() {
		cancel()
		<-app.bridge.Done()
	})
	return app, ind
}

func connectSimulated(t *testing.T, app *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, app.bridge.Connect(ctx, "/dev/ttySIM0", 9600, "station"))
}

func TestAutoCheckInKnownCard(t *testing.T) {
	app, ind := newTestApp(t)
	connectSimulated(t, app)

	require.Eventually(t, func() bool { return ind.last() == "ready" }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, app.sim.Inject(`{"type":"RFID_TAG","card_id":"deadbeef"}`))

	require.Eventually(t, func() bool { return ind.last() == "checked_in:S1" }, 2*time.Second, 5*time.Millisecond)

	_, pending := app.bridge.LatestTag()
	assert.False(t, pending, "checked-in tag is marked processed")

	records, err := app.attendance.ListCheckIns(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "S1", records[0].StudentID)
	assert.Equal(t, "DEADBEEF", records[0].CardID)

	// a second scan the same day is acknowledged and consumed
	require.NoError(t, app.sim.Inject("태그 번호: deadbeef"))
	require.Eventually(t, func() bool {
		tags := app.bridge.Tags()
		return len(tags) == 2 && tags[1].Processed
	}, 2*time.Second, 5*time.Millisecond)

	records, err = app.attendance.ListCheckIns(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestAutoCheckInUnknownCardStaysQueued(t *testing.T) {
	app, ind := newTestApp(t)
	connectSimulated(t, app)

	require.NoError(t, app.sim.Inject(`{"type":"RFID_TAG","card_id":"0BADCAFE"}`))

	require.Eventually(t, func() bool { return ind.last() == "rejected:unknown" }, 2*time.Second, 5*time.Millisecond)

	tag, pending := app.bridge.LatestTag()
	require.True(t, pending)
	assert.Equal(t, "0BADCAFE", tag.CardID)
}

func TestConnectionLossDrivesIndicator(t *testing.T) {
	app, ind := newTestApp(t)
	connectSimulated(t, app)
	require.Eventually(t, func() bool { return ind.last() == "ready" }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, app.bridge.Disconnect(context.Background()))
	require.Eventually(t, func() bool { return ind.last() == "connection_lost" }, 2*time.Second, 5*time.Millisecond)
}
