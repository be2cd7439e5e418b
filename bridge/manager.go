// Package bridge owns the single reader link: connection state, ownership by
// a client page, automatic reconnection and the tag queue fed by the reader.
//
// All state changes happen on the goroutine running Manager.Run. Public
// methods hand work to that goroutine and wait for it, so they are safe to
// call from anywhere once Run has started.
package bridge

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"rollcall/monitor"
	"rollcall/protocol"
	"rollcall/serialport"
)

var (
	ErrNoPortAvailable = errors.New("no reader port available")
	ErrNotConnected    = errors.New("reader not connected")
	ErrDisconnected    = errors.New("connection closed before it was established")
	ErrClosed          = errors.New("bridge stopped")
)

// Config holds the link settings. Zero values are replaced by defaults.
// A negative MaxReconnectAttempts disables automatic reconnection.
type Config struct {
	Driver               string        `yaml:"driver"`
	Port                 string        `yaml:"port"`
	BaudRate             int           `yaml:"baud_rate"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	TestTimeout          time.Duration `yaml:"test_timeout"`
}

const (
	DefaultBaudRate             = 9600
	DefaultMaxReconnectAttempts = 10
	DefaultReconnectDelay       = 3 * time.Second
	DefaultTestTimeout          = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.Driver == "" {
		c.Driver = serialport.DriverSerial
	}
	if c.BaudRate <= 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.TestTimeout <= 0 {
		c.TestTimeout = DefaultTestTimeout
	}
	return c
}

// PortLister enumerates serial devices for auto-detection.
type PortLister func() ([]serialport.PortInfo, error)

type Option func(*Manager)

// WithPortLister replaces serialport.ListPorts.
func WithPortLister(list PortLister) Option {
	return func(m *Manager) { m.list = list }
}

type Manager struct {
	cfg  Config
	open serialport.Opener
	list PortLister
	log  logrus.FieldLogger

	calls   chan func()
	events  chan serialport.Event
	stopped chan struct{}

	queue *TagQueue
	subs  subscribers

	// Everything below is owned by the Run goroutine.
	state        State
	transport    *serialport.Transport
	gen          uint64
	port         string // manually configured target, kept across errors
	baud         int
	owner        string
	pendingOwner string
	restoreOwner string
	readerID     string
	lastPing     time.Time
	lastErr      error
	attempts     int

	reconnect   *time.Timer
	reconnectC  <-chan time.Time
	keepalive   *time.Ticker
	keepaliveC  <-chan time.Time
	connectWait chan error
	waiters     []chan protocol.Message
}

func New(cfg Config, open serialport.Opener, log logrus.FieldLogger, opts ...Option) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:     cfg,
		open:    open,
		list:    serialport.ListPorts,
		log:     log.WithField("component", "bridge"),
		calls:   make(chan func()),
		events:  make(chan serialport.Event, 64),
		stopped: make(chan struct{}),
		queue:   NewTagQueue(),
		port:    cfg.Port,
		baud:    cfg.BaudRate,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run processes calls and transport events until ctx is done, then closes the
// link. It must be called exactly once.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.stopped)
	for {
		select {
		case <-ctx.Done():
			m.disconnect(ReasonShutdown)
			return ctx.Err()
		case fn := <-m.calls:
			fn()
		case ev := <-m.events:
			m.handleTransportEvent(ev)
		case <-m.reconnectC:
			m.reconnect, m.reconnectC = nil, nil
			m.attemptReconnect()
		case <-m.keepaliveC:
			m.sendKeepalive()
		}
	}
}

// Done is closed once Run has returned.
func (m *Manager) Done() <-chan struct{} { return m.stopped }

func (m *Manager) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	call := func() {
		defer close(done)
		fn()
	}
	select {
	case m.calls <- call:
	case <-m.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// Connect opens port at baud on behalf of pageID and waits until the link is
// up or has failed. An empty port auto-detects a reader board, falling back
// to the last manually configured port. A connection held by another page is
// closed first and an owner_changed event is emitted.
//
// If ctx ends first, Connect returns ctx.Err() and the attempt carries on.
func (m *Manager) Connect(ctx context.Context, port string, baud int, pageID string) error {
	var (
		wait <-chan error
		err  error
	)
	if e := m.do(ctx, func() { wait, err = m.connect(port, baud, pageID) }); e != nil {
		return e
	}
	if err != nil || wait == nil {
		return err
	}
	select {
	case err := <-wait:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stopped:
		return ErrClosed
	}
}

// Disconnect closes the link and clears ownership. It is idempotent.
func (m *Manager) Disconnect(ctx context.Context) error {
	return m.do(ctx, func() { m.disconnect(ReasonRequested) })
}

// ResetConnection disconnects and forgets the configured port.
func (m *Manager) ResetConnection(ctx context.Context) error {
	return m.do(ctx, func() {
		m.disconnect(ReasonReset)
		m.port = ""
		m.baud = m.cfg.BaudRate
		m.lastErr = nil
	})
}

func (m *Manager) Status(ctx context.Context) (StatusSnapshot, error) {
	var s StatusSnapshot
	err := m.do(ctx, func() { s = m.snapshot() })
	return s, err
}

// TestConnection sends a STATUS request and waits for the reader's status or
// heartbeat reply.
func (m *Manager) TestConnection(ctx context.Context) TestResult {
	reply := make(chan protocol.Message, 1)
	var (
		start time.Time
		err   error
	)
	if e := m.do(ctx, func() {
		if m.state != Connected {
			err = ErrNotConnected
			return
		}
		if err = m.writeCommand(protocol.StatusRequest()); err != nil {
			return
		}
		start = time.Now()
		m.waiters = append(m.waiters, reply)
	}); e != nil {
		err = e
	}
	if err != nil {
		return TestResult{Error: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.TestTimeout)
	defer cancel()
	select {
	case msg, ok := <-reply:
		if !ok {
			return TestResult{Error: ErrNotConnected.Error()}
		}
		return TestResult{
			Success:    true,
			PingTime:   time.Since(start).Milliseconds(),
			ReaderInfo: readerInfo(msg),
		}
	case <-ctx.Done():
		return TestResult{Error: "no response from reader: " + ctx.Err().Error()}
	}
}

// WriteCard asks the reader to write a student's identity to the card on it.
func (m *Manager) WriteCard(ctx context.Context, studentID, studentName string) error {
	var err error
	if e := m.do(ctx, func() {
		if m.state != Connected {
			err = ErrNotConnected
			return
		}
		err = m.writeCommand(protocol.WriteCard(studentID, studentName))
	}); e != nil {
		return e
	}
	return err
}

// WriteCardData is WriteCard reporting only whether the command was sent.
func (m *Manager) WriteCardData(ctx context.Context, studentID, studentName string) bool {
	if err := m.WriteCard(ctx, studentID, studentName); err != nil {
		m.log.WithError(err).WithField("student_id", studentID).Warn("write card")
		return false
	}
	return true
}

// LatestTag returns the oldest unprocessed tag event.
func (m *Manager) LatestTag() (TagEvent, bool) { return m.queue.Latest() }

// MarkTagProcessed reports whether id was found.
func (m *Manager) MarkTagProcessed(id int64) bool {
	ok := m.queue.MarkProcessed(id)
	if !ok {
		m.log.WithField("tag_id", id).Debug("mark processed: unknown tag id")
	}
	return ok
}

func (m *Manager) Tag(id int64) (TagEvent, bool) { return m.queue.Get(id) }

func (m *Manager) Tags() []TagEvent { return m.queue.All() }

// Subscribe registers h for every bridge event and returns a function that
// removes it.
func (m *Manager) Subscribe(h Handler) func() { return m.subs.add(h) }

func (m *Manager) MockMode() bool { return m.cfg.Driver == serialport.DriverSimulated }

// Everything below runs on the Run goroutine.

func (m *Manager) connect(port string, baud int, pageID string) (<-chan error, error) {
	if baud <= 0 {
		baud = m.baud
	}
	if port == "" {
		port = m.port
	}
	manual := port != ""
	if port == "" {
		port = m.detectPort()
	}
	if port == "" {
		return nil, ErrNoPortAvailable
	}

	if m.transport != nil {
		if m.state == Connected && m.owner == pageID && m.transport.Path() == port && m.baud == baud {
			return nil, nil
		}
		previous := m.owner
		if previous == "" {
			previous = m.pendingOwner
		}
		reason := ReasonRequested
		if previous != pageID {
			reason = ReasonEvicted
			m.log.WithFields(logrus.Fields{"from": previous, "to": pageID}).Info("reader claimed by another page")
		}
		m.disconnect(reason)
		if previous != pageID {
			m.emit(Event{Type: EventOwnerChanged, PreviousOwner: previous, Owner: pageID})
		}
	} else {
		m.stopReconnect()
	}

	if manual {
		m.port = port
	}
	m.baud = baud
	m.pendingOwner = pageID
	m.restoreOwner = ""
	m.attempts = 0

	if err := m.openTransport(port, baud); err != nil {
		return nil, err
	}
	wait := make(chan error, 1)
	m.connectWait = wait
	return wait, nil
}

func (m *Manager) detectPort() string {
	ports, err := m.list()
	if err != nil {
		m.log.WithError(err).Warn("list serial ports")
		return ""
	}
	c, ok := serialport.DetectCandidate(ports)
	if !ok {
		return ""
	}
	m.log.WithFields(logrus.Fields{"port": c.Path, "manufacturer": c.Manufacturer}).Info("detected reader board")
	return c.Path
}

func (m *Manager) openTransport(port string, baud int) error {
	m.setState(Connecting)
	m.gen++
	t, err := serialport.Open(m.open, port, baud, m.gen, m.events)
	if err != nil {
		m.log.WithError(err).WithField("port", port).Warn("open reader port")
		m.fail(err)
		return err
	}
	m.transport = t
	return nil
}

func (m *Manager) disconnect(reason string) {
	m.stopReconnect()
	m.stopKeepalive()
	if m.transport != nil {
		if err := m.transport.Close(); err != nil {
			m.log.WithError(err).Debug("close reader port")
		}
		m.transport = nil
	}
	m.gen++

	m.owner, m.pendingOwner, m.restoreOwner = "", "", ""
	m.attempts = 0
	m.resolveConnect(ErrDisconnected)
	m.dropWaiters()

	if m.state != Disconnected {
		m.setState(Disconnected)
		m.log.WithField("reason", reason).Info("reader disconnected")
		m.emit(Event{Type: EventDisconnected, Reason: reason})
	}
}

func (m *Manager) handleTransportEvent(ev serialport.Event) {
	if ev.Gen != m.gen || m.transport == nil {
		return
	}
	switch ev.Kind {
	case serialport.EventOpened:
		m.setState(Connected)
		m.owner = m.pendingOwner
		m.pendingOwner, m.restoreOwner = "", ""
		m.attempts = 0
		m.lastErr = nil
		m.lastPing = ev.At
		m.startKeepalive()
		m.log.WithFields(logrus.Fields{
			"port": m.transport.Path(),
			"baud": m.transport.Baud(),
			"page": m.owner,
		}).Info("reader connected")
		m.emit(Event{Type: EventConnected, Port: m.transport.Path(), Owner: m.owner})
		m.resolveConnect(nil)

	case serialport.EventLine:
		m.handleLine(ev.Line, ev.At)

	case serialport.EventError:
		m.log.WithError(ev.Err).WithField("port", m.transport.Path()).Warn("reader link failed")
		m.transport = nil
		m.stopKeepalive()
		m.dropWaiters()
		if m.owner != "" {
			m.restoreOwner = m.owner
		} else if m.pendingOwner != "" {
			m.restoreOwner = m.pendingOwner
		}
		m.owner, m.pendingOwner = "", ""
		m.fail(ev.Err)
	}
}

// fail records a link failure and applies the reconnect policy.
func (m *Manager) fail(err error) {
	m.lastErr = err
	m.setState(Error)
	monitor.ConnectionErrors.Inc()
	m.emit(Event{Type: EventConnectionError, Port: m.port, Error: err.Error()})
	m.resolveConnect(err)

	if m.port == "" {
		m.setState(Disconnected)
		return
	}
	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.log.WithFields(logrus.Fields{"port": m.port, "attempts": m.attempts}).Warn("giving up on reader")
		m.setState(Disconnected)
		m.emit(Event{Type: EventDisconnected, Port: m.port, Reason: ReasonExhausted})
		return
	}
	m.attempts++
	monitor.ReconnectAttempts.Inc()
	m.reconnect = time.NewTimer(m.cfg.ReconnectDelay)
	m.reconnectC = m.reconnect.C
}

func (m *Manager) attemptReconnect() {
	if m.port == "" || m.transport != nil {
		return
	}
	target := m.port
	if ports, err := m.list(); err == nil && len(ports) > 0 && !hasPath(ports, target) {
		if c, ok := serialport.DetectCandidate(ports); ok {
			target = c.Path
		}
	}
	m.log.WithFields(logrus.Fields{"port": target, "attempt": m.attempts}).Info("reconnecting to reader")
	m.pendingOwner = m.restoreOwner
	_ = m.openTransport(target, m.baud)
}

func hasPath(ports []serialport.PortInfo, path string) bool {
	for _, p := range ports {
		if p.Path == path {
			return true
		}
	}
	return false
}

func (m *Manager) handleLine(line string, at time.Time) {
	msg, ok := protocol.Parse(line)
	if !ok {
		return
	}
	monitor.LinesReceived.WithLabelValues(string(msg.Kind())).Inc()

	switch v := msg.(type) {
	case protocol.RFIDTag:
		if v.UID == "" {
			m.log.Warn("tag message without card id")
			return
		}
		readerID := v.ReaderID
		if readerID == "" {
			readerID = m.readerID
		}
		tag := m.queue.Enqueue(TagEvent{
			CardID:     v.UID,
			ObservedAt: at,
			ReaderID:   readerID,
			Source:     v.Source,
		})
		monitor.TagsReceived.WithLabelValues(string(v.Source)).Inc()
		monitor.TagQueueLength.Set(float64(m.queue.Len()))
		m.log.WithFields(logrus.Fields{"card_id": tag.CardID, "tag_id": tag.ID}).Info("tag received")
		m.emit(Event{Type: EventRFIDTag, Tag: &tag})

	case protocol.Heartbeat:
		m.lastPing = at
		if v.ReaderID != "" {
			m.readerID = v.ReaderID
		}
		m.emit(Event{Type: EventHeartbeat, Heartbeat: &v})
		m.notifyWaiters(v)

	case protocol.SystemMessage:
		m.log.WithField("message_type", v.MessageType).Info(v.Message)
		m.emit(Event{Type: EventSystemMessage, SystemMessage: &v})

	case protocol.SystemStatus:
		m.lastPing = at
		m.emit(Event{Type: EventSystemStatus, Status: v.Payload})
		m.notifyWaiters(v)

	case protocol.TextStatus:
		m.log.WithField("class", v.Class).Debug(v.Text)
		m.emit(Event{Type: EventMessage, Message: v})

	case protocol.Unrecognized:
		monitor.ParseErrors.Inc()
		m.log.WithFields(logrus.Fields{"reason": v.Reason, "context": v.Context}).Warn("unrecognized reader line")
		m.emit(Event{Type: EventMessage, Message: v})
	}
}

func (m *Manager) writeCommand(c protocol.Command) error {
	line, err := c.Encode()
	if err != nil {
		return err
	}
	return m.transport.WriteLine(line)
}

func (m *Manager) sendKeepalive() {
	if m.state != Connected {
		return
	}
	if err := m.writeCommand(protocol.StatusRequest()); err != nil {
		m.log.WithError(err).Debug("keepalive")
	}
}

func (m *Manager) startKeepalive() {
	m.stopKeepalive()
	if m.cfg.HeartbeatInterval <= 0 {
		return
	}
	m.keepalive = time.NewTicker(m.cfg.HeartbeatInterval)
	m.keepaliveC = m.keepalive.C
}

func (m *Manager) stopKeepalive() {
	if m.keepalive != nil {
		m.keepalive.Stop()
	}
	m.keepalive, m.keepaliveC = nil, nil
}

func (m *Manager) stopReconnect() {
	if m.reconnect != nil {
		m.reconnect.Stop()
	}
	m.reconnect, m.reconnectC = nil, nil
}

func (m *Manager) resolveConnect(err error) {
	if m.connectWait != nil {
		m.connectWait <- err
		m.connectWait = nil
	}
}

func (m *Manager) notifyWaiters(msg protocol.Message) {
	for _, w := range m.waiters {
		w <- msg
	}
	m.waiters = nil
}

func (m *Manager) dropWaiters() {
	for _, w := range m.waiters {
		close(w)
	}
	m.waiters = nil
}

func (m *Manager) setState(s State) {
	m.state = s
	if s == Connected {
		monitor.Connected.Set(1)
	} else {
		monitor.Connected.Set(0)
	}
}

func (m *Manager) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	m.subs.publish(ev)
}

func (m *Manager) snapshot() StatusSnapshot {
	s := StatusSnapshot{
		Connected:         m.state == Connected,
		State:             m.state,
		Port:              m.port,
		BaudRate:          m.baud,
		MockMode:          m.MockMode(),
		ReconnectAttempts: m.attempts,
	}
	if m.transport != nil {
		s.Port = m.transport.Path()
		s.BaudRate = m.transport.Baud()
	}
	if !m.lastPing.IsZero() {
		t := m.lastPing
		s.LastPing = &t
	}
	if m.owner != "" {
		owner := m.owner
		s.CurrentPage = &owner
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

func readerInfo(msg protocol.Message) map[string]interface{} {
	switch v := msg.(type) {
	case protocol.SystemStatus:
		return v.Payload
	case protocol.Heartbeat:
		return map[string]interface{}{
			"reader_id": v.ReaderID,
			"state":     v.State,
			"timestamp": v.Timestamp,
		}
	}
	return nil
}
