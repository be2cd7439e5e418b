package monitor

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

var (
	// Serial link
	BytesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_serial_bytes_received_total",
		Help: "Bytes read from the reader's serial port.",
	})

	LinesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollcall_serial_lines_total",
			Help: "Lines received from the reader, by parsed message kind.",
		},
		[]string{"kind"},
	)

	ParseErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_parse_errors_total",
		Help: "Lines discarded as unrecognized.",
	})

	// Connection
	Connected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rollcall_reader_connected",
		Help: "1 while the reader link is connected.",
	})

	ConnectionErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_connection_errors_total",
		Help: "Open and read failures on the reader link.",
	})

	ReconnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_reconnect_attempts_total",
		Help: "Automatic reconnect attempts.",
	})

	// Tags
	TagsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollcall_tags_received_total",
			Help: "Tag events enqueued, by wire source.",
		},
		[]string{"source"},
	)

	TagQueueLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rollcall_tag_queue_length",
		Help: "Tag events held in the queue, processed or not.",
	})

	CheckIns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollcall_check_ins_total",
			Help: "Attendance check-ins, by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rollcall_goroutines",
		Help: "Current goroutine count.",
	})
)

var registerOnce sync.Once

type Monitor struct {
	log logrus.FieldLogger
}

// NewMonitor registers the collectors with the default registry.
func NewMonitor(log logrus.FieldLogger) *Monitor {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			BytesReceived,
			LinesReceived,
			ParseErrors,
			Connected,
			ConnectionErrors,
			ReconnectAttempts,
			TagsReceived,
			TagQueueLength,
			CheckIns,
			GoroutineCount,
		)
	})
	return &Monitor{log: log}
}

// StartRuntimeMonitor samples runtime gauges until stop is closed.
func (m *Monitor) StartRuntimeMonitor(stop <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Second)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				GoroutineCount.Set(float64(runtime.NumGoroutine()))
				m.log.Debugf("goroutines: %d", runtime.NumGoroutine())
			}
		}
	}()
}
