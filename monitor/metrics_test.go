package monitor

import (
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestNewMonitorRegistersOnce(t *testing.T) {
	NewMonitor(quietLogger())
	assert.NotPanics(t, func() { NewMonitor(quietLogger()) })

	Connected.Set(1)
	defer Connected.Set(0)

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, name := range []string{
		"rollcall_reader_connected",
		"rollcall_parse_errors_total",
		"rollcall_tag_queue_length",
		"rollcall_serial_bytes_received_total",
	} {
		assert.True(t, names[name], name)
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(Connected))
}

func TestLabelledCounters(t *testing.T) {
	before := testutil.ToFloat64(CheckIns.WithLabelValues("rfid", "duplicate"))
	CheckIns.WithLabelValues("rfid", "duplicate").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(CheckIns.WithLabelValues("rfid", "duplicate")))
}
