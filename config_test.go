package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/serialport"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("", "")
	require.NoError(t, err)

	assert.True(t, cfg.Bridge.Enabled)
	assert.Equal(t, serialport.DriverSerial, cfg.Bridge.Driver)
	assert.Equal(t, 9600, cfg.Bridge.BaudRate)
	assert.Equal(t, 10, cfg.Bridge.MaxReconnectAttempts)
	assert.Equal(t, 3*time.Second, cfg.Bridge.ReconnectDelay)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, cfg.StationID, cfg.Bridge.PageID)
	assert.Equal(t, cfg.StationID, cfg.MQTT.ClientID)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeFile(t, "rollcall.yaml", `
station_id: gate-1
bridge:
  driver: simulated
  port: /dev/ttyUSB0
  baud_rate: 115200
  reconnect_delay: 500ms
  auto_check_in: true
http:
  address: 127.0.0.1:9000
database:
  driver: sqlite
  dsn: /var/lib/rollcall/attendance.db
mqtt:
  host: broker.local
  port: 1883
log:
  level: debug
  format: json
`)

	cfg, err := LoadConfig(path, "")
	require.NoError(t, err)

	assert.Equal(t, "gate-1", cfg.StationID)
	assert.Equal(t, serialport.DriverSimulated, cfg.Bridge.Driver)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Bridge.Port)
	assert.Equal(t, 115200, cfg.Bridge.BaudRate)
	assert.Equal(t, 500*time.Millisecond, cfg.Bridge.ReconnectDelay)
	assert.True(t, cfg.Bridge.AutoCheckIn)
	assert.True(t, cfg.Bridge.Enabled, "unset keys keep defaults")
	assert.Equal(t, 10, cfg.Bridge.MaxReconnectAttempts)
	assert.Equal(t, "gate-1", cfg.Bridge.PageID)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Address)
	assert.Equal(t, 10*time.Second, cfg.HTTP.ConnectTimeout)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "broker.local", cfg.MQTT.Host)
	assert.Equal(t, "gate-1", cfg.MQTT.ClientID)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), "")
	assert.Error(t, err)

	_, err = LoadConfig(writeFile(t, "bad.yaml", "bridge: [unclosed"), "")
	assert.Error(t, err)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeFile(t, "rollcall.yaml", "bridge:\n  port: /dev/ttyUSB0\n  baud_rate: 115200\n")

	t.Setenv("ROLLCALL_SERIAL_PORT", "/dev/ttyACM1")
	t.Setenv("ROLLCALL_ENABLED", "false")
	t.Setenv("ROLLCALL_HEARTBEAT_INTERVAL", "45s")
	t.Setenv("ROLLCALL_MAX_RECONNECT_ATTEMPTS", "4")

	cfg, err := LoadConfig(path, "")
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM1", cfg.Bridge.Port)
	assert.Equal(t, 115200, cfg.Bridge.BaudRate, "file value kept without override")
	assert.False(t, cfg.Bridge.Enabled)
	assert.Equal(t, 45*time.Second, cfg.Bridge.HeartbeatInterval)
	assert.Equal(t, 4, cfg.Bridge.MaxReconnectAttempts)
}

func TestLoadConfigDotEnv(t *testing.T) {
	// registered so the variables godotenv sets are removed afterwards
	t.Setenv("ROLLCALL_BAUD_RATE", "")
	t.Setenv("ROLLCALL_LOG_LEVEL", "")
	os.Unsetenv("ROLLCALL_BAUD_RATE")
	os.Unsetenv("ROLLCALL_LOG_LEVEL")

	env := writeFile(t, ".env", "ROLLCALL_BAUD_RATE=57600\nROLLCALL_LOG_LEVEL=warn\n")

	cfg, err := LoadConfig("", env)
	require.NoError(t, err)
	assert.Equal(t, 57600, cfg.Bridge.BaudRate)
	assert.Equal(t, "warn", cfg.Log.Level)

	// a missing env file is not an error
	_, err = LoadConfig("", filepath.Join(t.TempDir(), ".env"))
	assert.NoError(t, err)
}

func TestNewLogger(t *testing.T) {
	log, err := newLogger(LogConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)

	_, err = newLogger(LogConfig{Level: "loud"})
	assert.Error(t, err)

	_, err = newLogger(LogConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}
