package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"rollcall/bridge"
	"rollcall/eventpipe"
	"rollcall/indicator"
	"rollcall/mqtt"
	"rollcall/redispub"
	"rollcall/scanner"
	"rollcall/serialport"
)

// Config is the main configuration structure for rollcall.
type Config struct {
	// Station identity, used as MQTT client id and default page id
	StationID string `yaml:"station_id"`

	// IANA zone used to compute attendance days (empty = local time)
	Timezone string `yaml:"timezone"`

	// Reader link
	Bridge BridgeConfig `yaml:"bridge"`

	// HTTP API
	HTTP HTTPConfig `yaml:"http"`

	// Attendance storage
	Database DatabaseConfig `yaml:"database"`

	// Event fan-out (both optional)
	MQTT  mqtt.Config     `yaml:"mqtt"`
	Redis redispub.Config `yaml:"redis"`

	// Station hardware
	Indicator indicator.Config `yaml:"indicator"`
	Scanner   scanner.Config   `yaml:"scanner"`

	// Developer injection into the simulated reader
	EventPipe eventpipe.Config `yaml:"eventpipe"`

	Log LogConfig `yaml:"log"`
}

// BridgeConfig holds the reader link settings.
type BridgeConfig struct {
	bridge.Config `yaml:",inline"`

	Enabled     bool   `yaml:"enabled"`
	AutoConnect bool   `yaml:"auto_connect"`  // connect on startup as PageID
	AutoCheckIn bool   `yaml:"auto_check_in"` // check tags in without a page
	PageID      string `yaml:"page_id"`
}

type HTTPConfig struct {
	Address            string        `yaml:"address"`
	Debug              bool          `yaml:"debug"`
	DisableRequestLogs bool          `yaml:"disable_request_logs"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
}

// DatabaseConfig selects the attendance store. Driver "memory" keeps
// everything in process; Roster seeds students at startup.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // memory, sqlite, postgres
	DSN    string `yaml:"dsn"`
	Roster string `yaml:"roster"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text, json
}

// DefaultConfig returns the settings used for anything the file leaves out.
func DefaultConfig() Config {
	host, _ := os.Hostname()
	return Config{
		StationID: "rollcall-" + host,
		Bridge: BridgeConfig{
			Config: bridge.Config{
				Driver:               serialport.DriverSerial,
				BaudRate:             bridge.DefaultBaudRate,
				MaxReconnectAttempts: bridge.DefaultMaxReconnectAttempts,
				ReconnectDelay:       bridge.DefaultReconnectDelay,
				HeartbeatInterval:    30 * time.Second,
				TestTimeout:          bridge.DefaultTestTimeout,
			},
			Enabled: true,
		},
		HTTP: HTTPConfig{
			Address:        ":8080",
			ConnectTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{Driver: "memory"},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig reads path over DefaultConfig, then applies environment
// overrides. A missing file is an error; an empty path skips the file.
// envFile is loaded into the environment first when it exists.
func LoadConfig(path, envFile string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()

		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return cfg, fmt.Errorf("load %s: %w", envFile, err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("stat %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix("ROLLCALL")
	v.AutomaticEnv()
	applyEnv(&cfg, v)

	if cfg.Bridge.PageID == "" {
		cfg.Bridge.PageID = cfg.StationID
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = cfg.StationID
	}
	return cfg, nil
}

// applyEnv overrides the reader settings operators change per machine:
//
//	ROLLCALL_SERIAL_PORT             bridge.port
//	ROLLCALL_SERIAL_DRIVER           bridge.driver
//	ROLLCALL_BAUD_RATE               bridge.baud_rate
//	ROLLCALL_ENABLED                 bridge.enabled
//	ROLLCALL_HEARTBEAT_INTERVAL      bridge.heartbeat_interval
//	ROLLCALL_RECONNECT_DELAY         bridge.reconnect_delay
//	ROLLCALL_MAX_RECONNECT_ATTEMPTS  bridge.max_reconnect_attempts
//	ROLLCALL_LOG_LEVEL               log.level
func applyEnv(cfg *Config, v *viper.Viper) {
	if v.IsSet("serial_port") {
		cfg.Bridge.Port = v.GetString("serial_port")
	}
	if v.IsSet("serial_driver") {
		cfg.Bridge.Driver = v.GetString("serial_driver")
	}
	if v.IsSet("baud_rate") {
		cfg.Bridge.BaudRate = v.GetInt("baud_rate")
	}
	if v.IsSet("enabled") {
		cfg.Bridge.Enabled = v.GetBool("enabled")
	}
	if v.IsSet("heartbeat_interval") {
		cfg.Bridge.HeartbeatInterval = v.GetDuration("heartbeat_interval")
	}
	if v.IsSet("reconnect_delay") {
		cfg.Bridge.ReconnectDelay = v.GetDuration("reconnect_delay")
	}
	if v.IsSet("max_reconnect_attempts") {
		cfg.Bridge.MaxReconnectAttempts = v.GetInt("max_reconnect_attempts")
	}
	if v.IsSet("log_level") {
		cfg.Log.Level = v.GetString("log_level")
	}
}

func newLogger(cfg LogConfig) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	log.SetLevel(level)

	switch cfg.Format {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return log, nil
}
