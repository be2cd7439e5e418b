// Package mqtt publishes reader station events to a broker and receives
// remote control commands.
package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// Config holds MQTT connection settings.
type Config struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	CACert      string `yaml:"ca_cert"`
	ClientCert  string `yaml:"client_cert"`
	ClientKey   string `yaml:"client_key"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// Handlers holds callback functions for MQTT events.
type Handlers struct {
	OnConnect    func()
	OnDisconnect func(err error)
	OnMessage    func(topic string, payload []byte)
}

// Client wraps the paho client. A Client built without a host is disabled:
// every method is a no-op and Connect reports success.
type Client struct {
	client  paho.Client
	topics  Topics
	qos     byte
	enabled bool
	log     logrus.FieldLogger

	onConnect    func()
	onDisconnect func(err error)
	onMessage    func(topic string, payload []byte)
}

// New creates a client for cfg. It does not connect.
func New(cfg Config, handlers Handlers, log logrus.FieldLogger) (*Client, error) {
	if cfg.ClientID == "" {
		host, _ := os.Hostname()
		cfg.ClientID = "rollcall-" + host
	}
	c := &Client{
		topics:       NewTopics(cfg.TopicPrefix, cfg.ClientID),
		qos:          cfg.QoS,
		log:          log.WithField("component", "mqtt"),
		onConnect:    handlers.OnConnect,
		onDisconnect: handlers.OnDisconnect,
		onMessage:    handlers.OnMessage,
	}

	if cfg.Host == "" {
		c.log.Info("MQTT disabled (no host configured)")
		return c, nil
	}
	c.enabled = true

	var broker string
	var tlsConfig *tls.Config
	if cfg.CACert != "" || cfg.ClientCert != "" {
		if cfg.Port == 0 {
			cfg.Port = 8883
		}
		broker = fmt.Sprintf("ssl://%s:%d", cfg.Host, cfg.Port)

		var err error
		if tlsConfig, err = buildTLSConfig(cfg); err != nil {
			return nil, fmt.Errorf("build TLS config: %w", err)
		}
	} else {
		if cfg.Port == 0 {
			cfg.Port = 1883
		}
		broker = fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetKeepAlive(60 * time.Second).
		SetWill(c.topics.Status(StatusConnection), `{"online":false}`, cfg.QoS, true).
		SetConnectionLostHandler(c.handleConnectionLost).
		SetOnConnectHandler(c.handleConnect).
		SetDefaultPublishHandler(c.handleMessage)
	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}
	c.client = paho.NewClient(opts)

	paho.ERROR = pahoLogger{c.log.Errorln, c.log.Errorf}
	paho.CRITICAL = pahoLogger{c.log.Errorln, c.log.Errorf}
	paho.WARN = pahoLogger{c.log.Warnln, c.log.Warnf}

	c.log.WithField("broker", broker).Info("MQTT configured")
	return c, nil
}

// pahoLogger adapts a logrus level to paho.Logger.
type pahoLogger struct {
	ln func(args ...interface{})
	f  func(format string, args ...interface{})
}

func (l pahoLogger) Println(v ...interface{})               { l.ln(v...) }
func (l pahoLogger) Printf(format string, v ...interface{}) { l.f(format, v...) }

func buildTLSConfig(cfg Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}

	if cfg.CACert != "" {
		caCert, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA cert: %w", err)
		}
		caPool := x509.NewCertPool()
		caPool.AppendCertsFromPEM(caCert)
		tlsConfig.RootCAs = caPool
	}

	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// Connect connects to the broker. If disabled, calls OnConnect immediately.
func (c *Client) Connect() error {
	if !c.enabled {
		if c.onConnect != nil {
			c.onConnect()
		}
		return nil
	}

	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect: %w", token.Error())
	}
	return nil
}

// Disconnect disconnects from the broker. No-op if disabled.
func (c *Client) Disconnect() {
	if !c.enabled || c.client == nil {
		return
	}
	c.client.Disconnect(250)
}

// Subscribe subscribes to a topic filter. No-op if disabled.
func (c *Client) Subscribe(topic string) error {
	if !c.enabled {
		return nil
	}

	if token := c.client.Subscribe(topic, c.qos, nil); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	return nil
}

// Publish sends payload without waiting for delivery. No-op if disabled.
func (c *Client) Publish(topic string, payload []byte, retained bool) {
	if !c.enabled {
		return
	}
	c.client.Publish(topic, c.qos, retained, payload)
}

// PublishJSON encodes v and publishes it.
func (c *Client) PublishJSON(topic string, v interface{}, retained bool) error {
	if !c.enabled {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", topic, err)
	}
	c.Publish(topic, b, retained)
	return nil
}

// IsEnabled returns whether MQTT is enabled.
func (c *Client) IsEnabled() bool {
	return c.enabled
}

func (c *Client) Topics() Topics {
	return c.topics
}

func (c *Client) handleConnect(client paho.Client) {
	c.log.Info("MQTT connection established")
	if c.onConnect != nil {
		c.onConnect()
	}
}

func (c *Client) handleConnectionLost(client paho.Client, err error) {
	c.log.WithError(err).Warn("MQTT connection lost")
	if c.onDisconnect != nil {
		c.onDisconnect(err)
	}
}

func (c *Client) handleMessage(client paho.Client, msg paho.Message) {
	if c.onMessage != nil {
		c.onMessage(msg.Topic(), msg.Payload())
	}
}

// Status topic kinds.
const (
	StatusTag        = "tag"
	StatusHeartbeat  = "heartbeat"
	StatusConnection = "connection"
	StatusCheckIn    = "checkin"
)

// Control commands.
const (
	ControlReset  = "reset"
	ControlStatus = "status"
)

// Topics builds the station's topic names:
//
//	<prefix>/status/node/<client_id>/<kind>
//	<prefix>/control/node/<client_id>/<command>
type Topics struct {
	prefix string
	node   string
}

func NewTopics(prefix, clientID string) Topics {
	if prefix == "" {
		prefix = "rollcall"
	}
	return Topics{prefix: strings.TrimSuffix(prefix, "/"), node: clientID}
}

func (t Topics) Status(kind string) string {
	return fmt.Sprintf("%s/status/node/%s/%s", t.prefix, t.node, kind)
}

func (t Topics) Control(command string) string {
	return fmt.Sprintf("%s/control/node/%s/%s", t.prefix, t.node, command)
}

// ControlFilter matches every control topic of this node.
func (t Topics) ControlFilter() string {
	return t.Control("#")
}

// ParseControl returns the command of a control topic of this node.
func (t Topics) ParseControl(topic string) (string, bool) {
	base := t.Control("")
	if !strings.HasPrefix(topic, base) {
		return "", false
	}
	cmd := strings.TrimPrefix(topic, base)
	if cmd == "" || strings.Contains(cmd, "/") {
		return "", false
	}
	return cmd, true
}
