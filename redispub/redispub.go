// Package redispub mirrors bridge events to Redis: every event is published on
// a channel and tag events are also kept in a capped list per reader.
package redispub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// HistoryLength is how many tag events are kept per reader.
const HistoryLength = 1000

type Config struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Channel  string `yaml:"channel"`
}

type Publisher struct {
	client  *redis.Client
	channel string
	log     logrus.FieldLogger
}

// New connects to Redis and checks the connection.
func New(ctx context.Context, cfg Config, log logrus.FieldLogger) (*Publisher, error) {
	if cfg.Channel == "" {
		cfg.Channel = "rollcall:events"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}

	log = log.WithField("component", "redis")
	log.WithField("addr", cfg.Addr).Info("redis connected")
	return &Publisher{client: client, channel: cfg.Channel, log: log}, nil
}

// HistoryKey is the list holding a reader's recent tag events.
func HistoryKey(readerID string) string {
	if readerID == "" {
		readerID = "default"
	}
	return fmt.Sprintf("rollcall:reader:%s:tags", readerID)
}

// Publish sends v on the event channel.
func (p *Publisher) Publish(ctx context.Context, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// PublishTag publishes v and pushes it onto the reader's history list,
// trimmed to HistoryLength entries.
func (p *Publisher) PublishTag(ctx context.Context, readerID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode tag: %w", err)
	}

	key := HistoryKey(readerID)
	pipe := p.client.TxPipeline()
	pipe.Publish(ctx, p.channel, data)
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, HistoryLength-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish tag: %w", err)
	}
	return nil
}

// History returns up to n recent tag events of a reader, newest first.
func (p *Publisher) History(ctx context.Context, readerID string, n int64) ([]json.RawMessage, error) {
	vals, err := p.client.LRange(ctx, HistoryKey(readerID), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	out := make([]json.RawMessage, len(vals))
	for i, v := range vals {
		out[i] = json.RawMessage(v)
	}
	return out, nil
}

func (p *Publisher) Close() error {
	return p.client.Close()
}
