// Package mq publishes rendered reports to a message queue so downstream
// dashboards can pick them up.
package mq

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Queue publishes report payloads. Implementations are safe for concurrent
// use.
type Queue interface {
	PublishReport(ctx context.Context, key string, payload []byte) error
	Close() error
}

// Config selects the backend. Type is kafka, redis or noop.
type Config struct {
	Type string `mapstructure:"type"`

	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`

	RedisURL string `mapstructure:"redis_url"`
	Stream   string `mapstructure:"stream"`
	MaxLen   int64  `mapstructure:"max_len"`
	Approx   bool   `mapstructure:"approx"`

	Timeout time.Duration `mapstructure:"timeout"`
}

// Defaults for unset fields.
const (
	DefaultTopic   = "abmetrics.reports"
	DefaultStream  = "abmetrics:reports"
	DefaultMaxLen  = 100_000
	DefaultTimeout = 5 * time.Second
)

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// New builds the configured queue. An empty type yields the noop queue.
func New(c Config, log *slog.Logger) (Queue, error) {
	if log == nil {
		log = slog.Default()
	}
	switch strings.ToLower(strings.TrimSpace(c.Type)) {
	case "kafka":
		if len(c.Brokers) == 0 {
			return nil, fmt.Errorf("mq: kafka requires brokers")
		}
		log.Info("report publisher enabled", "type", "kafka", "brokers", strings.Join(c.Brokers, ","), "topic", c.Topic)
		return newKafka(c), nil
	case "redis":
		q, err := newRedis(c)
		if err != nil {
			return nil, err
		}
		log.Info("report publisher enabled", "type", "redis", "stream", q.stream)
		return q, nil
	case "", "noop":
		return NewNoop(), nil
	default:
		return nil, fmt.Errorf("mq: unsupported type %q", c.Type)
	}
}
