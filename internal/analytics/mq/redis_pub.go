package mq

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type redisQueue struct {
	cli     *redis.Client
	stream  string
	maxLen  int64
	approx  bool
	timeout time.Duration
}

// newRedis returns a Redis Streams publisher. Each report becomes one
// entry with fields key and data, trimmed to MaxLen.
func newRedis(c Config) (*redisQueue, error) {
	url := c.RedisURL
	if url == "" {
		url = "redis://localhost:6379/0"
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("mq: redis url: %w", err)
	}
	q := &redisQueue{
		cli:     redis.NewClient(opt),
		stream:  c.Stream,
		maxLen:  c.MaxLen,
		approx:  c.Approx,
		timeout: c.timeout(),
	}
	if q.stream == "" {
		q.stream = DefaultStream
	}
	if q.maxLen == 0 {
		q.maxLen = DefaultMaxLen
	}
	return q, nil
}

func (q *redisQueue) args(key string, payload []byte) *redis.XAddArgs {
	args := &redis.XAddArgs{Stream: q.stream, Values: map[string]any{"key": key, "data": string(payload)}}
	if q.maxLen > 0 {
		args.MaxLen = q.maxLen
		args.Approx = q.approx
	}
	return args
}

func (q *redisQueue) PublishReport(ctx context.Context, key string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	return q.cli.XAdd(ctx, q.args(key, payload)).Err()
}

func (q *redisQueue) Close() error { return q.cli.Close() }
