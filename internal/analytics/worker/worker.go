// Package worker consumes sales records from a Redis stream and appends
// them to the warehouse in batches.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/cuihairu/abmetrics/internal/analytics/ingest"
	"github.com/cuihairu/abmetrics/internal/analytics/warehouse"
)

// Config is the stream section of the config file.
type Config struct {
	RedisURL      string        `mapstructure:"redis_url"`
	Stream        string        `mapstructure:"stream"`
	Group         string        `mapstructure:"group"`
	Consumer      string        `mapstructure:"consumer"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	Block         time.Duration `mapstructure:"block"`
}

func (c *Config) defaults() {
	if c.RedisURL == "" {
		c.RedisURL = "redis://localhost:6379/0"
	}
	if c.Stream == "" {
		c.Stream = "abmetrics:sales"
	}
	if c.Group == "" {
		c.Group = "abmetrics-loader"
	}
	if c.Consumer == "" {
		host, _ := os.Hostname()
		c.Consumer = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 15 * time.Second
	}
	if c.Block <= 0 {
		c.Block = 2 * time.Second
	}
}

// streamClient is the subset of *redis.Client the worker needs.
type streamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

type pending struct {
	id  string
	rec warehouse.SaleRecord
}

// Worker reads the stream through a consumer group. Entries are
// acknowledged only after their batch was written, so a crash replays them.
type Worker struct {
	rdb  streamClient
	w    warehouse.Writer
	dest warehouse.Destination
	cfg  Config
	log  *slog.Logger
	now  func() time.Time

	buf        []pending
	lastFlush  time.Time
	retryDelay time.Duration
	// OnFlush, when set, observes every successful batch write.
	OnFlush func(ctx context.Context, rows int)
}

// New connects to Redis and returns a worker writing to dest.
func New(cfg Config, w warehouse.Writer, dest warehouse.Destination, log *slog.Logger) (*Worker, error) {
	cfg.defaults()
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return newWorker(redis.NewClient(opt), cfg, w, dest, log), nil
}

func newWorker(rdb streamClient, cfg Config, w warehouse.Writer, dest warehouse.Destination, log *slog.Logger) *Worker {
	cfg.defaults()
	if log == nil {
		log = slog.Default()
	}
	return &Worker{rdb: rdb, w: w, dest: dest, cfg: cfg, log: log, now: time.Now, retryDelay: time.Second}
}

func (w *Worker) ensureGroup(ctx context.Context) error {
	err := w.rdb.XGroupCreateMkStream(ctx, w.cfg.Stream, w.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s: %w", w.cfg.Group, err)
	}
	return nil
}

// Run consumes until ctx is done, then flushes what is buffered.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.ensureGroup(ctx); err != nil {
		return err
	}
	w.lastFlush = w.now()
	w.log.Info("stream worker started", "stream", w.cfg.Stream, "group", w.cfg.Group, "consumer", w.cfg.Consumer)
	for ctx.Err() == nil {
		res, err := w.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    w.cfg.Group,
			Consumer: w.cfg.Consumer,
			Streams:  []string{w.cfg.Stream, ">"},
			Count:    int64(w.cfg.BatchSize),
			Block:    w.cfg.Block,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				break
			}
			w.log.Warn("xreadgroup", "err", err)
			select {
			case <-ctx.Done():
			case <-time.After(w.retryDelay):
			}
			continue
		}
		for _, str := range res {
			w.handle(ctx, str.Messages)
		}
		if w.due() {
			if err := w.flush(ctx); err != nil {
				w.log.Warn("flush", "err", err)
			}
		}
	}
	// drain with a fresh context so the last batch still lands
	flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return w.flush(flushCtx)
}

func (w *Worker) due() bool {
	if len(w.buf) == 0 {
		return false
	}
	return len(w.buf) >= w.cfg.BatchSize || w.now().Sub(w.lastFlush) >= w.cfg.FlushInterval
}

// handle decodes entries into the buffer. Undecodable entries are
// acknowledged right away so they do not block the group.
func (w *Worker) handle(ctx context.Context, msgs []redis.XMessage) {
	for _, msg := range msgs {
		data := fmtAny(msg.Values["data"])
		rec, err := ingest.DecodeLine([]byte(data))
		if err != nil {
			w.log.Warn("drop malformed entry", "id", msg.ID, "err", err)
			_ = w.rdb.XAck(ctx, w.cfg.Stream, w.cfg.Group, msg.ID).Err()
			continue
		}
		w.buf = append(w.buf, pending{id: msg.ID, rec: rec})
	}
}

// flush writes the buffer stamped with today's snapshot date and acks it.
// On a write error the buffer is kept for the next attempt.
func (w *Worker) flush(ctx context.Context) error {
	if len(w.buf) == 0 {
		return nil
	}
	snap := ingest.SnapshotDate(w.now())
	recs := make([]warehouse.SaleRecord, len(w.buf))
	ids := make([]string, len(w.buf))
	for i, p := range w.buf {
		recs[i] = p.rec
		recs[i].InsertDate = snap
		ids[i] = p.id
	}
	n, err := w.w.Write(ctx, w.dest, recs, warehouse.WriteOptions{})
	if err != nil {
		return fmt.Errorf("write %d rows: %w", len(recs), err)
	}
	if err := w.rdb.XAck(ctx, w.cfg.Stream, w.cfg.Group, ids...).Err(); err != nil {
		w.log.Warn("xack", "err", err, "ids", len(ids))
	}
	w.buf = w.buf[:0]
	w.lastFlush = w.now()
	w.log.Info("stream batch loaded", "rows", n, "table", w.dest.String())
	if w.OnFlush != nil {
		w.OnFlush(ctx, n)
	}
	return nil
}

func fmtAny(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(v)
	}
}
