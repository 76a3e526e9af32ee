package common

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cuihairu/abmetrics/internal/analytics/ingest"
	"github.com/cuihairu/abmetrics/internal/analytics/mq"
	"github.com/cuihairu/abmetrics/internal/analytics/report"
	"github.com/cuihairu/abmetrics/internal/analytics/warehouse"
	"github.com/cuihairu/abmetrics/internal/audit"
	"github.com/cuihairu/abmetrics/internal/db"
	"github.com/cuihairu/abmetrics/internal/objstore"
	"github.com/cuihairu/abmetrics/internal/telemetry"
	"github.com/cuihairu/abmetrics/internal/tlsutil"
)

// Closer releases what an opener acquired.
type Closer func() error

func (c Closer) Close() error {
	if c == nil {
		return nil
	}
	return c()
}

// Destination is the warehouse table named by c.
func (c WarehouseConfig) Destination() warehouse.Destination {
	return warehouse.Destination{Dataset: c.Dataset, Table: c.Table}
}

// OpenSource connects the configured warehouse for reading.
func OpenSource(ctx context.Context, c WarehouseConfig, log *slog.Logger) (warehouse.Source, Closer, error) {
	if strings.EqualFold(c.Driver, "clickhouse") {
		tlsCfg, err := tlsutil.ClientConfig(c.TLS)
		if err != nil {
			return nil, nil, fmt.Errorf("warehouse tls: %w", err)
		}
		conn, err := warehouse.OpenClickHouse(ctx, c.DSN, tlsCfg)
		if err != nil {
			return nil, nil, err
		}
		return warehouse.NewClickHouseSource(conn, c.Destination(), log), conn.Close, nil
	}
	g, err := db.Open(c.DSN)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := g.DB()
	if err != nil {
		return nil, nil, err
	}
	return warehouse.NewGormSource(g, c.Destination(), log), sqlDB.Close, nil
}

// OpenWriter connects the configured warehouse for appending.
func OpenWriter(ctx context.Context, c WarehouseConfig, log *slog.Logger) (warehouse.Writer, Closer, error) {
	if strings.EqualFold(c.Driver, "clickhouse") {
		tlsCfg, err := tlsutil.ClientConfig(c.TLS)
		if err != nil {
			return nil, nil, fmt.Errorf("warehouse tls: %w", err)
		}
		conn, err := warehouse.OpenClickHouse(ctx, c.DSN, tlsCfg)
		if err != nil {
			return nil, nil, err
		}
		return warehouse.NewClickHouseWriter(conn, log), conn.Close, nil
	}
	g, err := db.Open(c.DSN)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := g.DB()
	if err != nil {
		return nil, nil, err
	}
	return warehouse.NewGormWriter(g, log), sqlDB.Close, nil
}

// OpenManifest opens the ingest manifest, or returns nil when disabled.
func OpenManifest(c IngestConfig) (ingest.Manifest, Closer, error) {
	if c.ManifestDSN == "" {
		return nil, nil, nil
	}
	g, err := db.Open(c.ManifestDSN)
	if err != nil {
		return nil, nil, err
	}
	m := ingest.NewGormManifest(g)
	if err := m.AutoMigrate(); err != nil {
		return nil, nil, err
	}
	sqlDB, err := g.DB()
	if err != nil {
		return nil, nil, err
	}
	return m, sqlDB.Close, nil
}

// OpenSinks builds the report sinks enabled in c: an output directory,
// object storage and a non-noop queue.
func OpenSinks(ctx context.Context, c *Config, log *slog.Logger) ([]report.Sink, Closer, error) {
	var sinks []report.Sink
	var closers []Closer
	closeAll := func() error {
		var errs []error
		for _, cl := range closers {
			errs = append(errs, cl.Close())
		}
		return errors.Join(errs...)
	}
	if c.Report.OutDir != "" {
		sinks = append(sinks, report.DirSink{Dir: c.Report.OutDir})
	}
	if c.Storage.Driver != "" {
		st, err := objstore.Open(ctx, c.Storage)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, st.Close)
		sinks = append(sinks, report.StoreSink{Store: st, Prefix: c.Report.Prefix})
	}
	if t := strings.ToLower(c.MQ.Type); t != "" && t != "noop" {
		q, err := mq.New(c.MQ, log)
		if err != nil {
			_ = closeAll()
			return nil, nil, err
		}
		closers = append(closers, q.Close)
		sinks = append(sinks, report.QueueSink{Queue: q})
	}
	return sinks, closeAll, nil
}

// StartTelemetry installs the otel providers of c. The returned closer
// flushes them with its own timeout.
func StartTelemetry(ctx context.Context, c telemetry.Config, log *slog.Logger) (*telemetry.Provider, Closer, error) {
	tp, err := telemetry.NewProvider(ctx, c)
	if err != nil {
		return nil, nil, err
	}
	return tp, func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			log.Warn("telemetry shutdown", "err", err)
			return err
		}
		return nil
	}, nil
}

// Recorder appends to the run ledger. The zero value records nothing.
type Recorder struct {
	ledger *audit.Ledger
	actor  string
	log    *slog.Logger
}

// Record logs one ledger entry. Failures are logged, not returned.
func (r Recorder) Record(kind, target string, meta map[string]string) {
	if r.ledger == nil {
		return
	}
	if err := r.ledger.Log(kind, r.actor, target, meta); err != nil {
		r.log.Warn("audit ledger write", "kind", kind, "err", err)
	}
}

// OpenAudit opens the ledger configured in c, or a no-op recorder when
// no path is set. The actor defaults to $USER.
func OpenAudit(c AuditConfig, log *slog.Logger) (Recorder, Closer, error) {
	if c.Path == "" {
		return Recorder{}, nil, nil
	}
	l, err := audit.Open(c.Path)
	if err != nil {
		return Recorder{}, nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	actor := c.Actor
	if actor == "" {
		actor = os.Getenv("USER")
	}
	return Recorder{ledger: l, actor: actor, log: log}, l.Close, nil
}
