package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cuihairu/abmetrics/internal/analytics/abtest"
	"github.com/cuihairu/abmetrics/internal/telemetry"
)

// Tabular is the common shape of summary and engagement tables.
type Tabular interface {
	Columns() []string
	Len() int
	Record(i int) []string
}

// Result is one computed report.
type Result struct {
	Spec  Spec
	Table Tabular
}

// Run is the outcome of executing a plan.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []Result
}

// Runner executes plans against an engine.
type Runner struct {
	engine *abtest.Engine
	tracer *telemetry.ReportTracer
	limit  int
	log    *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithConcurrency bounds the reports computed at once.
func WithConcurrency(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.limit = n
		}
	}
}

// WithTracer records spans and metrics per report.
func WithTracer(t *telemetry.ReportTracer) RunnerOption {
	return func(r *Runner) { r.tracer = t }
}

// WithLogger sets the runner logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

func NewRunner(engine *abtest.Engine, opts ...RunnerOption) *Runner {
	r := &Runner{engine: engine, limit: 4, log: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run computes every report of p. Results keep plan order; the first
// failing report cancels the rest and fails the run.
func (r *Runner) Run(ctx context.Context, p *Plan) (*Run, error) {
	if err := p.Check(); err != nil {
		return nil, err
	}
	run := &Run{ID: uuid.NewString(), StartedAt: time.Now().UTC(), Results: make([]Result, len(p.Reports))}
	log := r.log.With("run_id", run.ID)
	log.Info("report run started", "reports", len(p.Reports))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.limit)
	for i, s := range p.Reports {
		i, s := i, s
		g.Go(func() error {
			sctx := gctx
			var span *telemetry.ReportSpan
			if r.tracer != nil {
				sctx, span = r.tracer.StartReport(gctx, run.ID, s.Name, string(s.Kind))
			}
			start := time.Now()
			tbl, err := r.compute(sctx, p, s)
			rows := 0
			if err == nil {
				rows = tbl.Len()
			}
			if span != nil {
				span.End(sctx, rows, err)
			}
			if err != nil {
				log.Error("report failed", "report", s.Name, "kind", s.Kind, "err", err)
				return fmt.Errorf("report %q: %w", s.Name, err)
			}
			log.Info("report computed", "report", s.Name, "kind", s.Kind, "rows", rows, "took", time.Since(start))
			run.Results[i] = Result{Spec: s, Table: tbl}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	run.FinishedAt = time.Now().UTC()
	log.Info("report run finished", "took", run.FinishedAt.Sub(run.StartedAt))
	return run, nil
}

func (r *Runner) compute(ctx context.Context, p *Plan, s Spec) (Tabular, error) {
	cities := p.CitySet(s)
	var th abtest.Threshold
	if s.Kind.engagement() {
		var err error
		if th, err = abtest.ParseThreshold(s.Threshold); err != nil {
			return nil, err
		}
	}
	switch s.Kind {
	case KindRevenue:
		return r.engine.Revenue(ctx, s.GroupBy, cities)
	case KindPriceRange:
		return r.engine.PriceRange(ctx, cities)
	case KindDeliveryTime:
		return r.engine.DeliveryTime(ctx, cities)
	case KindEngagement:
		return r.engine.Engagement(ctx, s.GroupBy, cities, th)
	case KindEngagementPriceRange:
		return r.engine.EngagementByPriceRange(ctx, cities, th)
	case KindEngagementDeliveryTime:
		return r.engine.EngagementByDeliveryTime(ctx, cities, th)
	}
	return nil, fmt.Errorf("unknown report kind %q", s.Kind)
}
