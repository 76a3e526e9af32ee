package reportcmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuihairu/abmetrics/internal/analytics/abtest"
	"github.com/cuihairu/abmetrics/internal/analytics/report"
	"github.com/cuihairu/abmetrics/internal/analytics/warehouse"
	"github.com/cuihairu/abmetrics/internal/audit"
	"github.com/cuihairu/abmetrics/internal/cli/common"
	"github.com/cuihairu/abmetrics/internal/hotreload"
)

var flagKeys = map[string]string{
	"plan":        "report.plan",
	"format":      "report.format",
	"out":         "report.out_dir",
	"concurrency": "report.concurrency",
}

// New returns the `abmetrics report` command.
func New() *cobra.Command {
	var (
		flags common.ConfigFlags
		o     options
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Compute A/B evaluation reports from the latest warehouse snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, log, err := flags.Resolve(cmd, flagKeys)
			if err != nil {
				return err
			}
			if !o.quiet {
				o.stdout = cmd.OutOrStdout()
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if o.watch {
				var stop context.CancelFunc
				ctx, stop = signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()
			}
			return run(ctx, cfg, log, o)
		},
	}
	flags.Register(cmd)
	cmd.Flags().String("plan", "", "report plan YAML (default: built-in evaluation plan)")
	cmd.Flags().String("format", "", "output format: json|csv|table")
	cmd.Flags().String("out", "", "directory for timestamped report files")
	cmd.Flags().Int("concurrency", 0, "reports computed at once")
	cmd.Flags().BoolVarP(&o.quiet, "quiet", "q", false, "do not print reports to stdout")
	cmd.Flags().BoolVarP(&o.watch, "watch", "w", false, "re-run whenever the plan file changes")
	return cmd
}

type options struct {
	quiet  bool
	watch  bool
	stdout io.Writer
}

// session holds what every run of a plan shares. The warehouse snapshot is
// loaded once and reused across reruns.
type session struct {
	// mu serializes reruns triggered while a previous run is still going.
	mu     sync.Mutex
	runner *report.Runner
	pub    *report.Publisher
	format report.Format
	stdout io.Writer
	log    *slog.Logger
	audit  common.Recorder
}

func run(ctx context.Context, cfg *common.Config, log *slog.Logger, o options) error {
	format, err := report.ParseFormat(cfg.Report.Format)
	if err != nil {
		return err
	}
	if o.watch && cfg.Report.Plan == "" {
		return errors.New("--watch needs a plan file")
	}
	plan := report.DefaultPlan()
	if cfg.Report.Plan != "" {
		if plan, err = report.LoadPlan(cfg.Report.Plan); err != nil {
			return err
		}
	}

	tp, stopTelemetry, err := common.StartTelemetry(ctx, cfg.Telemetry, log)
	if err != nil {
		return err
	}
	defer stopTelemetry.Close()

	src, closeSrc, err := common.OpenSource(ctx, cfg.Warehouse, log)
	if err != nil {
		return fmt.Errorf("open warehouse: %w", err)
	}
	defer closeSrc.Close()

	sinks, closeSinks, err := common.OpenSinks(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeSinks.Close()

	rec, closeAudit, err := common.OpenAudit(cfg.Audit, log)
	if err != nil {
		return err
	}
	defer closeAudit.Close()

	engine := abtest.New(warehouse.NewCache(src), abtest.WithLogger(log))
	s := &session{
		runner: report.NewRunner(engine,
			report.WithConcurrency(cfg.Report.Concurrency),
			report.WithTracer(tp.Reports),
			report.WithLogger(log),
		),
		format: format,
		stdout: o.stdout,
		log:    log,
		audit:  rec,
	}
	if len(sinks) > 0 {
		s.pub = &report.Publisher{Format: format, Sinks: sinks, Log: log}
	}

	if !o.watch {
		return s.execute(ctx, plan)
	}
	rerun := func(ctx context.Context, content []byte) error {
		p, err := report.ParsePlan(content)
		if err != nil {
			return err
		}
		return s.execute(ctx, p)
	}
	w := hotreload.New(cfg.Report.Plan, 0, log)
	if err := w.Reload(ctx, rerun); err != nil {
		return err
	}
	return w.Watch(ctx, rerun)
}

func (s *session) execute(ctx context.Context, plan *report.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.runner.Run(ctx, plan)
	if err != nil {
		return err
	}
	if s.stdout != nil {
		for _, r := range res.Results {
			if err := report.Render(s.stdout, s.format, res.ID, res.FinishedAt, r); err != nil {
				return err
			}
			fmt.Fprintln(s.stdout)
		}
	}
	meta := map[string]string{
		"reports":  strconv.Itoa(len(res.Results)),
		"duration": res.FinishedAt.Sub(res.StartedAt).String(),
	}
	if s.pub == nil {
		s.audit.Record(audit.KindReportRun, res.ID, meta)
		return nil
	}
	arts, err := s.pub.Publish(ctx, res)
	s.log.Info("reports published", "run_id", res.ID, "artifacts", len(arts))
	meta["artifacts"] = strconv.Itoa(len(arts))
	if err != nil {
		meta["publish_error"] = err.Error()
	}
	s.audit.Record(audit.KindReportRun, res.ID, meta)
	return err
}
