package streamcmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuihairu/abmetrics/internal/analytics/worker"
	"github.com/cuihairu/abmetrics/internal/audit"
	"github.com/cuihairu/abmetrics/internal/cli/common"
)

var flagKeys = map[string]string{
	"redis":      "stream.redis_url",
	"stream":     "stream.stream",
	"group":      "stream.group",
	"consumer":   "stream.consumer",
	"batch-size": "stream.batch_size",
}

// New returns the `abmetrics stream` command.
func New() *cobra.Command {
	var flags common.ConfigFlags
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Consume sales records from a Redis stream into the warehouse",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, log, err := flags.Resolve(cmd, flagKeys)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, log)
		},
	}
	flags.Register(cmd)
	cmd.Flags().String("redis", "", "redis URL")
	cmd.Flags().String("stream", "", "stream key")
	cmd.Flags().String("group", "", "consumer group")
	cmd.Flags().String("consumer", "", "consumer name (default host-pid)")
	cmd.Flags().Int("batch-size", 0, "rows per warehouse write")
	return cmd
}

func run(ctx context.Context, cfg *common.Config, log *slog.Logger) error {
	tp, stopTelemetry, err := common.StartTelemetry(ctx, cfg.Telemetry, log)
	if err != nil {
		return err
	}
	defer stopTelemetry.Close()

	w, closeWriter, err := common.OpenWriter(ctx, cfg.Warehouse, log)
	if err != nil {
		return fmt.Errorf("open warehouse: %w", err)
	}
	defer closeWriter.Close()

	rec, closeAudit, err := common.OpenAudit(cfg.Audit, log)
	if err != nil {
		return err
	}
	defer closeAudit.Close()

	dest := cfg.Warehouse.Destination()
	wk, err := worker.New(cfg.Stream, w, dest, log)
	if err != nil {
		return err
	}
	wk.OnFlush = func(ctx context.Context, rows int) {
		tp.Reports.RecordIngest(ctx, dest.String(), rows)
		rec.Record(audit.KindLoad, dest.String(), map[string]string{"stream": cfg.Stream.Stream, "rows": strconv.Itoa(rows)})
	}
	return wk.Run(ctx)
}
