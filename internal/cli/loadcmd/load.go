package loadcmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuihairu/abmetrics/internal/analytics/ingest"
	"github.com/cuihairu/abmetrics/internal/analytics/warehouse"
	"github.com/cuihairu/abmetrics/internal/audit"
	"github.com/cuihairu/abmetrics/internal/cli/common"
)

var flagKeys = map[string]string{
	"bucket":     "ingest.bucket",
	"prefix":     "ingest.prefix",
	"chunk-size": "ingest.chunk_size",
	"dataset":    "warehouse.dataset",
	"table":      "warehouse.table",
	"manifest":   "ingest.manifest_dsn",
}

// New returns the `abmetrics load` command.
func New() *cobra.Command {
	var (
		flags      common.ConfigFlags
		insertDate string
		noChunks   bool
	)
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Append exported sales files from a bucket to the warehouse",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, log, err := flags.Resolve(cmd, flagKeys)
			if err != nil {
				return err
			}
			opts := options{noChunks: noChunks}
			if insertDate != "" {
				if opts.insertDate, err = time.Parse(time.DateOnly, insertDate); err != nil {
					return fmt.Errorf("--insert-date: %w", err)
				}
			}
			return run(cmd.Context(), cfg, log, opts, cmd.OutOrStdout())
		},
	}
	flags.Register(cmd)
	cmd.Flags().String("bucket", "", "bucket URL holding sales files (file:///dir, s3://bucket)")
	cmd.Flags().String("prefix", "", "key prefix of sales files")
	cmd.Flags().Int("chunk-size", 0, "rows per write chunk")
	cmd.Flags().String("dataset", "", "destination dataset")
	cmd.Flags().String("table", "", "destination table")
	cmd.Flags().String("manifest", "", "DSN of the loaded-files manifest (skips files already loaded)")
	cmd.Flags().StringVar(&insertDate, "insert-date", "", "snapshot date YYYY-MM-DD (default today, UTC)")
	cmd.Flags().BoolVar(&noChunks, "no-chunks", false, "write each file in a single batch")
	return cmd
}

type options struct {
	insertDate time.Time
	noChunks   bool
}

func run(ctx context.Context, cfg *common.Config, log *slog.Logger, o options, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
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

	manifest, closeManifest, err := common.OpenManifest(cfg.Ingest)
	if err != nil {
		return fmt.Errorf("open manifest: %w", err)
	}
	defer closeManifest.Close()

	dest := cfg.Warehouse.Destination()
	res, err := ingest.NewLoader(w, log).Run(ctx, ingest.Options{
		BucketURL:  cfg.Ingest.Bucket,
		Prefix:     cfg.Ingest.Prefix,
		InsertDate: o.insertDate,
		Dest:       dest,
		Write: warehouse.WriteOptions{
			UseChunks: cfg.Ingest.UseChunks && !o.noChunks,
			ChunkSize: cfg.Ingest.ChunkSize,
		},
		Manifest: manifest,
	})
	tp.Reports.RecordIngest(ctx, dest.String(), res.Rows)
	for _, f := range res.Files {
		switch {
		case f.Err != nil:
			fmt.Fprintf(out, "%s\tskipped\t%v\n", f.Key, f.Err)
		case f.Duplicate:
			fmt.Fprintf(out, "%s\talready loaded\n", f.Key)
		default:
			fmt.Fprintf(out, "%s\t%d rows\t%d malformed\n", f.Key, f.Rows, f.BadLines)
		}
	}
	meta := map[string]string{
		"bucket":  cfg.Ingest.Bucket,
		"files":   strconv.Itoa(len(res.Files)),
		"skipped": strconv.Itoa(len(res.Skipped())),
		"rows":    strconv.Itoa(res.Rows),
	}
	if err != nil {
		meta["error"] = err.Error()
		rec.Record(audit.KindLoad, dest.String(), meta)
		return err
	}
	rec.Record(audit.KindLoad, dest.String(), meta)
	fmt.Fprintf(out, "loaded %d rows into %s\n", res.Rows, dest)
	return nil
}
