package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/cuihairu/abmetrics"

// Attribute keys attached to report spans and metrics.
const (
	ReportNameKey = attribute.Key("report.name")
	ReportKindKey = attribute.Key("report.kind")
	RunIDKey      = attribute.Key("report.run_id")
	RowsKey       = attribute.Key("report.rows")
	TableKey      = attribute.Key("warehouse.table")
)

// ReportTracer records one span plus duration, row and error metrics per
// computed report, and row counts for ingestion.
type ReportTracer struct {
	tracer trace.Tracer

	runs     metric.Int64Counter
	errors   metric.Int64Counter
	rows     metric.Int64Histogram
	duration metric.Float64Histogram
	ingested metric.Int64Counter
}

// NewReportTracer creates the instruments on meter.
func NewReportTracer(tracer trace.Tracer, meter metric.Meter) (*ReportTracer, error) {
	t := &ReportTracer{tracer: tracer}
	var err error
	if t.runs, err = meter.Int64Counter("abmetrics.reports",
		metric.WithDescription("Reports computed")); err != nil {
		return nil, err
	}
	if t.errors, err = meter.Int64Counter("abmetrics.report.errors",
		metric.WithDescription("Reports that failed")); err != nil {
		return nil, err
	}
	if t.rows, err = meter.Int64Histogram("abmetrics.report.rows",
		metric.WithDescription("Rows per report")); err != nil {
		return nil, err
	}
	if t.duration, err = meter.Float64Histogram("abmetrics.report.duration",
		metric.WithDescription("Report computation time"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if t.ingested, err = meter.Int64Counter("abmetrics.ingest.rows",
		metric.WithDescription("Sales rows written to the warehouse")); err != nil {
		return nil, err
	}
	return t, nil
}

// ReportSpan tracks one report computation.
type ReportSpan struct {
	t     *ReportTracer
	span  trace.Span
	attrs []attribute.KeyValue
	start time.Time
}

// StartReport opens a span for the named report.
func (t *ReportTracer) StartReport(ctx context.Context, runID, name, kind string) (context.Context, *ReportSpan) {
	attrs := []attribute.KeyValue{ReportNameKey.String(name), ReportKindKey.String(kind)}
	ctx, span := t.tracer.Start(ctx, "report "+name,
		trace.WithAttributes(append(attrs, RunIDKey.String(runID))...),
	)
	return ctx, &ReportSpan{t: t, span: span, attrs: attrs, start: time.Now()}
}

// End closes the span, recording rows on success or err on failure.
func (s *ReportSpan) End(ctx context.Context, rows int, err error) {
	set := metric.WithAttributes(s.attrs...)
	s.t.duration.Record(ctx, time.Since(s.start).Seconds(), set)
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
		s.t.errors.Add(ctx, 1, set)
	} else {
		s.span.SetAttributes(RowsKey.Int(rows))
		s.span.SetStatus(codes.Ok, "")
		s.t.runs.Add(ctx, 1, set)
		s.t.rows.Record(ctx, int64(rows), set)
	}
	s.span.End()
}

// RecordIngest counts rows written to table.
func (t *ReportTracer) RecordIngest(ctx context.Context, table string, rows int) {
	t.ingested.Add(ctx, int64(rows), metric.WithAttributes(TableKey.String(table)))
}
