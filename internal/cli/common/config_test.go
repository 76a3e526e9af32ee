package common

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuihairu/abmetrics/internal/analytics/report"
)

const baseConfig = `
warehouse:
  driver: sql
  dsn: "file:wh.db"
report:
  format: csv
  concurrency: 2
mq:
  type: kafka
  brokers: ["k1:9092", "k2:9092"]
  timeout: 3s
profiles:
  prod:
    warehouse:
      driver: clickhouse
      dsn: "clickhouse://ch:9000/gold"
    log:
      format: json
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadDecodeWithDefaults(t *testing.T) {
	v, err := Load(writeConfig(t, "abmetrics.yaml", baseConfig), nil, "")
	require.NoError(t, err)
	c, err := Decode(v)
	require.NoError(t, err)

	assert.Equal(t, "sql", c.Warehouse.Driver)
	assert.Equal(t, "gold", c.Warehouse.Dataset)
	assert.Equal(t, "sales", c.Warehouse.Table)
	assert.Equal(t, "csv", c.Report.Format)
	assert.Equal(t, 2, c.Report.Concurrency)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.MQ.Brokers)
	assert.Equal(t, 3*time.Second, c.MQ.Timeout)
	assert.Equal(t, 15*time.Second, c.Stream.FlushInterval)
	assert.Equal(t, 15*time.Minute, c.Storage.SignedURLTTL)
	assert.Equal(t, "info", c.Log.Level)
	require.NoError(t, ValidateConfig(c, false))
}

func TestLoadProfileAndIncludes(t *testing.T) {
	base := writeConfig(t, "abmetrics.yaml", baseConfig)
	inc := writeConfig(t, "local.yaml", "report:\n  out_dir: /tmp/reports\n")
	v, err := Load(base, []string{inc}, "prod")
	require.NoError(t, err)
	c, err := Decode(v)
	require.NoError(t, err)
	assert.Equal(t, "clickhouse", c.Warehouse.Driver)
	assert.Equal(t, "clickhouse://ch:9000/gold", c.Warehouse.DSN)
	assert.Equal(t, "json", c.Log.Format)
	assert.Equal(t, "csv", c.Report.Format)
	assert.Equal(t, "/tmp/reports", c.Report.OutDir)

	_, err = Load(base, nil, "staging")
	assert.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("ABMETRICS_WAREHOUSE_TABLE", "sales_v2")
	t.Setenv("ABMETRICS_REPORT_FORMAT", "json")
	v, err := Load("", nil, "")
	require.NoError(t, err)
	c, err := Decode(v)
	require.NoError(t, err)
	assert.Equal(t, "sales_v2", c.Warehouse.Table)
	assert.Equal(t, "json", c.Report.Format)
}

func TestValidateConfig(t *testing.T) {
	ok := func() *Config {
		v, err := Load("", nil, "")
		require.NoError(t, err)
		c, err := Decode(v)
		require.NoError(t, err)
		return c
	}
	require.NoError(t, ValidateConfig(ok(), true))

	c := ok()
	c.Warehouse.Driver = "bigquery"
	assert.Error(t, ValidateConfig(c, false))

	c = ok()
	c.Warehouse.Driver = "clickhouse"
	assert.Error(t, ValidateConfig(c, false))

	c = ok()
	c.Warehouse.Table = "sales; drop"
	assert.Error(t, ValidateConfig(c, false))

	c = ok()
	c.Report.Format = "xml"
	assert.Error(t, ValidateConfig(c, false))

	c = ok()
	c.Storage.Driver = "oss"
	assert.Error(t, ValidateConfig(c, false))

	c = ok()
	c.MQ.Type = "kafka"
	assert.Error(t, ValidateConfig(c, false))

	c = ok()
	c.Report.Plan = writeConfig(t, "plan.yaml", "reports:\n  - {name: a, kind: nope}\n")
	assert.NoError(t, ValidateConfig(c, false))
	assert.Error(t, ValidateConfig(c, true))
}

func TestOpenSinks(t *testing.T) {
	dir := t.TempDir()
	c := &Config{
		Report: ReportConfig{OutDir: filepath.Join(dir, "out"), Prefix: "reports"},
	}
	c.Storage.Driver = "file"
	c.Storage.BaseDir = filepath.Join(dir, "bucket")
	sinks, closer, err := OpenSinks(context.Background(), c, nil)
	require.NoError(t, err)
	defer closer.Close()
	require.Len(t, sinks, 2)
	assert.IsType(t, report.DirSink{}, sinks[0])
	assert.IsType(t, report.StoreSink{}, sinks[1])
}

func TestOpenSQLSourceAndWriter(t *testing.T) {
	c := WarehouseConfig{Driver: "sql", DSN: "file:" + filepath.ToSlash(filepath.Join(t.TempDir(), "wh.db")), Table: "sales"}
	src, closeSrc, err := OpenSource(context.Background(), c, nil)
	require.NoError(t, err)
	require.NotNil(t, src)
	require.NoError(t, closeSrc.Close())

	w, closeW, err := OpenWriter(context.Background(), c, nil)
	require.NoError(t, err)
	require.NotNil(t, w)
	require.NoError(t, closeW.Close())
}

func TestOpenAuditDisabledRecordsNothing(t *testing.T) {
	rec, closer, err := OpenAudit(AuditConfig{}, nil)
	require.NoError(t, err)
	rec.Record("report.run", "x", nil)
	assert.NoError(t, closer.Close())
}

func TestOpenAuditWritesLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.jsonl")
	rec, closer, err := OpenAudit(AuditConfig{Path: path, Actor: "ci"}, nil)
	require.NoError(t, err)
	rec.Record("report.run", "run-1", map[string]string{"reports": "1"})
	require.NoError(t, closer.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"actor":"ci"`)
	assert.Contains(t, string(b), `"target":"run-1"`)
}

func TestOpenManifest(t *testing.T) {
	m, closer, err := OpenManifest(IngestConfig{})
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.NoError(t, closer.Close())

	m, closer, err = OpenManifest(IngestConfig{ManifestDSN: "file:" + filepath.ToSlash(filepath.Join(t.TempDir(), "m.db"))})
	require.NoError(t, err)
	require.NotNil(t, m)
	require.NoError(t, closer.Close())
}

func TestStrictValidateChecksWarehouseTLS(t *testing.T) {
	c := &Config{Warehouse: WarehouseConfig{Driver: "clickhouse", DSN: "clickhouse://ch:9000/gold", Dataset: "gold", Table: "sales"}}
	c.Warehouse.TLS.Enable = true
	c.Warehouse.TLS.CAFile = filepath.Join(t.TempDir(), "missing.pem")
	assert.NoError(t, ValidateConfig(c, false))
	assert.Error(t, ValidateConfig(c, true))
}
