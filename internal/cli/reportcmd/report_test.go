package reportcmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuihairu/abmetrics/internal/analytics/warehouse"
	"github.com/cuihairu/abmetrics/internal/audit"
	"github.com/cuihairu/abmetrics/internal/cli/common"
	"github.com/cuihairu/abmetrics/internal/db"
)

func seed(t *testing.T, dsn string) {
	t.Helper()
	g, err := db.Open(dsn)
	require.NoError(t, err)
	snap := time.Date(2019, 2, 1, 0, 0, 0, 0, time.UTC)
	mk := func(id, customer, cohort, amount string) warehouse.SaleRecord {
		dt := 25.0
		return warehouse.SaleRecord{
			OrderID: id, CustomerID: customer, IsTarget: cohort,
			OrderCreatedAt:   time.Date(2019, 1, 20, 12, 0, 0, 0, time.UTC),
			OrderTotalAmount: decimal.RequireFromString(amount),
			MerchantCity:     "Recife", PriceRange: "2", DeliveryTime: &dt,
			InsertDate: snap,
		}
	}
	_, err = warehouse.NewGormWriter(g, nil).Write(context.Background(),
		warehouse.Destination{Dataset: "gold", Table: "sales"},
		[]warehouse.SaleRecord{
			mk("o1", "c1", "target", "10.00"),
			mk("o2", "c1", "target", "20.00"),
			mk("o3", "c2", "control", "30.00"),
		}, warehouse.WriteOptions{})
	require.NoError(t, err)
	sqlDB, _ := g.DB()
	require.NoError(t, sqlDB.Close())
}

func TestReportCommandEndToEnd(t *testing.T) {
	dir := t.TempDir()
	dsn := "file:" + filepath.ToSlash(filepath.Join(dir, "wh.db"))
	seed(t, dsn)

	plan := filepath.Join(dir, "plan.yaml")
	require.NoError(t, os.WriteFile(plan, []byte("reports:\n  - {name: revenue, kind: revenue}\n  - {name: repeat, kind: engagement, threshold: exactly_2}\n"), 0o644))
	ledger := filepath.Join(dir, "audit", "runs.jsonl")
	cfgPath := filepath.Join(dir, "abmetrics.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("warehouse:\n  driver: sql\n  dsn: \""+dsn+"\"\nlog:\n  level: error\naudit:\n  path: \""+filepath.ToSlash(ledger)+"\"\n  actor: ci\n"), 0o644))

	out := filepath.Join(dir, "out")
	cmd := New()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"--config", cfgPath, "--plan", plan, "--format", "csv", "--out", out})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	text := stdout.String()
	assert.Contains(t, text, "target,2,1,30,15.00,30.00,60,3,2")
	assert.Contains(t, text, "customers_with_2_orders")

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	names := []string{entries[0].Name(), entries[1].Name()}
	for _, n := range names {
		assert.True(t, strings.HasSuffix(n, ".csv"), n)
	}

	n, err := audit.VerifyFile(ledger)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunRejectsBadFormat(t *testing.T) {
	cfg := &common.Config{}
	cfg.Report.Format = "xml"
	err := run(context.Background(), cfg, common.NewLogger(&bytes.Buffer{}, "error", "console"), options{})
	require.Error(t, err)
}

func TestWatchNeedsPlanFile(t *testing.T) {
	cfg := &common.Config{}
	err := run(context.Background(), cfg, common.NewLogger(&bytes.Buffer{}, "error", "console"), options{watch: true})
	require.ErrorContains(t, err, "plan file")
}
