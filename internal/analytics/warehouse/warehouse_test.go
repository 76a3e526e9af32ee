package warehouse

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	clickhouse "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuihairu/abmetrics/internal/analytics/orders"
	"github.com/cuihairu/abmetrics/internal/db"
)

func sale(id, customer, cohort, amount string, snapshot time.Time) SaleRecord {
	dt := 30.0
	return SaleRecord{
		OrderID:          id,
		OrderCreatedAt:   time.Date(2019, 1, 15, 12, 0, 0, 0, time.UTC),
		OrderTotalAmount: decimal.RequireFromString(amount),
		CustomerID:       customer,
		CustomerName:     "name-" + customer,
		IsTarget:         cohort,
		MerchantCity:     "Recife",
		PriceRange:       "tier1",
		DeliveryTime:     &dt,
		Items:            []byte(`[{"name":"x","quantity":1}]`),
		InsertDate:       snapshot,
	}
}

func TestChunk(t *testing.T) {
	rows := []int{1, 2, 3, 4, 5}
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, Chunk(rows, 2))
	assert.Equal(t, [][]int{{1, 2, 3, 4, 5}}, Chunk(rows, 0))
	assert.Equal(t, [][]int{{1, 2, 3, 4, 5}}, Chunk(rows, 10))
	assert.Nil(t, Chunk([]int{}, 3))

	assert.Equal(t, 7, WriteOptions{}.size(7))
	assert.Equal(t, DefaultChunkSize, WriteOptions{UseChunks: true}.size(7))
	assert.Equal(t, 3, WriteOptions{UseChunks: true, ChunkSize: 3}.size(7))
}

func TestDestinationValidate(t *testing.T) {
	require.NoError(t, Destination{Dataset: "gold", Table: "sales"}.Validate())
	require.NoError(t, Destination{Table: "sales"}.Validate())
	require.Error(t, Destination{Table: ""}.Validate())
	require.Error(t, Destination{Dataset: "gold; DROP", Table: "sales"}.Validate())
	assert.Equal(t, "gold.sales", Destination{Dataset: "gold", Table: "sales"}.String())
}

func TestCacheLoadsOnce(t *testing.T) {
	var calls atomic.Int32
	want := orders.NewTable(nil)
	c := NewCache(SourceFunc(func(context.Context) (*orders.Table, error) {
		calls.Add(1)
		time.Sleep(5 * time.Millisecond)
		return want, nil
	}))
	require.False(t, c.Loaded())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.Table(context.Background())
			assert.NoError(t, err)
			assert.Same(t, want, got)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, calls.Load())
	assert.True(t, c.Loaded())
}

func TestCacheDoesNotStoreFailure(t *testing.T) {
	boom := errors.New("warehouse down")
	var calls int
	c := NewCache(SourceFunc(func(context.Context) (*orders.Table, error) {
		calls++
		if calls == 1 {
			return nil, boom
		}
		return orders.NewTable(nil), nil
	}))
	_, err := c.Table(context.Background())
	require.ErrorIs(t, err, boom)
	require.False(t, c.Loaded())

	got, err := c.Table(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, calls)
}

func TestToRowMissingDeliveryTime(t *testing.T) {
	r := sale("o1", "c1", orders.CohortTarget, "10.00", time.Now())
	r.DeliveryTime = nil
	active := true
	r.CustomerActive = &active
	row := r.ToRow()
	assert.False(t, row.HasDeliveryTime())
	assert.Equal(t, "2019-01-01", row.OrderMonth.Format(orders.MonthLayout))
	v, ok := row.Value(orders.ColCustomerActive)
	require.True(t, ok)
	assert.Equal(t, "true", v)
	v, _ = row.Value(orders.ColMerchantEnabled)
	assert.Equal(t, "", v)
}

func TestBuildTableDropsOtherCohortsAndKeepsMax(t *testing.T) {
	d := time.Date(2019, 2, 1, 0, 0, 0, 0, time.UTC)
	tbl := BuildTable([]SaleRecord{
		sale("o1", "c1", orders.CohortTarget, "10.00", d),
		sale("o1", "c1", orders.CohortTarget, "12.50", d),
		sale("o2", "c2", "holdout", "99.00", d),
		sale("o3", "c2", orders.CohortControl, "5.00", d),
	})
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, "12.5", tbl.Value(0, orders.ColAmount))
	assert.Equal(t, "o3", tbl.Value(1, orders.ColOrderID))
	assert.True(t, tbl.HasColumn(orders.ColOriginPlatform))
}

func openTestDB(t *testing.T) *GormWriter {
	t.Helper()
	g, err := db.Open("file:" + filepath.ToSlash(filepath.Join(t.TempDir(), "wh.db")))
	require.NoError(t, err)
	return NewGormWriter(g, nil)
}

func TestGormWriteThenLoadLatestSnapshot(t *testing.T) {
	w := openTestDB(t)
	ctx := context.Background()
	dest := Destination{Dataset: "gold", Table: "sales"}
	old := time.Date(2019, 2, 1, 0, 0, 0, 0, time.UTC)
	latest := time.Date(2019, 3, 1, 0, 0, 0, 0, time.UTC)

	n, err := w.Write(ctx, dest, []SaleRecord{
		sale("o0", "c9", orders.CohortTarget, "500.00", old),
	}, WriteOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	recs := []SaleRecord{
		sale("o1", "c1", orders.CohortTarget, "10.00", latest),
		sale("o1", "c1", orders.CohortTarget, "12.50", latest),
		sale("o2", "c2", orders.CohortControl, "20.00", latest),
		sale("o3", "c3", "holdout", "1.00", latest),
		sale("o4", "c2", orders.CohortControl, "7.25", latest),
	}
	n, err = w.Write(ctx, dest, recs, WriteOptions{UseChunks: true, ChunkSize: 2})
	require.NoError(t, err)
	require.Equal(t, len(recs), n)

	src := NewGormSource(w.db, dest, nil)
	tbl, err := src.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, tbl.Len())

	amounts := map[string]string{}
	for i := 0; i < tbl.Len(); i++ {
		r := tbl.Row(i)
		amounts[r.OrderID] = r.Amount.StringFixed(2)
		assert.True(t, r.HasDeliveryTime())
	}
	assert.Equal(t, map[string]string{"o1": "12.50", "o2": "20.00", "o4": "7.25"}, amounts)
}

func TestGormWriterRejectsBadDestination(t *testing.T) {
	w := openTestDB(t)
	_, err := w.Write(context.Background(), Destination{Table: "sales x"}, nil, WriteOptions{})
	require.Error(t, err)
}

func TestIsAlreadyExists(t *testing.T) {
	assert.True(t, isAlreadyExists(fmt.Errorf("create: %w", &clickhouse.Exception{Code: 57})))
	assert.True(t, isAlreadyExists(&clickhouse.Exception{Code: 82}))
	assert.False(t, isAlreadyExists(&clickhouse.Exception{Code: 60}))
	assert.False(t, isAlreadyExists(errors.New("plain")))
}

func TestSnapshotQuery(t *testing.T) {
	q := snapshotQuery(Destination{Dataset: "gold", Table: "sales"})
	assert.Contains(t, q, "max(order_total_amount) AS amount")
	assert.Contains(t, q, "(SELECT max(insert_date) FROM gold.sales)")
	assert.Contains(t, q, "is_target IN ('target', 'control')")
	assert.Contains(t, q, "GROUP BY order_id, order_created_at")
}
