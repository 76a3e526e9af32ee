package orders

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func raw(id, amount string, attrs map[string]string) Row {
	created := time.Date(2019, 1, 31, 23, 0, 0, 0, time.UTC)
	return Row{
		OrderID:        id,
		OrderCreatedAt: created,
		OrderMonth:     MonthOf(created),
		Amount:         decimal.RequireFromString(amount),
		CustomerID:     "c1",
		IsTarget:       CohortTarget,
		MerchantCity:   "Recife",
		PriceRange:     "2",
		DeliveryTime:   math.NaN(),
		Attrs:          attrs,
	}
}

func TestDedupKeepsMaxAmount(t *testing.T) {
	rows := Dedup([]Row{
		raw("o1", "10.00", nil),
		raw("o2", "5.00", nil),
		raw("o1", "12.30", nil),
		raw("o1", "11.00", nil),
	})
	require.Len(t, rows, 2)
	assert.Equal(t, "o1", rows[0].OrderID)
	assert.True(t, rows[0].Amount.Equal(decimal.RequireFromString("12.30")))
	assert.Equal(t, "o2", rows[1].OrderID)
}

func TestDedupSeparatesDifferentAttributes(t *testing.T) {
	rows := Dedup([]Row{
		raw("o1", "10.00", map[string]string{ColCustomerName: "Ana"}),
		raw("o1", "10.00", map[string]string{ColCustomerName: "Ana Maria"}),
	})
	assert.Len(t, rows, 2)
}

func TestRowValue(t *testing.T) {
	r := raw("o1", "10.50", map[string]string{ColOriginPlatform: "ANDROID"})
	for col, want := range map[string]string{
		ColOrderID:        "o1",
		ColOrderCreatedAt: "2019-01-31T23:00:00Z",
		ColOrderMonth:     "2019-01-01",
		ColAmount:         "10.5",
		ColDeliveryTime:   "",
		ColOriginPlatform: "ANDROID",
	} {
		got, ok := r.Value(col)
		require.True(t, ok, col)
		assert.Equal(t, want, got, col)
	}
	_, ok := r.Value("nope")
	assert.False(t, ok)

	r.DeliveryTime = 42.5
	v, _ := r.Value(ColDeliveryTime)
	assert.Equal(t, "42.5", v)
}

func TestNewTableSchema(t *testing.T) {
	tbl := NewTable([]Row{
		raw("o1", "1", map[string]string{"zeta": "z", ColMerchantID: "m1"}),
	}, ColCustomerName)
	cols := tbl.Columns()
	assert.Equal(t, CoreColumns, cols[:len(CoreColumns)])
	assert.Equal(t, []string{ColCustomerName, ColMerchantID, "zeta"}, cols[len(CoreColumns):])
	assert.True(t, tbl.HasColumn("zeta"))
	assert.False(t, tbl.HasColumn(ColDeliveryTimeCategory))
	assert.Equal(t, "", tbl.Value(0, ColCustomerName))

	var empty *Table
	assert.Equal(t, 0, empty.Len())
	assert.False(t, empty.HasColumn(ColOrderID))
}

func TestMonthOf(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	got := MonthOf(time.Date(2019, 1, 31, 22, 0, 0, 0, loc))
	assert.Equal(t, time.Date(2019, 2, 1, 0, 0, 0, 0, time.UTC), got)
	assert.True(t, IsCohort(CohortControl))
	assert.False(t, IsCohort("holdout"))
}
