package abtest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuihairu/abmetrics/internal/analytics/orders"
)

type failingSource struct{ err error }

func (f failingSource) Table(context.Context) (*orders.Table, error) { return nil, f.err }

func TestEngine_StaticSource(t *testing.T) {
	ctx := context.Background()
	e := New(StaticSource{T: mixedTable()})

	s, err := e.Revenue(ctx, []string{orders.ColPriceRange}, NewCitySet("Sao Paulo"))
	require.NoError(t, err)
	requireWindowTotals(t, s)

	s, err = e.PriceRange(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, s.Rows, 6)

	s, err = e.DeliveryTime(ctx, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, s.Rows)

	en, err := e.Engagement(ctx, nil, nil, Exactly2)
	require.NoError(t, err)
	assert.Equal(t, 1, en.Find(orders.CohortTarget).Customers)

	en, err = e.EngagementByPriceRange(ctx, nil, Exactly3)
	require.NoError(t, err)
	assert.Equal(t, 1, en.Find(orders.CohortTarget, "3").Customers)

	_, err = e.EngagementByDeliveryTime(ctx, NewCitySet("nowhere"), Exactly3)
	require.ErrorIs(t, err, ErrEmptyInput)
}

func TestEngine_SourceErrorSurfaces(t *testing.T) {
	boom := errors.New("warehouse down")
	e := New(failingSource{err: boom})
	_, err := e.Revenue(context.Background(), nil, nil)
	require.ErrorIs(t, err, boom)
	_, err = e.Engagement(context.Background(), nil, nil, Exactly2)
	require.ErrorIs(t, err, boom)

	_, err = New(StaticSource{}).PriceRange(context.Background(), nil)
	require.Error(t, err)
}

func TestSummaryTable_Records(t *testing.T) {
	s, err := AggregatePriceRange(mixedTable(), nil)
	require.NoError(t, err)
	require.Equal(t, []string{"is_target", "price_range", "orders", "unique_customers", "revenue", "TKM", "ARPU",
		"total_revenue", "total_orders", "total_customers"}, s.Columns())
	assert.Equal(t, []string{"target", "1", "6", "2", "109.5", "18.25", "54.75", "152.75", "8", "4"}, s.Record(0))
}
