package abtest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuihairu/abmetrics/internal/analytics/orders"
)

// TableSource hands out the orders table snapshot an Engine aggregates.
type TableSource interface {
	Table(ctx context.Context) (*orders.Table, error)
}

// StaticSource serves a fixed table.
type StaticSource struct{ T *orders.Table }

func (s StaticSource) Table(context.Context) (*orders.Table, error) {
	if s.T == nil {
		return nil, fmt.Errorf("abtest: static source has no table")
	}
	return s.T, nil
}

// Engine runs aggregations over the table of its source. It holds no
// mutable state; concurrent calls are safe when the source is.
type Engine struct {
	src TableSource
	log *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// New returns an engine reading from src.
func New(src TableSource, opts ...Option) *Engine {
	e := &Engine{src: src, log: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) table(ctx context.Context) (*orders.Table, error) {
	t, err := e.src.Table(ctx)
	if err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}
	return t, nil
}

// Revenue runs AggregateRevenue on the source table.
func (e *Engine) Revenue(ctx context.Context, groupCols []string, cities CitySet) (*SummaryTable, error) {
	t, err := e.table(ctx)
	if err != nil {
		return nil, err
	}
	e.log.Debug("abtest revenue", "group_by", groupCols, "cities", len(cities), "rows", t.Len())
	return AggregateRevenue(t, groupCols, cities)
}

// PriceRange runs AggregatePriceRange on the source table.
func (e *Engine) PriceRange(ctx context.Context, cities CitySet) (*SummaryTable, error) {
	t, err := e.table(ctx)
	if err != nil {
		return nil, err
	}
	e.log.Debug("abtest price range", "cities", len(cities), "rows", t.Len())
	return AggregatePriceRange(t, cities)
}

// DeliveryTime runs AggregateDeliveryTime on the source table.
func (e *Engine) DeliveryTime(ctx context.Context, cities CitySet) (*SummaryTable, error) {
	t, err := e.table(ctx)
	if err != nil {
		return nil, err
	}
	e.log.Debug("abtest delivery time", "cities", len(cities), "rows", t.Len())
	return AggregateDeliveryTime(t, cities)
}

// Engagement runs CountCustomersByOrderThreshold on the source table.
func (e *Engine) Engagement(ctx context.Context, groupCols []string, cities CitySet, th Threshold) (*EngagementTable, error) {
	t, err := e.table(ctx)
	if err != nil {
		return nil, err
	}
	e.log.Debug("abtest engagement", "threshold", th.String(), "group_by", groupCols, "cities", len(cities))
	return CountCustomersByOrderThreshold(t, groupCols, cities, th)
}

// EngagementByPriceRange runs CountCustomersByPriceRange on the source table.
func (e *Engine) EngagementByPriceRange(ctx context.Context, cities CitySet, th Threshold) (*EngagementTable, error) {
	t, err := e.table(ctx)
	if err != nil {
		return nil, err
	}
	return CountCustomersByPriceRange(t, cities, th)
}

// EngagementByDeliveryTime runs CountCustomersByDeliveryTime on the source
// table.
func (e *Engine) EngagementByDeliveryTime(ctx context.Context, cities CitySet, th Threshold) (*EngagementTable, error) {
	t, err := e.table(ctx)
	if err != nil {
		return nil, err
	}
	return CountCustomersByDeliveryTime(t, cities, th)
}
