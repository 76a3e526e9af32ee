package abtest

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/cuihairu/abmetrics/internal/analytics/orders"
)

// Output columns of a summary table.
const (
	ColOrders          = "orders"
	ColUniqueCustomers = "unique_customers"
	ColRevenue         = "revenue"
	ColTKM             = "TKM"
	ColARPU            = "ARPU"
	ColTotalRevenue    = "total_revenue"
	ColTotalOrders     = "total_orders"
	ColTotalCustomers  = "total_customers"
)

// SummaryRow holds the metrics of one (cohort, group key) pair.
type SummaryRow struct {
	Cohort          string
	Keys            []string
	Orders          int
	UniqueCustomers int
	Revenue         decimal.Decimal
	TKM             decimal.Decimal
	ARPU            decimal.Decimal
	TotalRevenue    decimal.Decimal
	TotalOrders     int
	TotalCustomers  int
}

// SummaryTable is the result of a revenue aggregation. Keys of every row
// line up with GroupColumns.
type SummaryTable struct {
	GroupColumns []string
	Rows         []SummaryRow
}

// Find returns the row for cohort and key values, or nil.
func (s *SummaryTable) Find(cohort string, keys ...string) *SummaryRow {
	k := joinKey(keys...)
	for i := range s.Rows {
		if s.Rows[i].Cohort == cohort && joinKey(s.Rows[i].Keys...) == k {
			return &s.Rows[i]
		}
	}
	return nil
}

// Columns returns the header of the tabular form.
func (s *SummaryTable) Columns() []string {
	cols := append([]string{orders.ColIsTarget}, s.GroupColumns...)
	return append(cols, ColOrders, ColUniqueCustomers, ColRevenue, ColTKM, ColARPU,
		ColTotalRevenue, ColTotalOrders, ColTotalCustomers)
}

// Len returns the number of rows.
func (s *SummaryTable) Len() int { return len(s.Rows) }

// Record returns row i as strings in Columns order.
func (s *SummaryTable) Record(i int) []string {
	r := s.Rows[i]
	out := append([]string{r.Cohort}, r.Keys...)
	return append(out,
		strconv.Itoa(r.Orders),
		strconv.Itoa(r.UniqueCustomers),
		r.Revenue.String(),
		r.TKM.StringFixed(2),
		r.ARPU.StringFixed(2),
		r.TotalRevenue.String(),
		strconv.Itoa(r.TotalOrders),
		strconv.Itoa(r.TotalCustomers),
	)
}

type revenueGroup struct {
	cohort    string
	keys      []string
	orders    map[string]struct{}
	customers map[string]struct{}
	revenue   decimal.Decimal
}

type windowTotal struct {
	revenue   decimal.Decimal
	orders    int
	customers int
}

// AggregateRevenue computes orders, unique customers, revenue, TKM and ARPU
// per cohort and groupCols over the rows that pass cities, plus window
// totals per group key across both cohorts.
func AggregateRevenue(t *orders.Table, groupCols []string, cities CitySet) (*SummaryTable, error) {
	v := newView(t, cities)
	return aggregateRevenue(v, groupCols)
}

// AggregatePriceRange is AggregateRevenue grouped by price_range.
func AggregatePriceRange(t *orders.Table, cities CitySet) (*SummaryTable, error) {
	return AggregateRevenue(t, []string{orders.ColPriceRange}, cities)
}

// AggregateDeliveryTime buckets delivery_time into quartiles of the filtered
// rows and aggregates by delivery_time_category.
func AggregateDeliveryTime(t *orders.Table, cities CitySet) (*SummaryTable, error) {
	v := newView(t, cities)
	if _, err := deriveDeliveryCategory(v); err != nil {
		return nil, err
	}
	return aggregateRevenue(v, []string{orders.ColDeliveryTimeCategory})
}

func aggregateRevenue(v *view, groupCols []string) (*SummaryTable, error) {
	if err := validateGroupColumns(v, groupCols); err != nil {
		return nil, err
	}
	groupCols = append([]string(nil), groupCols...)

	groups := newGroupIndex[*revenueGroup]()
	for p := 0; p < v.len(); p++ {
		r := v.row(p)
		keys := keyValues(v, p, groupCols)
		g := groups.get(joinKey(append([]string{r.IsTarget}, keys...)...), func() *revenueGroup {
			return &revenueGroup{
				cohort:    r.IsTarget,
				keys:      keys,
				orders:    map[string]struct{}{},
				customers: map[string]struct{}{},
			}
		})
		g.orders[r.OrderID] = struct{}{}
		g.customers[r.CustomerID] = struct{}{}
		g.revenue = g.revenue.Add(r.Amount)
	}

	windows := map[string]*windowTotal{}
	for _, g := range groups.items {
		k := joinKey(g.keys...)
		w := windows[k]
		if w == nil {
			w = &windowTotal{}
			windows[k] = w
		}
		w.revenue = w.revenue.Add(g.revenue)
		w.orders += len(g.orders)
		w.customers += len(g.customers)
	}

	out := &SummaryTable{GroupColumns: groupCols, Rows: make([]SummaryRow, 0, len(groups.items))}
	for _, g := range groups.items {
		n, c := len(g.orders), len(g.customers)
		if n == 0 || c == 0 {
			return nil, fmt.Errorf("%w: cohort=%s keys=%v orders=%d customers=%d",
				ErrDegenerateGroup, g.cohort, g.keys, n, c)
		}
		w := windows[joinKey(g.keys...)]
		out.Rows = append(out.Rows, SummaryRow{
			Cohort:          g.cohort,
			Keys:            g.keys,
			Orders:          n,
			UniqueCustomers: c,
			Revenue:         g.revenue,
			TKM:             ratio(g.revenue, n),
			ARPU:            ratio(g.revenue, c),
			TotalRevenue:    w.revenue,
			TotalOrders:     w.orders,
			TotalCustomers:  w.customers,
		})
	}
	sortRows(out.Rows,
		func(r SummaryRow) string { return r.Cohort },
		func(r SummaryRow) []string { return r.Keys })
	return out, nil
}

// ratio divides and rounds to 2 places, half away from zero.
func ratio(sum decimal.Decimal, n int) decimal.Decimal {
	return sum.DivRound(decimal.NewFromInt(int64(n)), 2)
}
