package abtest

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cuihairu/abmetrics/internal/analytics/orders"
)

type rowOpt func(*orders.Row)

func inCity(c string) rowOpt    { return func(r *orders.Row) { r.MerchantCity = c } }
func tier(p string) rowOpt      { return func(r *orders.Row) { r.PriceRange = p } }
func delivery(m float64) rowOpt { return func(r *orders.Row) { r.DeliveryTime = m } }
func month(y int, m time.Month) rowOpt {
	return func(r *orders.Row) {
		r.OrderCreatedAt = time.Date(y, m, 14, 19, 30, 0, 0, time.UTC)
		r.OrderMonth = orders.MonthOf(r.OrderCreatedAt)
	}
}
func attr(k, v string) rowOpt {
	return func(r *orders.Row) {
		if r.Attrs == nil {
			r.Attrs = map[string]string{}
		}
		r.Attrs[k] = v
	}
}

func order(id, customer, cohort, amount string, opts ...rowOpt) orders.Row {
	r := orders.Row{
		OrderID:      id,
		CustomerID:   customer,
		IsTarget:     cohort,
		Amount:       decimal.RequireFromString(amount),
		MerchantCity: "Sao Paulo",
		PriceRange:   "3",
		DeliveryTime: math.NaN(),
	}
	month(2019, time.January)(&r)
	for _, o := range opts {
		o(&r)
	}
	return r
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// mixedTable spreads two cohorts over two cities, three price tiers and a
// range of delivery times, with customers at 1..5 orders.
func mixedTable() *orders.Table {
	const T, C = orders.CohortTarget, orders.CohortControl
	rows := []orders.Row{
		order("o1", "c1", T, "35.50", inCity("Sao Paulo"), tier("1"), delivery(12)),
		order("o2", "c1", T, "20.00", inCity("Sao Paulo"), tier("1"), delivery(18)),
		order("o3", "c2", T, "99.90", inCity("Recife"), tier("3"), delivery(45)),
		order("o4", "c2", T, "15.00", inCity("Recife"), tier("3"), delivery(30)),
		order("o5", "c2", T, "42.10", inCity("Recife"), tier("3"), delivery(61)),
		order("o6", "c3", T, "10.00", inCity("Sao Paulo"), tier("5"), delivery(25), month(2018, time.December)),
		order("o7", "c4", T, "12.00", inCity("Sao Paulo"), tier("1"), delivery(22)),
		order("o8", "c4", T, "13.00", inCity("Sao Paulo"), tier("1"), delivery(35)),
		order("o9", "c4", T, "14.00", inCity("Sao Paulo"), tier("1"), delivery(40)),
		order("o10", "c4", T, "15.00", inCity("Sao Paulo"), tier("1"), delivery(50)),
		order("o11", "c5", C, "80.00", inCity("Sao Paulo"), tier("3"), delivery(28)),
		order("o12", "c5", C, "70.00", inCity("Sao Paulo"), tier("3"), delivery(33)),
		order("o13", "c6", C, "25.25", inCity("Recife"), tier("1"), delivery(19)),
		order("o14", "c7", C, "60.00", inCity("Recife"), tier("5"), delivery(55), month(2018, time.December)),
		order("o15", "c7", C, "61.00", inCity("Recife"), tier("5"), delivery(58), month(2018, time.December)),
		order("o16", "c7", C, "62.00", inCity("Recife"), tier("5"), delivery(70), month(2018, time.December)),
		order("o17", "c1", C, "18.00", inCity("Sao Paulo"), tier("1"), delivery(15)),
	}
	return orders.NewTable(rows, orders.ColOriginPlatform)
}
