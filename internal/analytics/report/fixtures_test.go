package report

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/cuihairu/abmetrics/internal/analytics/abtest"
	"github.com/cuihairu/abmetrics/internal/analytics/orders"
)

func row(id, customer, cohort, city, tier, amount string, minutes float64) orders.Row {
	created := time.Date(2019, 1, 10, 12, 0, 0, 0, time.UTC)
	return orders.Row{
		OrderID:        id,
		OrderCreatedAt: created,
		OrderMonth:     orders.MonthOf(created),
		Amount:         decimal.RequireFromString(amount),
		CustomerID:     customer,
		IsTarget:       cohort,
		MerchantCity:   city,
		PriceRange:     tier,
		DeliveryTime:   minutes,
	}
}

// smallTable: target has one customer with two orders in Recife, control
// has one order in Recife and one in Salvador.
func smallTable() *orders.Table {
	const T, C = orders.CohortTarget, orders.CohortControl
	return orders.NewTable([]orders.Row{
		row("o1", "c1", T, "Recife", "tier1", "10.00", 10),
		row("o2", "c1", T, "Recife", "tier1", "20.00", 20),
		row("o3", "c2", C, "Recife", "tier2", "30.00", 30),
		row("o4", "c3", C, "Salvador", "tier1", "40.00", 40),
	})
}

func testEngine() *abtest.Engine {
	return abtest.New(abtest.StaticSource{T: smallTable()})
}
