package abtest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cuihairu/abmetrics/internal/analytics/orders"
)

// CompareOp is the comparison applied to a customer's order count.
type CompareOp int

const (
	OpEqual CompareOp = iota + 1
	OpGreater
)

// Threshold selects customers by their per-group order count. Label is the
// output column name.
type Threshold struct {
	Label string
	Op    CompareOp
	Count int
}

var (
	Exactly2  = Threshold{Label: "customers_with_2_orders", Op: OpEqual, Count: 2}
	Exactly3  = Threshold{Label: "customers_with_3_orders", Op: OpEqual, Count: 3}
	MoreThan3 = Threshold{Label: "customers_with_3_plus_orders", Op: OpGreater, Count: 3}

	// LegacyPriceRangeExactly3 reproduces the historical price-range
	// "three orders" report, which selected customers with exactly two
	// orders under the three-orders label.
	LegacyPriceRangeExactly3 = Threshold{Label: "customers_with_3_orders", Op: OpEqual, Count: 2}
)

var thresholdNames = map[string]Threshold{
	"exactly_2":                    Exactly2,
	"exactly_3":                    Exactly3,
	"more_than_3":                  MoreThan3,
	"legacy_price_range_exactly_3": LegacyPriceRangeExactly3,
}

// ParseThreshold resolves a threshold by name: exactly_2, exactly_3,
// more_than_3 or legacy_price_range_exactly_3.
func ParseThreshold(name string) (Threshold, error) {
	th, ok := thresholdNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Threshold{}, fmt.Errorf("abtest: unknown threshold %q", name)
	}
	return th, nil
}

// Match reports whether a customer with n orders qualifies.
func (th Threshold) Match(n int) bool {
	switch th.Op {
	case OpEqual:
		return n == th.Count
	case OpGreater:
		return n > th.Count
	}
	return false
}

func (th Threshold) String() string {
	switch th.Op {
	case OpEqual:
		return fmt.Sprintf("%s(count == %d)", th.Label, th.Count)
	case OpGreater:
		return fmt.Sprintf("%s(count > %d)", th.Label, th.Count)
	}
	return th.Label
}

// EngagementRow counts qualifying customers of one (cohort, group key) pair.
type EngagementRow struct {
	Cohort    string
	Keys      []string
	Customers int
}

// EngagementTable is the result of a repeat-purchase count.
type EngagementTable struct {
	GroupColumns []string
	Threshold    Threshold
	Rows         []EngagementRow
}

// Find returns the row for cohort and key values, or nil.
func (e *EngagementTable) Find(cohort string, keys ...string) *EngagementRow {
	k := joinKey(keys...)
	for i := range e.Rows {
		if e.Rows[i].Cohort == cohort && joinKey(e.Rows[i].Keys...) == k {
			return &e.Rows[i]
		}
	}
	return nil
}

// Columns returns the header of the tabular form.
func (e *EngagementTable) Columns() []string {
	cols := append([]string{orders.ColIsTarget}, e.GroupColumns...)
	return append(cols, e.Threshold.Label)
}

// Len returns the number of rows.
func (e *EngagementTable) Len() int { return len(e.Rows) }

// Record returns row i as strings in Columns order.
func (e *EngagementTable) Record(i int) []string {
	r := e.Rows[i]
	out := append([]string{r.Cohort}, r.Keys...)
	return append(out, strconv.Itoa(r.Customers))
}

type engagementGroup struct {
	cohort    string
	keys      []string
	customers map[string]struct{}
}

type customerCount struct {
	group    *engagementGroup
	customer string
	n        int
}

// CountCustomersByOrderThreshold counts, per cohort and groupCols, the
// distinct customers whose row count within that group satisfies th.
// Every (cohort, key) pair present after filtering is reported, with zero
// when nobody qualifies.
func CountCustomersByOrderThreshold(t *orders.Table, groupCols []string, cities CitySet, th Threshold) (*EngagementTable, error) {
	return countByThreshold(newView(t, cities), groupCols, th)
}

// CountCustomersByPriceRange is CountCustomersByOrderThreshold grouped by
// price_range.
func CountCustomersByPriceRange(t *orders.Table, cities CitySet, th Threshold) (*EngagementTable, error) {
	return CountCustomersByOrderThreshold(t, []string{orders.ColPriceRange}, cities, th)
}

// CountCustomersByDeliveryTime buckets delivery_time over the filtered rows
// and counts by delivery_time_category.
func CountCustomersByDeliveryTime(t *orders.Table, cities CitySet, th Threshold) (*EngagementTable, error) {
	v := newView(t, cities)
	if _, err := deriveDeliveryCategory(v); err != nil {
		return nil, err
	}
	return countByThreshold(v, []string{orders.ColDeliveryTimeCategory}, th)
}

func countByThreshold(v *view, groupCols []string, th Threshold) (*EngagementTable, error) {
	if th.Op != OpEqual && th.Op != OpGreater {
		return nil, fmt.Errorf("abtest: threshold %q has no comparison", th.Label)
	}
	if err := validateGroupColumns(v, groupCols); err != nil {
		return nil, err
	}
	groupCols = append([]string(nil), groupCols...)

	// Phase 1: raw row count per (cohort, customer, key). Duplicate rows of
	// one order count more than once.
	groups := newGroupIndex[*engagementGroup]()
	counts := newGroupIndex[*customerCount]()
	for p := 0; p < v.len(); p++ {
		r := v.row(p)
		keys := keyValues(v, p, groupCols)
		gk := joinKey(append([]string{r.IsTarget}, keys...)...)
		g := groups.get(gk, func() *engagementGroup {
			return &engagementGroup{cohort: r.IsTarget, keys: keys, customers: map[string]struct{}{}}
		})
		c := counts.get(joinKey(gk, r.CustomerID), func() *customerCount {
			return &customerCount{group: g, customer: r.CustomerID}
		})
		c.n++
	}

	// Phase 2: distinct qualifying customers per (cohort, key).
	for _, c := range counts.items {
		if th.Match(c.n) {
			c.group.customers[c.customer] = struct{}{}
		}
	}

	out := &EngagementTable{GroupColumns: groupCols, Threshold: th, Rows: make([]EngagementRow, 0, len(groups.items))}
	for _, g := range groups.items {
		out.Rows = append(out.Rows, EngagementRow{Cohort: g.cohort, Keys: g.keys, Customers: len(g.customers)})
	}
	sortRows(out.Rows,
		func(r EngagementRow) string { return r.Cohort },
		func(r EngagementRow) []string { return r.Keys })
	return out, nil
}
