package orders

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Column names of the orders table.
const (
	ColOrderID              = "order_id"
	ColOrderCreatedAt       = "order_created_at"
	ColOrderMonth           = "order_month"
	ColAmount               = "amount"
	ColCustomerID           = "customer_id"
	ColIsTarget             = "is_target"
	ColMerchantCity         = "merchant_city"
	ColPriceRange           = "price_range"
	ColDeliveryTime         = "delivery_time"
	ColDeliveryTimeCategory = "delivery_time_category"
)

// Descriptive columns carried in Row.Attrs. They never take part in the
// metrics but can be used as grouping dimensions.
const (
	ColCustomerName            = "customer_name"
	ColCustomerCreatedAt       = "customer_created_at"
	ColCustomerActive          = "customer_active"
	ColDeliveryAddressDistrict = "delivery_address_district"
	ColDeliveryAddressCity     = "delivery_address_city"
	ColDeliveryAddressState    = "delivery_address_state"
	ColMerchantID              = "merchant_id"
	ColMerchantEnabled         = "merchant_enabled"
	ColAverageTicket           = "average_ticket"
	ColMinimumOrderValue       = "minimum_order_value"
	ColOriginPlatform          = "origin_platform"
)

// Cohort labels of the A/B split.
const (
	CohortTarget  = "target"
	CohortControl = "control"
)

// MonthLayout formats order_month values.
const MonthLayout = "2006-01-02"

// IsCohort reports whether s is one of the two cohort labels.
func IsCohort(s string) bool { return s == CohortTarget || s == CohortControl }

// CoreColumns are always present in a Table schema.
var CoreColumns = []string{
	ColOrderID, ColOrderCreatedAt, ColOrderMonth, ColAmount, ColCustomerID,
	ColIsTarget, ColMerchantCity, ColPriceRange, ColDeliveryTime,
}

// Row is one order after dedup.
type Row struct {
	OrderID        string
	OrderCreatedAt time.Time
	OrderMonth     time.Time
	Amount         decimal.Decimal
	CustomerID     string
	IsTarget       string
	MerchantCity   string
	PriceRange     string
	// DeliveryTime in minutes; NaN when the warehouse had no value.
	DeliveryTime float64
	Attrs        map[string]string
}

// MonthOf truncates t to the first day of its month in UTC.
func MonthOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// HasDeliveryTime reports whether the row carries a delivery time.
func (r *Row) HasDeliveryTime() bool { return !math.IsNaN(r.DeliveryTime) }

// Value returns the textual value of column col and whether the column is
// known for this row.
func (r *Row) Value(col string) (string, bool) {
	switch col {
	case ColOrderID:
		return r.OrderID, true
	case ColOrderCreatedAt:
		if r.OrderCreatedAt.IsZero() {
			return "", true
		}
		return r.OrderCreatedAt.UTC().Format(time.RFC3339), true
	case ColOrderMonth:
		if r.OrderMonth.IsZero() {
			return "", true
		}
		return r.OrderMonth.Format(MonthLayout), true
	case ColAmount:
		return r.Amount.String(), true
	case ColCustomerID:
		return r.CustomerID, true
	case ColIsTarget:
		return r.IsTarget, true
	case ColMerchantCity:
		return r.MerchantCity, true
	case ColPriceRange:
		return r.PriceRange, true
	case ColDeliveryTime:
		if !r.HasDeliveryTime() {
			return "", true
		}
		return strconv.FormatFloat(r.DeliveryTime, 'f', -1, 64), true
	}
	v, ok := r.Attrs[col]
	return v, ok
}

// Table is an immutable snapshot of the orders table. Callers must not
// modify rows obtained through Row.
type Table struct {
	rows   []Row
	schema []string
	index  map[string]struct{}
}

// NewTable builds a table over rows. extra lists descriptive columns beyond
// CoreColumns; attribute keys found on rows are added automatically.
func NewTable(rows []Row, extra ...string) *Table {
	t := &Table{rows: rows, index: map[string]struct{}{}}
	add := func(c string) {
		if _, ok := t.index[c]; ok || c == "" {
			return
		}
		t.index[c] = struct{}{}
		t.schema = append(t.schema, c)
	}
	for _, c := range CoreColumns {
		add(c)
	}
	for _, c := range extra {
		add(c)
	}
	var attrs []string
	seen := map[string]struct{}{}
	for i := range rows {
		for k := range rows[i].Attrs {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				attrs = append(attrs, k)
			}
		}
	}
	sort.Strings(attrs)
	for _, c := range attrs {
		add(c)
	}
	return t
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rows)
}

// Row returns a pointer to row i.
func (t *Table) Row(i int) *Row { return &t.rows[i] }

// Columns returns the schema in order.
func (t *Table) Columns() []string { return append([]string(nil), t.schema...) }

// HasColumn reports whether col is part of the schema.
func (t *Table) HasColumn(col string) bool {
	if t == nil {
		return false
	}
	_, ok := t.index[col]
	return ok
}

// Value returns the textual value of col at row i. Unknown attribute
// columns read as empty strings.
func (t *Table) Value(i int, col string) string {
	v, _ := t.rows[i].Value(col)
	return v
}

// Dedup collapses raw rows that agree on every column but amount into one
// row holding the maximum amount. First-seen order is kept.
func Dedup(rows []Row) []Row {
	out := make([]Row, 0, len(rows))
	pos := make(map[string]int, len(rows))
	for _, r := range rows {
		k := dedupKey(&r)
		if i, ok := pos[k]; ok {
			if r.Amount.GreaterThan(out[i].Amount) {
				out[i].Amount = r.Amount
			}
			continue
		}
		pos[k] = len(out)
		out = append(out, r)
	}
	return out
}

func dedupKey(r *Row) string {
	var b strings.Builder
	for _, c := range CoreColumns {
		if c == ColAmount {
			continue
		}
		v, _ := r.Value(c)
		b.WriteString(v)
		b.WriteByte(0x1f)
	}
	keys := make([]string, 0, len(r.Attrs))
	for k := range r.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(r.Attrs[k])
		b.WriteByte(0x1f)
	}
	return b.String()
}
