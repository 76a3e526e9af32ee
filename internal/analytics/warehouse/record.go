package warehouse

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/cuihairu/abmetrics/internal/analytics/orders"
)

// SaleRecord is one raw row of the sales table. A single order may appear
// several times; loaders collapse duplicates keeping the maximum amount.
type SaleRecord struct {
	OrderID                 string          `gorm:"column:order_id;size:64;index" json:"order_id"`
	OrderCreatedAt          time.Time       `gorm:"column:order_created_at" json:"order_created_at"`
	OrderTotalAmount        decimal.Decimal `gorm:"column:order_total_amount;type:decimal(14,2)" json:"order_total_amount"`
	CustomerID              string          `gorm:"column:customer_id;size:64;index" json:"customer_id"`
	CustomerName            string          `gorm:"column:customer_name" json:"customer_name"`
	CustomerCreatedAt       *time.Time      `gorm:"column:customer_created_at" json:"customer_created_at"`
	CustomerActive          *bool           `gorm:"column:customer_active" json:"customer_active"`
	IsTarget                string          `gorm:"column:is_target;size:16" json:"is_target"`
	DeliveryAddressDistrict string          `gorm:"column:delivery_address_district" json:"delivery_address_district"`
	DeliveryAddressCity     string          `gorm:"column:delivery_address_city" json:"delivery_address_city"`
	DeliveryAddressState    string          `gorm:"column:delivery_address_state" json:"delivery_address_state"`
	MerchantID              string          `gorm:"column:merchant_id;size:64" json:"merchant_id"`
	MerchantCity            string          `gorm:"column:merchant_city" json:"merchant_city"`
	MerchantEnabled         *bool           `gorm:"column:merchant_enabled" json:"merchant_enabled"`
	PriceRange              string          `gorm:"column:price_range;size:16" json:"price_range"`
	AverageTicket           *float64        `gorm:"column:average_ticket" json:"average_ticket"`
	DeliveryTime            *float64        `gorm:"column:delivery_time" json:"delivery_time"`
	MinimumOrderValue       *float64        `gorm:"column:minimum_order_value" json:"minimum_order_value"`
	OriginPlatform          string          `gorm:"column:origin_platform" json:"origin_platform"`
	Items                   datatypes.JSON  `gorm:"column:items;type:json" json:"items,omitempty"`
	InsertDate              time.Time       `gorm:"column:insert_date;index" json:"insert_date"`
}

// DescriptiveColumns are the pass-through columns a loaded table exposes in
// addition to orders.CoreColumns.
var DescriptiveColumns = []string{
	orders.ColCustomerName,
	orders.ColCustomerCreatedAt,
	orders.ColCustomerActive,
	orders.ColDeliveryAddressDistrict,
	orders.ColDeliveryAddressCity,
	orders.ColDeliveryAddressState,
	orders.ColMerchantID,
	orders.ColMerchantEnabled,
	orders.ColAverageTicket,
	orders.ColMinimumOrderValue,
	orders.ColOriginPlatform,
}

// ToRow converts a raw record into an orders row.
func (r *SaleRecord) ToRow() orders.Row {
	dt := math.NaN()
	if r.DeliveryTime != nil {
		dt = *r.DeliveryTime
	}
	return orders.Row{
		OrderID:        r.OrderID,
		OrderCreatedAt: r.OrderCreatedAt,
		OrderMonth:     orders.MonthOf(r.OrderCreatedAt),
		Amount:         r.OrderTotalAmount,
		CustomerID:     r.CustomerID,
		IsTarget:       r.IsTarget,
		MerchantCity:   r.MerchantCity,
		PriceRange:     r.PriceRange,
		DeliveryTime:   dt,
		Attrs: map[string]string{
			orders.ColCustomerName:            r.CustomerName,
			orders.ColCustomerCreatedAt:       fmtTime(r.CustomerCreatedAt),
			orders.ColCustomerActive:          fmtBool(r.CustomerActive),
			orders.ColDeliveryAddressDistrict: r.DeliveryAddressDistrict,
			orders.ColDeliveryAddressCity:     r.DeliveryAddressCity,
			orders.ColDeliveryAddressState:    r.DeliveryAddressState,
			orders.ColMerchantID:              r.MerchantID,
			orders.ColMerchantEnabled:         fmtBool(r.MerchantEnabled),
			orders.ColAverageTicket:           fmtFloat(r.AverageTicket),
			orders.ColMinimumOrderValue:       fmtFloat(r.MinimumOrderValue),
			orders.ColOriginPlatform:          r.OriginPlatform,
		},
	}
}

// BuildTable turns raw records into a deduplicated orders table, dropping
// rows outside the two cohorts.
func BuildTable(recs []SaleRecord) *orders.Table {
	rows := make([]orders.Row, 0, len(recs))
	for i := range recs {
		if !orders.IsCohort(recs[i].IsTarget) {
			continue
		}
		rows = append(rows, recs[i].ToRow())
	}
	return orders.NewTable(orders.Dedup(rows), DescriptiveColumns...)
}

func fmtTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func fmtBool(b *bool) string {
	if b == nil {
		return ""
	}
	return strconv.FormatBool(*b)
}

func fmtFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

// Destination names the dataset (database or schema) and table a writer
// appends to.
type Destination struct {
	Dataset string
	Table   string
}

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate rejects names that are not plain SQL identifiers.
func (d Destination) Validate() error {
	if !identRE.MatchString(d.Table) {
		return fmt.Errorf("warehouse: invalid table name %q", d.Table)
	}
	if d.Dataset != "" && !identRE.MatchString(d.Dataset) {
		return fmt.Errorf("warehouse: invalid dataset name %q", d.Dataset)
	}
	return nil
}

func (d Destination) String() string {
	if d.Dataset == "" {
		return d.Table
	}
	return d.Dataset + "." + d.Table
}
