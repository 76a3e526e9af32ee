package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/cuihairu/abmetrics/internal/analytics/jsonfix"
	"github.com/cuihairu/abmetrics/internal/analytics/warehouse"
)

var errNotObject = errors.New("line is not a JSON object")

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// DecodeLine parses one NDJSON line into a record. Lines that fail strict
// decoding get one pass through jsonfix.
func DecodeLine(line []byte) (warehouse.SaleRecord, error) {
	var m map[string]any
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil || m == nil {
		v, ok := jsonfix.Parse(string(line))
		if !ok {
			if err == nil {
				err = errNotObject
			}
			return warehouse.SaleRecord{}, fmt.Errorf("decode: %w", err)
		}
		obj, isObj := v.(map[string]any)
		if !isObj {
			return warehouse.SaleRecord{}, errNotObject
		}
		m = obj
	}
	return fromMap(m)
}

func fromMap(m map[string]any) (warehouse.SaleRecord, error) {
	var r warehouse.SaleRecord
	var err error
	r.OrderID = str(m["order_id"])
	if r.OrderID == "" {
		return r, errors.New("order_id missing")
	}
	if r.OrderCreatedAt, err = timestamp(m["order_created_at"]); err != nil {
		return r, fmt.Errorf("order_created_at: %w", err)
	}
	if r.OrderTotalAmount, err = amount(m["order_total_amount"]); err != nil {
		return r, fmt.Errorf("order_total_amount: %w", err)
	}
	r.CustomerID = str(m["customer_id"])
	r.CustomerName = str(m["customer_name"])
	if v, ok := m["customer_created_at"]; ok && v != nil {
		ts, err := timestamp(v)
		if err != nil {
			return r, fmt.Errorf("customer_created_at: %w", err)
		}
		r.CustomerCreatedAt = &ts
	}
	r.CustomerActive = boolPtr(m["customer_active"])
	r.IsTarget = str(m["is_target"])
	r.DeliveryAddressDistrict = str(m["delivery_address_district"])
	r.DeliveryAddressCity = str(m["delivery_address_city"])
	r.DeliveryAddressState = str(m["delivery_address_state"])
	r.MerchantID = str(m["merchant_id"])
	r.MerchantCity = str(m["merchant_city"])
	r.MerchantEnabled = boolPtr(m["merchant_enabled"])
	r.PriceRange = str(m["price_range"])
	r.AverageTicket = floatPtr(m["average_ticket"])
	r.DeliveryTime = floatPtr(m["delivery_time"])
	r.MinimumOrderValue = floatPtr(m["minimum_order_value"])
	r.OriginPlatform = str(m["origin_platform"])
	r.Items = items(m["items"])
	return r, nil
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func floatPtr(v any) *float64 {
	f, ok := number(v)
	if !ok || math.IsNaN(f) {
		return nil
	}
	return &f
}

func boolPtr(v any) *bool {
	var b bool
	switch t := v.(type) {
	case bool:
		b = t
	case string:
		p, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return nil
		}
		b = p
	default:
		return nil
	}
	return &b
}

func amount(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case json.Number:
		return decimal.NewFromString(t.String())
	case string:
		return decimal.NewFromString(strings.TrimSpace(t))
	case float64:
		return decimal.NewFromFloat(t), nil
	case nil:
		return decimal.Zero, errors.New("missing")
	}
	return decimal.Zero, fmt.Errorf("unsupported type %T", v)
}

// timestamp accepts the layouts above or a unix epoch in seconds or
// milliseconds.
func timestamp(v any) (time.Time, error) {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), nil
			}
		}
	}
	if f, ok := number(v); ok {
		sec := int64(f)
		if math.Abs(f) >= 1e12 {
			return time.UnixMilli(int64(f)).UTC(), nil
		}
		return time.Unix(sec, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable time %v", v)
}

// items keeps the raw item list as JSON, repairing string-encoded payloads.
func items(v any) datatypes.JSON {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if b, ok := jsonfix.Normalize(t); ok {
			return datatypes.JSON(b)
		}
		return nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return nil
		}
		return datatypes.JSON(b)
	}
}
