package abtest

import (
	"fmt"
	"math"
	"sort"

	"github.com/cuihairu/abmetrics/internal/analytics/orders"
)

// Delivery-time bucket labels.
const (
	BucketQ1 = "Q1"
	BucketQ2 = "Q2"
	BucketQ3 = "Q3"
	BucketQ4 = "Q4"
)

// Quartiles holds the bucket boundaries of one delivery-time split.
type Quartiles struct {
	P25, P50, P75 float64
}

// Bucket maps x to Q1..Q4 using inclusive upper bounds. NaN lands in Q4.
func (q Quartiles) Bucket(x float64) string {
	switch {
	case x <= q.P25:
		return BucketQ1
	case x <= q.P50:
		return BucketQ2
	case x <= q.P75:
		return BucketQ3
	default:
		return BucketQ4
	}
}

// DeliveryQuartiles computes p25/p50/p75 of values with linear
// interpolation between closest ranks. NaN values are ignored.
func DeliveryQuartiles(values []float64) (Quartiles, error) {
	s := make([]float64, 0, len(values))
	for _, x := range values {
		if !math.IsNaN(x) {
			s = append(s, x)
		}
	}
	if len(s) == 0 {
		return Quartiles{}, fmt.Errorf("%w: no delivery_time values", ErrEmptyInput)
	}
	sort.Float64s(s)
	return Quartiles{
		P25: quantile(s, 0.25),
		P50: quantile(s, 0.50),
		P75: quantile(s, 0.75),
	}, nil
}

// quantile expects sorted, non-empty input.
func quantile(sorted []float64, p float64) float64 {
	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

// BucketDeliveryTime derives delivery_time_category for the rows of t that
// pass the city filter, in row order. Boundaries come from that filtered
// subset only.
func BucketDeliveryTime(t *orders.Table, cities CitySet) ([]string, Quartiles, error) {
	v := newView(t, cities)
	q, err := deriveDeliveryCategory(v)
	if err != nil {
		return nil, Quartiles{}, err
	}
	return v.derived[orders.ColDeliveryTimeCategory], q, nil
}

// deriveDeliveryCategory adds delivery_time_category to the view.
func deriveDeliveryCategory(v *view) (Quartiles, error) {
	if v.len() == 0 {
		return Quartiles{}, fmt.Errorf("%w: city filter matched no rows", ErrEmptyInput)
	}
	vals := make([]float64, v.len())
	for p := range vals {
		vals[p] = v.row(p).DeliveryTime
	}
	q, err := DeliveryQuartiles(vals)
	if err != nil {
		return Quartiles{}, err
	}
	cat := make([]string, len(vals))
	for p, x := range vals {
		cat[p] = q.Bucket(x)
	}
	v.derived[orders.ColDeliveryTimeCategory] = cat
	return q, nil
}
