package abtest

import (
	"sort"
	"strings"

	"github.com/cuihairu/abmetrics/internal/analytics/orders"
)

// CitySet is an allow-list of merchant cities. A nil or empty set means no
// filtering.
type CitySet map[string]struct{}

// NewCitySet builds a set from names, ignoring blanks.
func NewCitySet(names ...string) CitySet {
	s := CitySet{}
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			s[n] = struct{}{}
		}
	}
	return s
}

// Contains reports whether city is allowed. Every city is allowed by an
// empty set.
func (s CitySet) Contains(city string) bool {
	if len(s) == 0 {
		return true
	}
	_, ok := s[city]
	return ok
}

// Names returns the cities in sorted order.
func (s CitySet) Names() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// FilterCities returns a new table holding the rows of t whose merchant_city
// is in cities. The input table is left untouched.
func FilterCities(t *orders.Table, cities CitySet) *orders.Table {
	v := newView(t, cities)
	rows := make([]orders.Row, 0, len(v.idx))
	for _, i := range v.idx {
		rows = append(rows, *t.Row(i))
	}
	return orders.NewTable(rows, t.Columns()...)
}

// view is the working row set of one call: the filtered row indexes of a
// table plus columns derived during the call.
type view struct {
	t       *orders.Table
	idx     []int
	derived map[string][]string
}

func newView(t *orders.Table, cities CitySet) *view {
	v := &view{t: t, derived: map[string][]string{}}
	n := t.Len()
	v.idx = make([]int, 0, n)
	for i := 0; i < n; i++ {
		if cities.Contains(t.Row(i).MerchantCity) {
			v.idx = append(v.idx, i)
		}
	}
	return v
}

func (v *view) len() int { return len(v.idx) }

func (v *view) row(pos int) *orders.Row { return v.t.Row(v.idx[pos]) }

func (v *view) hasColumn(col string) bool {
	if _, ok := v.derived[col]; ok {
		return true
	}
	return v.t.HasColumn(col)
}

func (v *view) value(pos int, col string) string {
	if d, ok := v.derived[col]; ok {
		return d[pos]
	}
	return v.t.Value(v.idx[pos], col)
}
