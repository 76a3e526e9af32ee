package abtest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cuihairu/abmetrics/internal/analytics/orders"
)

const keySep = "\x1f"

// validateGroupColumns checks cols against the working schema. The cohort
// column is always the leading key and may not be requested again.
func validateGroupColumns(v *view, cols []string) error {
	seen := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		if c == orders.ColIsTarget {
			return fmt.Errorf("%w: %q is always the leading key", ErrInvalidGroupColumn, c)
		}
		if !v.hasColumn(c) {
			return fmt.Errorf("%w: %q not in table", ErrInvalidGroupColumn, c)
		}
		if _, dup := seen[c]; dup {
			return fmt.Errorf("%w: %q listed twice", ErrInvalidGroupColumn, c)
		}
		seen[c] = struct{}{}
	}
	return nil
}

func keyValues(v *view, pos int, cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = v.value(pos, c)
	}
	return out
}

func joinKey(parts ...string) string { return strings.Join(parts, keySep) }

// cohortFirst orders by cohort label descending, so "target" sorts before
// "control", then by the group key values ascending.
func cohortFirst(ci, cj string, ki, kj []string) bool {
	if ci != cj {
		return ci > cj
	}
	for n := range ki {
		if ki[n] != kj[n] {
			return ki[n] < kj[n]
		}
	}
	return false
}

// groupIndex keeps groups in first-seen order and finds them by key.
type groupIndex[T any] struct {
	pos   map[string]int
	items []T
}

func newGroupIndex[T any]() *groupIndex[T] {
	return &groupIndex[T]{pos: map[string]int{}}
}

// get returns the group stored under k, creating it with mk when absent.
func (g *groupIndex[T]) get(k string, mk func() T) T {
	if i, ok := g.pos[k]; ok {
		return g.items[i]
	}
	it := mk()
	g.pos[k] = len(g.items)
	g.items = append(g.items, it)
	return it
}

func sortRows[T any](rows []T, cohort func(T) string, keys func(T) []string) {
	sort.SliceStable(rows, func(i, j int) bool {
		return cohortFirst(cohort(rows[i]), cohort(rows[j]), keys(rows[i]), keys(rows[j]))
	})
}
