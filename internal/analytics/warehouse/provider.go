package warehouse

import (
	"context"
	"sync"

	"github.com/cuihairu/abmetrics/internal/analytics/orders"
)

// Source loads the full orders table from a warehouse.
type Source interface {
	Load(ctx context.Context) (*orders.Table, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (*orders.Table, error)

func (f SourceFunc) Load(ctx context.Context) (*orders.Table, error) { return f(ctx) }

// Cache memoizes the first successful Load of its source for the lifetime
// of the value. Failed loads are not stored, so the next call tries again.
// The cached table is never invalidated.
type Cache struct {
	src Source

	mu    sync.Mutex
	table *orders.Table
}

// NewCache wraps src.
func NewCache(src Source) *Cache { return &Cache{src: src} }

// Table returns the cached table, loading it on first demand. Concurrent
// callers wait for the in-flight load.
func (c *Cache) Table(ctx context.Context) (*orders.Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.table != nil {
		return c.table, nil
	}
	t, err := c.src.Load(ctx)
	if err != nil {
		return nil, err
	}
	c.table = t
	return t, nil
}

// Loaded reports whether the slot is populated.
func (c *Cache) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.table != nil
}
