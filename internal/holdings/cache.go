package holdings

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Fetcher pulls the raw holding rows from the backend.
type Fetcher func(ctx context.Context) ([]Holding, error)

// Cache holds the most recently fetched raw rows so views can be served
// without a backend round trip. The orchestrator refreshes it after every
// successful sync; consumers read whatever is current.
type Cache struct {
	fetch Fetcher

	mu        sync.RWMutex
	rows      []Holding
	fetchedAt time.Time
}

// NewCache creates a cache over fetch.
func NewCache(fetch Fetcher) *Cache {
	return &Cache{fetch: fetch}
}

// Refresh replaces the cached rows with a fresh fetch. On error the
// previous rows stay in place.
func (c *Cache) Refresh(ctx context.Context) error {
	rows, err := c.fetch(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh holdings: %w", err)
	}

	c.mu.Lock()
	c.rows = rows
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return nil
}

// Rows returns the cached rows and when they were fetched. The slice is a
// copy; callers may filter and aggregate it freely.
func (c *Cache) Rows() ([]Holding, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rows := make([]Holding, len(c.rows))
	copy(rows, c.rows)
	return rows, c.fetchedAt
}

// Empty reports whether the cache has never been filled.
func (c *Cache) Empty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt.IsZero()
}
