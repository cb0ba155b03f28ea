// Package ticker provides the process-wide in-memory cache of the latest
// best bid/ask per instrument. Feeds write into it; the order executor's
// price resolution polls it with a freshness predicate.
package ticker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/pairbot/internal/domain"
)

// Cache is the in-memory domain.TickerCache. One entry per
// (exchange, symbol), last-write-wins.
type Cache struct {
	mu      sync.RWMutex
	tickers map[string]domain.Ticker

	// now is injectable for freshness tests.
	now func() time.Time
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{
		tickers: make(map[string]domain.Ticker),
		now:     time.Now,
	}
}

func key(exchange, symbol string) string {
	return exchange + ":" + symbol
}

// Set stores the ticker, replacing any previous snapshot for the key.
func (c *Cache) Set(_ context.Context, t domain.Ticker) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tickers[key(t.Exchange, t.Symbol)] = t
	return nil
}

// Get returns the last known ticker regardless of age.
func (c *Cache) Get(_ context.Context, exchange, symbol string) (domain.Ticker, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.tickers[key(exchange, symbol)]
	if !ok {
		return domain.Ticker{}, fmt.Errorf("ticker: %s %s: %w", exchange, symbol, domain.ErrNotFound)
	}
	return t, nil
}

// GetIfFresh returns the ticker only when it is younger than threshold.
// Missing and stale entries both report ErrNotFound so callers poll with a
// single predicate.
func (c *Cache) GetIfFresh(ctx context.Context, exchange, symbol string, threshold time.Duration) (domain.Ticker, error) {
	t, err := c.Get(ctx, exchange, symbol)
	if err != nil {
		return domain.Ticker{}, err
	}
	if !t.IsFresh(c.now(), threshold) {
		return domain.Ticker{}, fmt.Errorf("ticker: %s %s stale: %w", exchange, symbol, domain.ErrNotFound)
	}
	return t, nil
}

// SetClock replaces the freshness clock. Tests only.
func (c *Cache) SetClock(now func() time.Time) {
	c.now = now
}

// Compile-time interface check.
var _ domain.TickerCache = (*Cache)(nil)
