package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/pairbot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// tickerTTL bounds how long a quote survives in Redis. Dead instruments age
// out instead of lingering forever.
const tickerTTL = 24 * time.Hour

// TickerCache implements domain.TickerCache using Redis hashes. Each
// instrument's quote is stored at key "ticker:{exchange}:{symbol}" with
// fields "bid", "ask", and "ts" (Unix nanosecond timestamp). It exists so
// dashboards and watchdogs in other processes see the same quotes the engine
// trades on; the engine itself reads the in-memory cache.
type TickerCache struct {
	rdb *redis.Client
}

// NewTickerCache creates a TickerCache backed by the given Client.
func NewTickerCache(c *Client) *TickerCache {
	return &TickerCache{rdb: c.Underlying()}
}

func tickerKey(exchange, symbol string) string {
	return "ticker:" + exchange + ":" + symbol
}

// Set stores the quote, replacing any previous snapshot for the instrument.
func (tc *TickerCache) Set(ctx context.Context, t domain.Ticker) error {
	key := tickerKey(t.Exchange, t.Symbol)
	fields := map[string]interface{}{
		"bid": strconv.FormatFloat(t.Bid, 'f', -1, 64),
		"ask": strconv.FormatFloat(t.Ask, 'f', -1, 64),
		"ts":  strconv.FormatInt(t.CreatedAt.UnixNano(), 10),
	}

	pipe := tc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, tickerTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set ticker %s %s: %w", t.Exchange, t.Symbol, err)
	}
	return nil
}

// Get retrieves the last known quote regardless of age. It returns
// domain.ErrNotFound when the key does not exist.
func (tc *TickerCache) Get(ctx context.Context, exchange, symbol string) (domain.Ticker, error) {
	key := tickerKey(exchange, symbol)
	vals, err := tc.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("redis: get ticker %s %s: %w", exchange, symbol, err)
	}
	if len(vals) == 0 {
		return domain.Ticker{}, fmt.Errorf("redis: ticker %s %s: %w", exchange, symbol, domain.ErrNotFound)
	}

	bid, err := strconv.ParseFloat(vals["bid"], 64)
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("redis: parse bid %s %s: %w", exchange, symbol, err)
	}
	ask, err := strconv.ParseFloat(vals["ask"], 64)
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("redis: parse ask %s %s: %w", exchange, symbol, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("redis: parse ts %s %s: %w", exchange, symbol, err)
	}

	return domain.Ticker{
		Exchange:  exchange,
		Symbol:    symbol,
		Bid:       bid,
		Ask:       ask,
		CreatedAt: time.Unix(0, tsNano).UTC(),
	}, nil
}

// GetIfFresh returns the quote only when it is younger than threshold.
// Missing and stale entries both report ErrNotFound.
func (tc *TickerCache) GetIfFresh(ctx context.Context, exchange, symbol string, threshold time.Duration) (domain.Ticker, error) {
	t, err := tc.Get(ctx, exchange, symbol)
	if err != nil {
		return domain.Ticker{}, err
	}
	if !t.IsFresh(time.Now(), threshold) {
		return domain.Ticker{}, fmt.Errorf("redis: ticker %s %s stale: %w", exchange, symbol, domain.ErrNotFound)
	}
	return t, nil
}

// Compile-time interface check.
var _ domain.TickerCache = (*TickerCache)(nil)
