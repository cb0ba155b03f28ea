package domain

import (
	"context"
	"time"
)

// Ticker is an immutable best bid/ask snapshot for one instrument.
type Ticker struct {
	Exchange  string
	Symbol    string
	Bid       float64
	Ask       float64
	CreatedAt time.Time
}

// IsFresh reports whether the snapshot is younger than threshold relative
// to now.
func (t Ticker) IsFresh(now time.Time, threshold time.Duration) bool {
	return now.Sub(t.CreatedAt) < threshold
}

// TickerCache holds the latest ticker per (exchange, symbol), last-write-wins.
type TickerCache interface {
	Set(ctx context.Context, t Ticker) error

	// Get returns the last known ticker regardless of age. It returns
	// ErrNotFound when no ticker was ever stored for the key.
	Get(ctx context.Context, exchange, symbol string) (Ticker, error)

	// GetIfFresh returns the ticker only when it is younger than threshold;
	// it returns ErrNotFound for both missing and stale entries.
	GetIfFresh(ctx context.Context, exchange, symbol string, threshold time.Duration) (Ticker, error)
}
