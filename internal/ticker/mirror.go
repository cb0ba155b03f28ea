package ticker

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/pairbot/internal/domain"
)

// Mirrored is a TickerCache that writes every quote to a primary and a
// mirror but serves all reads from the primary. The engine keeps trading on
// the in-memory cache while the mirror (Redis) gives other processes the
// same view; a mirror outage degrades visibility, never pricing.
type Mirrored struct {
	primary domain.TickerCache
	mirror  domain.TickerCache
	logger  *slog.Logger
}

// NewMirrored wraps primary with a write-through mirror.
func NewMirrored(primary, mirror domain.TickerCache, logger *slog.Logger) *Mirrored {
	return &Mirrored{
		primary: primary,
		mirror:  mirror,
		logger:  logger.With(slog.String("component", "ticker_mirror")),
	}
}

// Set implements domain.TickerCache. Mirror failures are logged and dropped.
func (m *Mirrored) Set(ctx context.Context, t domain.Ticker) error {
	if err := m.primary.Set(ctx, t); err != nil {
		return err
	}
	if err := m.mirror.Set(ctx, t); err != nil {
		m.logger.Warn("ticker mirror write failed",
			slog.String("exchange", t.Exchange),
			slog.String("symbol", t.Symbol),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// Get implements domain.TickerCache from the primary.
func (m *Mirrored) Get(ctx context.Context, exchange, symbol string) (domain.Ticker, error) {
	return m.primary.Get(ctx, exchange, symbol)
}

// GetIfFresh implements domain.TickerCache from the primary.
func (m *Mirrored) GetIfFresh(ctx context.Context, exchange, symbol string, threshold time.Duration) (domain.Ticker, error) {
	return m.primary.GetIfFresh(ctx, exchange, symbol, threshold)
}

// Compile-time interface check.
var _ domain.TickerCache = (*Mirrored)(nil)
