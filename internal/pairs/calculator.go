package pairs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/pairbot/internal/domain"
)

// Calculator resolves an OrderCapital to a concrete asset amount using the
// ticker cache and the exchange's lot-size rounding.
type Calculator struct {
	tickers domain.TickerCache
	logger  *slog.Logger
}

// NewCalculator creates a Calculator backed by the given ticker cache.
func NewCalculator(tickers domain.TickerCache, logger *slog.Logger) *Calculator {
	return &Calculator{
		tickers: tickers,
		logger:  logger.With(slog.String("component", "order_calculator")),
	}
}

// CalcOrderSizeCapital resolves capital to a rounded asset amount for the
// given instrument. Balance capital requires the exchange to expose a
// tradable-balance query; currency capital converts through the last known
// ticker bid.
func (c *Calculator) CalcOrderSizeCapital(ctx context.Context, ex domain.Exchange, symbol string, capital domain.OrderCapital) (float64, error) {
	var asset float64

	switch capital.Kind() {
	case domain.CapitalKindAsset:
		asset = capital.Asset()

	case domain.CapitalKindCurrency:
		bid, err := c.bid(ctx, ex.Name(), symbol)
		if err != nil {
			return 0, err
		}
		asset = capital.Currency() / bid

	case domain.CapitalKindBalance:
		balances, ok := ex.(domain.TradableBalanceProvider)
		if !ok {
			return 0, fmt.Errorf("calculator: %s: %w", ex.Name(), domain.ErrNoBalance)
		}
		balance, err := balances.GetTradableBalance(ctx)
		if err != nil {
			return 0, fmt.Errorf("calculator: tradable balance %s: %w", ex.Name(), err)
		}
		currency := balance * capital.BalancePercent() / 100
		bid, err := c.bid(ctx, ex.Name(), symbol)
		if err != nil {
			return 0, err
		}
		asset = currency / bid

	default:
		return 0, fmt.Errorf("calculator: %s %s: %w", ex.Name(), symbol, domain.ErrInvalidCapital)
	}

	rounded := ex.CalculateAmount(asset, symbol)
	if rounded <= 0 {
		return 0, fmt.Errorf("calculator: %s %s resolves to non-positive amount %v: %w", ex.Name(), symbol, rounded, domain.ErrInvalidCapital)
	}

	c.logger.Debug("order size resolved",
		slog.String("exchange", ex.Name()),
		slog.String("symbol", symbol),
		slog.String("capital", capital.String()),
		slog.Float64("amount", rounded),
	)

	return rounded, nil
}

func (c *Calculator) bid(ctx context.Context, exchange, symbol string) (float64, error) {
	tk, err := c.tickers.Get(ctx, exchange, symbol)
	if err != nil {
		return 0, fmt.Errorf("calculator: %s %s: %w", exchange, symbol, domain.ErrNoTicker)
	}
	if tk.Bid <= 0 {
		return 0, fmt.Errorf("calculator: %s %s bid %v: %w", exchange, symbol, tk.Bid, domain.ErrNoTicker)
	}
	return tk.Bid, nil
}
