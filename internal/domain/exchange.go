package domain

import "context"

// Exchange is the capability interface the engine consumes per exchange.
// Wire-protocol adapters implement it; the engine never sees HTTP or
// websocket details.
type Exchange interface {
	Name() string

	GetPositions(ctx context.Context) ([]Position, error)
	GetPositionForSymbol(ctx context.Context, symbol string) (*Position, error)

	GetOrdersForSymbol(ctx context.Context, symbol string) ([]ExchangeOrder, error)

	// FindOrderByID reports an order the exchange no longer knows either as
	// (nil, nil) or as an error wrapping ErrNotFound; callers accept both.
	FindOrderByID(ctx context.Context, id string) (*ExchangeOrder, error)

	Order(ctx context.Context, order Order) (*ExchangeOrder, error)
	UpdateOrder(ctx context.Context, id string, patch OrderUpdate) (*ExchangeOrder, error)
	CancelOrder(ctx context.Context, id string) (*ExchangeOrder, error)
	CancelAll(ctx context.Context, symbol string) ([]ExchangeOrder, error)

	// CalculateAmount and CalculatePrice round raw values to the
	// instrument's lot-size and tick-size rules.
	CalculateAmount(amount float64, symbol string) float64
	CalculatePrice(price float64, symbol string) float64
}

// TradableBalanceProvider is an optional exchange capability. Balance-percent
// capital resolution requires it; exchanges without it reject such capital.
type TradableBalanceProvider interface {
	GetTradableBalance(ctx context.Context) (float64, error)
}

// PairConfigProvider resolves the configured capital and execution options
// for an instrument.
type PairConfigProvider interface {
	GetSymbolCapital(exchange, symbol string) *OrderCapital
	GetSymbolOptions(exchange, symbol string) map[string]string
}
