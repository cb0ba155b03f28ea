package domain

import "time"

// Side is the direction of an order or position. The original sign-encoded
// convention (negative amount/price meaning short) is kept only at the price
// lookup boundary; everywhere else the side travels explicitly.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Invert returns the opposite side.
func (s Side) Invert() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// OrderKind is the execution style of an order intent.
type OrderKind string

const (
	OrderKindLimit  OrderKind = "limit" // post-only; never crosses the spread
	OrderKindMarket OrderKind = "market"
	OrderKindStop   OrderKind = "stop"
)

// Order is an order intent as handed to the order executor. It is what the
// engine wants to exist on the exchange, not what the exchange reports back
// (see ExchangeOrder for that).
type Order struct {
	ClientID string
	Symbol   string
	Side     Side
	Amount   float64
	Price    float64
	Kind     OrderKind

	// PostOnly asks the exchange to reject the order rather than take
	// liquidity. Only meaningful for OrderKindLimit.
	PostOnly bool

	// TrackBestPrice marks intents whose price must be kept at the top of
	// book rather than fixed at creation time. The executor resolves the
	// initial price and the price-adjustment pass keeps it current.
	TrackBestPrice bool

	// Retry marks an intent rebuilt by the executor after a force-retry
	// outcome.
	Retry bool
}

// NewLimitPostOnlyOrder builds a fixed-price post-only limit intent.
func NewLimitPostOnlyOrder(symbol string, side Side, amount, price float64) Order {
	return Order{
		Symbol:   symbol,
		Side:     side,
		Amount:   amount,
		Price:    price,
		Kind:     OrderKindLimit,
		PostOnly: true,
	}
}

// NewLimitPostOnlyTrackedOrder builds a post-only limit intent whose price is
// resolved from the live ticker at placement time and adjusted as the book
// moves.
func NewLimitPostOnlyTrackedOrder(symbol string, side Side, amount float64) Order {
	return Order{
		Symbol:         symbol,
		Side:           side,
		Amount:         amount,
		Kind:           OrderKindLimit,
		PostOnly:       true,
		TrackBestPrice: true,
	}
}

// NewMarketOrder builds a market intent.
func NewMarketOrder(symbol string, side Side, amount float64) Order {
	return Order{
		Symbol: symbol,
		Side:   side,
		Amount: amount,
		Kind:   OrderKindMarket,
	}
}

// NewRetryOrder derives a fresh retry-flavored intent from a previous one.
func NewRetryOrder(o Order) Order {
	o.ClientID = ""
	o.Retry = true
	return o
}

// OrderStatus is the exchange-reported lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusDone      OrderStatus = "done"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusCancelled OrderStatus = "canceled"
)

// ExchangeOrder is what the exchange reports about an order. It is the
// untrusted "reality" side of reconciliation.
type ExchangeOrder struct {
	ID     string
	Symbol string
	Side   Side
	Price  float64
	Amount float64
	Kind   OrderKind
	Status OrderStatus

	// ForceRetry is an adapter-reported transient placement failure, the
	// exchange said "not placed, try again". Distinct from rejection.
	ForceRetry bool

	CreatedAt time.Time
}

// ShouldStopTracking reports whether the order reached a terminal state the
// engine cannot recover from: outright rejection, or a cancellation the
// adapter did not flag as retryable.
func (o ExchangeOrder) ShouldStopTracking() bool {
	if o.Status == OrderStatusRejected {
		return true
	}
	return o.Status == OrderStatusCancelled && !o.ForceRetry
}

// OrderUpdate is a partial patch applied to a live order.
type OrderUpdate struct {
	Price  float64
	Amount float64
}
