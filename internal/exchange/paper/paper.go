// Package paper implements an in-memory exchange adapter for paper trading
// and tests. It honors the full capability interface, including the
// tradable-balance query, with simplified fill semantics: market orders fill
// immediately against the last ticker price, limit orders rest open until
// cancelled or manually filled via Fill.
package paper

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/pairbot/internal/domain"
)

// Exchange is the paper adapter. All state lives in memory.
type Exchange struct {
	name string

	mu        sync.Mutex
	orders    map[string]domain.ExchangeOrder // live (open) orders by id
	positions map[string]domain.Position      // by symbol
	balance   float64

	amountStep float64
	priceStep  float64
}

// New creates a paper exchange with the given display name and starting
// quote-currency balance.
func New(name string, balance float64) *Exchange {
	return &Exchange{
		name:       name,
		orders:     make(map[string]domain.ExchangeOrder),
		positions:  make(map[string]domain.Position),
		balance:    balance,
		amountStep: 1e-6,
		priceStep:  0.01,
	}
}

// Name implements domain.Exchange.
func (e *Exchange) Name() string { return e.name }

// GetPositions implements domain.Exchange.
func (e *Exchange) GetPositions(_ context.Context) ([]domain.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, p)
	}
	return out, nil
}

// GetPositionForSymbol implements domain.Exchange. A nil position with nil
// error means no exposure.
func (e *Exchange) GetPositionForSymbol(_ context.Context, symbol string) (*domain.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.positions[symbol]; ok {
		cp := p
		return &cp, nil
	}
	return nil, nil
}

// GetOrdersForSymbol implements domain.Exchange, returning live orders only.
func (e *Exchange) GetOrdersForSymbol(_ context.Context, symbol string) ([]domain.ExchangeOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []domain.ExchangeOrder
	for _, o := range e.orders {
		if o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out, nil
}

// FindOrderByID implements domain.Exchange. Unknown ids return nil, nil: the
// engine treats an order the exchange no longer reports as gone, not as an
// error.
func (e *Exchange) FindOrderByID(_ context.Context, id string) (*domain.ExchangeOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if o, ok := e.orders[id]; ok {
		cp := o
		return &cp, nil
	}
	return nil, nil
}

// Order implements domain.Exchange. Market orders fill immediately and move
// the position; limit orders rest open.
func (e *Exchange) Order(_ context.Context, order domain.Order) (*domain.ExchangeOrder, error) {
	if order.Amount <= 0 {
		return nil, fmt.Errorf("paper: non-positive amount %v", order.Amount)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	eo := domain.ExchangeOrder{
		ID:        uuid.New().String(),
		Symbol:    order.Symbol,
		Side:      order.Side,
		Price:     order.Price,
		Amount:    order.Amount,
		Kind:      order.Kind,
		Status:    domain.OrderStatusOpen,
		CreatedAt: time.Now().UTC(),
	}

	if order.Kind == domain.OrderKindMarket {
		eo.Status = domain.OrderStatusDone
		e.applyFillLocked(eo)
		return &eo, nil
	}

	e.orders[eo.ID] = eo
	return &eo, nil
}

// UpdateOrder implements domain.Exchange.
func (e *Exchange) UpdateOrder(_ context.Context, id string, patch domain.OrderUpdate) (*domain.ExchangeOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[id]
	if !ok {
		return nil, fmt.Errorf("paper: update order %s: %w", id, domain.ErrNotFound)
	}
	if patch.Price > 0 {
		o.Price = patch.Price
	}
	if patch.Amount > 0 {
		o.Amount = patch.Amount
	}
	e.orders[id] = o
	cp := o
	return &cp, nil
}

// CancelOrder implements domain.Exchange.
func (e *Exchange) CancelOrder(_ context.Context, id string) (*domain.ExchangeOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[id]
	if !ok {
		return nil, fmt.Errorf("paper: cancel order %s: %w", id, domain.ErrNotFound)
	}
	delete(e.orders, id)
	o.Status = domain.OrderStatusCancelled
	return &o, nil
}

// CancelAll implements domain.Exchange.
func (e *Exchange) CancelAll(_ context.Context, symbol string) ([]domain.ExchangeOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []domain.ExchangeOrder
	for id, o := range e.orders {
		if o.Symbol != symbol {
			continue
		}
		delete(e.orders, id)
		o.Status = domain.OrderStatusCancelled
		out = append(out, o)
	}
	return out, nil
}

// CalculateAmount implements domain.Exchange lot-size rounding.
func (e *Exchange) CalculateAmount(amount float64, _ string) float64 {
	return math.Floor(amount/e.amountStep) * e.amountStep
}

// CalculatePrice implements domain.Exchange tick-size rounding.
func (e *Exchange) CalculatePrice(price float64, _ string) float64 {
	return math.Round(price/e.priceStep) * e.priceStep
}

// GetTradableBalance implements domain.TradableBalanceProvider.
func (e *Exchange) GetTradableBalance(_ context.Context) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance, nil
}

// Fill marks a resting limit order as filled and applies it to the position.
// Used by paper mode's fill simulation and by tests.
func (e *Exchange) Fill(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[id]
	if !ok {
		return fmt.Errorf("paper: fill order %s: %w", id, domain.ErrNotFound)
	}
	delete(e.orders, id)
	o.Status = domain.OrderStatusDone
	e.applyFillLocked(o)
	return nil
}

// SeedPosition installs a position directly. Tests and paper-mode setup.
func (e *Exchange) SeedPosition(p domain.Position) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.positions[p.Symbol] = p
}

// applyFillLocked nets the fill into the symbol's position. Caller holds mu.
func (e *Exchange) applyFillLocked(o domain.ExchangeOrder) {
	signed := o.Amount
	if o.Side == domain.SideShort {
		signed = -signed
	}

	pos, ok := e.positions[o.Symbol]
	if !ok {
		e.positions[o.Symbol] = domain.NewPosition(o.Symbol, signed, o.Price, time.Now().UTC())
		return
	}

	total := pos.Amount + signed
	if math.Abs(total) < e.amountStep {
		delete(e.positions, o.Symbol)
		return
	}
	e.positions[o.Symbol] = domain.NewPosition(o.Symbol, total, pos.EntryPrice, pos.OpenedAt)
}

// Compile-time interface checks.
var (
	_ domain.Exchange                = (*Exchange)(nil)
	_ domain.TradableBalanceProvider = (*Exchange)(nil)
)
