package pairs

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/pairbot/internal/domain"
)

// fakeExchange is a scriptable domain.Exchange for engine tests.
type fakeExchange struct {
	mu   sync.Mutex
	name string

	position   *domain.Position
	positionEr error

	liveOrders   []domain.ExchangeOrder
	liveOrdersEr error

	foundOrder *domain.ExchangeOrder
	foundErr   error

	cancelled    []string
	cancelledAll []string
}

func newFakeExchange(name string) *fakeExchange {
	return &fakeExchange{name: name}
}

func (f *fakeExchange) Name() string { return f.name }

func (f *fakeExchange) GetPositions(context.Context) ([]domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.position == nil {
		return nil, nil
	}
	return []domain.Position{*f.position}, nil
}

func (f *fakeExchange) GetPositionForSymbol(context.Context, string) (*domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position, f.positionEr
}

func (f *fakeExchange) GetOrdersForSymbol(context.Context, string) ([]domain.ExchangeOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.liveOrders, f.liveOrdersEr
}

func (f *fakeExchange) FindOrderByID(context.Context, string) (*domain.ExchangeOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.foundOrder, f.foundErr
}

func (f *fakeExchange) Order(context.Context, domain.Order) (*domain.ExchangeOrder, error) {
	panic("engine must place through the order executor, not the adapter directly")
}

func (f *fakeExchange) UpdateOrder(context.Context, string, domain.OrderUpdate) (*domain.ExchangeOrder, error) {
	return nil, nil
}

func (f *fakeExchange) CancelOrder(_ context.Context, id string) (*domain.ExchangeOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return &domain.ExchangeOrder{ID: id, Status: domain.OrderStatusCancelled}, nil
}

func (f *fakeExchange) CancelAll(_ context.Context, symbol string) ([]domain.ExchangeOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelledAll = append(f.cancelledAll, symbol)
	return nil, nil
}

func (f *fakeExchange) CalculateAmount(amount float64, _ string) float64 { return amount }
func (f *fakeExchange) CalculatePrice(price float64, _ string) float64   { return price }

func (f *fakeExchange) GetTradableBalance(context.Context) (float64, error) {
	return 1000, nil
}

// fakeRegistry resolves a single fake exchange under any name it was built
// with.
type fakeRegistry struct {
	exchanges map[string]domain.Exchange
}

func newFakeRegistry(exs ...domain.Exchange) *fakeRegistry {
	m := make(map[string]domain.Exchange, len(exs))
	for _, ex := range exs {
		m[ex.Name()] = ex
	}
	return &fakeRegistry{exchanges: m}
}

func (r *fakeRegistry) Get(name string) domain.Exchange { return r.exchanges[name] }

// fakeOrderExecutor records calls and replays scripted placement results.
type fakeOrderExecutor struct {
	mu sync.Mutex

	results  []*domain.ExchangeOrder // consumed per ExecuteOrder call
	executed []domain.Order

	cancelled    []string
	cancelledAll []string
}

func (f *fakeOrderExecutor) ExecuteOrder(_ context.Context, _ domain.Exchange, order domain.Order) *domain.ExchangeOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, order)
	if len(f.results) == 0 {
		return nil
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res
}

func (f *fakeOrderExecutor) CancelOrder(_ context.Context, _ domain.Exchange, id string) *domain.ExchangeOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return &domain.ExchangeOrder{ID: id, Status: domain.OrderStatusCancelled}
}

func (f *fakeOrderExecutor) CancelAll(_ context.Context, _ domain.Exchange, symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelledAll = append(f.cancelledAll, symbol)
}

func (f *fakeOrderExecutor) executedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.executed)
}

// staticPairConfig returns the same capital and options for every pair.
type staticPairConfig struct {
	capital *domain.OrderCapital
	options map[string]string
}

func (s *staticPairConfig) GetSymbolCapital(string, string) *domain.OrderCapital {
	return s.capital
}

func (s *staticPairConfig) GetSymbolOptions(string, string) map[string]string {
	opts := make(map[string]string, len(s.options))
	for k, v := range s.options {
		opts[k] = v
	}
	return opts
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
