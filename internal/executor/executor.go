// Package executor places, updates, and cancels orders against exchange
// capability interfaces. It owns the bounded placement retry protocol, the
// staleness-aware price resolution, and the "track the order book"
// price-adjustment pass. Network and adapter errors never escape: they are
// logged and surface as nil results, leaving the scheduler's next tick as
// the retry mechanism.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/pairbot/internal/domain"
	"github.com/alanyoungcy/pairbot/internal/pairs"
)

// Exchanges resolves an exchange adapter by name.
type Exchanges interface {
	Get(name string) domain.Exchange
}

// claimTTL is how long an in-flight price-adjustment claim may live before
// the stale sweep reclaims it. Guards against leaked claims when a goroutine
// died between claim and release.
const claimTTL = 2 * time.Minute

// Config carries the executor's tuning knobs. Zero values fall back to the
// production defaults.
type Config struct {
	// MaxRetries bounds placement retries (force-retry outcomes).
	MaxRetries int
	// RetryDelay is the pause between placement retries.
	RetryDelay time.Duration
	// AdjustThreshold is the percent price drift that triggers an
	// update-order call on a tracked order.
	AdjustThreshold float64
	// FreshThreshold is how young a ticker must be to count as fresh.
	FreshThreshold time.Duration
	// PollAttempts and PollInterval bound the fresh-price wait.
	PollAttempts int
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries == 0 {
		c.MaxRetries = 4
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 1500 * time.Millisecond
	}
	if c.AdjustThreshold == 0 {
		c.AdjustThreshold = 0.15
	}
	if c.FreshThreshold == 0 {
		c.FreshThreshold = 10 * time.Second
	}
	if c.PollAttempts == 0 {
		c.PollAttempts = 40
	}
	if c.PollInterval == 0 {
		c.PollInterval = 200 * time.Millisecond
	}
	return c
}

// Executor implements order placement with bounded retries and the live
// price-adjustment pass.
type Executor struct {
	exchanges Exchanges
	tickers   domain.TickerCache
	cfg       Config
	logger    *slog.Logger

	// sleep is injectable so retry and polling budgets are testable with a
	// fake clock.
	sleep func(ctx context.Context, d time.Duration) error

	// adjusting tracks order ids with an in-flight price adjustment, with
	// the claim time for the stale sweep.
	mu        sync.Mutex
	adjusting map[string]time.Time
}

// New creates an Executor.
func New(exchanges Exchanges, tickers domain.TickerCache, cfg Config, logger *slog.Logger) *Executor {
	return &Executor{
		exchanges: exchanges,
		tickers:   tickers,
		cfg:       cfg.withDefaults(),
		logger:    logger.With(slog.String("component", "order_executor")),
		sleep:     sleepCtx,
		adjusting: make(map[string]time.Time),
	}
}

// SetSleep replaces the sleep function. Tests only.
func (e *Executor) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	e.sleep = fn
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// ExecuteOrder runs the placement/retry protocol for an intent. It returns
// nil for every kind of failure: retry budget exhausted, no price found for
// a tracked intent, adapter error, or empty adapter result. A cancelled
// order without the adapter's retry flag is returned as-is so the caller can
// classify it; a force-retry outcome sleeps and retries with a fresh
// retry-flavored intent.
func (e *Executor) ExecuteOrder(ctx context.Context, ex domain.Exchange, order domain.Order) *domain.ExchangeOrder {
	log := e.logger.With(
		slog.String("exchange", ex.Name()),
		slog.String("symbol", order.Symbol),
		slog.String("side", string(order.Side)),
	)

	for retry := 0; ; retry++ {
		if retry > e.cfg.MaxRetries {
			log.Error("placement retries exhausted", slog.Int("retries", retry-1))
			return nil
		}

		if order.TrackBestPrice {
			price := e.CurrentPrice(ctx, ex.Name(), order.Symbol, order.Side)
			if price == 0 {
				log.Error("no price found for tracked intent, aborting placement")
				return nil
			}
			order.Price = ex.CalculatePrice(math.Abs(price), order.Symbol)
		}

		placed, err := ex.Order(ctx, order)
		if err != nil {
			// Adapter-level exceptions are definitive failures, not
			// retried.
			log.Error("order placement failed", slog.String("error", err.Error()))
			return nil
		}
		if placed == nil {
			log.Error("adapter returned no order")
			return nil
		}

		if placed.Status == domain.OrderStatusCancelled && !placed.ForceRetry {
			// Definitive, non-retryable cancellation; the caller decides.
			log.Info("order cancelled by exchange without retry flag",
				slog.String("order_id", placed.ID),
			)
			return placed
		}

		if placed.ForceRetry {
			log.Info("exchange requested retry, rescheduling placement",
				slog.String("order_id", placed.ID),
				slog.Int("retry", retry+1),
			)
			if err := e.sleep(ctx, e.cfg.RetryDelay); err != nil {
				return nil
			}
			order = domain.NewRetryOrder(order)
			continue
		}

		log.Info("order placed",
			slog.String("order_id", placed.ID),
			slog.Float64("price", placed.Price),
			slog.Float64("amount", placed.Amount),
			slog.String("status", string(placed.Status)),
		)
		return placed
	}
}

// CurrentPrice resolves a live price for the instrument. It polls the ticker
// cache's freshness predicate, then falls back to the last known ticker even
// if stale. Sign convention: long lands on the bid, short on the negated
// ask. The negative sign is a downstream marker, not a literal negative
// price; consumers building orders take the absolute value and carry the
// side explicitly. Returns 0 when no ticker at all is known.
func (e *Executor) CurrentPrice(ctx context.Context, exchange, symbol string, side domain.Side) float64 {
	var tk domain.Ticker
	found := false

	for i := 0; i < e.cfg.PollAttempts; i++ {
		fresh, err := e.tickers.GetIfFresh(ctx, exchange, symbol, e.cfg.FreshThreshold)
		if err == nil {
			tk = fresh
			found = true
			break
		}
		if err := e.sleep(ctx, e.cfg.PollInterval); err != nil {
			return 0
		}
	}

	if !found {
		last, err := e.tickers.Get(ctx, exchange, symbol)
		if err != nil {
			e.logger.Error("no ticker known for price resolution",
				slog.String("exchange", exchange),
				slog.String("symbol", symbol),
			)
			return 0
		}
		e.logger.Info("falling back to stale ticker for price resolution",
			slog.String("exchange", exchange),
			slog.String("symbol", symbol),
			slog.Time("ticker_at", last.CreatedAt),
		)
		tk = last
	}

	if side == domain.SideShort {
		return -tk.Ask
	}
	return tk.Bid
}

// CancelOrder cancels one order. Errors are logged and swallowed; nil is
// returned when the cancel did not go through.
func (e *Executor) CancelOrder(ctx context.Context, ex domain.Exchange, id string) *domain.ExchangeOrder {
	cancelled, err := ex.CancelOrder(ctx, id)
	if err != nil {
		e.logger.Error("cancel order failed",
			slog.String("exchange", ex.Name()),
			slog.String("order_id", id),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return cancelled
}

// CancelAll cancels every live order for the instrument.
func (e *Executor) CancelAll(ctx context.Context, ex domain.Exchange, symbol string) {
	cancelled, err := ex.CancelAll(ctx, symbol)
	if err != nil {
		e.logger.Error("cancel all failed",
			slog.String("exchange", ex.Name()),
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return
	}
	if len(cancelled) > 0 {
		e.logger.Info("cancelled open orders",
			slog.String("exchange", ex.Name()),
			slog.String("symbol", symbol),
			slog.Int("count", len(cancelled)),
		)
	}
}

// AdjustOpenOrdersPrice is the price-adjustment pass: for every state that
// tracks the best price and has an attached order, move the order to the
// fresh top-of-book price when it drifted beyond the threshold. A per-order
// in-flight claim prevents concurrent adjustments of the same order; the
// claim is released whether or not the update succeeds.
func (e *Executor) AdjustOpenOrdersPrice(ctx context.Context, states ...*pairs.PairState) {
	e.sweepStaleClaims()

	for _, st := range states {
		if !st.TracksBestPrice() {
			continue
		}
		attached := st.Order()
		if attached == nil {
			continue
		}
		if !e.claim(attached.ID) {
			continue
		}
		e.adjustOne(ctx, st, attached)
		e.release(attached.ID)
	}
}

func (e *Executor) adjustOne(ctx context.Context, st *pairs.PairState, attached *domain.ExchangeOrder) {
	log := e.logger.With(
		slog.String("exchange", st.Exchange),
		slog.String("symbol", st.Symbol),
		slog.String("order_id", attached.ID),
	)

	ex := e.exchanges.Get(st.Exchange)
	if ex == nil {
		log.Error("unknown exchange for price adjustment")
		return
	}

	signed := e.CurrentPrice(ctx, st.Exchange, st.Symbol, attached.Side)
	if signed == 0 {
		log.Debug("no price available for adjustment")
		return
	}
	fresh := math.Abs(signed)

	diff := math.Abs((attached.Price-fresh)/fresh) * 100
	if diff <= e.cfg.AdjustThreshold {
		return
	}

	target := ex.CalculatePrice(fresh, st.Symbol)
	log.Info("adjusting order price",
		slog.Float64("old_price", attached.Price),
		slog.Float64("new_price", target),
		slog.String("drift_pct", fmt.Sprintf("%.4f", diff)),
	)

	updated, err := ex.UpdateOrder(ctx, attached.ID, domain.OrderUpdate{Price: target})
	if err != nil {
		log.Error("order price update failed", slog.String("error", err.Error()))
		return
	}
	if updated != nil {
		st.SetAttachedOrder(updated)
	}
}

// claim marks an order id as being adjusted. Returns false when another
// adjustment for the id is already in flight.
func (e *Executor) claim(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.adjusting[id]; busy {
		return false
	}
	e.adjusting[id] = time.Now()
	return true
}

func (e *Executor) release(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.adjusting, id)
}

// sweepStaleClaims drops claims older than claimTTL.
func (e *Executor) sweepStaleClaims() {
	e.mu.Lock()
	defer e.mu.Unlock()
	cutoff := time.Now().Add(-claimTTL)
	for id, at := range e.adjusting {
		if at.Before(cutoff) {
			delete(e.adjusting, id)
		}
	}
}

// Compile-time interface checks against the pair state engine's contracts.
var (
	_ pairs.OrderExecutor = (*Executor)(nil)
	_ pairs.PriceAdjuster = (*Executor)(nil)
)
