package pairs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/pairbot/internal/domain"
)

// Exchanges resolves an exchange adapter by name. Implemented by the
// exchange registry; nil is returned for unknown names.
type Exchanges interface {
	Get(name string) domain.Exchange
}

// OrderExecutor is the interface through which the execution layer places
// and cancels orders. Failures are absorbed by the executor and surface as
// nil results; the next scheduled tick is the retry mechanism.
type OrderExecutor interface {
	ExecuteOrder(ctx context.Context, ex domain.Exchange, order domain.Order) *domain.ExchangeOrder
	CancelOrder(ctx context.Context, ex domain.Exchange, id string) *domain.ExchangeOrder
	CancelAll(ctx context.Context, ex domain.Exchange, symbol string)
}

// Notifier pushes operator-facing alerts. Optional.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Execution is the state-transition logic: given a PairState, decide whether
// to create, reuse, or cancel orders, reconciling against live exchange
// orders and positions. Every exchange call is wrapped so errors become
// logged "no progress this tick" outcomes instead of crashing the scheduler.
type Execution struct {
	exchanges Exchanges
	executor  OrderExecutor
	calc      *Calculator
	tickers   domain.TickerCache
	logger    *slog.Logger

	maxRetries     int
	maxAge         time.Duration
	reuseTolerance float64 // percent distance from bid for adopting a live order

	// Optional observers.
	orders   domain.OrderStore
	audit    domain.AuditStore
	bus      domain.SignalBus
	notifier Notifier
}

// NewExecution creates the execution component. maxRetries is the business
// retry budget, maxAge the state timeout, reuseTolerance the percent price
// distance for adopting an existing live order.
func NewExecution(
	exchanges Exchanges,
	orderExecutor OrderExecutor,
	calc *Calculator,
	tickers domain.TickerCache,
	maxRetries int,
	maxAge time.Duration,
	reuseTolerance float64,
	logger *slog.Logger,
) *Execution {
	return &Execution{
		exchanges:      exchanges,
		executor:       orderExecutor,
		calc:           calc,
		tickers:        tickers,
		maxRetries:     maxRetries,
		maxAge:         maxAge,
		reuseTolerance: reuseTolerance,
		logger:         logger.With(slog.String("component", "pair_state_execution")),
	}
}

// WithPersistence attaches the order trail and audit stores. Persistence
// failures are logged warnings, never engine failures.
func (e *Execution) WithPersistence(orders domain.OrderStore, audit domain.AuditStore) *Execution {
	e.orders = orders
	e.audit = audit
	return e
}

// WithSignalBus attaches the event bus for order lifecycle events.
func (e *Execution) WithSignalBus(bus domain.SignalBus) *Execution {
	e.bus = bus
	return e
}

// WithNotifier attaches the operator notifier.
func (e *Execution) WithNotifier(n Notifier) *Execution {
	e.notifier = n
	return e
}

// OnTick advances the state machine one step. Guard clauses first: an
// exhausted retry budget or an aged-out state is cancelled unconditionally,
// whatever the state type.
func (e *Execution) OnTick(ctx context.Context, st *PairState) {
	log := e.stateLogger(st)

	if st.Retries() > e.maxRetries {
		log.Error("retry budget exhausted, cancelling", slog.Int("retries", st.Retries()))
		e.auditEvent(ctx, "state_retries_exhausted", st, nil)
		e.notify(ctx, "state_timeout", "Pair state cancelled", st.String()+" exceeded retry budget")
		e.OnCancel(ctx, st)
		return
	}
	if age := st.Age(time.Now().UTC()); age > e.maxAge {
		log.Info("state timed out, cancelling", slog.Duration("age", age))
		e.auditEvent(ctx, "state_timeout", st, nil)
		e.notify(ctx, "state_timeout", "Pair state timed out", st.String())
		e.OnCancel(ctx, st)
		return
	}

	switch st.State {
	case StateCancel:
		e.OnCancel(ctx, st)
	case StateClose:
		e.onClose(ctx, st)
	case StateLong:
		e.onDirectional(ctx, st, domain.SideLong)
	case StateShort:
		e.onDirectional(ctx, st, domain.SideShort)
	default:
		log.Error("unknown state, clearing", slog.String("state", string(st.State)))
		st.Clear()
	}
}

// OnCancel is the cancel path: drop every live order for the instrument and
// clear the state. Also used by the manager's graceful shutdown.
func (e *Execution) OnCancel(ctx context.Context, st *PairState) {
	ex := e.exchanges.Get(st.Exchange)
	if ex == nil {
		e.stateLogger(st).Error("unknown exchange, clearing state")
		st.Clear()
		return
	}

	e.executor.CancelAll(ctx, ex, st.Symbol)
	e.auditEvent(ctx, "state_cancelled", st, nil)
	st.Clear()
}

// onClose handles a close intent. A close with no open position is stale:
// the state is cleared and any stray order is cancelled defensively.
func (e *Execution) onClose(ctx context.Context, st *PairState) {
	log := e.stateLogger(st)

	ex := e.exchanges.Get(st.Exchange)
	if ex == nil {
		log.Error("unknown exchange, clearing state")
		st.Clear()
		return
	}

	pos, err := ex.GetPositionForSymbol(ctx, st.Symbol)
	if err != nil {
		log.Error("position lookup failed", slog.String("error", err.Error()))
		return
	}
	if pos == nil {
		log.Info("close intent with no open position, clearing and sweeping strays")
		st.Clear()
		e.executor.CancelAll(ctx, ex, st.Symbol)
		return
	}

	// Closing order: position amount, side inverted.
	side := pos.Side.Invert()
	amount := pos.AbsAmount()

	order := e.managedOrder(ctx, st, ex, side, &amount)
	e.classify(ctx, st, order, log)
	e.reconcile(ctx, st, ex, order)
}

// onDirectional handles long and short intents. An already-open position in
// the same direction satisfies the intent: the state is cleared without
// placing anything, and without touching stray opposite-side orders
// (observed production behavior, kept as-is).
func (e *Execution) onDirectional(ctx context.Context, st *PairState, side domain.Side) {
	log := e.stateLogger(st)

	ex := e.exchanges.Get(st.Exchange)
	if ex == nil {
		log.Error("unknown exchange, clearing state")
		st.Clear()
		return
	}

	pos, err := ex.GetPositionForSymbol(ctx, st.Symbol)
	if err != nil {
		log.Error("position lookup failed", slog.String("error", err.Error()))
		return
	}
	if pos != nil && pos.Side == side {
		log.Info("position already open in desired direction, clearing",
			slog.String("side", string(side)),
			slog.Float64("amount", pos.Amount),
		)
		st.Clear()
		return
	}

	order := e.managedOrder(ctx, st, ex, side, nil)
	e.classify(ctx, st, order, log)
	e.reconcile(ctx, st, ex, order)
}

// managedOrder implements the place-or-reuse protocol: prefer the attached
// order if the exchange still knows it, then adopt a live order that matches
// the intent, and only then place a new one. fixedAmount, when non-nil,
// overrides capital resolution (close intents size from the position).
func (e *Execution) managedOrder(ctx context.Context, st *PairState, ex domain.Exchange, side domain.Side, fixedAmount *float64) *domain.ExchangeOrder {
	log := e.stateLogger(st)

	// 1. Re-query the order we believe represents this intent. Adapters
	// report a vanished order either as (nil, nil) or as ErrNotFound; both
	// mean the same thing here and fall through to the scan.
	if attached := st.Order(); attached != nil {
		found, err := ex.FindOrderByID(ctx, attached.ID)
		switch {
		case err != nil && errors.Is(err, domain.ErrNotFound):
			log.Info("attached order no longer on exchange", slog.String("order_id", attached.ID))
		case err != nil:
			log.Error("attached order lookup failed", slog.String("order_id", attached.ID), slog.String("error", err.Error()))
			return nil
		case found != nil:
			log.Debug("attached order still live, reusing", slog.String("order_id", found.ID))
			return found
		}
	}

	// 2. Adopt a live order matching the intent. This prevents duplicate
	// placements when the in-memory pointer was lost, e.g. after a restart.
	if adopted := e.findReusableOrder(ctx, st, ex, side); adopted != nil {
		log.Info("reusing live order within tolerance",
			slog.String("order_id", adopted.ID),
			slog.Float64("price", adopted.Price),
		)
		return adopted
	}

	// 3. Place a new order.
	amount := 0.0
	if fixedAmount != nil {
		amount = *fixedAmount
	} else {
		if st.Capital == nil {
			log.Error("no capital on state, cannot size order")
			return nil
		}
		resolved, err := e.calc.CalcOrderSizeCapital(ctx, ex, st.Symbol, *st.Capital)
		if err != nil {
			log.Error("order sizing failed", slog.String("error", err.Error()))
			return nil
		}
		amount = resolved
	}

	var intent domain.Order
	if st.Option("market") == "true" {
		intent = domain.NewMarketOrder(st.Symbol, side, amount)
	} else {
		intent = domain.NewLimitPostOnlyTrackedOrder(st.Symbol, side, amount)
	}
	intent.ClientID = uuid.New().String()

	placed := e.executor.ExecuteOrder(ctx, ex, intent)
	if placed != nil {
		e.recordOrder(ctx, st, placed)
		e.publish(ctx, "order_placed", st, placed)
	}
	return placed
}

// findReusableOrder scans the instrument's live orders for a limit order on
// the intended side whose price sits within the reuse tolerance of the
// current ticker bid.
func (e *Execution) findReusableOrder(ctx context.Context, st *PairState, ex domain.Exchange, side domain.Side) *domain.ExchangeOrder {
	log := e.stateLogger(st)

	orders, err := ex.GetOrdersForSymbol(ctx, st.Symbol)
	if err != nil {
		log.Error("open order scan failed", slog.String("error", err.Error()))
		return nil
	}
	if len(orders) == 0 {
		return nil
	}

	tk, err := e.tickers.Get(ctx, st.Exchange, st.Symbol)
	if err != nil || tk.Bid <= 0 {
		return nil
	}

	for i := range orders {
		o := orders[i]
		if o.Kind != domain.OrderKindLimit || o.Side != side {
			continue
		}
		diff := math.Abs(o.Price-tk.Bid) / tk.Bid * 100
		if diff <= e.reuseTolerance {
			return &o
		}
	}
	return nil
}

// classify applies the placement/reuse result to the state: rejection clears
// it, a non-retryable cancel burns a business retry, an immediate fill
// clears it, anything else is attached for future reuse. A nil result means
// no progress this tick; the next tick starts from scratch.
func (e *Execution) classify(ctx context.Context, st *PairState, order *domain.ExchangeOrder, log *slog.Logger) {
	if order == nil {
		log.Debug("no order result this tick")
		return
	}

	switch {
	case order.Status == domain.OrderStatusRejected:
		log.Error("order rejected, clearing state", slog.String("order_id", order.ID))
		e.updateOrderStatus(ctx, order.ID, domain.OrderStatusRejected)
		e.auditEvent(ctx, "order_rejected", st, order)
		e.notify(ctx, "order_rejected", "Order rejected", st.String())
		st.Clear()

	case order.ShouldStopTracking():
		// Cancelled without the adapter's retry flag: burn one business
		// retry and let the next tick try again from scratch.
		log.Info("order cancelled without retry flag, triggering retry",
			slog.String("order_id", order.ID),
			slog.Int("retries", st.Retries()+1),
		)
		e.updateOrderStatus(ctx, order.ID, domain.OrderStatusCancelled)
		st.TriggerRetry()

	case order.Status == domain.OrderStatusDone:
		log.Info("order filled immediately, clearing state", slog.String("order_id", order.ID))
		e.updateOrderStatus(ctx, order.ID, domain.OrderStatusDone)
		e.publish(ctx, "order_filled", st, order)
		st.Clear()

	default:
		st.SetAttachedOrder(order)
	}
}

// reconcile re-fetches the instrument's live orders and cancels every order
// that is not the managed one. Defends against exchange-side duplication,
// e.g. a placement retry that actually succeeded server-side.
func (e *Execution) reconcile(ctx context.Context, st *PairState, ex domain.Exchange, managed *domain.ExchangeOrder) {
	if managed == nil {
		return
	}
	log := e.stateLogger(st)

	orders, err := ex.GetOrdersForSymbol(ctx, st.Symbol)
	if err != nil {
		log.Error("reconciliation scan failed", slog.String("error", err.Error()))
		return
	}
	if len(orders) <= 1 {
		return
	}

	for _, o := range orders {
		if o.ID == managed.ID {
			continue
		}
		log.Info("cancelling duplicate live order",
			slog.String("order_id", o.ID),
			slog.String("managed_id", managed.ID),
		)
		e.executor.CancelOrder(ctx, ex, o.ID)
		e.auditEvent(ctx, "duplicate_order_cancelled", st, &o)
	}
}

// ---------------------------------------------------------------------------
// Observers. Persistence, bus, and notification failures are warnings only.
// ---------------------------------------------------------------------------

func (e *Execution) recordOrder(ctx context.Context, st *PairState, o *domain.ExchangeOrder) {
	if e.orders == nil {
		return
	}
	rec := domain.OrderRecord{
		ID:        o.ID,
		Exchange:  st.Exchange,
		Symbol:    o.Symbol,
		Side:      o.Side,
		Kind:      o.Kind,
		Price:     o.Price,
		Amount:    o.Amount,
		Status:    o.Status,
		Intent:    string(st.State),
		CreatedAt: time.Now().UTC(),
	}
	if err := e.orders.Record(ctx, rec); err != nil {
		e.stateLogger(st).Warn("order record failed", slog.String("order_id", o.ID), slog.String("error", err.Error()))
	}
}

func (e *Execution) updateOrderStatus(ctx context.Context, id string, status domain.OrderStatus) {
	if e.orders == nil {
		return
	}
	if err := e.orders.UpdateStatus(ctx, id, status); err != nil {
		e.logger.Warn("order status update failed", slog.String("order_id", id), slog.String("error", err.Error()))
	}
}

func (e *Execution) auditEvent(ctx context.Context, event string, st *PairState, o *domain.ExchangeOrder) {
	if e.audit == nil {
		return
	}
	fields := map[string]any{
		"exchange": st.Exchange,
		"symbol":   st.Symbol,
		"state":    string(st.State),
		"retries":  st.Retries(),
	}
	if o != nil {
		fields["order_id"] = o.ID
		fields["order_status"] = string(o.Status)
		fields["price"] = o.Price
		fields["amount"] = o.Amount
	}
	if err := e.audit.Log(ctx, event, fields); err != nil {
		e.stateLogger(st).Warn("audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func (e *Execution) publish(ctx context.Context, event string, st *PairState, o *domain.ExchangeOrder) {
	if e.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{
		"event":    event,
		"exchange": st.Exchange,
		"symbol":   st.Symbol,
		"state":    string(st.State),
		"order_id": o.ID,
		"side":     string(o.Side),
		"status":   string(o.Status),
	})
	if err := e.bus.Publish(ctx, "orders", payload); err != nil {
		e.stateLogger(st).Warn("event publish failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func (e *Execution) notify(ctx context.Context, event, title, message string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, event, title, message); err != nil {
		e.logger.Warn("notify failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func (e *Execution) stateLogger(st *PairState) *slog.Logger {
	return e.logger.With(
		slog.String("exchange", st.Exchange),
		slog.String("symbol", st.Symbol),
		slog.String("state", string(st.State)),
	)
}
