package pairs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/pairbot/internal/domain"
)

// TickExecutor advances a pair state one step and owns the cancel path.
// Implemented by Execution.
type TickExecutor interface {
	OnTick(ctx context.Context, st *PairState)
	OnCancel(ctx context.Context, st *PairState)
}

// PriceAdjuster keeps tracked orders at the top of book. Implemented by the
// order executor.
type PriceAdjuster interface {
	AdjustOpenOrdersPrice(ctx context.Context, states ...*PairState)
}

// Manager is the registry and scheduler: exactly one PairState per
// (exchange, symbol), with a periodic re-evaluation loop per key. A new
// signal for a key replaces the old state wholesale and restarts its loop;
// starting a loop implicitly stops the previous one for that key.
type Manager struct {
	exec     TickExecutor
	adjuster PriceAdjuster
	pairCfg  domain.PairConfigProvider
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	states map[string]*PairState
	stops  map[string]chan struct{}

	baseCtx context.Context
	wg      sync.WaitGroup
}

// NewManager creates the registry. interval is the re-evaluation period for
// every key (tick.ordering).
func NewManager(
	exec TickExecutor,
	adjuster PriceAdjuster,
	pairCfg domain.PairConfigProvider,
	interval time.Duration,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		exec:     exec,
		adjuster: adjuster,
		pairCfg:  pairCfg,
		interval: interval,
		logger:   logger.With(slog.String("component", "pair_state_manager")),
		states:   make(map[string]*PairState),
		stops:    make(map[string]chan struct{}),
		baseCtx:  context.Background(),
	}
}

// Start binds the manager's re-evaluation loops to ctx; when ctx is
// cancelled all loops exit. Must be called before the first Update in
// production wiring.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseCtx = ctx
}

// Update ingests a new desired state for an instrument. An invalid state
// string fails synchronously. For long/short the capital must be configured
// and resolve to a positive amount; otherwise nothing is registered and any
// existing state for the key is left untouched.
func (m *Manager) Update(ctx context.Context, exchange, symbol, desiredState string, options map[string]string) error {
	state, err := ParseState(desiredState)
	if err != nil {
		return err
	}

	log := m.logger.With(
		slog.String("exchange", exchange),
		slog.String("symbol", symbol),
		slog.String("state", string(state)),
	)

	var capital *domain.OrderCapital
	if _, directional := state.Side(); directional {
		capital = m.pairCfg.GetSymbolCapital(exchange, symbol)
		if capital == nil {
			log.Error("no capital configured for pair, ignoring signal")
			return nil
		}
		if amt, amtErr := capital.Amount(); amtErr != nil || amt <= 0 {
			log.Error("configured capital does not resolve to a positive amount, ignoring signal",
				slog.String("capital", capital.String()),
			)
			return nil
		}
	}

	// Configured pair options are the baseline; options carried by the
	// signal override them.
	opts := m.pairCfg.GetSymbolOptions(exchange, symbol)
	if opts == nil {
		opts = make(map[string]string, len(options))
	}
	for k, v := range options {
		opts[k] = v
	}

	st := NewPairState(exchange, symbol, state, opts, capital, m.remove)
	m.install(st)

	log.Info("pair state installed", slog.String("pair_state", st.String()))
	return nil
}

// install replaces any existing entry for the key and restarts its loop.
func (m *Manager) install(st *PairState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := st.Key()
	if old, ok := m.stops[key]; ok {
		close(old)
		delete(m.stops, key)
	}

	m.states[key] = st
	stop := make(chan struct{})
	m.stops[key] = stop

	m.wg.Add(1)
	go m.loop(st, stop)
}

// loop re-evaluates one key at the configured interval until replaced,
// cleared, or shut down.
func (m *Manager) loop(st *PairState, stop chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.base().Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			m.tick(st)
		}
	}
}

// tick runs one re-evaluation for a key. The double membership check, once
// before the execution step and once before the price-adjustment pass, is
// the concurrency guard: a concurrent Update or Clear between the two steps
// makes this tick's continuation a no-op instead of resurrecting dead state.
func (m *Manager) tick(st *PairState) {
	ctx := m.base()

	if !m.isCurrent(st) || st.IsCleared() {
		return
	}
	m.exec.OnTick(ctx, st)

	if !m.isCurrent(st) || st.IsCleared() {
		return
	}
	if st.TracksBestPrice() {
		m.adjuster.AdjustOpenOrdersPrice(ctx, st)
	}
}

// remove is the onClear callback: drop the registry entry and stop the loop,
// but only while the entry still points at this exact state. A state already
// replaced by a newer Update must not tear down its successor.
func (m *Manager) remove(st *PairState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := st.Key()
	if m.states[key] != st {
		return
	}
	delete(m.states, key)
	if stop, ok := m.stops[key]; ok {
		close(stop)
		delete(m.stops, key)
	}
}

func (m *Manager) isCurrent(st *PairState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[st.Key()] == st
}

func (m *Manager) base() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.baseCtx
}

// Get returns the registered state for an instrument, or nil.
func (m *Manager) Get(exchange, symbol string) *PairState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[exchange+":"+symbol]
}

// All returns every registered state.
func (m *Manager) All() []*PairState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*PairState, 0, len(m.states))
	for _, st := range m.states {
		out = append(out, st)
	}
	return out
}

// Buying returns states with a long intent.
func (m *Manager) Buying() []*PairState { return m.filtered(StateLong) }

// Selling returns states with a short intent.
func (m *Manager) Selling() []*PairState { return m.filtered(StateShort) }

// Closing returns states with a close intent.
func (m *Manager) Closing() []*PairState { return m.filtered(StateClose) }

// Cancelling returns states with a cancel intent.
func (m *Manager) Cancelling() []*PairState { return m.filtered(StateCancel) }

func (m *Manager) filtered(state State) []*PairState {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*PairState
	for _, st := range m.states {
		if st.State == state {
			out = append(out, st)
		}
	}
	return out
}

// IsNeutral reports whether no state is registered for the instrument.
// Watchdogs use it to avoid acting while an order is in flight.
func (m *Manager) IsNeutral(exchange, symbol string) bool {
	return m.Get(exchange, symbol) == nil
}

// OnTerminate force-cancels every registered state and waits for the loops
// to stop. Used for graceful shutdown.
func (m *Manager) OnTerminate(ctx context.Context) {
	for _, st := range m.All() {
		m.logger.Info("terminating pair state", slog.String("key", st.Key()))
		m.exec.OnCancel(ctx, st)
	}
	m.wg.Wait()
}

// String summarizes registry occupancy for logs.
func (m *Manager) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("PairStateManager(%d states)", len(m.states))
}
