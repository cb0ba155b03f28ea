package pairs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/pairbot/internal/domain"
)

// countingExecutor counts ticks and clears states on cancel, like the real
// execution component's cancel path.
type countingExecutor struct {
	mu        sync.Mutex
	ticks     int
	cancelled []*PairState
}

func (c *countingExecutor) OnTick(_ context.Context, st *PairState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks++
}

func (c *countingExecutor) OnCancel(_ context.Context, st *PairState) {
	c.mu.Lock()
	c.cancelled = append(c.cancelled, st)
	c.mu.Unlock()
	st.Clear()
}

func (c *countingExecutor) tickCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

type noopAdjuster struct {
	mu    sync.Mutex
	calls int
}

func (n *noopAdjuster) AdjustOpenOrdersPrice(context.Context, ...*PairState) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
}

func newTestManager(capital *domain.OrderCapital, interval time.Duration) (*Manager, *countingExecutor, *noopAdjuster) {
	exec := &countingExecutor{}
	adj := &noopAdjuster{}
	m := NewManager(exec, adj, &staticPairConfig{capital: capital}, interval, testLogger())
	return m, exec, adj
}

func TestUpdateInvalidState(t *testing.T) {
	cap := domain.CapitalCurrency(100)
	m, _, _ := newTestManager(&cap, time.Hour)

	err := m.Update(context.Background(), testExchange, testSymbol, "sideways", nil)
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("error = %v, want ErrInvalidState", err)
	}
	if !m.IsNeutral(testExchange, testSymbol) {
		t.Error("invalid state registered an entry")
	}
}

func TestUpdateWithoutCapitalIsNoop(t *testing.T) {
	m, _, _ := newTestManager(nil, time.Hour)

	if err := m.Update(context.Background(), testExchange, testSymbol, "long", nil); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !m.IsNeutral(testExchange, testSymbol) {
		t.Error("state registered without configured capital")
	}
}

func TestUpdateWithoutCapitalLeavesExistingState(t *testing.T) {
	cap := domain.CapitalCurrency(100)
	cfg := &staticPairConfig{capital: &cap}
	exec := &countingExecutor{}
	m := NewManager(exec, &noopAdjuster{}, cfg, time.Hour, testLogger())

	if err := m.Update(context.Background(), testExchange, testSymbol, "long", nil); err != nil {
		t.Fatalf("Update: %v", err)
	}
	existing := m.Get(testExchange, testSymbol)

	// Capital disappears from config; a new signal must not displace the
	// existing state.
	cfg.capital = nil
	if err := m.Update(context.Background(), testExchange, testSymbol, "short", nil); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if got := m.Get(testExchange, testSymbol); got != existing {
		t.Error("existing state displaced by an unregisterable signal")
	}
}

// A new signal for the same key replaces the old state wholesale.
func TestUpdateReplacesState(t *testing.T) {
	cap := domain.CapitalCurrency(100)
	m, _, _ := newTestManager(&cap, time.Hour)
	ctx := context.Background()

	if err := m.Update(ctx, testExchange, testSymbol, "long", nil); err != nil {
		t.Fatalf("Update: %v", err)
	}
	first := m.Get(testExchange, testSymbol)

	if err := m.Update(ctx, testExchange, testSymbol, "short", nil); err != nil {
		t.Fatalf("Update: %v", err)
	}
	second := m.Get(testExchange, testSymbol)

	if first == second {
		t.Fatal("state not replaced")
	}
	if second.State != StateShort {
		t.Errorf("state = %s, want short", second.State)
	}

	// The displaced state's continuation must not tear down its
	// replacement: clearing it is a no-op against the registry.
	first.Clear()
	if got := m.Get(testExchange, testSymbol); got != second {
		t.Error("clearing the replaced state removed its successor")
	}
}

// Configured pair options reach the installed state, and signal options win
// over them. The market flag set in config is what makes the execution layer
// place a market order instead of a tracked limit order.
func TestUpdateMergesConfiguredOptions(t *testing.T) {
	cap := domain.CapitalCurrency(100)
	cfg := &staticPairConfig{capital: &cap, options: map[string]string{"market": "true"}}
	m := NewManager(&countingExecutor{}, &noopAdjuster{}, cfg, time.Hour, testLogger())
	ctx := context.Background()

	if err := m.Update(ctx, testExchange, testSymbol, "long", nil); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := m.Get(testExchange, testSymbol).Option("market"); got != "true" {
		t.Errorf("market option = %q, want configured true", got)
	}

	// The signal overrides the configured baseline.
	if err := m.Update(ctx, testExchange, testSymbol, "long", map[string]string{"market": "false"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := m.Get(testExchange, testSymbol).Option("market"); got != "false" {
		t.Errorf("market option = %q, want signal override false", got)
	}
}

func TestFilteredViews(t *testing.T) {
	cap := domain.CapitalCurrency(100)
	m, _, _ := newTestManager(&cap, time.Hour)
	ctx := context.Background()

	pairsBy := map[string]string{
		"BTCUSDT": "long",
		"ETHUSDT": "short",
		"SOLUSDT": "close",
		"XRPUSDT": "cancel",
	}
	for symbol, state := range pairsBy {
		if err := m.Update(ctx, testExchange, symbol, state, nil); err != nil {
			t.Fatalf("Update %s: %v", symbol, err)
		}
	}

	if got := len(m.All()); got != 4 {
		t.Errorf("All() = %d states, want 4", got)
	}
	checks := []struct {
		name   string
		list   []*PairState
		symbol string
	}{
		{"buying", m.Buying(), "BTCUSDT"},
		{"selling", m.Selling(), "ETHUSDT"},
		{"closing", m.Closing(), "SOLUSDT"},
		{"cancelling", m.Cancelling(), "XRPUSDT"},
	}
	for _, c := range checks {
		if len(c.list) != 1 || c.list[0].Symbol != c.symbol {
			t.Errorf("%s = %v, want exactly %s", c.name, c.list, c.symbol)
		}
	}

	if m.IsNeutral(testExchange, "BTCUSDT") {
		t.Error("IsNeutral true for registered pair")
	}
	if !m.IsNeutral(testExchange, "DOGEUSDT") {
		t.Error("IsNeutral false for unregistered pair")
	}
}

func TestClearRemovesRegistryEntry(t *testing.T) {
	cap := domain.CapitalCurrency(100)
	m, _, _ := newTestManager(&cap, time.Hour)

	if err := m.Update(context.Background(), testExchange, testSymbol, "long", nil); err != nil {
		t.Fatalf("Update: %v", err)
	}
	st := m.Get(testExchange, testSymbol)
	st.Clear()

	if !m.IsNeutral(testExchange, testSymbol) {
		t.Error("cleared state still registered")
	}
}

func TestSchedulerTicks(t *testing.T) {
	cap := domain.CapitalCurrency(100)
	m, exec, _ := newTestManager(&cap, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	if err := m.Update(ctx, testExchange, testSymbol, "long", nil); err != nil {
		t.Fatalf("Update: %v", err)
	}

	deadline := time.After(time.Second)
	for exec.tickCount() < 2 {
		select {
		case <-deadline:
			t.Fatal("scheduler never ticked twice")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestOnTerminateCancelsEverything(t *testing.T) {
	cap := domain.CapitalCurrency(100)
	m, exec, _ := newTestManager(&cap, time.Hour)
	ctx := context.Background()

	for _, symbol := range []string{"BTCUSDT", "ETHUSDT"} {
		if err := m.Update(ctx, testExchange, symbol, "long", nil); err != nil {
			t.Fatalf("Update %s: %v", symbol, err)
		}
	}

	m.OnTerminate(ctx)

	if got := len(exec.cancelled); got != 2 {
		t.Errorf("cancelled = %d states, want 2", got)
	}
	if got := len(m.All()); got != 0 {
		t.Errorf("registry holds %d states after terminate, want 0", got)
	}
}
