// Package pairs implements the position state machine: one PairState per
// (exchange, symbol), a manager that schedules periodic re-evaluation, and
// the execution logic that reconciles desired intent against live exchange
// orders and positions.
package pairs

import (
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/pairbot/internal/domain"
)

// State is the desired outcome for an instrument.
type State string

const (
	StateLong   State = "long"
	StateShort  State = "short"
	StateClose  State = "close"
	StateCancel State = "cancel"
)

// ParseState validates a desired-state string.
func ParseState(s string) (State, error) {
	switch State(s) {
	case StateLong, StateShort, StateClose, StateCancel:
		return State(s), nil
	default:
		return "", fmt.Errorf("pairs: state %q: %w", s, domain.ErrInvalidState)
	}
}

// Side maps a directional state to an order side. ok is false for close and
// cancel, whose side depends on the live position.
func (s State) Side() (domain.Side, bool) {
	switch s {
	case StateLong:
		return domain.SideLong, true
	case StateShort:
		return domain.SideShort, true
	default:
		return "", false
	}
}

// PairState is the record describing the currently desired outcome for one
// instrument. The immutable identity fields are plain; the mutable fields
// (attached order, retries, cleared flag) are guarded by a mutex because the
// manager's tick goroutine and Update callers touch them concurrently.
type PairState struct {
	Exchange  string
	Symbol    string
	State     State
	Options   map[string]string
	Capital   *domain.OrderCapital
	CreatedAt time.Time

	mu      sync.Mutex
	order   *domain.ExchangeOrder
	retries int
	cleared bool
	onClear func(*PairState)
}

// NewPairState builds a fresh state record. onClear is invoked exactly once
// when Clear is called; the manager uses it to drop the registry entry and
// stop the re-evaluation loop.
func NewPairState(exchange, symbol string, state State, options map[string]string, capital *domain.OrderCapital, onClear func(*PairState)) *PairState {
	if options == nil {
		options = map[string]string{}
	}
	return &PairState{
		Exchange:  exchange,
		Symbol:    symbol,
		State:     state,
		Options:   options,
		Capital:   capital,
		CreatedAt: time.Now().UTC(),
		onClear:   onClear,
	}
}

// Key returns the registry key for this instrument.
func (p *PairState) Key() string {
	return p.Exchange + ":" + p.Symbol
}

// Option returns the named execution option, or "" when unset.
func (p *PairState) Option(name string) string {
	return p.Options[name]
}

// TracksBestPrice reports whether this state's order intent must follow the
// top of book. Market-order pairs have nothing to track.
func (p *PairState) TracksBestPrice() bool {
	return p.Option("market") != "true" && p.State != StateCancel
}

// Order returns the attached exchange order, the order the engine believes
// represents this intent, or nil.
func (p *PairState) Order() *domain.ExchangeOrder {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.order
}

// SetAttachedOrder attaches the order that now represents this intent.
func (p *PairState) SetAttachedOrder(o *domain.ExchangeOrder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.order = o
}

// TriggerRetry increments the business retry counter. The counter never
// decrements; the execution layer cancels the state once the budget is
// exhausted.
func (p *PairState) TriggerRetry() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retries++
}

// Retries returns the business retry count.
func (p *PairState) Retries() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.retries
}

// Age returns how long ago the state was created.
func (p *PairState) Age(now time.Time) time.Duration {
	return now.Sub(p.CreatedAt)
}

// Clear marks the state finished and fires the onClear callback once.
// In-flight continuations re-check IsCleared before applying their results;
// anything written after Clear is observably discarded.
func (p *PairState) Clear() {
	p.mu.Lock()
	if p.cleared {
		p.mu.Unlock()
		return
	}
	p.cleared = true
	cb := p.onClear
	p.mu.Unlock()

	if cb != nil {
		cb(p)
	}
}

// IsCleared reports whether Clear was called.
func (p *PairState) IsCleared() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cleared
}

// String renders the state for logs.
func (p *PairState) String() string {
	cap := "none"
	if p.Capital != nil {
		cap = p.Capital.String()
	}
	return fmt.Sprintf("PairState(%s %s %s capital=%s retries=%d)", p.Exchange, p.Symbol, p.State, cap, p.Retries())
}
