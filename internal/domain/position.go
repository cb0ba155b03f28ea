package domain

import (
	"math"
	"time"
)

// Position is an open directional exposure as reported by the exchange.
// Amount is signed: negative for short exposure.
type Position struct {
	Symbol               string
	Side                 Side
	Amount               float64
	EntryPrice           float64
	UnrealizedPnLPercent float64
	OpenedAt             time.Time
}

// NewPosition derives the side from the sign of amount.
func NewPosition(symbol string, amount, entryPrice float64, openedAt time.Time) Position {
	side := SideLong
	if amount < 0 {
		side = SideShort
	}
	return Position{
		Symbol:     symbol,
		Side:       side,
		Amount:     amount,
		EntryPrice: entryPrice,
		OpenedAt:   openedAt,
	}
}

// AbsAmount returns the unsigned position size.
func (p Position) AbsAmount() float64 {
	return math.Abs(p.Amount)
}
