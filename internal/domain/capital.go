package domain

import "fmt"

// CapitalKind tags which variant of an OrderCapital is populated.
type CapitalKind int

const (
	CapitalKindUnset    CapitalKind = iota
	CapitalKindAsset                // quantity in the traded asset, e.g. 0.25 BTC
	CapitalKindCurrency             // quantity in the quote currency, e.g. 100 USDT
	CapitalKindBalance              // percentage of the tradable account balance
)

// String returns the lowercase tag name for logging.
func (k CapitalKind) String() string {
	switch k {
	case CapitalKindAsset:
		return "asset"
	case CapitalKindCurrency:
		return "currency"
	case CapitalKindBalance:
		return "balance"
	default:
		return "unset"
	}
}

// OrderCapital is a tagged amount specification. Strategies and UI flows
// express order size in incompatible units; resolution to a concrete asset
// amount is deferred until exchange and price context is known (see the
// order size calculator).
type OrderCapital struct {
	kind     CapitalKind
	asset    float64
	currency float64
	balance  float64 // percent of tradable balance, 0-100
}

// CapitalAsset builds a capital expressed as an asset quantity.
func CapitalAsset(qty float64) OrderCapital {
	return OrderCapital{kind: CapitalKindAsset, asset: qty}
}

// CapitalCurrency builds a capital expressed in the quote currency.
func CapitalCurrency(qty float64) OrderCapital {
	return OrderCapital{kind: CapitalKindCurrency, currency: qty}
}

// CapitalBalance builds a capital expressed as a percentage of the tradable
// account balance.
func CapitalBalance(percent float64) OrderCapital {
	return OrderCapital{kind: CapitalKindBalance, balance: percent}
}

// Kind returns which variant is populated.
func (c OrderCapital) Kind() CapitalKind { return c.kind }

// Asset returns the asset quantity; only meaningful for CapitalKindAsset.
func (c OrderCapital) Asset() float64 { return c.asset }

// Currency returns the quote-currency quantity; only meaningful for
// CapitalKindCurrency.
func (c OrderCapital) Currency() float64 { return c.currency }

// BalancePercent returns the balance percentage; only meaningful for
// CapitalKindBalance.
func (c OrderCapital) BalancePercent() float64 { return c.balance }

// Amount dispatches on the populated variant and returns its raw quantity.
// It fails with ErrInvalidCapital when no variant is set.
func (c OrderCapital) Amount() (float64, error) {
	switch c.kind {
	case CapitalKindAsset:
		return c.asset, nil
	case CapitalKindCurrency:
		return c.currency, nil
	case CapitalKindBalance:
		return c.balance, nil
	default:
		return 0, fmt.Errorf("capital: no variant set: %w", ErrInvalidCapital)
	}
}

// String renders the populated variant for logs.
func (c OrderCapital) String() string {
	switch c.kind {
	case CapitalKindAsset:
		return fmt.Sprintf("asset(%g)", c.asset)
	case CapitalKindCurrency:
		return fmt.Sprintf("currency(%g)", c.currency)
	case CapitalKindBalance:
		return fmt.Sprintf("balance(%g%%)", c.balance)
	default:
		return "unset"
	}
}
