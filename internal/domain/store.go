package domain

import (
	"context"
	"io"
	"time"
)

// OrderRecord is the persisted trail of one order the engine placed or
// cancelled. It exists for diagnostics and archiving, not for engine
// decisions; reconciliation always re-derives truth from the exchange.
type OrderRecord struct {
	ID        string
	Exchange  string
	Symbol    string
	Side      Side
	Kind      OrderKind
	Price     float64
	Amount    float64
	Status    OrderStatus
	Intent    string // pair state that produced the order: long/short/close
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderStore persists the order trail.
type OrderStore interface {
	Record(ctx context.Context, rec OrderRecord) error
	UpdateStatus(ctx context.Context, id string, status OrderStatus) error
	ListClosedBefore(ctx context.Context, cutoff time.Time, limit int) ([]OrderRecord, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditStore records engine decisions with free-form context.
type AuditStore interface {
	Log(ctx context.Context, event string, fields map[string]any) error
}

// SignalBus publishes engine lifecycle events for external consumers
// (dashboard, watchdogs) and delivers inbound strategy signals.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// LockManager hands out distributed locks. The engine takes one per exchange
// so two processes never drive the same account.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// BlobWriter uploads archive objects.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
