package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/pairbot/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL. It is the
// diagnostic trail of everything the engine placed, updated, or cancelled;
// the engine never reads it back for decisions.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Record upserts one order row. Re-recording an id (a reused or adjusted
// order) overwrites the mutable columns.
func (s *OrderStore) Record(ctx context.Context, rec domain.OrderRecord) error {
	const query = `
		INSERT INTO orders (
			id, exchange, symbol, side, kind,
			price, amount, status, intent, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			price = EXCLUDED.price,
			amount = EXCLUDED.amount,
			status = EXCLUDED.status,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.Exchange, rec.Symbol,
		string(rec.Side), string(rec.Kind),
		rec.Price, rec.Amount, string(rec.Status), rec.Intent, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record order %s: %w", rec.ID, err)
	}
	return nil
}

// UpdateStatus changes the status of an existing order row.
func (s *OrderStore) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	const query = `UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2`

	tag, err := s.pool.Exec(ctx, query, string(status), id)
	if err != nil {
		return fmt.Errorf("postgres: update order status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const orderSelectCols = `id, exchange, symbol, side, kind,
	price, amount, status, intent, created_at, updated_at`

func scanOrderRows(rows pgx.Rows) ([]domain.OrderRecord, error) {
	var out []domain.OrderRecord
	for rows.Next() {
		var rec domain.OrderRecord
		var side, kind, status string

		err := rows.Scan(
			&rec.ID, &rec.Exchange, &rec.Symbol, &side, &kind,
			&rec.Price, &rec.Amount, &status, &rec.Intent,
			&rec.CreatedAt, &rec.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}

		rec.Side = domain.Side(side)
		rec.Kind = domain.OrderKind(kind)
		rec.Status = domain.OrderStatus(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListClosedBefore returns up to limit terminal orders last touched before
// cutoff, oldest first. The archiver drains closed history through it.
func (s *OrderStore) ListClosedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.OrderRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE status IN ('done', 'rejected', 'canceled') AND updated_at < $1
		 ORDER BY updated_at ASC
		 LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed orders: %w", err)
	}
	defer rows.Close()

	out, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed orders: %w", err)
	}
	return out, nil
}

// DeleteBefore removes terminal orders last touched before cutoff and
// returns how many rows went away. Called after a successful archive upload.
func (s *OrderStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM orders
		 WHERE status IN ('done', 'rejected', 'canceled') AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete closed orders: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.OrderStore = (*OrderStore)(nil)
