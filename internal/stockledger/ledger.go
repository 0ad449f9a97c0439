package stockledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/meridian-pos/meridian/internal/shared"
)

// Reserve decrements a product's on-hand quantity inside the caller's
// transaction. The current quantity is re-read under a row lock so two
// concurrent reservations cannot both pass the sufficiency check.
func Reserve(ctx context.Context, tx pgx.Tx, productID, qty int64, ref Ref) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	current, err := lockQuantity(ctx, tx, productID)
	if err != nil {
		return err
	}
	if current < qty {
		return &InsufficientStockError{ProductID: productID, Requested: qty, Available: current}
	}
	newQty := current - qty
	if err := setQuantity(ctx, tx, productID, newQty); err != nil {
		return err
	}
	return appendMovement(ctx, tx, Movement{
		ProductID:    productID,
		Direction:    DirectionOut,
		Quantity:     qty,
		BalanceAfter: newQty,
		RefModule:    ref.Module,
		RefID:        ref.ID,
	})
}

// Release increments a product's on-hand quantity inside the caller's transaction.
func Release(ctx context.Context, tx pgx.Tx, productID, qty int64, ref Ref) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	current, err := lockQuantity(ctx, tx, productID)
	if err != nil {
		return err
	}
	newQty := current + qty
	if err := setQuantity(ctx, tx, productID, newQty); err != nil {
		return err
	}
	return appendMovement(ctx, tx, Movement{
		ProductID:    productID,
		Direction:    DirectionIn,
		Quantity:     qty,
		BalanceAfter: newQty,
		RefModule:    ref.Module,
		RefID:        ref.ID,
	})
}

func lockQuantity(ctx context.Context, tx pgx.Tx, productID int64) (int64, error) {
	var qty int64
	err := tx.QueryRow(ctx, `SELECT quantity FROM products WHERE id=$1 FOR UPDATE`, productID).Scan(&qty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: product %d", shared.ErrNotFound, productID)
		}
		return 0, fmt.Errorf("stockledger: lock product %d: %w", productID, err)
	}
	return qty, nil
}

func setQuantity(ctx context.Context, tx pgx.Tx, productID, qty int64) error {
	_, err := tx.Exec(ctx, `UPDATE products SET quantity=$2, updated_at=NOW() WHERE id=$1`, productID, qty)
	if err != nil {
		return fmt.Errorf("stockledger: update product %d: %w", productID, err)
	}
	return nil
}

func appendMovement(ctx context.Context, tx pgx.Tx, m Movement) error {
	_, err := tx.Exec(ctx, `INSERT INTO stock_movements (product_id, direction, quantity, balance_after, ref_module, ref_id, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW())`, m.ProductID, string(m.Direction), m.Quantity, m.BalanceAfter, m.RefModule, m.RefID)
	if err != nil {
		return fmt.Errorf("stockledger: append movement: %w", err)
	}
	return nil
}

// Querier is satisfied by pgxpool.Pool and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Movements lists journal rows for a product, oldest first.
func Movements(ctx context.Context, q Querier, filter MovementFilter) ([]Movement, error) {
	if filter.ProductID == 0 {
		return nil, fmt.Errorf("%w: product required", shared.ErrValidation)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := q.Query(ctx, `SELECT id, product_id, direction, quantity, balance_after, ref_module, ref_id, occurred_at
FROM stock_movements
WHERE product_id=$1 AND occurred_at BETWEEN COALESCE(NULLIF($2, '0001-01-01 00:00:00+00'::timestamptz), '-infinity') AND COALESCE(NULLIF($3, '0001-01-01 00:00:00+00'::timestamptz), 'infinity')
ORDER BY occurred_at ASC, id ASC
LIMIT $4`, filter.ProductID, filter.From, filter.To, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var m Movement
		var direction string
		var occurredAt time.Time
		if err := rows.Scan(&m.ID, &m.ProductID, &direction, &m.Quantity, &m.BalanceAfter, &m.RefModule, &m.RefID, &occurredAt); err != nil {
			return nil, err
		}
		m.Direction = Direction(direction)
		m.OccurredAt = occurredAt
		movements = append(movements, m)
	}
	return movements, rows.Err()
}
