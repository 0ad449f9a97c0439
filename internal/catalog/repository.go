package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian/internal/platform/db"
	"github.com/meridian-pos/meridian/internal/shared"
	"github.com/meridian-pos/meridian/internal/stockledger"
)

// Repository persists catalog data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	InsertProduct(ctx context.Context, p Product) (int64, error)
	UpdateProduct(ctx context.Context, id int64, updates map[string]any) error
	DeleteProduct(ctx context.Context, id int64) error
	ReleaseStock(ctx context.Context, productID, qty int64, ref stockledger.Ref) error
	ReserveStock(ctx context.Context, productID, qty int64, ref stockledger.Ref) error
	AddDamaged(ctx context.Context, productID, qty int64) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("catalog repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const productColumns = `id, name, price, purchase_price, quantity, damaged_quantity, low_stock_threshold, created_at, updated_at`

func scanProduct(row pgx.Row) (*Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.PurchasePrice, &p.Quantity, &p.DamagedQuantity, &p.LowStockThreshold, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// GetProduct fetches a product by ID.
func (r *Repository) GetProduct(ctx context.Context, id int64) (*Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id)
	return scanProduct(row)
}

// ListProducts returns a filtered page of products plus the total count.
func (r *Repository) ListProducts(ctx context.Context, req ListProductsRequest) ([]Product, int, error) {
	where := []string{"TRUE"}
	args := []any{}
	if req.Search != nil && *req.Search != "" {
		args = append(args, "%"+*req.Search+"%")
		where = append(where, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	if req.LowStockOnly {
		where = append(where, "low_stock_threshold > 0 AND quantity <= low_stock_threshold")
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	perPage := req.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := req.Page
	if page <= 0 {
		page = 1
	}
	args = append(args, perPage, (page-1)*perPage)
	query := fmt.Sprintf(`SELECT `+productColumns+` FROM products WHERE %s ORDER BY name ASC LIMIT $%d OFFSET $%d`, cond, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	products := []Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.PurchasePrice, &p.Quantity, &p.DamagedQuantity, &p.LowStockThreshold, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, err
		}
		products = append(products, p)
	}
	return products, total, rows.Err()
}

// Movements lists stock ledger journal entries for a product.
func (r *Repository) Movements(ctx context.Context, filter stockledger.MovementFilter) ([]stockledger.Movement, error) {
	return stockledger.Movements(ctx, r.pool, filter)
}

func (r *txRepository) InsertProduct(ctx context.Context, p Product) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO products (name, price, purchase_price, quantity, damaged_quantity, low_stock_threshold)
VALUES ($1, $2, $3, 0, 0, $4) RETURNING id`, p.Name, p.Price, p.PurchasePrice, p.LowStockThreshold).Scan(&id)
	if err != nil {
		return 0, mapConstraintErr(err, "product name")
	}
	return id, nil
}

func (r *txRepository) UpdateProduct(ctx context.Context, id int64, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	set := []string{"updated_at=NOW()"}
	args := []any{id}
	for col, val := range updates {
		args = append(args, val)
		set = append(set, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	tag, err := r.tx.Exec(ctx, fmt.Sprintf(`UPDATE products SET %s WHERE id=$1`, strings.Join(set, ", ")), args...)
	if err != nil {
		return mapConstraintErr(err, "product name")
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepository) DeleteProduct(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM products WHERE id=$1`, id)
	if err != nil {
		return mapConstraintErr(err, "product")
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepository) ReleaseStock(ctx context.Context, productID, qty int64, ref stockledger.Ref) error {
	return stockledger.Release(ctx, r.tx, productID, qty, ref)
}

func (r *txRepository) ReserveStock(ctx context.Context, productID, qty int64, ref stockledger.Ref) error {
	return stockledger.Reserve(ctx, r.tx, productID, qty, ref)
}

func (r *txRepository) AddDamaged(ctx context.Context, productID, qty int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE products SET damaged_quantity = damaged_quantity + $2, updated_at=NOW() WHERE id=$1`, productID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// mapConstraintErr converts unique and foreign-key violations into the shared taxonomy.
func mapConstraintErr(err error, what string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: duplicate %s", shared.ErrConflict, what)
		case "23503":
			return fmt.Errorf("%w: %s still referenced", shared.ErrConflict, what)
		}
	}
	return err
}
