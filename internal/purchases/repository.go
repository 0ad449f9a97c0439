package purchases

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian/internal/platform/db"
	"github.com/meridian-pos/meridian/internal/shared"
	"github.com/meridian-pos/meridian/internal/stockledger"
)

// Repository persists bulk purchases in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations the service composes.
type TxRepository interface {
	PurchaseNumberExists(ctx context.Context, number string) (bool, error)
	InsertPurchase(ctx context.Context, p Purchase) (int64, error)
	InsertPurchaseItems(ctx context.Context, purchaseID int64, items []PurchaseItemInput) error
	GetPurchaseForUpdate(ctx context.Context, id int64) (*Purchase, error)
	GetPurchaseItems(ctx context.Context, purchaseID int64) ([]PurchaseItem, error)
	DeletePurchaseItems(ctx context.Context, purchaseID int64) error
	UpdatePurchaseFields(ctx context.Context, id int64, updates map[string]any) error
	DeletePurchase(ctx context.Context, id int64) error

	ReserveStock(ctx context.Context, productID, qty int64, ref stockledger.Ref) error
	ReleaseStock(ctx context.Context, productID, qty int64, ref stockledger.Ref) error
	AdjustContactBalance(ctx context.Context, contactID int64, delta decimal.Decimal) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("purchases repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const purchaseColumns = `id, purchase_number, contact_id, total_amount, paid_amount, purchase_date, created_at, updated_at`

func scanPurchase(row pgx.Row) (*Purchase, error) {
	var p Purchase
	err := row.Scan(&p.ID, &p.PurchaseNumber, &p.ContactID, &p.TotalAmount, &p.PaidAmount, &p.PurchaseDate, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: purchase", shared.ErrNotFound)
		}
		return nil, err
	}
	return &p, nil
}

// GetPurchaseDetail reads a purchase with its lines.
func (r *Repository) GetPurchaseDetail(ctx context.Context, id int64) (*PurchaseDetail, error) {
	p, err := scanPurchase(r.pool.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM bulk_purchases WHERE id=$1`, id))
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, purchase_id, product_id, quantity, price FROM bulk_purchase_items WHERE purchase_id=$1 ORDER BY id ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []PurchaseItem{}
	for rows.Next() {
		var item PurchaseItem
		if err := rows.Scan(&item.ID, &item.PurchaseID, &item.ProductID, &item.Quantity, &item.Price); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &PurchaseDetail{Purchase: *p, Items: items}, nil
}

// ListPurchases returns a filtered page of purchases.
func (r *Repository) ListPurchases(ctx context.Context, req ListPurchasesRequest) ([]Purchase, int, error) {
	where := []string{"TRUE"}
	args := []any{}
	if req.ContactID != nil {
		args = append(args, *req.ContactID)
		where = append(where, fmt.Sprintf("contact_id=$%d", len(args)))
	}
	if req.From != nil {
		args = append(args, *req.From)
		where = append(where, fmt.Sprintf("purchase_date >= $%d", len(args)))
	}
	if req.To != nil {
		args = append(args, *req.To)
		where = append(where, fmt.Sprintf("purchase_date <= $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bulk_purchases WHERE `+cond, args...).Scan(&total); err != nil {
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
	query := fmt.Sprintf(`SELECT `+purchaseColumns+` FROM bulk_purchases WHERE %s ORDER BY purchase_date DESC, id DESC LIMIT $%d OFFSET $%d`, cond, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	purchases := []Purchase{}
	for rows.Next() {
		var p Purchase
		if err := rows.Scan(&p.ID, &p.PurchaseNumber, &p.ContactID, &p.TotalAmount, &p.PaidAmount, &p.PurchaseDate, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, err
		}
		purchases = append(purchases, p)
	}
	return purchases, total, rows.Err()
}

func (r *txRepository) PurchaseNumberExists(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bulk_purchases WHERE purchase_number=$1)`, number).Scan(&exists)
	return exists, err
}

func (r *txRepository) InsertPurchase(ctx context.Context, p Purchase) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO bulk_purchases (purchase_number, contact_id, total_amount, paid_amount, purchase_date)
VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		p.PurchaseNumber, p.ContactID, p.TotalAmount, p.PaidAmount, p.PurchaseDate).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, fmt.Errorf("%w: duplicate purchase number", shared.ErrConflict)
		}
		return 0, err
	}
	return id, nil
}

func (r *txRepository) InsertPurchaseItems(ctx context.Context, purchaseID int64, items []PurchaseItemInput) error {
	for _, item := range items {
		_, err := r.tx.Exec(ctx, `INSERT INTO bulk_purchase_items (purchase_id, product_id, quantity, price) VALUES ($1, $2, $3, $4)`,
			purchaseID, item.ProductID, item.Quantity, item.Price)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) GetPurchaseForUpdate(ctx context.Context, id int64) (*Purchase, error) {
	return scanPurchase(r.tx.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM bulk_purchases WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) GetPurchaseItems(ctx context.Context, purchaseID int64) ([]PurchaseItem, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, purchase_id, product_id, quantity, price FROM bulk_purchase_items WHERE purchase_id=$1 ORDER BY id ASC`, purchaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []PurchaseItem{}
	for rows.Next() {
		var item PurchaseItem
		if err := rows.Scan(&item.ID, &item.PurchaseID, &item.ProductID, &item.Quantity, &item.Price); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *txRepository) DeletePurchaseItems(ctx context.Context, purchaseID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM bulk_purchase_items WHERE purchase_id=$1`, purchaseID)
	return err
}

func (r *txRepository) UpdatePurchaseFields(ctx context.Context, id int64, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	set := []string{"updated_at=NOW()"}
	args := []any{id}
	for col, val := range updates {
		args = append(args, val)
		set = append(set, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	tag, err := r.tx.Exec(ctx, fmt.Sprintf(`UPDATE bulk_purchases SET %s WHERE id=$1`, strings.Join(set, ", ")), args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: purchase", shared.ErrNotFound)
	}
	return nil
}

func (r *txRepository) DeletePurchase(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM bulk_purchases WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: purchase", shared.ErrNotFound)
	}
	return nil
}

func (r *txRepository) ReserveStock(ctx context.Context, productID, qty int64, ref stockledger.Ref) error {
	return stockledger.Reserve(ctx, r.tx, productID, qty, ref)
}

func (r *txRepository) ReleaseStock(ctx context.Context, productID, qty int64, ref stockledger.Ref) error {
	return stockledger.Release(ctx, r.tx, productID, qty, ref)
}

func (r *txRepository) AdjustContactBalance(ctx context.Context, contactID int64, delta decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE contacts SET remaining_amount = remaining_amount + $2, updated_at=NOW() WHERE id=$1`, contactID, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: contact", shared.ErrNotFound)
	}
	return nil
}
