package sales

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian/internal/platform/db"
	"github.com/meridian-pos/meridian/internal/shared"
	"github.com/meridian-pos/meridian/internal/stockledger"
)

// Repository persists the sales ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the engines. Stock
// mutations run against the same transaction as the ledger rows, so a failure
// anywhere rolls back everything.
type TxRepository interface {
	BillNumberExists(ctx context.Context, billNumber string) (bool, error)
	InsertSale(ctx context.Context, s Sale) (int64, error)
	InsertSaleItems(ctx context.Context, saleID int64, items []SaleItemInput) error
	GetSaleForUpdate(ctx context.Context, id int64) (*Sale, error)
	GetSaleItems(ctx context.Context, saleID int64) ([]SaleItem, error)
	DeleteSaleItems(ctx context.Context, saleID int64) error
	UpdateSaleFields(ctx context.Context, id int64, updates map[string]any) error
	DeleteSale(ctx context.Context, id int64) error

	ReturnNumberExists(ctx context.Context, number string) (bool, error)
	GetReturn(ctx context.Context, id int64) (*SaleReturn, error)
	GetReturnsBySale(ctx context.Context, saleID int64) ([]SaleReturn, error)
	InsertReturn(ctx context.Context, ret SaleReturn) (int64, error)
	InsertReturnItems(ctx context.Context, returnID int64, items []ReturnItemInput) error
	SetReturnRefund(ctx context.Context, returnID int64, amount decimal.Decimal, paidAt time.Time) error

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
		return errors.New("sales repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const saleColumns = `id, bill_number, contact_id, discount, total_amount, original_total_amount, paid_amount, refund_mode, sale_date, created_at, updated_at`

func scanSale(row pgx.Row) (*Sale, error) {
	var s Sale
	var refundMode string
	err := row.Scan(&s.ID, &s.BillNumber, &s.ContactID, &s.Discount, &s.TotalAmount, &s.OriginalTotalAmount, &s.PaidAmount, &refundMode, &s.SaleDate, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: sale", shared.ErrNotFound)
		}
		return nil, err
	}
	s.RefundMode = RefundMode(refundMode)
	return &s, nil
}

// GetSaleDetail reads a sale with its items and returns in one consistent
// read-only snapshot.
func (r *Repository) GetSaleDetail(ctx context.Context, id int64) (*SaleDetail, error) {
	var detail *SaleDetail
	err := db.WithReadTx(ctx, r.pool, func(tx pgx.Tx) error {
		wrapper := &txRepository{tx: tx}
		sale, err := scanSale(tx.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id=$1`, id))
		if err != nil {
			return err
		}
		items, err := wrapper.GetSaleItems(ctx, id)
		if err != nil {
			return err
		}
		returns, err := wrapper.GetReturnsBySale(ctx, id)
		if err != nil {
			return err
		}
		detail = &SaleDetail{Sale: *sale, Items: items, Returns: returns}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// ListSales returns a filtered page of sales, each with its returns loaded so
// the balance calculator can derive the status badge.
func (r *Repository) ListSales(ctx context.Context, req ListSalesRequest) ([]SaleDetail, int, error) {
	where := []string{"TRUE"}
	args := []any{}
	if req.ContactID != nil {
		args = append(args, *req.ContactID)
		where = append(where, fmt.Sprintf("contact_id=$%d", len(args)))
	}
	if req.BillNumber != nil && *req.BillNumber != "" {
		args = append(args, *req.BillNumber)
		where = append(where, fmt.Sprintf("bill_number=$%d", len(args)))
	}
	if req.From != nil {
		args = append(args, *req.From)
		where = append(where, fmt.Sprintf("sale_date >= $%d", len(args)))
	}
	if req.To != nil {
		args = append(args, *req.To)
		where = append(where, fmt.Sprintf("sale_date <= $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sales WHERE `+cond, args...).Scan(&total); err != nil {
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
	query := fmt.Sprintf(`SELECT `+saleColumns+` FROM sales WHERE %s ORDER BY sale_date DESC, id DESC LIMIT $%d OFFSET $%d`, cond, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	details := []SaleDetail{}
	ids := []int64{}
	for rows.Next() {
		var s Sale
		var refundMode string
		if err := rows.Scan(&s.ID, &s.BillNumber, &s.ContactID, &s.Discount, &s.TotalAmount, &s.OriginalTotalAmount, &s.PaidAmount, &refundMode, &s.SaleDate, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, 0, err
		}
		s.RefundMode = RefundMode(refundMode)
		details = append(details, SaleDetail{Sale: s})
		ids = append(ids, s.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if len(ids) == 0 {
		return details, total, nil
	}

	returnRows, err := r.pool.Query(ctx, `SELECT id, return_number, sale_id, total_amount, reason, removed_from_stock, refund_amount, refund_paid, refund_date, created_at
FROM sale_returns WHERE sale_id = ANY($1) ORDER BY created_at ASC, id ASC`, ids)
	if err != nil {
		return nil, 0, err
	}
	defer returnRows.Close()
	bySale := make(map[int64][]SaleReturn, len(ids))
	for returnRows.Next() {
		var ret SaleReturn
		if err := returnRows.Scan(&ret.ID, &ret.ReturnNumber, &ret.SaleID, &ret.TotalAmount, &ret.Reason, &ret.RemovedFromStock, &ret.RefundAmount, &ret.RefundPaid, &ret.RefundDate, &ret.CreatedAt); err != nil {
			return nil, 0, err
		}
		bySale[ret.SaleID] = append(bySale[ret.SaleID], ret)
	}
	if err := returnRows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range details {
		details[i].Returns = bySale[details[i].ID]
	}
	return details, total, nil
}

func (r *txRepository) BillNumberExists(ctx context.Context, billNumber string) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sales WHERE bill_number=$1)`, billNumber).Scan(&exists)
	return exists, err
}

func (r *txRepository) InsertSale(ctx context.Context, s Sale) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO sales (bill_number, contact_id, discount, total_amount, original_total_amount, paid_amount, refund_mode, sale_date)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		s.BillNumber, s.ContactID, s.Discount, s.TotalAmount, s.OriginalTotalAmount, s.PaidAmount, string(s.RefundMode), s.SaleDate).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, fmt.Errorf("%w: duplicate bill number", shared.ErrConflict)
		}
		return 0, err
	}
	return id, nil
}

func (r *txRepository) InsertSaleItems(ctx context.Context, saleID int64, items []SaleItemInput) error {
	for _, item := range items {
		_, err := r.tx.Exec(ctx, `INSERT INTO sale_items (sale_id, product_id, quantity, price) VALUES ($1, $2, $3, $4)`,
			saleID, item.ProductID, item.Quantity, item.Price)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) GetSaleForUpdate(ctx context.Context, id int64) (*Sale, error) {
	return scanSale(r.tx.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) GetSaleItems(ctx context.Context, saleID int64) ([]SaleItem, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, sale_id, product_id, quantity, price FROM sale_items WHERE sale_id=$1 ORDER BY id ASC`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []SaleItem{}
	for rows.Next() {
		var item SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.Quantity, &item.Price); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *txRepository) DeleteSaleItems(ctx context.Context, saleID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM sale_items WHERE sale_id=$1`, saleID)
	return err
}

func (r *txRepository) UpdateSaleFields(ctx context.Context, id int64, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	set := []string{"updated_at=NOW()"}
	args := []any{id}
	for col, val := range updates {
		args = append(args, val)
		set = append(set, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	tag, err := r.tx.Exec(ctx, fmt.Sprintf(`UPDATE sales SET %s WHERE id=$1`, strings.Join(set, ", ")), args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: sale", shared.ErrNotFound)
	}
	return nil
}

func (r *txRepository) DeleteSale(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM sales WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: sale", shared.ErrNotFound)
	}
	return nil
}

func (r *txRepository) ReturnNumberExists(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sale_returns WHERE return_number=$1)`, number).Scan(&exists)
	return exists, err
}

const returnColumns = `id, return_number, sale_id, total_amount, reason, removed_from_stock, refund_amount, refund_paid, refund_date, created_at`

func (r *txRepository) GetReturn(ctx context.Context, id int64) (*SaleReturn, error) {
	var ret SaleReturn
	err := r.tx.QueryRow(ctx, `SELECT `+returnColumns+` FROM sale_returns WHERE id=$1`, id).
		Scan(&ret.ID, &ret.ReturnNumber, &ret.SaleID, &ret.TotalAmount, &ret.Reason, &ret.RemovedFromStock, &ret.RefundAmount, &ret.RefundPaid, &ret.RefundDate, &ret.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: return", shared.ErrNotFound)
		}
		return nil, err
	}
	items, err := r.returnItems(ctx, []int64{ret.ID})
	if err != nil {
		return nil, err
	}
	ret.Items = items[ret.ID]
	return &ret, nil
}

func (r *txRepository) GetReturnsBySale(ctx context.Context, saleID int64) ([]SaleReturn, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+returnColumns+` FROM sale_returns WHERE sale_id=$1 ORDER BY created_at ASC, id ASC`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	returns := []SaleReturn{}
	ids := []int64{}
	for rows.Next() {
		var ret SaleReturn
		if err := rows.Scan(&ret.ID, &ret.ReturnNumber, &ret.SaleID, &ret.TotalAmount, &ret.Reason, &ret.RemovedFromStock, &ret.RefundAmount, &ret.RefundPaid, &ret.RefundDate, &ret.CreatedAt); err != nil {
			return nil, err
		}
		returns = append(returns, ret)
		ids = append(ids, ret.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return returns, nil
	}
	items, err := r.returnItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range returns {
		returns[i].Items = items[returns[i].ID]
	}
	return returns, nil
}

func (r *txRepository) returnItems(ctx context.Context, returnIDs []int64) (map[int64][]SaleReturnItem, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, return_id, product_id, quantity, price FROM sale_return_items WHERE return_id = ANY($1) ORDER BY id ASC`, returnIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	byReturn := make(map[int64][]SaleReturnItem)
	for rows.Next() {
		var item SaleReturnItem
		if err := rows.Scan(&item.ID, &item.ReturnID, &item.ProductID, &item.Quantity, &item.Price); err != nil {
			return nil, err
		}
		byReturn[item.ReturnID] = append(byReturn[item.ReturnID], item)
	}
	return byReturn, rows.Err()
}

func (r *txRepository) InsertReturn(ctx context.Context, ret SaleReturn) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO sale_returns (return_number, sale_id, total_amount, reason, removed_from_stock)
VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		ret.ReturnNumber, ret.SaleID, ret.TotalAmount, ret.Reason, ret.RemovedFromStock).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, fmt.Errorf("%w: duplicate return number", shared.ErrConflict)
		}
		return 0, err
	}
	return id, nil
}

func (r *txRepository) InsertReturnItems(ctx context.Context, returnID int64, items []ReturnItemInput) error {
	for _, item := range items {
		_, err := r.tx.Exec(ctx, `INSERT INTO sale_return_items (return_id, product_id, quantity, price) VALUES ($1, $2, $3, $4)`,
			returnID, item.ProductID, item.Quantity, item.Price)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) SetReturnRefund(ctx context.Context, returnID int64, amount decimal.Decimal, paidAt time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE sale_returns SET refund_amount=$2, refund_paid=TRUE, refund_date=$3 WHERE id=$1`, returnID, amount, paidAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: return", shared.ErrNotFound)
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
