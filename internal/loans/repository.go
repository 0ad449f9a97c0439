package loans

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian/internal/shared"
)

// Repository persists loan transactions in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert appends one transaction to the register.
func (r *Repository) Insert(ctx context.Context, t Transaction) (*Transaction, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO loan_transactions (contact_id, type, amount, note, occurred_at)
VALUES ($1, $2, $3, $4, $5) RETURNING id, contact_id, type, amount, note, occurred_at, created_at`,
		t.ContactID, string(t.Type), t.Amount, t.Note, t.OccurredAt)
	var out Transaction
	var typ string
	if err := row.Scan(&out.ID, &out.ContactID, &typ, &out.Amount, &out.Note, &out.OccurredAt, &out.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, fmt.Errorf("%w: contact", shared.ErrNotFound)
		}
		return nil, err
	}
	out.Type = TransactionType(typ)
	return &out, nil
}

// List returns a filtered page of the register, newest first.
func (r *Repository) List(ctx context.Context, req ListTransactionsRequest) ([]Transaction, int, error) {
	where := []string{"TRUE"}
	args := []any{}
	if req.ContactID != nil {
		args = append(args, *req.ContactID)
		where = append(where, fmt.Sprintf("contact_id=$%d", len(args)))
	}
	if req.From != nil {
		args = append(args, *req.From)
		where = append(where, fmt.Sprintf("occurred_at >= $%d", len(args)))
	}
	if req.To != nil {
		args = append(args, *req.To)
		where = append(where, fmt.Sprintf("occurred_at <= $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM loan_transactions WHERE `+cond, args...).Scan(&total); err != nil {
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
	query := fmt.Sprintf(`SELECT id, contact_id, type, amount, note, occurred_at, created_at
FROM loan_transactions WHERE %s ORDER BY occurred_at DESC, id DESC LIMIT $%d OFFSET $%d`, cond, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	txs := []Transaction{}
	for rows.Next() {
		var t Transaction
		var typ string
		if err := rows.Scan(&t.ID, &t.ContactID, &typ, &t.Amount, &t.Note, &t.OccurredAt, &t.CreatedAt); err != nil {
			return nil, 0, err
		}
		t.Type = TransactionType(typ)
		txs = append(txs, t)
	}
	return txs, total, rows.Err()
}

// Balance computes a contact's net position as a signed sum over the register.
// Money that left the shop counts positive, money that came in negative.
func (r *Repository) Balance(ctx context.Context, contactID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(
		CASE type
			WHEN 'GIVEN' THEN amount
			WHEN 'RETURNED_TO_CONTACT' THEN amount
			WHEN 'TAKEN' THEN -amount
			WHEN 'RETURNED_BY_CONTACT' THEN -amount
			ELSE 0
		END
	), 0) FROM loan_transactions WHERE contact_id=$1`, contactID).Scan(&balance)
	return balance, err
}
