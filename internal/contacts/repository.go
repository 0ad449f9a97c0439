package contacts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian/internal/shared"
)

// Repository persists contacts in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const contactColumns = `id, name, phone, address, remaining_amount, created_at, updated_at`

// Insert creates a contact.
func (r *Repository) Insert(ctx context.Context, c Contact) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO contacts (name, phone, address) VALUES ($1, $2, $3) RETURNING id`,
		c.Name, c.Phone, c.Address).Scan(&id)
	return id, err
}

// Update applies partial field changes.
func (r *Repository) Update(ctx context.Context, id int64, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	set := []string{"updated_at=NOW()"}
	args := []any{id}
	for col, val := range updates {
		args = append(args, val)
		set = append(set, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	tag, err := r.pool.Exec(ctx, fmt.Sprintf(`UPDATE contacts SET %s WHERE id=$1`, strings.Join(set, ", ")), args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Delete removes a contact with no referencing records.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM contacts WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("%w: contact still referenced", shared.ErrConflict)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Get fetches a contact by ID.
func (r *Repository) Get(ctx context.Context, id int64) (*Contact, error) {
	var c Contact
	err := r.pool.QueryRow(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id=$1`, id).
		Scan(&c.ID, &c.Name, &c.Phone, &c.Address, &c.RemainingAmount, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// List returns a filtered page of contacts plus the total count.
func (r *Repository) List(ctx context.Context, req ListContactsRequest) ([]Contact, int, error) {
	cond := "TRUE"
	args := []any{}
	if req.Search != nil && *req.Search != "" {
		args = append(args, "%"+*req.Search+"%")
		cond = "(name ILIKE $1 OR phone ILIKE $1)"
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM contacts WHERE `+cond, args...).Scan(&total); err != nil {
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
	query := fmt.Sprintf(`SELECT `+contactColumns+` FROM contacts WHERE %s ORDER BY name ASC LIMIT $%d OFFSET $%d`, cond, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	list := []Contact{}
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.Address, &c.RemainingAmount, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, err
		}
		list = append(list, c)
	}
	return list, total, rows.Err()
}
