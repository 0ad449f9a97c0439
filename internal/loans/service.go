package loans

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	Insert(ctx context.Context, t Transaction) (*Transaction, error)
	List(ctx context.Context, req ListTransactionsRequest) ([]Transaction, int, error)
	Balance(ctx context.Context, contactID int64) (decimal.Decimal, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates loan register operations.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// RecordTransaction appends one entry to the register. Entries are never
// edited or deleted; corrections are new entries in the opposite direction.
func (s *Service) RecordTransaction(ctx context.Context, req CreateTransactionRequest) (*Transaction, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown transaction type %q", shared.ErrValidation, req.Type)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", shared.ErrValidation)
	}
	occurredAt := time.Now()
	if req.OccurredAt != nil {
		occurredAt = *req.OccurredAt
	}
	t, err := s.repo.Insert(ctx, Transaction{
		ContactID:  req.ContactID,
		Type:       req.Type,
		Amount:     req.Amount,
		Note:       req.Note,
		OccurredAt: occurredAt,
	})
	if err != nil {
		return nil, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Action:   "loan.recorded",
			Entity:   "loan_transaction",
			EntityID: strconv.FormatInt(t.ID, 10),
			Meta:     map[string]any{"type": string(t.Type), "amount": t.Amount},
		})
	}
	return t, nil
}

// ListTransactions returns a page of the register.
func (s *Service) ListTransactions(ctx context.Context, req ListTransactionsRequest) ([]Transaction, *shared.Pagination, error) {
	txs, total, err := s.repo.List(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	page := shared.NewPagination(req.Page, req.PerPage, total)
	return txs, &page, nil
}

// ContactLoanBalance derives a contact's net loan position.
func (s *Service) ContactLoanBalance(ctx context.Context, contactID int64) (*ContactBalance, error) {
	balance, err := s.repo.Balance(ctx, contactID)
	if err != nil {
		return nil, err
	}
	return &ContactBalance{ContactID: contactID, Balance: balance}, nil
}
