package purchases

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian/internal/shared"
	"github.com/meridian-pos/meridian/internal/stockledger"
)

const (
	refPurchase = "PURCHASE"

	numberAttempts = 20
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPurchaseDetail(ctx context.Context, id int64) (*PurchaseDetail, error)
	ListPurchases(ctx context.Context, req ListPurchasesRequest) ([]Purchase, int, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates purchase operations.
type Service struct {
	repo  RepositoryPort
	audit AuditPort

	genNumber func() string
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, genNumber: randomPurchaseNumber}
}

func randomPurchaseNumber() string {
	return fmt.Sprintf("PO-%07d", rand.IntN(10_000_000))
}

func validateItems(items []PurchaseItemInput) error {
	for _, item := range items {
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item quantity must be positive", shared.ErrValidation)
		}
		if item.Price.IsNegative() {
			return fmt.Errorf("%w: item price must not be negative", shared.ErrValidation)
		}
	}
	return nil
}

func itemsTotal(items []PurchaseItemInput) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Price.Mul(decimal.NewFromInt(item.Quantity)))
	}
	return total
}

// CreatePurchase records a supplier delivery and adds the received quantities
// to stock. The supplier's balance decreases by the unpaid remainder; a
// negative remaining amount means the shop owes the contact.
func (s *Service) CreatePurchase(ctx context.Context, req CreatePurchaseRequest) (*PurchaseDetail, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: at least one item required", shared.ErrValidation)
	}
	if err := validateItems(req.Items); err != nil {
		return nil, err
	}
	if req.PaidAmount.IsNegative() {
		return nil, fmt.Errorf("%w: paid amount must not be negative", shared.ErrValidation)
	}
	total := itemsTotal(req.Items)

	purchaseDate := time.Now()
	if req.PurchaseDate != nil {
		purchaseDate = *req.PurchaseDate
	}

	var purchaseID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := s.uniqueNumber(ctx, tx)
		if err != nil {
			return err
		}
		purchaseID, err = tx.InsertPurchase(ctx, Purchase{
			PurchaseNumber: number,
			ContactID:      req.ContactID,
			TotalAmount:    total,
			PaidAmount:     req.PaidAmount,
			PurchaseDate:   purchaseDate,
		})
		if err != nil {
			return err
		}
		if err := tx.InsertPurchaseItems(ctx, purchaseID, req.Items); err != nil {
			return err
		}
		for _, item := range req.Items {
			if err := tx.ReleaseStock(ctx, item.ProductID, item.Quantity, stockledger.Ref{Module: refPurchase, ID: purchaseID}); err != nil {
				return err
			}
		}
		if req.ContactID != nil {
			owed := total.Sub(req.PaidAmount)
			if err := tx.AdjustContactBalance(ctx, *req.ContactID, owed.Neg()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, "purchase.created", purchaseID, map[string]any{"total": total})
	return s.repo.GetPurchaseDetail(ctx, purchaseID)
}

func (s *Service) uniqueNumber(ctx context.Context, tx TxRepository) (string, error) {
	for i := 0; i < numberAttempts; i++ {
		candidate := s.genNumber()
		exists, err := tx.PurchaseNumberExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: could not allocate a unique purchase number", shared.ErrConflict)
}

// UpdatePurchase replaces a purchase's lines. The old intake is reversed out
// of stock first, which fails if the goods were already sold.
func (s *Service) UpdatePurchase(ctx context.Context, id int64, req UpdatePurchaseRequest) (*PurchaseDetail, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: at least one item required", shared.ErrValidation)
	}
	if err := validateItems(req.Items); err != nil {
		return nil, err
	}
	if req.PaidAmount.IsNegative() {
		return nil, fmt.Errorf("%w: paid amount must not be negative", shared.ErrValidation)
	}
	total := itemsTotal(req.Items)

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		purchase, err := tx.GetPurchaseForUpdate(ctx, id)
		if err != nil {
			return err
		}
		oldItems, err := tx.GetPurchaseItems(ctx, id)
		if err != nil {
			return err
		}
		for _, item := range oldItems {
			if err := tx.ReserveStock(ctx, item.ProductID, item.Quantity, stockledger.Ref{Module: refPurchase, ID: id}); err != nil {
				return err
			}
		}
		if err := tx.DeletePurchaseItems(ctx, id); err != nil {
			return err
		}
		if err := tx.InsertPurchaseItems(ctx, id, req.Items); err != nil {
			return err
		}
		for _, item := range req.Items {
			if err := tx.ReleaseStock(ctx, item.ProductID, item.Quantity, stockledger.Ref{Module: refPurchase, ID: id}); err != nil {
				return err
			}
		}

		if purchase.ContactID != nil {
			oldOwed := purchase.TotalAmount.Sub(purchase.PaidAmount)
			if err := tx.AdjustContactBalance(ctx, *purchase.ContactID, oldOwed); err != nil {
				return err
			}
		}
		if req.ContactID != nil {
			newOwed := total.Sub(req.PaidAmount)
			if err := tx.AdjustContactBalance(ctx, *req.ContactID, newOwed.Neg()); err != nil {
				return err
			}
		}

		return tx.UpdatePurchaseFields(ctx, id, map[string]any{
			"total_amount": total,
			"paid_amount":  req.PaidAmount,
			"contact_id":   req.ContactID,
		})
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, "purchase.updated", id, map[string]any{"total": total})
	return s.repo.GetPurchaseDetail(ctx, id)
}

// DeletePurchase removes a purchase and takes its intake back out of stock.
// Fails with insufficient stock if the received goods were already sold.
func (s *Service) DeletePurchase(ctx context.Context, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		purchase, err := tx.GetPurchaseForUpdate(ctx, id)
		if err != nil {
			return err
		}
		items, err := tx.GetPurchaseItems(ctx, id)
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := tx.ReserveStock(ctx, item.ProductID, item.Quantity, stockledger.Ref{Module: refPurchase, ID: id}); err != nil {
				return err
			}
		}
		if purchase.ContactID != nil {
			owed := purchase.TotalAmount.Sub(purchase.PaidAmount)
			if err := tx.AdjustContactBalance(ctx, *purchase.ContactID, owed); err != nil {
				return err
			}
		}
		return tx.DeletePurchase(ctx, id)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "purchase.deleted", id, nil)
	return nil
}

// GetPurchase returns a purchase with its lines.
func (s *Service) GetPurchase(ctx context.Context, id int64) (*PurchaseDetail, error) {
	return s.repo.GetPurchaseDetail(ctx, id)
}

// ListPurchases returns a page of purchases.
func (s *Service) ListPurchases(ctx context.Context, req ListPurchasesRequest) ([]Purchase, *shared.Pagination, error) {
	purchases, total, err := s.repo.ListPurchases(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	page := shared.NewPagination(req.Page, req.PerPage, total)
	return purchases, &page, nil
}

func (s *Service) recordAudit(ctx context.Context, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   "purchase",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
}
