package sales

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/meridian-pos/meridian/internal/platform/cache"
	"github.com/meridian-pos/meridian/internal/shared"
	"github.com/meridian-pos/meridian/internal/stockledger"
)

const (
	refSale       = "SALE"
	refSaleReturn = "SALE_RETURN"

	// billAttempts caps the random bill number retry loop so a pathological
	// collision streak fails loudly instead of spinning.
	billAttempts = 20
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSaleDetail(ctx context.Context, id int64) (*SaleDetail, error)
	ListSales(ctx context.Context, req ListSalesRequest) ([]SaleDetail, int, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards against duplicate submissions.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service coordinates the sale, return and refund engines.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	idem  IdempotencyPort
	cache *cache.Cache
	group singleflight.Group

	genBill         func() string
	genReturnNumber func() string
}

// NewService builds Service. audit, idem and c may be nil; the corresponding
// behaviour degrades gracefully.
func NewService(repo RepositoryPort, audit AuditPort, idem IdempotencyPort, c *cache.Cache) *Service {
	return &Service{
		repo:            repo,
		audit:           audit,
		idem:            idem,
		cache:           c,
		genBill:         randomBillNumber,
		genReturnNumber: timeReturnNumber,
	}
}

// randomBillNumber produces a 7 digit bill number. Uniqueness is enforced by
// the retry loop plus the unique index, not by the generator.
func randomBillNumber() string {
	return fmt.Sprintf("%07d", rand.IntN(10_000_000))
}

func timeReturnNumber() string {
	return fmt.Sprintf("R%d%03d", time.Now().UnixMilli(), rand.IntN(1000))
}

func validateItems(items []SaleItemInput) error {
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

func itemsSubtotal(items []SaleItemInput) decimal.Decimal {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.Price.Mul(decimal.NewFromInt(item.Quantity)))
	}
	return subtotal
}

// CreateSale records a sale, reserves stock for every line and books the
// outstanding amount onto the contact. Everything happens in one transaction.
func (s *Service) CreateSale(ctx context.Context, req CreateSaleRequest) (*SaleDetail, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: at least one item required", shared.ErrValidation)
	}
	if err := validateItems(req.Items); err != nil {
		return nil, err
	}
	if req.Discount.IsNegative() || req.PaidAmount.IsNegative() {
		return nil, fmt.Errorf("%w: discount and paid amount must not be negative", shared.ErrValidation)
	}
	subtotal := itemsSubtotal(req.Items)
	if req.Discount.GreaterThan(subtotal) {
		return nil, fmt.Errorf("%w: discount exceeds sale total", shared.ErrValidation)
	}

	if req.IdempotencyKey != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, req.IdempotencyKey, "sales"); err != nil {
			return nil, err
		}
	}

	saleDate := time.Now()
	if req.SaleDate != nil {
		saleDate = *req.SaleDate
	}

	var saleID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bill, err := s.uniqueBillNumber(ctx, tx)
		if err != nil {
			return err
		}
		saleID, err = tx.InsertSale(ctx, Sale{
			BillNumber:          bill,
			ContactID:           req.ContactID,
			Discount:            req.Discount,
			TotalAmount:         subtotal.Sub(req.Discount),
			OriginalTotalAmount: subtotal,
			PaidAmount:          req.PaidAmount,
			RefundMode:          RefundModeNone,
			SaleDate:            saleDate,
		})
		if err != nil {
			return err
		}
		if err := tx.InsertSaleItems(ctx, saleID, req.Items); err != nil {
			return err
		}
		for _, item := range req.Items {
			if err := tx.ReserveStock(ctx, item.ProductID, item.Quantity, stockledger.Ref{Module: refSale, ID: saleID}); err != nil {
				return err
			}
		}
		if req.ContactID != nil {
			outstanding := subtotal.Sub(req.Discount).Sub(req.PaidAmount)
			if err := tx.AdjustContactBalance(ctx, *req.ContactID, outstanding); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if req.IdempotencyKey != "" && s.idem != nil {
			_ = s.idem.Delete(ctx, req.IdempotencyKey)
		}
		return nil, err
	}

	s.invalidate(ctx)
	s.recordAudit(ctx, "sale.created", saleID, map[string]any{"total": subtotal.Sub(req.Discount), "paid": req.PaidAmount})
	return s.repo.GetSaleDetail(ctx, saleID)
}

func (s *Service) uniqueBillNumber(ctx context.Context, tx TxRepository) (string, error) {
	for i := 0; i < billAttempts; i++ {
		candidate := s.genBill()
		exists, err := tx.BillNumberExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: could not allocate a unique bill number", shared.ErrConflict)
}

func (s *Service) uniqueReturnNumber(ctx context.Context, tx TxRepository) (string, error) {
	for i := 0; i < billAttempts; i++ {
		candidate := s.genReturnNumber()
		exists, err := tx.ReturnNumberExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: could not allocate a unique return number", shared.ErrConflict)
}

// UpdateSale replaces a sale's lines and headline amounts. A sale that already
// has returns is frozen; editing it would invalidate the amounts the return
// and refund ceilings were checked against.
func (s *Service) UpdateSale(ctx context.Context, id int64, req UpdateSaleRequest) (*SaleDetail, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: at least one item required", shared.ErrValidation)
	}
	if err := validateItems(req.Items); err != nil {
		return nil, err
	}
	if req.Discount.IsNegative() || req.PaidAmount.IsNegative() {
		return nil, fmt.Errorf("%w: discount and paid amount must not be negative", shared.ErrValidation)
	}
	subtotal := itemsSubtotal(req.Items)
	if req.Discount.GreaterThan(subtotal) {
		return nil, fmt.Errorf("%w: discount exceeds sale total", shared.ErrValidation)
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetSaleForUpdate(ctx, id)
		if err != nil {
			return err
		}
		returns, err := tx.GetReturnsBySale(ctx, id)
		if err != nil {
			return err
		}
		if len(returns) > 0 {
			return fmt.Errorf("%w: sale has returns and can no longer be edited", shared.ErrConflict)
		}

		oldItems, err := tx.GetSaleItems(ctx, id)
		if err != nil {
			return err
		}
		for _, item := range oldItems {
			if err := tx.ReleaseStock(ctx, item.ProductID, item.Quantity, stockledger.Ref{Module: refSale, ID: id}); err != nil {
				return err
			}
		}
		if err := tx.DeleteSaleItems(ctx, id); err != nil {
			return err
		}
		if err := tx.InsertSaleItems(ctx, id, req.Items); err != nil {
			return err
		}
		for _, item := range req.Items {
			if err := tx.ReserveStock(ctx, item.ProductID, item.Quantity, stockledger.Ref{Module: refSale, ID: id}); err != nil {
				return err
			}
		}

		if sale.ContactID != nil {
			oldOutstanding := sale.OriginalTotalAmount.Sub(sale.Discount).Sub(sale.PaidAmount)
			if err := tx.AdjustContactBalance(ctx, *sale.ContactID, oldOutstanding.Neg()); err != nil {
				return err
			}
		}
		if req.ContactID != nil {
			newOutstanding := subtotal.Sub(req.Discount).Sub(req.PaidAmount)
			if err := tx.AdjustContactBalance(ctx, *req.ContactID, newOutstanding); err != nil {
				return err
			}
		}

		return tx.UpdateSaleFields(ctx, id, map[string]any{
			"total_amount":          subtotal.Sub(req.Discount),
			"original_total_amount": subtotal,
			"discount":              req.Discount,
			"paid_amount":           req.PaidAmount,
			"contact_id":            req.ContactID,
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx)
	s.recordAudit(ctx, "sale.updated", id, map[string]any{"total": subtotal.Sub(req.Discount)})
	return s.repo.GetSaleDetail(ctx, id)
}

// DeleteSale removes a sale and puts back the units the shop still considers
// sold: sold quantity minus whatever earlier returns already restocked.
// Discarded returns deducted their units on their own and those movements
// stand.
func (s *Service) DeleteSale(ctx context.Context, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetSaleForUpdate(ctx, id)
		if err != nil {
			return err
		}
		items, err := tx.GetSaleItems(ctx, id)
		if err != nil {
			return err
		}
		returns, err := tx.GetReturnsBySale(ctx, id)
		if err != nil {
			return err
		}

		restocked := map[int64]int64{}
		for _, ret := range returns {
			if ret.RemovedFromStock {
				continue
			}
			for _, item := range ret.Items {
				restocked[item.ProductID] += item.Quantity
			}
		}
		for _, item := range items {
			restore := item.Quantity - restocked[item.ProductID]
			if restore <= 0 {
				continue
			}
			if err := tx.ReleaseStock(ctx, item.ProductID, restore, stockledger.Ref{Module: refSale, ID: id}); err != nil {
				return err
			}
		}

		if sale.ContactID != nil {
			outstanding := sale.OriginalTotalAmount.Sub(sale.Discount).Sub(sale.PaidAmount)
			if err := tx.AdjustContactBalance(ctx, *sale.ContactID, outstanding.Neg()); err != nil {
				return err
			}
		}
		return tx.DeleteSale(ctx, id)
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx)
	s.recordAudit(ctx, "sale.deleted", id, nil)
	return nil
}

// GetSaleWithStatus returns the sale snapshot plus its derived balance. Reads
// are cached and collapsed so a burst of identical requests hits the database
// once.
func (s *Service) GetSaleWithStatus(ctx context.Context, id int64) (*SaleStatusView, error) {
	key, err := s.cache.BuildKey(ctx, "meridian", "sale", strconv.FormatInt(id, 10))
	if err != nil {
		return nil, err
	}
	result, err, _ := s.group.Do(key, func() (any, error) {
		var view SaleStatusView
		err := s.cache.FetchJSON(ctx, key, &view, func(ctx context.Context) (interface{}, error) {
			detail, err := s.repo.GetSaleDetail(ctx, id)
			if err != nil {
				return nil, err
			}
			return &SaleStatusView{
				SaleDetail: *detail,
				Status:     Summarize(detail.Sale, detail.Returns),
			}, nil
		})
		if err != nil {
			return nil, err
		}
		return &view, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*SaleStatusView), nil
}

// ListSales returns a page of sales with their derived status badges.
func (s *Service) ListSales(ctx context.Context, req ListSalesRequest) ([]SaleStatusView, *shared.Pagination, error) {
	details, total, err := s.repo.ListSales(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	views := make([]SaleStatusView, 0, len(details))
	for _, detail := range details {
		views = append(views, SaleStatusView{
			SaleDetail: detail,
			Status:     Summarize(detail.Sale, detail.Returns),
		})
	}
	page := shared.NewPagination(req.Page, req.PerPage, total)
	return views, &page, nil
}

func (s *Service) invalidate(ctx context.Context) {
	_ = s.cache.Bump(ctx)
}

func (s *Service) recordAudit(ctx context.Context, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   "sale",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
}
