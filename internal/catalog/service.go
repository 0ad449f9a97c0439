package catalog

import (
	"context"
	"fmt"

	"github.com/meridian-pos/meridian/internal/shared"
	"github.com/meridian-pos/meridian/internal/stockledger"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetProduct(ctx context.Context, id int64) (*Product, error)
	ListProducts(ctx context.Context, req ListProductsRequest) ([]Product, int, error)
	Movements(ctx context.Context, filter stockledger.MovementFilter) ([]stockledger.Movement, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates catalog operations.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// CreateProduct inserts a product; any opening quantity goes through the ledger
// so the journal records it.
func (s *Service) CreateProduct(ctx context.Context, req CreateProductRequest) (*Product, error) {
	if req.Price.IsNegative() || req.PurchasePrice.IsNegative() {
		return nil, fmt.Errorf("%w: price must not be negative", shared.ErrValidation)
	}
	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		id, err = tx.InsertProduct(ctx, Product{
			Name:              req.Name,
			Price:             req.Price,
			PurchasePrice:     req.PurchasePrice,
			LowStockThreshold: req.LowStockThreshold,
		})
		if err != nil {
			return err
		}
		if req.Quantity > 0 {
			return tx.ReleaseStock(ctx, id, req.Quantity, stockledger.Ref{Module: "CATALOG", ID: id})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "catalog:create", id, map[string]any{"name": req.Name, "quantity": req.Quantity})
	return s.repo.GetProduct(ctx, id)
}

// UpdateProduct changes catalog fields. Quantity is deliberately not updatable here.
func (s *Service) UpdateProduct(ctx context.Context, id int64, req UpdateProductRequest) (*Product, error) {
	updates := make(map[string]any)
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Price != nil {
		if req.Price.IsNegative() {
			return nil, fmt.Errorf("%w: price must not be negative", shared.ErrValidation)
		}
		updates["price"] = *req.Price
	}
	if req.PurchasePrice != nil {
		if req.PurchasePrice.IsNegative() {
			return nil, fmt.Errorf("%w: purchase price must not be negative", shared.ErrValidation)
		}
		updates["purchase_price"] = *req.PurchasePrice
	}
	if req.LowStockThreshold != nil {
		updates["low_stock_threshold"] = *req.LowStockThreshold
	}
	if len(updates) == 0 {
		return s.repo.GetProduct(ctx, id)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateProduct(ctx, id, updates)
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "catalog:update", id, map[string]any{"fields": len(updates)})
	return s.repo.GetProduct(ctx, id)
}

// DeleteProduct removes a product. Referenced products are rejected with a conflict.
func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.DeleteProduct(ctx, id)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "catalog:delete", id, nil)
	return nil
}

// RecordDamage moves on-hand stock into the damaged counter.
func (s *Service) RecordDamage(ctx context.Context, id int64, req RecordDamageRequest) (*Product, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.ReserveStock(ctx, id, req.Quantity, stockledger.Ref{Module: "DAMAGE", ID: id}); err != nil {
			return err
		}
		return tx.AddDamaged(ctx, id, req.Quantity)
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "catalog:damage", id, map[string]any{"quantity": req.Quantity})
	return s.repo.GetProduct(ctx, id)
}

// GetProduct retrieves a product by ID.
func (s *Service) GetProduct(ctx context.Context, id int64) (*Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// ListProducts returns a page of products.
func (s *Service) ListProducts(ctx context.Context, req ListProductsRequest) ([]Product, int, error) {
	return s.repo.ListProducts(ctx, req)
}

// Movements lists the stock ledger journal for a product.
func (s *Service) Movements(ctx context.Context, filter stockledger.MovementFilter) ([]stockledger.Movement, error) {
	return s.repo.Movements(ctx, filter)
}

func (s *Service) recordAudit(ctx context.Context, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   "product",
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
	})
}
