package sales

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian/internal/shared"
	"github.com/meridian-pos/meridian/internal/stockledger"
)

// CreateReturn records a return against a sale. The sale row is locked for the
// whole transaction, so two concurrent returns against the same sale are
// serialised and the returnable-quantity check cannot be raced past.
//
// Stock policy is per return: RemoveFromStock=true treats the goods as
// discarded and deducts them, false restocks them for resale.
func (s *Service) CreateReturn(ctx context.Context, saleID int64, req CreateReturnRequest) (*SaleReturn, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: at least one item required", shared.ErrValidation)
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item quantity must be positive", shared.ErrValidation)
		}
		if item.Price.IsNegative() {
			return nil, fmt.Errorf("%w: item price must not be negative", shared.ErrValidation)
		}
	}

	var created *SaleReturn
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		saleItems, err := tx.GetSaleItems(ctx, saleID)
		if err != nil {
			return err
		}
		priorReturns, err := tx.GetReturnsBySale(ctx, saleID)
		if err != nil {
			return err
		}

		sold := map[int64]int64{}
		for _, item := range saleItems {
			sold[item.ProductID] += item.Quantity
		}
		returned := map[int64]int64{}
		for _, ret := range priorReturns {
			for _, item := range ret.Items {
				returned[item.ProductID] += item.Quantity
			}
		}
		for _, item := range req.Items {
			soldQty, ok := sold[item.ProductID]
			if !ok {
				return fmt.Errorf("%w: product %d is not on this sale", shared.ErrValidation, item.ProductID)
			}
			returnable := soldQty - returned[item.ProductID]
			if item.Quantity > returnable {
				return &OverReturnError{ProductID: item.ProductID, Requested: item.Quantity, Returnable: returnable}
			}
		}

		total := decimal.Zero
		for _, item := range req.Items {
			total = total.Add(item.Price.Mul(decimal.NewFromInt(item.Quantity)))
		}

		number, err := s.uniqueReturnNumber(ctx, tx)
		if err != nil {
			return err
		}
		returnID, err := tx.InsertReturn(ctx, SaleReturn{
			ReturnNumber:     number,
			SaleID:           saleID,
			TotalAmount:      total,
			Reason:           req.Reason,
			RemovedFromStock: req.RemoveFromStock,
		})
		if err != nil {
			return err
		}
		if err := tx.InsertReturnItems(ctx, returnID, req.Items); err != nil {
			return err
		}

		ref := stockledger.Ref{Module: refSaleReturn, ID: returnID}
		for _, item := range req.Items {
			if req.RemoveFromStock {
				err = tx.ReserveStock(ctx, item.ProductID, item.Quantity, ref)
			} else {
				err = tx.ReleaseStock(ctx, item.ProductID, item.Quantity, ref)
			}
			if err != nil {
				return err
			}
		}

		// The advisory live total tracks returns; the original total stays
		// fixed for the balance calculator.
		if err := tx.UpdateSaleFields(ctx, saleID, map[string]any{
			"total_amount": sale.TotalAmount.Sub(total),
		}); err != nil {
			return err
		}

		created, err = tx.GetReturn(ctx, returnID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx)
	s.recordReturnAudit(ctx, "return.created", created.ID, saleID)
	return created, nil
}

func (s *Service) recordReturnAudit(ctx context.Context, action string, returnID, saleID int64) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   "sale_return",
		EntityID: strconv.FormatInt(returnID, 10),
		Meta:     map[string]any{"sale_id": saleID},
	})
}
