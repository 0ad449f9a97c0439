package sales

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian/internal/shared"
)

// PayReturnRefund pays out one return's credit. Rejected when the sale already
// took the whole-sale refund path or when this return was paid before.
//
// The ceiling is the smaller of the return's value and what the customer
// actually paid, and the running total of all refunds on the sale can never
// exceed the paid amount.
func (s *Service) PayReturnRefund(ctx context.Context, returnID int64, req RefundRequest) (*SaleReturn, error) {
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: refund amount must be positive", shared.ErrValidation)
	}

	var result *SaleReturn
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		probe, err := tx.GetReturn(ctx, returnID)
		if err != nil {
			return err
		}
		sale, err := tx.GetSaleForUpdate(ctx, probe.SaleID)
		if err != nil {
			return err
		}
		// Re-read under the sale lock; a concurrent refund may have landed
		// between the probe and the lock.
		ret, err := tx.GetReturn(ctx, returnID)
		if err != nil {
			return err
		}

		if sale.RefundMode == RefundModeFullSale {
			return fmt.Errorf("%w: sale was refunded as a whole", shared.ErrAlreadyRefunded)
		}
		if ret.RefundPaid {
			return fmt.Errorf("%w: return %s", shared.ErrAlreadyRefunded, ret.ReturnNumber)
		}

		ceiling := decimal.Min(ret.TotalAmount, sale.PaidAmount)
		if req.Amount.GreaterThan(ceiling) {
			return fmt.Errorf("%w: amount %s exceeds ceiling %s", shared.ErrRefundExceedsCeiling, req.Amount, ceiling)
		}
		returns, err := tx.GetReturnsBySale(ctx, sale.ID)
		if err != nil {
			return err
		}
		alreadyRefunded := decimal.Zero
		for _, other := range returns {
			if other.RefundPaid {
				alreadyRefunded = alreadyRefunded.Add(other.RefundAmount)
			}
		}
		if alreadyRefunded.Add(req.Amount).GreaterThan(sale.PaidAmount) {
			return fmt.Errorf("%w: total refunds would exceed paid amount %s", shared.ErrRefundExceedsCeiling, sale.PaidAmount)
		}

		if err := tx.SetReturnRefund(ctx, returnID, req.Amount, time.Now()); err != nil {
			return err
		}
		if err := tx.UpdateSaleFields(ctx, sale.ID, map[string]any{"refund_mode": string(RefundModePerReturn)}); err != nil {
			return err
		}
		result, err = tx.GetReturn(ctx, returnID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx)
	s.recordReturnAudit(ctx, "refund.return_paid", returnID, result.SaleID)
	return result, nil
}

// PaySaleRefund pays the sale's accumulated credit in one lump and closes the
// refund path: every return on the sale is marked paid, with the amount
// allocated oldest first.
func (s *Service) PaySaleRefund(ctx context.Context, saleID int64, req RefundRequest) (*SaleDetail, error) {
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: refund amount must be positive", shared.ErrValidation)
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.RefundMode != RefundModeNone {
			return fmt.Errorf("%w: sale already has refunds", shared.ErrAlreadyRefunded)
		}
		returns, err := tx.GetReturnsBySale(ctx, saleID)
		if err != nil {
			return err
		}
		if len(returns) == 0 {
			return fmt.Errorf("%w: sale has no returns to refund", shared.ErrValidation)
		}

		returnedTotal := decimal.Zero
		for _, ret := range returns {
			returnedTotal = returnedTotal.Add(ret.TotalAmount)
		}
		ceiling := decimal.Min(returnedTotal, sale.PaidAmount)
		if req.Amount.GreaterThan(ceiling) {
			return fmt.Errorf("%w: amount %s exceeds ceiling %s", shared.ErrRefundExceedsCeiling, req.Amount, ceiling)
		}

		now := time.Now()
		remaining := req.Amount
		for _, ret := range returns {
			alloc := decimal.Min(remaining, ret.TotalAmount)
			if err := tx.SetReturnRefund(ctx, ret.ID, alloc, now); err != nil {
				return err
			}
			remaining = remaining.Sub(alloc)
		}
		return tx.UpdateSaleFields(ctx, saleID, map[string]any{"refund_mode": string(RefundModeFullSale)})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx)
	s.recordAudit(ctx, "refund.sale_paid", saleID, map[string]any{"amount": req.Amount})
	return s.repo.GetSaleDetail(ctx, saleID)
}
