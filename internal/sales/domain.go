// Package sales implements the sale/return/refund reconciliation ledger: the
// rules that keep a sale's paid amount, returned amount, refunded amount and
// resulting stock consistent across create, edit, return and refund operations.
package sales

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian/internal/shared"
)

// RefundMode is the persisted refund path of a sale. Once one path has been
// used the other is rejected, so the same credit can never be paid out twice.
type RefundMode string

const (
	// RefundModeNone means no refund has been paid yet.
	RefundModeNone RefundMode = "NONE"
	// RefundModePerReturn means at least one individual return has been refunded.
	RefundModePerReturn RefundMode = "PER_RETURN"
	// RefundModeFullSale means a whole-sale lump refund has been paid.
	RefundModeFullSale RefundMode = "FULL_SALE"
)

// Sale is the aggregate root of the ledger.
//
// TotalAmount is the live, return-decremented figure the source data model
// carries; it is advisory. OriginalTotalAmount is the pre-discount subtotal
// fixed at creation and is what the balance calculator reasons from.
type Sale struct {
	ID                  int64           `json:"id"`
	BillNumber          string          `json:"bill_number"`
	ContactID           *int64          `json:"contact_id,omitempty"`
	Discount            decimal.Decimal `json:"discount"`
	TotalAmount         decimal.Decimal `json:"total_amount"`
	OriginalTotalAmount decimal.Decimal `json:"original_total_amount"`
	PaidAmount          decimal.Decimal `json:"paid_amount"`
	RefundMode          RefundMode      `json:"refund_mode"`
	SaleDate            time.Time       `json:"sale_date"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// SaleItem is one line of a sale. Price is frozen at sale time.
type SaleItem struct {
	ID        int64           `json:"id"`
	SaleID    int64           `json:"sale_id"`
	ProductID int64           `json:"product_id"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// SaleReturn is immutable once created except for its refund fields.
type SaleReturn struct {
	ID               int64            `json:"id"`
	ReturnNumber     string           `json:"return_number"`
	SaleID           int64            `json:"sale_id"`
	TotalAmount      decimal.Decimal  `json:"total_amount"`
	Reason           string           `json:"reason"`
	RemovedFromStock bool             `json:"removed_from_stock"`
	RefundAmount     decimal.Decimal  `json:"refund_amount"`
	RefundPaid       bool             `json:"refund_paid"`
	RefundDate       *time.Time       `json:"refund_date,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	Items            []SaleReturnItem `json:"items,omitempty"`
}

// SaleReturnItem is one returned line; price is frozen at return time and is
// supplied by the caller, not looked up from the sale.
type SaleReturnItem struct {
	ID        int64           `json:"id"`
	ReturnID  int64           `json:"return_id"`
	ProductID int64           `json:"product_id"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// SaleDetail is a consistent snapshot of a sale with its children.
type SaleDetail struct {
	Sale
	Items   []SaleItem   `json:"items"`
	Returns []SaleReturn `json:"returns"`
}

// SaleStatusView is the read-path shape shared by detail views, invoices and
// list badges.
type SaleStatusView struct {
	SaleDetail
	Status BalanceSummary `json:"status"`
}

type SaleItemInput struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Quantity  int64           `json:"quantity" validate:"required,gt=0"`
	Price     decimal.Decimal `json:"price"`
}

type CreateSaleRequest struct {
	Items      []SaleItemInput `json:"items" validate:"required,min=1,dive"`
	Discount   decimal.Decimal `json:"discount"`
	PaidAmount decimal.Decimal `json:"paid_amount"`
	ContactID  *int64          `json:"contact_id,omitempty" validate:"omitempty,gt=0"`
	SaleDate   *time.Time      `json:"sale_date,omitempty"`
	// IdempotencyKey is optional; when set, retried submissions are rejected
	// instead of creating a second sale.
	IdempotencyKey string `json:"-"`
}

type UpdateSaleRequest struct {
	Items      []SaleItemInput `json:"items" validate:"required,min=1,dive"`
	Discount   decimal.Decimal `json:"discount"`
	PaidAmount decimal.Decimal `json:"paid_amount"`
	ContactID  *int64          `json:"contact_id,omitempty" validate:"omitempty,gt=0"`
}

type ReturnItemInput struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Quantity  int64           `json:"quantity" validate:"required,gt=0"`
	Price     decimal.Decimal `json:"price"`
}

type CreateReturnRequest struct {
	Items []ReturnItemInput `json:"items" validate:"required,min=1,dive"`
	Reason string           `json:"reason" validate:"max=500"`
	// RemoveFromStock chooses the stock policy per return: true deducts the
	// returned goods (discarded/damaged), false restocks them for resale.
	RemoveFromStock bool `json:"remove_from_stock"`
}

type RefundRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// ListSalesRequest is the typed filter for sale listings.
type ListSalesRequest struct {
	ContactID  *int64     `json:"contact_id,omitempty"`
	BillNumber *string    `json:"bill_number,omitempty"`
	From       *time.Time `json:"from,omitempty"`
	To         *time.Time `json:"to,omitempty"`
	Page       int        `json:"page" validate:"gte=0"`
	PerPage    int        `json:"per_page" validate:"gte=0,lte=200"`
}

// OverReturnError reports a return request exceeding the remaining returnable
// quantity for a product on a sale.
type OverReturnError struct {
	ProductID  int64
	Requested  int64
	Returnable int64
}

func (e *OverReturnError) Error() string {
	return fmt.Sprintf("over return for product %d: requested %d, returnable %d", e.ProductID, e.Requested, e.Returnable)
}

// Is lets callers match the error against the shared sentinel.
func (e *OverReturnError) Is(target error) bool {
	return errors.Is(target, shared.ErrOverReturn)
}
