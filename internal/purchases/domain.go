// Package purchases records bulk stock intake from suppliers. Purchases mirror
// sales with the stock directions flipped: creating one adds stock, reversing
// one takes it back out.
package purchases

import (
	"time"

	"github.com/shopspring/decimal"
)

// Purchase is one supplier delivery.
type Purchase struct {
	ID             int64           `json:"id"`
	PurchaseNumber string          `json:"purchase_number"`
	ContactID      *int64          `json:"contact_id,omitempty"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	PurchaseDate   time.Time       `json:"purchase_date"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// PurchaseItem is one received line. Price is the unit cost paid.
type PurchaseItem struct {
	ID         int64           `json:"id"`
	PurchaseID int64           `json:"purchase_id"`
	ProductID  int64           `json:"product_id"`
	Quantity   int64           `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
}

// PurchaseDetail is a purchase with its lines.
type PurchaseDetail struct {
	Purchase
	Items []PurchaseItem `json:"items"`
}

type PurchaseItemInput struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Quantity  int64           `json:"quantity" validate:"required,gt=0"`
	Price     decimal.Decimal `json:"price"`
}

type CreatePurchaseRequest struct {
	Items        []PurchaseItemInput `json:"items" validate:"required,min=1,dive"`
	PaidAmount   decimal.Decimal     `json:"paid_amount"`
	ContactID    *int64              `json:"contact_id,omitempty" validate:"omitempty,gt=0"`
	PurchaseDate *time.Time          `json:"purchase_date,omitempty"`
}

type UpdatePurchaseRequest struct {
	Items      []PurchaseItemInput `json:"items" validate:"required,min=1,dive"`
	PaidAmount decimal.Decimal     `json:"paid_amount"`
	ContactID  *int64              `json:"contact_id,omitempty" validate:"omitempty,gt=0"`
}

// ListPurchasesRequest is the typed filter for purchase listings.
type ListPurchasesRequest struct {
	ContactID *int64     `json:"contact_id,omitempty"`
	From      *time.Time `json:"from,omitempty"`
	To        *time.Time `json:"to,omitempty"`
	Page      int        `json:"page" validate:"gte=0"`
	PerPage   int        `json:"per_page" validate:"gte=0,lte=200"`
}
