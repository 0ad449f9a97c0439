package contacts

import (
	"time"

	"github.com/shopspring/decimal"
)

// Contact is a sale/purchase/loan counterparty. RemainingAmount is the carried
// balance across credit sales and purchases; positive means the contact owes
// the shop.
type Contact struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	Phone           string          `json:"phone"`
	Address         string          `json:"address"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type CreateContactRequest struct {
	Name    string `json:"name" validate:"required,max=200"`
	Phone   string `json:"phone" validate:"max=50"`
	Address string `json:"address" validate:"max=500"`
}

type UpdateContactRequest struct {
	Name    *string `json:"name,omitempty" validate:"omitempty,max=200"`
	Phone   *string `json:"phone,omitempty" validate:"omitempty,max=50"`
	Address *string `json:"address,omitempty" validate:"omitempty,max=500"`
}

// ListContactsRequest is the typed filter for contact listings.
type ListContactsRequest struct {
	Search  *string `json:"search,omitempty"`
	Page    int     `json:"page" validate:"gte=0"`
	PerPage int     `json:"per_page" validate:"gte=0,lte=200"`
}
