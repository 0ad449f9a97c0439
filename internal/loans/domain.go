// Package loans keeps an append-only register of money lent to and borrowed
// from contacts. The balance is never stored; it is the signed sum of the
// transaction history.
package loans

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType enumerates the four loan directions.
type TransactionType string

const (
	// TypeGiven means the shop lent money to the contact.
	TypeGiven TransactionType = "GIVEN"
	// TypeTaken means the shop borrowed money from the contact.
	TypeTaken TransactionType = "TAKEN"
	// TypeReturnedByContact means the contact repaid a loan to the shop.
	TypeReturnedByContact TransactionType = "RETURNED_BY_CONTACT"
	// TypeReturnedToContact means the shop repaid a loan to the contact.
	TypeReturnedToContact TransactionType = "RETURNED_TO_CONTACT"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeGiven, TypeTaken, TypeReturnedByContact, TypeReturnedToContact:
		return true
	}
	return false
}

// Transaction is one immutable loan register entry.
type Transaction struct {
	ID         int64           `json:"id"`
	ContactID  int64           `json:"contact_id"`
	Type       TransactionType `json:"type"`
	Amount     decimal.Decimal `json:"amount"`
	Note       string          `json:"note"`
	OccurredAt time.Time       `json:"occurred_at"`
	CreatedAt  time.Time       `json:"created_at"`
}

type CreateTransactionRequest struct {
	ContactID  int64           `json:"contact_id" validate:"required,gt=0"`
	Type       TransactionType `json:"type" validate:"required"`
	Amount     decimal.Decimal `json:"amount"`
	Note       string          `json:"note" validate:"max=500"`
	OccurredAt *time.Time      `json:"occurred_at,omitempty"`
}

// ListTransactionsRequest is the typed filter for the register.
type ListTransactionsRequest struct {
	ContactID *int64     `json:"contact_id,omitempty"`
	From      *time.Time `json:"from,omitempty"`
	To        *time.Time `json:"to,omitempty"`
	Page      int        `json:"page" validate:"gte=0"`
	PerPage   int        `json:"per_page" validate:"gte=0,lte=200"`
}

// ContactBalance is a contact's net loan position. Positive means the contact
// owes the shop.
type ContactBalance struct {
	ContactID int64           `json:"contact_id"`
	Balance   decimal.Decimal `json:"balance"`
}
