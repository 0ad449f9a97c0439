// Package stockledger maintains each product's on-hand quantity. All mutations
// happen inside the caller's transaction; the ledger never commits on its own.
package stockledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/meridian-pos/meridian/internal/shared"
)

// Direction enumerates stock movement directions.
type Direction string

const (
	// DirectionIn represents an inbound movement.
	DirectionIn Direction = "IN"
	// DirectionOut represents an outbound movement.
	DirectionOut Direction = "OUT"
)

// Ref identifies the operation that caused a movement.
type Ref struct {
	Module string
	ID     int64
}

// Movement is one journal row in stock_movements.
type Movement struct {
	ID           int64     `json:"id"`
	ProductID    int64     `json:"product_id"`
	Direction    Direction `json:"direction"`
	Quantity     int64     `json:"quantity"`
	BalanceAfter int64     `json:"balance_after"`
	RefModule    string    `json:"ref_module"`
	RefID        int64     `json:"ref_id"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// MovementFilter filters journal reads.
type MovementFilter struct {
	ProductID int64
	From      time.Time
	To        time.Time
	Limit     int
}

// InsufficientStockError reports a reservation that would drive quantity below zero.
type InsufficientStockError struct {
	ProductID int64
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

// Is lets callers match the error against the shared sentinel.
func (e *InsufficientStockError) Is(target error) bool {
	return errors.Is(target, shared.ErrInsufficientStock)
}

// ErrInvalidQuantity indicates a non-positive quantity.
var ErrInvalidQuantity = fmt.Errorf("%w: quantity must be positive", shared.ErrValidation)
