package shared

import "errors"

var (
	// ErrNotFound indicates a referenced entity is absent.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed input rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates a uniqueness conflict, including number-generation retry exhaustion.
	ErrConflict = errors.New("conflict")
	// ErrInsufficientStock indicates a stock reservation would go negative.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrOverReturn indicates a requested return quantity exceeds the remaining returnable quantity.
	ErrOverReturn = errors.New("return quantity exceeds returnable quantity")
	// ErrRefundExceedsCeiling indicates a refund larger than the refundable amount.
	ErrRefundExceedsCeiling = errors.New("refund exceeds ceiling")
	// ErrAlreadyRefunded indicates the conflicting refund path was already used.
	ErrAlreadyRefunded = errors.New("already refunded")
)
