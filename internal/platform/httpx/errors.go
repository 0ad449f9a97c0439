package httpx

import (
	"errors"
	"net/http"

	"github.com/meridian-pos/meridian/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrInsufficientStock):
		Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error())
	case errors.Is(err, shared.ErrOverReturn):
		Problem(w, http.StatusUnprocessableEntity, "Over Return", err.Error())
	case errors.Is(err, shared.ErrRefundExceedsCeiling):
		Problem(w, http.StatusUnprocessableEntity, "Refund Exceeds Ceiling", err.Error())
	case errors.Is(err, shared.ErrAlreadyRefunded):
		Problem(w, http.StatusConflict, "Already Refunded", err.Error())
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
