package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

// errorBody — единый конверт ошибки API.
type errorBody struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	FailedProducts []domain.FailedProduct `json:"failed_products,omitempty"`
	Requested      int64                  `json:"requested,omitempty"`
	Available      int64                  `json:"available,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

// writeDomainError переводит доменную ошибку в HTTP статус и конверт ошибки.
func writeDomainError(w http.ResponseWriter, err error) {
	var insufficient *domain.InsufficientStockError
	var unreserved *domain.InsufficientUnreservedStockError
	var rejected *domain.OrderRejectedError

	switch {
	case errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrReservationNotFound),
		errors.Is(err, domain.ErrOrderNotFound):
		writeErrorCode(w, http.StatusNotFound, "not_found", err.Error())

	case errors.Is(err, domain.ErrProductExists):
		writeErrorCode(w, http.StatusConflict, "already_exists", err.Error())

	case errors.Is(err, domain.ErrReservationExists):
		writeErrorCode(w, http.StatusConflict, "reservation_exists", err.Error())

	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusConflict, errorResponse{Error: errorBody{
			Code:      "insufficient_stock",
			Message:   insufficient.Error(),
			Requested: insufficient.Requested,
			Available: insufficient.Available,
		}})

	case errors.As(err, &unreserved):
		writeJSON(w, http.StatusConflict, errorResponse{Error: errorBody{
			Code:      "insufficient_unreserved_stock",
			Message:   unreserved.Error(),
			Requested: unreserved.Requested,
		}})

	case domain.IsInvalidTransition(err):
		writeErrorCode(w, http.StatusConflict, "invalid_transition", err.Error())

	case errors.As(err, &rejected):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: errorBody{
			Code:           "order_rejected",
			Message:        rejected.Error(),
			FailedProducts: rejected.Failed,
		}})

	case errors.Is(err, domain.ErrProductInactive):
		writeErrorCode(w, http.StatusUnprocessableEntity, "product_inactive", err.Error())

	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		writeErrorCode(w, http.StatusUnprocessableEntity, "idempotency_mismatch", err.Error())

	case domain.IsRetryable(err):
		w.Header().Set("Retry-After", "1")
		writeErrorCode(w, http.StatusServiceUnavailable, "retryable_failure", err.Error())

	case isValidationError(err):
		writeErrorCode(w, http.StatusBadRequest, "validation_failed", err.Error())

	default:
		writeErrorCode(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func isValidationError(err error) bool {
	for _, target := range []error{
		domain.ErrProductIDRequired,
		domain.ErrOrderIDRequired,
		domain.ErrReservationQtyInvalid,
		domain.ErrReservationStatusInvalid,
		domain.ErrReservationQtyMismatch,
		domain.ErrCustomerRequired,
		domain.ErrCurrencyRequired,
		domain.ErrItemsRequired,
		domain.ErrAmountNegative,
		domain.ErrItemQtyInvalid,
		domain.ErrItemPriceInvalid,
		domain.ErrDuplicateLineItem,
		domain.ErrReservationNotInOrder,
		domain.ErrAmountMismatch,
		domain.ErrAdjustmentTypeInvalid,
		domain.ErrAdjustmentQtyInvalid,
		domain.ErrAuditReasonInvalid,
		domain.ErrActorRequired,
		domain.ErrStockStatusInvalid,
		domain.ErrPhysicalStockNegative,
		domain.ErrIdempotencyKeyRequired,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
