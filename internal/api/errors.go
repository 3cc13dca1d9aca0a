package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/example/ec-order-engine/internal/domain/inventory"
	"github.com/example/ec-order-engine/internal/domain/order"
	"github.com/example/ec-order-engine/internal/domain/product"
	"github.com/example/ec-order-engine/internal/domain/user"
	"github.com/example/ec-order-engine/internal/payment"
	"github.com/example/ec-order-engine/internal/service"
)

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondMessage(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"message": message})
}

// statusFor maps domain errors to HTTP status codes. Anything unmapped is
// an internal error and its detail stays out of the response.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, product.ErrProductNotFound),
		errors.Is(err, user.ErrUserNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "access denied"
	case errors.Is(err, user.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid email or password"
	case errors.Is(err, user.ErrEmailTaken):
		return http.StatusConflict, "email already registered"
	case errors.Is(err, inventory.ErrInsufficientStock),
		errors.Is(err, order.ErrIllegalTransition),
		errors.Is(err, order.ErrIllegalPaymentTransition),
		errors.Is(err, order.ErrEmptyOrder),
		errors.Is(err, order.ErrInvalidQuantity),
		errors.Is(err, order.ErrInvalidPaymentMethod),
		errors.Is(err, payment.ErrInvalidSignature),
		errors.Is(err, product.ErrInvalidPrice),
		errors.Is(err, product.ErrInvalidStock),
		errors.Is(err, product.ErrNameRequired):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, payment.ErrGatewayUnavailable):
		return http.StatusBadGateway, "payment gateway unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, err error) {
	status, message := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}
	respondMessage(w, status, message)
}
