package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/pricing"
)

// genericFailure is the only processor-related message the storefront ever sees.
const genericFailure = "payment could not be created"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Handler exposes the checkout payment-intent endpoint.
type Handler struct {
	Builder *Builder
}

type intentReq struct {
	Cart           pricing.Cart `json:"cart" validate:"required"`
	OrderAttemptID string       `json:"orderAttemptId" validate:"omitempty,max=128"`
}

type intentResp struct {
	ClientSecret string `json:"clientSecret"`
}

// CreateIntent handles POST /stripe/create-payment-intent. Any client-supplied totals are ignored.
func (h *Handler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Builder == nil {
		common.JSONErrorMessage(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", genericFailure)
		return
	}
	var req intentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONErrorMessage(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body")
		return
	}
	if err := validate.Struct(req); err != nil {
		common.JSONErrorMessage(w, http.StatusBadRequest, "BAD_REQUEST", "cart is required")
		return
	}
	attempt := strings.TrimSpace(req.OrderAttemptID)
	if attempt == "" {
		attempt = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}
	intent, err := h.Builder.CreatePaymentIntent(r.Context(), Request{Cart: req.Cart, AttemptID: attempt})
	if err != nil {
		writeIntentError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, intentResp{ClientSecret: intent.ClientSecret})
}

func writeIntentError(w http.ResponseWriter, err error) {
	fallback := common.NewAppError("PAYMENT_FAILED", genericFailure, http.StatusBadGateway, nil)
	common.Classify(err, fallback, intentError).WriteFlat(w)
}

func intentError(err error) *common.AppError {
	var itemErr *pricing.ItemError
	switch {
	case errors.As(err, &itemErr):
		return common.NewAppError("INVALID_CART_ITEM", itemErr.Error(), http.StatusBadRequest, err)
	case errors.Is(err, pricing.ErrInvalidCartItem):
		return common.NewAppError("INVALID_CART_ITEM", err.Error(), http.StatusBadRequest, err)
	case errors.Is(err, pricing.ErrTooManyItems):
		return common.NewAppError("TOO_MANY_ITEMS", err.Error(), http.StatusBadRequest, err)
	case errors.Is(err, pricing.ErrAmountOutOfRange):
		return common.NewAppError("AMOUNT_OUT_OF_RANGE", "order amount is out of range", http.StatusUnprocessableEntity, err)
	case errors.Is(err, context.DeadlineExceeded):
		return common.NewAppError("PAYMENT_TIMEOUT", genericFailure, http.StatusGatewayTimeout, err)
	}
	return nil
}
