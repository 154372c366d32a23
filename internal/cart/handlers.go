package cart

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/pricing"
)

// Handler serves storefront cart totals computed with the checkout pricing rules.
type Handler struct {
	Engine   *pricing.Engine
	Currency string
}

type totalsReq struct {
	Cart pricing.Cart `json:"cart"`
}

type totalsResp struct {
	Subtotal     string `json:"subtotal"`
	ShippingCost string `json:"shippingCost"`
	Total        string `json:"total"`
	ItemCount    int    `json:"itemCount"`
	Currency     string `json:"currency"`
}

// Totals handles POST /cart/totals. The result is for display only; checkout recomputes it.
func (h *Handler) Totals(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Engine == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "pricing not configured", nil)
		return
	}
	var payload totalsReq
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	res, err := h.Engine.ComputeTotals(payload.Cart)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": totalsResp{
		Subtotal:     res.Subtotal.StringFixed(2),
		ShippingCost: res.ShippingCost.StringFixed(2),
		Total:        res.Total.StringFixed(2),
		ItemCount:    res.ItemCount,
		Currency:     strings.ToUpper(h.Currency),
	}})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	common.Classify(err, common.NewAppError("INTERNAL", "unable to compute totals", http.StatusInternalServerError, nil), pricingError).Write(w)
}

func pricingError(err error) *common.AppError {
	var itemErr *pricing.ItemError
	switch {
	case errors.As(err, &itemErr):
		return common.NewAppError("INVALID_CART_ITEM", itemErr.Error(), http.StatusBadRequest, err).
			WithDetails(map[string]any{"index": itemErr.Index, "field": itemErr.Field})
	case errors.Is(err, pricing.ErrAmountOutOfRange):
		return common.NewAppError("AMOUNT_OUT_OF_RANGE", "order amount is out of range", http.StatusUnprocessableEntity, err)
	}
	return nil
}
