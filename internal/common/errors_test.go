package common_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/common"
)

var errSoldOut = errors.New("variant sold out")

func soldOut(err error) *common.AppError {
	if errors.Is(err, errSoldOut) {
		return common.NewAppError("SOLD_OUT", "variant is no longer available", http.StatusConflict, err)
	}
	return nil
}

var internalFallback = common.NewAppError("INTERNAL", "unable to price cart", http.StatusInternalServerError, nil)

func TestClassifyUsesFirstMatchingMapper(t *testing.T) {
	err := fmt.Errorf("line 2: %w", errSoldOut)
	appErr := common.Classify(err, internalFallback, soldOut)
	require.Equal(t, "SOLD_OUT", appErr.Code)
	require.Equal(t, http.StatusConflict, appErr.HTTPStatus)
	require.ErrorIs(t, appErr, errSoldOut)
}

func TestClassifyFallbackKeepsCauseWithoutMutatingTemplate(t *testing.T) {
	cause := errors.New("redis timeout")
	appErr := common.Classify(cause, internalFallback, soldOut)
	require.Equal(t, "INTERNAL", appErr.Code)
	require.ErrorIs(t, appErr, cause)
	require.Nil(t, internalFallback.Err)
}

func TestClassifyPrefersWrappedAppError(t *testing.T) {
	inner := common.NewAppError("TOO_MANY_ITEMS", "cart has too many lines", http.StatusBadRequest, nil)
	appErr := common.Classify(fmt.Errorf("checkout: %w", inner), internalFallback, soldOut)
	require.Same(t, inner, appErr)
}

func TestAppErrorBodies(t *testing.T) {
	appErr := common.NewAppError("INVALID_CART_ITEM", "line 0: quantity must be at least 1", http.StatusBadRequest, nil).
		WithDetails(map[string]any{"index": 0, "field": "quantity"})

	nested := httptest.NewRecorder()
	appErr.Write(nested)
	require.Equal(t, http.StatusBadRequest, nested.Code)
	require.JSONEq(t, `{"error":{"code":"INVALID_CART_ITEM","message":"line 0: quantity must be at least 1","details":{"index":0,"field":"quantity"}}}`, nested.Body.String())

	flat := httptest.NewRecorder()
	appErr.WriteFlat(flat)
	var body map[string]string
	require.NoError(t, json.Unmarshal(flat.Body.Bytes(), &body))
	require.Equal(t, map[string]string{"error": "line 0: quantity must be at least 1", "code": "INVALID_CART_ITEM"}, body)
}

func TestAppErrorWithoutStatusIsServerError(t *testing.T) {
	rr := httptest.NewRecorder()
	(&common.AppError{Code: "INTERNAL", Message: "boom"}).WriteFlat(rr)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
}
