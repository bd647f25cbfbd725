package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/storefront-orders/internal/orders"
	"go.uber.org/zap"
)

type errorResp struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, errCode, msg string) {
	writeJSON(w, code, errorResp{Error: errCode, Message: msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orders.ErrOrderNotFound), errors.Is(err, orders.ErrProductNotFound):
		return http.StatusNotFound
	case errors.Is(err, orders.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, orders.ErrValidation):
		return http.StatusBadRequest
	case orders.IsBusinessError(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps domain errors to {error, message}; internal errors are logged and masked.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		log.Error("internal error", zap.Error(err))
		writeErr(w, code, orders.Code(err), "internal error")
		return
	}
	writeErr(w, code, orders.Code(err), err.Error())
}
