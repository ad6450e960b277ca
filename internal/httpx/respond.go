package httpx

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ariefcatur/go-shop-checkout/internal/cart"
	"github.com/ariefcatur/go-shop-checkout/internal/checkout"
	"github.com/ariefcatur/go-shop-checkout/internal/orders"
)

type errorBody struct {
	Error     string            `json:"error"`
	Fields    map[string]string `json:"fields,omitempty"`
	ProductID int64             `json:"product_id,omitempty"`
	Remaining *int              `json:"remaining,omitempty"`
	Retryable bool              `json:"retryable,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Error: msg})
}

// writeError maps domain errors to status codes. Unknown errors are logged
// and reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	var (
		ve *checkout.ValidationError
		se *checkout.InsufficientStockError
		te *orders.TransitionError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "validation failed", Fields: ve.Fields})
	case errors.Is(err, checkout.ErrPaymentMethodInvalid):
		writeMessage(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, cart.ErrInvalidLine):
		writeMessage(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, checkout.ErrProductsUnavailable):
		writeMessage(w, http.StatusConflict, err.Error())
	case errors.As(err, &se):
		remaining := se.Remaining
		writeJSON(w, http.StatusConflict, errorBody{Error: se.Error(), ProductID: se.ProductID, Remaining: &remaining})
	case errors.As(err, &te):
		writeMessage(w, http.StatusConflict, te.Error())
	case errors.Is(err, orders.ErrLockTimeout):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "the shop is busy, please retry", Retryable: true})
	case errors.Is(err, orders.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "not found")
	default:
		log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeMessage(w, http.StatusInternalServerError, "internal error")
	}
}
