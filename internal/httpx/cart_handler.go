package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-shop-checkout/internal/checkout"
)

func (h *ShopHandler) getCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.Carts.Get(r.Context(), ensureSession(w, r))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *ShopHandler) addCartItem(w http.ResponseWriter, r *http.Request) {
	var line checkout.CartLine
	if err := json.NewDecoder(r.Body).Decode(&line); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid json")
		return
	}
	c, err := h.Carts.AddLine(r.Context(), ensureSession(w, r), line)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *ShopHandler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid product id")
		return
	}
	c, err := h.Carts.RemoveLine(r.Context(), ensureSession(w, r), id)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *ShopHandler) clearCart(w http.ResponseWriter, r *http.Request) {
	if s := sessionID(r); s != "" {
		if err := h.Carts.Clear(r.Context(), s); err != nil {
			writeError(w, r, h.Log, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
