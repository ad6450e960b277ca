package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-shop-checkout/internal/auth"
	kafkax "github.com/ariefcatur/go-shop-checkout/internal/kafka"
	"github.com/ariefcatur/go-shop-checkout/internal/orders"
	"github.com/ariefcatur/go-shop-checkout/internal/redisx"
)

type statusView struct {
	Reference string        `json:"reference"`
	Status    orders.Status `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func (h *ShopHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Store.GetByReference(ctx, chi.URLParam(r, "ref"))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *ShopHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) cache
	var v statusView
	key := fmt.Sprintf(redisx.KeyOrderStatus, ref)
	if ok, err := redisx.GetJSON(ctx, h.Redis, key, &v); err == nil && ok {
		writeJSON(w, http.StatusOK, v)
		return
	}

	// 2) store
	o, err := h.Store.GetByReference(ctx, ref)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, h.cacheStatus(ctx, o))
}

func (h *ShopHandler) cacheStatus(ctx context.Context, o *orders.Order) statusView {
	v := statusView{Reference: o.PublicRef, Status: o.Status, UpdatedAt: o.UpdatedAt}
	if err := redisx.SetJSON(ctx, h.Redis, fmt.Sprintf(redisx.KeyOrderStatus, o.PublicRef), v, redisx.TTLStatusCache); err != nil {
		h.Log.Warn("cache order status", "order_ref", o.PublicRef, "err", err)
	}
	return v
}

func (h *ShopHandler) myOrders(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeMessage(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, 100)
	}

	list, err := h.Store.ListByUser(r.Context(), id.UserID, limit)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	if list == nil {
		list = []orders.Order{}
	}
	writeJSON(w, http.StatusOK, list)
}

type updateStatusReq struct {
	Status orders.Status `json:"status"`
}

func (h *ShopHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !req.Status.Valid() {
		writeMessage(w, http.StatusUnprocessableEntity, fmt.Sprintf("unknown status %q", req.Status))
		return
	}
	ctx := r.Context()
	ref := chi.URLParam(r, "ref")

	o, from, err := h.Store.UpdateStatus(ctx, ref, req.Status)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	h.Metrics.ObserveTransition(string(o.Status))
	h.Log.Info("order status changed", "order_ref", ref, "from", from, "to", o.Status)

	bg := context.WithoutCancel(ctx)
	// Overwrite rather than delete so a concurrent read cannot re-cache the old status.
	h.cacheStatus(bg, o)
	payload := orders.OrderStatusChangedPayload{
		Reference:     ref,
		CustomerEmail: o.Customer.Email,
		From:          from,
		To:            o.Status,
	}
	if err := kafkax.Emit(h.StatusChanged, orders.EventOrderStatusChanged, h.Service, traceID(ctx), ref, payload); err != nil {
		h.Log.Error("emit status changed", "order_ref", ref, "err", err)
	}
	writeJSON(w, http.StatusOK, o)
}
