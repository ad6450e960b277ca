package httpx

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-shop-checkout/internal/auth"
	"github.com/ariefcatur/go-shop-checkout/internal/checkout"
	kafkax "github.com/ariefcatur/go-shop-checkout/internal/kafka"
	"github.com/ariefcatur/go-shop-checkout/internal/orders"
	"github.com/ariefcatur/go-shop-checkout/internal/payments"
	"github.com/ariefcatur/go-shop-checkout/internal/redisx"
)

const (
	idempotencyHeader = "Idempotency-Key"
	idemInFlight      = "-"
	idemInFlightTTL   = time.Minute
)

type checkoutReq struct {
	Customer orders.Customer     `json:"customer"`
	Shipping orders.Address      `json:"shipping_address"`
	Items    []checkout.CartLine `json:"items"`
	Payment  payments.Selection  `json:"payment"`
}

// idemRecord is what a completed checkout leaves under its idempotency key.
type idemRecord struct {
	Ref         string `json:"ref"`
	Fingerprint string `json:"fingerprint"`
}

type checkoutResp struct {
	Order      *orders.Order `json:"order"`
	Idempotent bool          `json:"idempotent"`
}

func (h *ShopHandler) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid json")
		return
	}
	ctx := r.Context()

	// The identity, never the body, decides which account owns the order.
	req.Customer.UserID = nil
	if id, ok := auth.FromContext(ctx); ok {
		uid := id.UserID
		req.Customer.UserID = &uid
		if req.Customer.Email == "" {
			req.Customer.Email = id.Email
		}
	}

	session := sessionID(r)
	fingerprint, err := requestFingerprint(req)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	fromCart := false
	if len(req.Items) == 0 && session != "" {
		c, err := h.Carts.Get(ctx, session)
		if err != nil {
			writeError(w, r, h.Log, err)
			return
		}
		req.Items, fromCart = c.Lines, true
	}

	idemKey := ""
	if k := r.Header.Get(idempotencyHeader); k != "" {
		idemKey = fmt.Sprintf(redisx.KeyIdemCheckout, idempotencyScope(ctx, session, fingerprint), k)
		replayed, handled := h.claimIdempotency(w, r, idemKey, fingerprint)
		if handled {
			return
		}
		if replayed != nil {
			writeJSON(w, http.StatusOK, checkoutResp{Order: replayed, Idempotent: true})
			return
		}
	}

	o, err := h.Processor.PlaceOrder(ctx, checkout.Request{
		Customer: req.Customer,
		Shipping: req.Shipping,
		Lines:    req.Items,
		Payment:  req.Payment,
	})
	if err != nil {
		if idemKey != "" {
			h.releaseIdempotency(idemKey)
		}
		writeError(w, r, h.Log, err)
		return
	}

	// Post-commit side effects are best effort: the order is already durable.
	bg := context.WithoutCancel(ctx)
	if idemKey != "" {
		rec := idemRecord{Ref: o.PublicRef, Fingerprint: fingerprint}
		if err := redisx.SetJSON(bg, h.Redis, idemKey, rec, redisx.TTLIdempotency); err != nil {
			h.Log.Warn("store idempotency key", "order_ref", o.PublicRef, "err", err)
		}
	}
	h.cacheStatus(bg, o)
	if fromCart {
		if err := h.Carts.Clear(bg, session); err != nil {
			h.Log.Warn("clear cart after checkout", "order_ref", o.PublicRef, "err", err)
		}
	}
	if err := kafkax.Emit(h.OrderPlaced, orders.EventOrderPlaced, h.Service, traceID(ctx),
		o.PublicRef, orders.NewOrderPlaced(o)); err != nil {
		h.Log.Error("emit order placed", "order_ref", o.PublicRef, "err", err)
	}

	writeJSON(w, http.StatusCreated, checkoutResp{Order: o})
}

// requestFingerprint hashes the request as decoded, after the identity has
// been applied and before any cart lines are filled in.
func requestFingerprint(req checkoutReq) (string, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("fingerprint checkout request: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// idempotencyScope keeps keys of different callers apart: the account when
// authenticated, else the cart session, else the request itself.
func idempotencyScope(ctx context.Context, session, fingerprint string) string {
	if id, ok := auth.FromContext(ctx); ok {
		return fmt.Sprintf("u:%d", id.UserID)
	}
	if session != "" {
		return "s:" + session
	}
	return "b:" + fingerprint
}

// claimIdempotency reserves key for this request. It returns the stored order
// when key already names one, or handled=true when a response was written.
func (h *ShopHandler) claimIdempotency(w http.ResponseWriter, r *http.Request, key, fingerprint string) (*orders.Order, bool) {
	ctx := r.Context()
	won, err := h.Redis.SetNX(ctx, key, idemInFlight, idemInFlightTTL).Result()
	if err != nil {
		h.Log.Warn("idempotency unavailable", "err", err)
		return nil, false
	}
	if won {
		return nil, false
	}

	raw, err := h.Redis.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		// Expired between SETNX and GET; treat as a fresh claim.
		return h.claimIdempotency(w, r, key, fingerprint)
	case err != nil:
		h.Log.Warn("idempotency unavailable", "err", err)
		return nil, false
	case string(raw) == idemInFlight:
		writeMessage(w, http.StatusConflict, "a checkout with this idempotency key is in progress")
		return nil, true
	}

	var rec idemRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		writeError(w, r, h.Log, fmt.Errorf("decode idempotency record: %w", err))
		return nil, true
	}
	if rec.Fingerprint != fingerprint {
		writeMessage(w, http.StatusUnprocessableEntity, "idempotency key was already used with a different request")
		return nil, true
	}

	o, err := h.Store.GetByReference(ctx, rec.Ref)
	if err != nil {
		writeError(w, r, h.Log, err)
		return nil, true
	}
	return o, false
}

func (h *ShopHandler) releaseIdempotency(key string) {
	if err := h.Redis.Del(context.Background(), key).Err(); err != nil {
		h.Log.Warn("release idempotency key", "err", err)
	}
}
