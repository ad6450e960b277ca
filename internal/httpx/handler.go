package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-shop-checkout/internal/auth"
	"github.com/ariefcatur/go-shop-checkout/internal/cart"
	"github.com/ariefcatur/go-shop-checkout/internal/checkout"
	kafkax "github.com/ariefcatur/go-shop-checkout/internal/kafka"
	"github.com/ariefcatur/go-shop-checkout/internal/metrics"
	"github.com/ariefcatur/go-shop-checkout/internal/orders"
)

const (
	sessionHeader = "X-Cart-Session"
	sessionCookie = "cart_session"
)

// ShopHandler serves the catalog, cart, checkout and order endpoints.
type ShopHandler struct {
	Store     orders.Store
	Processor *checkout.Processor
	Carts     *cart.Store
	Redis     *redis.Client
	// OrderPlaced and StatusChanged publish to their own topics.
	OrderPlaced   kafkax.Publisher
	StatusChanged kafkax.Publisher
	Policy        auth.Policy
	Metrics       *metrics.Shop
	Log           *slog.Logger
	Service       string
}

func (h *ShopHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)

	r.Get("/cart", h.getCart)
	r.Post("/cart/items", h.addCartItem)
	r.Delete("/cart/items/{productID}", h.removeCartItem)
	r.Delete("/cart", h.clearCart)

	r.Post("/checkout", h.checkout)

	r.Get("/orders/{ref}", h.getOrder)
	r.Get("/orders/{ref}/status", h.getOrderStatus)
	r.With(auth.RequireUser).Get("/me/orders", h.myOrders)
	r.With(h.Policy.RequireAdmin).Post("/admin/orders/{ref}/status", h.updateStatus)
}

func (h *ShopHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Store.ListActiveProducts(ctx)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

// sessionID returns the caller's cart session, if any.
func sessionID(r *http.Request) string {
	if s := r.Header.Get(sessionHeader); s != "" {
		return s
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// ensureSession returns the caller's session, minting one when absent.
func ensureSession(w http.ResponseWriter, r *http.Request) string {
	s := sessionID(r)
	if s == "" {
		s = uuid.NewString()
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    s,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   7 * 24 * 60 * 60,
		})
	}
	w.Header().Set(sessionHeader, s)
	return s
}
