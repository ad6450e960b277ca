package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShop_NilReceiverIsNoop(t *testing.T) {
	var m *Shop
	m.ObserveCheckout("ok", time.Millisecond)
	m.ObserveTransition("shipped")
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	assert.NotNil(t, h)
}

func TestShop_CountsAndExposes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "api")

	m.ObserveCheckout("ok", 12*time.Millisecond)
	m.ObserveCheckout("insufficient_stock", 3*time.Millisecond)
	m.ObserveCheckout("ok", 4*time.Millisecond)
	m.ObserveTransition("shipped")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CheckoutAttempts.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StatusTransitions.WithLabelValues("shipped")))

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/orders/{ref}", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) })
	r.Handle("/metrics", Handler(reg))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/ABC", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("/orders/{ref}", "404")))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "shop_api_checkout_attempts_total"))
}
