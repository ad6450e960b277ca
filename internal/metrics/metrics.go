package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shop holds the collectors for the checkout API. All methods are safe on a
// nil receiver so components can run without metrics in tests.
type Shop struct {
	Requests          *prometheus.CounterVec
	LatencyMS         *prometheus.HistogramVec
	CheckoutAttempts  *prometheus.CounterVec
	CheckoutLatencyMS prometheus.Histogram
	StatusTransitions *prometheus.CounterVec
}

func New(reg prometheus.Registerer, service string) *Shop {
	m := &Shop{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shop",
			Subsystem: service,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "shop",
			Subsystem: service,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
		CheckoutAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shop",
			Subsystem: service,
			Name:      "checkout_attempts_total",
			Help:      "Checkout attempts by result.",
		}, []string{"result"}),
		CheckoutLatencyMS: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "shop",
			Subsystem: service,
			Name:      "checkout_duration_ms",
			Help:      "Checkout transaction latency in milliseconds, lock waits included.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}),
		StatusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shop",
			Subsystem: service,
			Name:      "order_status_transitions_total",
			Help:      "Applied order status transitions by target status.",
		}, []string{"to"}),
	}
	reg.MustRegister(m.Requests, m.LatencyMS, m.CheckoutAttempts, m.CheckoutLatencyMS, m.StatusTransitions)
	return m
}

func (m *Shop) ObserveCheckout(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.CheckoutAttempts.WithLabelValues(result).Inc()
	m.CheckoutLatencyMS.Observe(float64(d.Milliseconds()))
}

func (m *Shop) ObserveTransition(to string) {
	if m == nil {
		return
	}
	m.StatusTransitions.WithLabelValues(to).Inc()
}

// Middleware records request count and latency per chi route pattern.
func (m *Shop) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		m.LatencyMS.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
	})
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
