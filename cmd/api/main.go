package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ariefcatur/go-shop-checkout/internal/auth"
	"github.com/ariefcatur/go-shop-checkout/internal/cart"
	"github.com/ariefcatur/go-shop-checkout/internal/checkout"
	"github.com/ariefcatur/go-shop-checkout/internal/config"
	"github.com/ariefcatur/go-shop-checkout/internal/httpx"
	kafkax "github.com/ariefcatur/go-shop-checkout/internal/kafka"
	"github.com/ariefcatur/go-shop-checkout/internal/metrics"
	"github.com/ariefcatur/go-shop-checkout/internal/orders"
	"github.com/ariefcatur/go-shop-checkout/internal/postgres"
	"github.com/ariefcatur/go-shop-checkout/internal/redisx"
	"github.com/ariefcatur/go-shop-checkout/internal/telemetry"
)

func main() {
	_ = godotenv.Load()
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Error("config", "err", err)
		os.Exit(1)
	}
	log = log.With("service", cfg.ServiceName)
	slog.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing
	tp, err := telemetry.Setup(cfg.ServiceName, cfg.TraceExporter, os.Stdout)
	if err != nil {
		log.Error("tracing", "err", err)
		os.Exit(1)
	}

	// Store
	var store orders.Store
	switch cfg.Store {
	case "memory":
		log.Warn("using in-memory store; data is lost on restart")
		store = orders.NewMemoryStore(demoCatalog(), nil)
	default:
		if cfg.MigrateOnStart {
			if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
				log.Error("migrate", "err", err)
				os.Exit(1)
			}
		}
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Error("db connect", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		store = &orders.PgStore{DB: db, LockTimeout: cfg.LockTimeout}
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers, one per topic
	placed := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderPlaced, 1024, log)
	placed.Start()
	changed := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderStatusChanged, 1024, log)
	changed.Start()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, "checkout")

	proc := checkout.NewProcessor(store, checkout.Options{
		Currency:        cfg.Currency,
		Pricing:         checkout.Pricing{TaxRate: cfg.TaxRate, ShippingCents: cfg.ShippingCents},
		MaxLineQuantity: cfg.MaxLineQuantity,
		Logger:          log,
		Metrics:         m,
	})

	var verifier *auth.Verifier
	if cfg.JWTSecret != "" {
		verifier = auth.NewVerifier(cfg.JWTSecret)
	} else {
		log.Warn("JWT_SECRET not set; every request is a guest")
	}

	router := httpx.NewRouter(httpx.RouterConfig{
		Metrics:  m,
		Gatherer: reg,
		Verifier: verifier,
		Timeout:  cfg.RequestTimeout,
	})
	h := &httpx.ShopHandler{
		Store:         store,
		Processor:     proc,
		Carts:         cart.NewStore(rdb, cfg.MaxLineQuantity),
		Redis:         rdb,
		OrderPlaced:   placed,
		StatusChanged: changed,
		Policy:        auth.NewPolicy(cfg.AdminEmails),
		Metrics:       m,
		Log:           log,
		Service:       cfg.ServiceName,
	}
	h.Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(router, cfg.ServiceName),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr, "store", cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen", "err", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "err", err)
	}
	placed.Close()
	changed.Close()
	placed.WaitClosed()
	changed.WaitClosed()
	if err := telemetry.Shutdown(shutdownCtx, tp); err != nil {
		log.Error("tracing shutdown", "err", err)
	}
}

func demoCatalog() []orders.Product {
	return []orders.Product{
		{ID: 1, Name: "Widget", Slug: "widget", SKU: "WID-001", Price: decimal.RequireFromString("19.99"), Active: true, Stock: 100},
		{ID: 2, Name: "Gadget", Slug: "gadget", SKU: "GAD-001", Price: decimal.RequireFromString("5.25"), Active: true, Stock: 50},
		{ID: 3, Name: "Canvas Tote", Slug: "canvas-tote", SKU: "TOT-001", Price: decimal.RequireFromString("24.00"), Active: true, Stock: 25},
		{ID: 4, Name: "Enamel Mug", Slug: "enamel-mug", SKU: "MUG-001", Price: decimal.RequireFromString("12.50"), Active: true, Stock: 40},
	}
}
