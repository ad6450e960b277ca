package orders_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ariefcatur/go-shop-checkout/internal/checkout"
	"github.com/ariefcatur/go-shop-checkout/internal/orders"
	"github.com/ariefcatur/go-shop-checkout/internal/payments"
	"github.com/ariefcatur/go-shop-checkout/internal/postgres"
)

func setupPg(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if os.Getenv("CHECKOUT_PG_INTEGRATION") != "1" {
		t.Skip("set CHECKOUT_PG_INTEGRATION=1 to run Postgres integration tests")
	}
	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("shop"),
		tcpostgres.WithUsername("app"),
		tcpostgres.WithPassword("secret"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, postgres.Migrate(dsn))

	pool, err := postgres.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func insertProduct(t *testing.T, pool *pgxpool.Pool, sku, name, price string, stock int) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(context.Background(), `
		INSERT INTO products(name, slug, sku, price, is_active, stock)
		VALUES ($1, lower($2), $2, $3::numeric, TRUE, $4) RETURNING id`,
		name, sku, price, stock).Scan(&id)
	require.NoError(t, err)
	return id
}

func stockOf(t *testing.T, pool *pgxpool.Pool, id int64) int {
	t.Helper()
	var n int
	require.NoError(t, pool.QueryRow(context.Background(), `SELECT stock FROM products WHERE id=$1`, id).Scan(&n))
	return n
}

func newProcessor(store checkout.Store) *checkout.Processor {
	return checkout.NewProcessor(store, checkout.Options{
		Currency:        "USD",
		Pricing:         checkout.Pricing{TaxRate: decimal.RequireFromString("0.084"), ShippingCents: 500},
		MaxLineQuantity: 99,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func checkoutRequest(lines ...checkout.CartLine) checkout.Request {
	return checkout.Request{
		Customer: orders.Customer{Name: "Ada Lovelace", Email: "ada@example.com"},
		Shipping: orders.Address{Line1: "1 Analytical St", City: "London", PostalCode: "N1", Country: "GB"},
		Lines:    lines,
		Payment: payments.Selection{Card: &payments.Card{
			Number: "4242424242424242", HolderName: "Ada", ExpMonth: 12, ExpYear: 2099, CVC: "123",
		}},
	}
}

func TestPgStore_CheckoutEndToEnd(t *testing.T) {
	pool := setupPg(t)
	ctx := context.Background()
	store := &orders.PgStore{DB: pool, LockTimeout: 2 * time.Second}
	widget := insertProduct(t, pool, "IT-WID", "Integration Widget", "19.99", 5)

	o, err := newProcessor(store).PlaceOrder(ctx, checkoutRequest(checkout.CartLine{
		ProductID: widget, Quantity: 3, VariantKey: "blue", Options: map[string]string{"color": "Blue"},
	}))
	require.NoError(t, err)
	assert.Equal(t, int64(7001), o.TotalCents)
	assert.Equal(t, 2, stockOf(t, pool, widget))

	got, err := store.GetByReference(ctx, o.PublicRef)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaid, got.Status)
	assert.True(t, got.TotalsConsistent())
	require.Len(t, got.Items, 1)
	assert.Equal(t, "blue", got.Items[0].VariantKey)
	assert.Equal(t, "Blue", got.Items[0].SelectedOptions["color"])

	_, err = pool.Exec(ctx, `UPDATE products SET name='Renamed', price=1.00 WHERE id=$1`, widget)
	require.NoError(t, err)
	got, err = store.GetByReference(ctx, o.PublicRef)
	require.NoError(t, err)
	assert.Equal(t, "Integration Widget", got.Items[0].ProductName)
	assert.Equal(t, int64(1999), got.Items[0].UnitPriceCents)

	_, err = newProcessor(store).PlaceOrder(ctx, checkoutRequest(checkout.CartLine{ProductID: widget, Quantity: 5}))
	var se *checkout.InsufficientStockError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 2, se.Remaining)
	assert.Equal(t, 2, stockOf(t, pool, widget))
}

func TestPgStore_ConcurrentLastUnit(t *testing.T) {
	pool := setupPg(t)
	store := &orders.PgStore{DB: pool, LockTimeout: 5 * time.Second}
	id := insertProduct(t, pool, "IT-LAST", "Last One", "10.00", 1)
	p := newProcessor(store)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.PlaceOrder(context.Background(), checkoutRequest(checkout.CartLine{ProductID: id, Quantity: 1}))
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, 0, stockOf(t, pool, id))
}

func TestPgStore_LockTimeout(t *testing.T) {
	pool := setupPg(t)
	ctx := context.Background()
	store := &orders.PgStore{DB: pool, LockTimeout: 100 * time.Millisecond}
	id := insertProduct(t, pool, "IT-LOCK", "Locked", "1.00", 3)

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- store.WithinTx(ctx, func(tx orders.Tx) error {
			if _, err := tx.LockProductsForUpdate(ctx, []int64{id}); err != nil {
				return err
			}
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := store.WithinTx(ctx, func(tx orders.Tx) error {
		_, err := tx.LockProductsForUpdate(ctx, []int64{id})
		return err
	})
	close(release)
	require.NoError(t, <-done)
	assert.True(t, errors.Is(err, orders.ErrLockTimeout), "got %v", err)
}

func TestPgStore_ReferenceConflictAndStatus(t *testing.T) {
	pool := setupPg(t)
	ctx := context.Background()
	store := &orders.PgStore{DB: pool}
	id := insertProduct(t, pool, "IT-REF", "Ref", "2.00", 10)

	o, err := newProcessor(store).PlaceOrder(ctx, checkoutRequest(checkout.CartLine{ProductID: id, Quantity: 1}))
	require.NoError(t, err)

	err = store.WithinTx(ctx, func(tx orders.Tx) error {
		dup := *o
		dup.Items = nil
		return tx.InsertOrder(ctx, &dup)
	})
	assert.ErrorIs(t, err, orders.ErrReferenceTaken)

	updated, from, err := store.UpdateStatus(ctx, o.PublicRef, orders.StatusShipped)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaid, from)
	assert.Equal(t, orders.StatusShipped, updated.Status)

	_, from, err = store.UpdateStatus(ctx, o.PublicRef, orders.StatusCancelled)
	var te *orders.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, orders.StatusShipped, from)

	_, _, err = store.UpdateStatus(ctx, "NOPE", orders.StatusShipped)
	assert.ErrorIs(t, err, orders.ErrNotFound)
}
