package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-shop-checkout/internal/payments"
)

func seedStore() *MemoryStore {
	return NewMemoryStore([]Product{
		{ID: 1, Name: "Widget", Slug: "widget", SKU: "W-1", Price: decimal.RequireFromString("19.99"), Active: true, Stock: 5},
		{ID: 2, Name: "Gadget", Slug: "gadget", SKU: "G-1", Price: decimal.RequireFromString("7.50"), Active: false, Stock: 5},
	}, []payments.StoredMethod{{ID: 10, OwnerID: 42, Brand: "visa", Last4: "4242"}})
}

func newOrder(ref string) *Order {
	return &Order{PublicRef: ref, Status: StatusPaid, PlacedAt: time.Now().UTC(), Currency: "USD"}
}

func TestMemoryStore_RollbackLeavesNoTrace(t *testing.T) {
	s := seedStore()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(tx Tx) error {
		ps, err := tx.LockProductsForUpdate(ctx, []int64{1, 2})
		require.NoError(t, err)
		require.Len(t, ps, 1, "inactive products are not returned")

		o := newOrder("REF1")
		require.NoError(t, tx.InsertOrder(ctx, o))
		require.NoError(t, tx.InsertOrderItems(ctx, o.ID, []OrderItem{{ProductName: "Widget", Quantity: 2}}))
		require.NoError(t, tx.DecrementStock(ctx, 1, 2))
		return boom
	})
	require.ErrorIs(t, err, boom)

	p, _ := s.Product(1)
	assert.Equal(t, 5, p.Stock)
	assert.Equal(t, 0, s.OrderCount())
	_, err = s.GetByReference(ctx, "REF1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_CommitAppliesEverything(t *testing.T) {
	s := seedStore()
	ctx := context.Background()
	pid := int64(1)

	err := s.WithinTx(ctx, func(tx Tx) error {
		if _, err := tx.LockProductsForUpdate(ctx, []int64{1}); err != nil {
			return err
		}
		o := newOrder("REF2")
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		if err := tx.InsertOrderItems(ctx, o.ID, []OrderItem{{ProductID: &pid, ProductName: "Widget", Quantity: 3}}); err != nil {
			return err
		}
		return tx.DecrementStock(ctx, 1, 3)
	})
	require.NoError(t, err)

	p, _ := s.Product(1)
	assert.Equal(t, 2, p.Stock)
	o, err := s.GetByReference(ctx, "REF2")
	require.NoError(t, err)
	require.Len(t, o.Items, 1)
	assert.Equal(t, 3, o.Items[0].Quantity)

	s.DeleteProduct(1)
	o, err = s.GetByReference(ctx, "REF2")
	require.NoError(t, err)
	assert.Nil(t, o.Items[0].ProductID)
	assert.Equal(t, "Widget", o.Items[0].ProductName)
}

func TestMemoryStore_DecrementGuard(t *testing.T) {
	s := seedStore()
	ctx := context.Background()
	err := s.WithinTx(ctx, func(tx Tx) error {
		return tx.DecrementStock(ctx, 1, 6)
	})
	assert.ErrorIs(t, err, ErrStockConflict)
}

func TestMemoryStore_ReferenceTaken(t *testing.T) {
	s := seedStore()
	ctx := context.Background()
	require.NoError(t, s.WithinTx(ctx, func(tx Tx) error { return tx.InsertOrder(ctx, newOrder("DUP")) }))

	err := s.WithinTx(ctx, func(tx Tx) error {
		exists, err := tx.ReferenceExists(ctx, "DUP")
		require.NoError(t, err)
		assert.True(t, exists)
		return tx.InsertOrder(ctx, newOrder("DUP"))
	})
	assert.ErrorIs(t, err, ErrReferenceTaken)
}

func TestMemoryStore_RowLockTimeout(t *testing.T) {
	s := seedStore()
	s.LockTimeout = 50 * time.Millisecond
	ctx := context.Background()

	locked := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.WithinTx(ctx, func(tx Tx) error {
			_, err := tx.LockProductsForUpdate(ctx, []int64{1})
			close(locked)
			<-done
			return err
		})
	}()
	<-locked

	err := s.WithinTx(ctx, func(tx Tx) error {
		_, err := tx.LockProductsForUpdate(ctx, []int64{1})
		return err
	})
	close(done)
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestMemoryStore_PaymentMethodOwnership(t *testing.T) {
	s := seedStore()
	ctx := context.Background()
	_ = s.WithinTx(ctx, func(tx Tx) error {
		m, err := tx.ResolveStoredPaymentMethod(ctx, 10, 42)
		require.NoError(t, err)
		assert.Equal(t, "4242", m.Last4)

		_, err = tx.ResolveStoredPaymentMethod(ctx, 10, 7)
		assert.ErrorIs(t, err, payments.ErrNotFound)
		_, err = tx.ResolveStoredPaymentMethod(ctx, 99, 42)
		assert.ErrorIs(t, err, payments.ErrNotFound)
		return nil
	})
}

func TestMemoryStore_UpdateStatus(t *testing.T) {
	s := seedStore()
	ctx := context.Background()
	require.NoError(t, s.WithinTx(ctx, func(tx Tx) error { return tx.InsertOrder(ctx, newOrder("ST1")) }))

	o, from, err := s.UpdateStatus(ctx, "ST1", StatusShipped)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, from)
	assert.Equal(t, StatusShipped, o.Status)

	_, from, err = s.UpdateStatus(ctx, "ST1", StatusCancelled)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StatusShipped, from)

	_, _, err = s.UpdateStatus(ctx, "NOPE", StatusShipped)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ListByUser(t *testing.T) {
	s := seedStore()
	ctx := context.Background()
	uid := int64(42)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, ref := range []string{"A", "B", "C"} {
		o := newOrder(ref)
		o.PlacedAt = base.Add(time.Duration(i) * time.Hour)
		if ref != "B" {
			o.Customer.UserID = &uid
		}
		require.NoError(t, s.WithinTx(ctx, func(tx Tx) error { return tx.InsertOrder(ctx, o) }))
	}

	list, err := s.ListByUser(ctx, 42, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "C", list[0].PublicRef)
	assert.Equal(t, "A", list[1].PublicRef)

	products, err := s.ListActiveProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Widget", products[0].Name)
}
