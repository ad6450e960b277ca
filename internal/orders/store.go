package orders

import (
	"context"

	"github.com/ariefcatur/go-shop-checkout/internal/payments"
)

// Tx is the transactional surface used by checkout. Every method runs inside
// the transaction opened by Store.WithinTx; row locks taken by
// LockProductsForUpdate are held until that transaction ends.
type Tx interface {
	// LockProductsForUpdate returns the active products among ids, locked.
	LockProductsForUpdate(ctx context.Context, ids []int64) ([]Product, error)
	// ResolveStoredPaymentMethod returns payments.ErrNotFound when the method
	// does not exist or does not belong to ownerID.
	ResolveStoredPaymentMethod(ctx context.Context, id, ownerID int64) (payments.StoredMethod, error)
	ReferenceExists(ctx context.Context, ref string) (bool, error)
	// InsertOrder sets o.ID. It returns ErrReferenceTaken on a reference conflict.
	InsertOrder(ctx context.Context, o *Order) error
	InsertOrderItems(ctx context.Context, orderID int64, items []OrderItem) error
	DecrementStock(ctx context.Context, productID int64, qty int) error
}

type Reader interface {
	GetByReference(ctx context.Context, ref string) (*Order, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]Order, error)
	ListActiveProducts(ctx context.Context) ([]Product, error)
}

type Store interface {
	Reader
	// WithinTx runs fn in one transaction. A non-nil error from fn rolls
	// everything back and is returned unchanged.
	WithinTx(ctx context.Context, fn func(Tx) error) error
	// UpdateStatus applies a validated status transition and returns the
	// updated order together with the status it had before.
	UpdateStatus(ctx context.Context, ref string, to Status) (*Order, Status, error)
}
