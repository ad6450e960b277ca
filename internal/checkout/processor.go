// Package checkout turns a cart into exactly one paid order, or into no
// change at all.
//
// PlaceOrder runs validation outside any transaction, then inside a single
// store transaction: resolves a stored payment method, locks the requested
// product rows, checks existence and stock, prices every line from the locked
// rows, writes the order and its items, and decrements stock last. Any error
// rolls the whole transaction back.
package checkout

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ariefcatur/go-shop-checkout/internal/metrics"
	"github.com/ariefcatur/go-shop-checkout/internal/orders"
	"github.com/ariefcatur/go-shop-checkout/internal/payments"
)

// Store is the transactional persistence the processor needs.
type Store interface {
	WithinTx(ctx context.Context, fn func(orders.Tx) error) error
}

type Options struct {
	Currency        string
	Pricing         Pricing
	MaxLineQuantity int
	// NewReference defaults to the package NewReference.
	NewReference func() (string, error)
	Now          func() time.Time
	Logger       *slog.Logger
	Metrics      *metrics.Shop
}

type Processor struct {
	store Store
	opts  Options
}

func NewProcessor(store Store, opts Options) *Processor {
	if opts.NewReference == nil {
		opts.NewReference = NewReference
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	return &Processor{store: store, opts: opts}
}

// PlaceOrder validates req and atomically creates a paid order. Business
// failures are *ValidationError, ErrProductsUnavailable,
// *InsufficientStockError or ErrPaymentMethodInvalid; everything else is an
// infrastructure error (orders.ErrLockTimeout among them) and safe to retry.
func (p *Processor) PlaceOrder(ctx context.Context, req Request) (*orders.Order, error) {
	start := time.Now()
	o, err := p.placeOrder(ctx, req)
	result := resultOf(err)
	p.opts.Metrics.ObserveCheckout(result, time.Since(start))

	switch {
	case err == nil:
		p.opts.Logger.Info("order placed", "order_ref", o.PublicRef, "items", len(o.Items), "total_cents", o.TotalCents)
	case result == "error" || result == "lock_timeout":
		p.opts.Logger.Error("checkout failed", "result", result, "err", err)
	default:
		p.opts.Logger.Info("checkout rejected", "result", result, "err", err)
	}
	return o, err
}

func (p *Processor) placeOrder(ctx context.Context, req Request) (*orders.Order, error) {
	if err := req.Payment.Validate(); err != nil {
		return nil, ErrPaymentMethodInvalid
	}
	req.normalize()
	now := p.opts.Now().UTC()
	if err := req.validate(p.opts.MaxLineQuantity, now); err != nil {
		return nil, err
	}

	wanted := aggregate(req.Lines)
	ids := make([]int64, 0, len(wanted))
	for _, d := range wanted {
		ids = append(ids, d.ProductID)
	}

	var placed *orders.Order
	err := p.store.WithinTx(ctx, func(tx orders.Tx) error {
		o := &orders.Order{
			Status:   orders.StatusPaid,
			Customer: req.Customer,
			Shipping: req.Shipping,
			Currency: p.opts.Currency,
			PlacedAt: now,
		}
		if err := p.attachPayment(ctx, tx, o, req); err != nil {
			return err
		}

		locked, err := tx.LockProductsForUpdate(ctx, ids)
		if err != nil {
			return err
		}
		if len(locked) != len(wanted) {
			return ErrProductsUnavailable
		}
		byID := make(map[int64]orders.Product, len(locked))
		for _, pr := range locked {
			byID[pr.ID] = pr
		}
		for _, d := range wanted {
			pr, ok := byID[d.ProductID]
			if !ok {
				return ErrProductsUnavailable
			}
			if d.Quantity > pr.Stock {
				return &InsufficientStockError{ProductID: pr.ID, ProductName: pr.Name, Remaining: pr.Stock}
			}
		}

		items := make([]orders.OrderItem, 0, len(req.Lines))
		for _, l := range req.Lines {
			items = append(items, priceLine(byID[l.ProductID], l))
		}
		t := p.opts.Pricing.Compute(items)
		o.SubtotalCents, o.ShippingCents, o.TaxCents, o.TotalCents = t.Subtotal, t.Shipping, t.Tax, t.Total

		if err := p.insertWithReference(ctx, tx, o); err != nil {
			return err
		}
		if err := tx.InsertOrderItems(ctx, o.ID, items); err != nil {
			return err
		}
		for _, d := range wanted {
			if err := tx.DecrementStock(ctx, d.ProductID, d.Quantity); err != nil {
				return err
			}
		}
		o.Items = items
		placed = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return placed, nil
}

func (p *Processor) attachPayment(ctx context.Context, tx orders.Tx, o *orders.Order, req Request) error {
	if req.Payment.Card != nil {
		o.PaymentBrand, o.PaymentLast4 = req.Payment.Card.Snapshot()
		return nil
	}
	if req.Customer.UserID == nil {
		return ErrPaymentMethodInvalid
	}
	m, err := tx.ResolveStoredPaymentMethod(ctx, *req.Payment.StoredMethodID, *req.Customer.UserID)
	if errors.Is(err, payments.ErrNotFound) {
		return ErrPaymentMethodInvalid
	}
	if err != nil {
		return err
	}
	id := m.ID
	o.PaymentMethodID = &id
	o.PaymentBrand, o.PaymentLast4 = m.Brand, m.Last4
	return nil
}

// insertWithReference draws references until one is free. A collision found
// by the existence check or by the insert itself triggers a new draw.
func (p *Processor) insertWithReference(ctx context.Context, tx orders.Tx, o *orders.Order) error {
	for i := 0; i < maxReferenceTries; i++ {
		ref, err := p.opts.NewReference()
		if err != nil {
			return err
		}
		exists, err := tx.ReferenceExists(ctx, ref)
		if err != nil {
			return err
		}
		if exists {
			p.opts.Logger.Warn("order reference collision", "order_ref", ref, "attempt", i+1)
			continue
		}
		o.PublicRef = ref
		err = tx.InsertOrder(ctx, o)
		if errors.Is(err, orders.ErrReferenceTaken) {
			p.opts.Logger.Warn("order reference collision on insert", "order_ref", ref, "attempt", i+1)
			continue
		}
		return err
	}
	return errReferenceExhausted
}

func resultOf(err error) string {
	var ve *ValidationError
	var se *InsufficientStockError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &ve):
		return "validation"
	case errors.Is(err, ErrProductsUnavailable):
		return "products_unavailable"
	case errors.As(err, &se):
		return "insufficient_stock"
	case errors.Is(err, ErrPaymentMethodInvalid):
		return "payment_invalid"
	case errors.Is(err, orders.ErrLockTimeout):
		return "lock_timeout"
	default:
		return "error"
	}
}
