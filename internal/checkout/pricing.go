package checkout

import (
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-shop-checkout/internal/money"
	"github.com/ariefcatur/go-shop-checkout/internal/orders"
)

// Pricing holds the shop-wide totals policy.
type Pricing struct {
	TaxRate       decimal.Decimal
	ShippingCents int64
}

type Totals struct {
	Subtotal int64
	Shipping int64
	Tax      int64
	Total    int64
}

// priceLine snapshots p and prices one cart line with the product's current price.
func priceLine(p orders.Product, l CartLine) orders.OrderItem {
	unit := money.ToMinor(p.Price)
	id := p.ID
	var opts map[string]string
	if len(l.Options) > 0 {
		opts = make(map[string]string, len(l.Options))
		for k, v := range l.Options {
			opts[k] = v
		}
	}
	return orders.OrderItem{
		ProductID:       &id,
		ProductName:     p.Name,
		ProductSlug:     p.Slug,
		ProductSKU:      p.SKU,
		VariantKey:      l.VariantKey,
		SelectedOptions: opts,
		Quantity:        l.Quantity,
		UnitPriceCents:  unit,
		LineTotalCents:  unit * int64(l.Quantity),
	}
}

// Compute derives order totals from priced items. Tax applies to the
// subtotal only; shipping is charged only on a non-zero subtotal.
func (p Pricing) Compute(items []orders.OrderItem) Totals {
	var t Totals
	for _, it := range items {
		t.Subtotal += it.LineTotalCents
	}
	if t.Subtotal > 0 {
		t.Shipping = p.ShippingCents
	}
	t.Tax = money.ApplyRate(t.Subtotal, p.TaxRate)
	t.Total = t.Subtotal + t.Shipping + t.Tax
	return t
}
