package orders

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("order not found")
	// ErrReferenceTaken is returned by InsertOrder when the public reference
	// already belongs to another order.
	ErrReferenceTaken = errors.New("order reference already taken")
	// ErrLockTimeout means a row lock could not be acquired in time. Nothing
	// was committed; the whole operation is safe to retry.
	ErrLockTimeout = errors.New("lock wait timeout")
	// ErrStockConflict means a guarded stock decrement matched no row.
	ErrStockConflict = errors.New("stock decrement conflict")
)

// Product is the catalog view used by checkout. Price is the catalog decimal
// price; it is converted to cents only when an order line is priced.
type Product struct {
	ID     int64           `json:"id"`
	Name   string          `json:"name"`
	Slug   string          `json:"slug"`
	SKU    string          `json:"sku"`
	Price  decimal.Decimal `json:"price"`
	Active bool            `json:"active"`
	Stock  int             `json:"stock"`
}

// Customer is either a registered user (UserID set) or a guest snapshot.
type Customer struct {
	UserID *int64 `json:"user_id,omitempty"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone,omitempty"`
}

type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type Order struct {
	ID        int64    `json:"-"`
	PublicRef string   `json:"reference"`
	Status    Status   `json:"status"`
	Customer  Customer `json:"customer"`
	Shipping  Address  `json:"shipping_address"`
	Currency  string   `json:"currency"`

	SubtotalCents int64 `json:"subtotal_cents"`
	ShippingCents int64 `json:"shipping_cents"`
	TaxCents      int64 `json:"tax_cents"`
	TotalCents    int64 `json:"total_cents"`

	PaymentMethodID *int64 `json:"payment_method_id,omitempty"`
	PaymentBrand    string `json:"payment_brand"`
	PaymentLast4    string `json:"payment_last4"`

	PlacedAt  time.Time   `json:"placed_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	Items     []OrderItem `json:"items"`
}

// OrderItem is a priced snapshot of one cart line. ProductID becomes nil if
// the product is later deleted; the name/slug/sku snapshot stays.
type OrderItem struct {
	ID              int64             `json:"-"`
	OrderID         int64             `json:"-"`
	ProductID       *int64            `json:"product_id"`
	ProductName     string            `json:"product_name"`
	ProductSlug     string            `json:"product_slug"`
	ProductSKU      string            `json:"product_sku"`
	VariantKey      string            `json:"variant_key,omitempty"`
	SelectedOptions map[string]string `json:"selected_options,omitempty"`
	Quantity        int               `json:"quantity"`
	UnitPriceCents  int64             `json:"unit_price_cents"`
	LineTotalCents  int64             `json:"line_total_cents"`
}

// Totals reports whether the persisted money fields agree with each other and
// with the line items.
func (o *Order) TotalsConsistent() bool {
	var sum int64
	for _, it := range o.Items {
		if it.LineTotalCents != int64(it.Quantity)*it.UnitPriceCents {
			return false
		}
		sum += it.LineTotalCents
	}
	return sum == o.SubtotalCents && o.TotalCents == o.SubtotalCents+o.ShippingCents+o.TaxCents
}
