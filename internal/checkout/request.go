package checkout

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/ariefcatur/go-shop-checkout/internal/orders"
	"github.com/ariefcatur/go-shop-checkout/internal/payments"
)

// CartLine is one client-supplied cart entry. Prices never come from the
// client; they are read from the locked product rows.
type CartLine struct {
	ProductID  int64             `json:"product_id"`
	Quantity   int               `json:"quantity"`
	VariantKey string            `json:"variant_key,omitempty"`
	Options    map[string]string `json:"options,omitempty"`
}

type Request struct {
	Customer orders.Customer
	Shipping orders.Address
	Lines    []CartLine
	Payment  payments.Selection
}

// normalize trims free-text fields. Lines are copied so the caller's slice
// is left untouched.
func (r *Request) normalize() {
	r.Lines = append([]CartLine(nil), r.Lines...)
	r.Customer.Name = strings.TrimSpace(r.Customer.Name)
	r.Customer.Email = strings.TrimSpace(r.Customer.Email)
	r.Customer.Phone = strings.TrimSpace(r.Customer.Phone)
	r.Shipping.Line1 = strings.TrimSpace(r.Shipping.Line1)
	r.Shipping.Line2 = strings.TrimSpace(r.Shipping.Line2)
	r.Shipping.City = strings.TrimSpace(r.Shipping.City)
	r.Shipping.PostalCode = strings.TrimSpace(r.Shipping.PostalCode)
	r.Shipping.Country = strings.ToUpper(strings.TrimSpace(r.Shipping.Country))
	for i := range r.Lines {
		r.Lines[i].VariantKey = strings.TrimSpace(r.Lines[i].VariantKey)
	}
}

func (r *Request) validate(maxQty int, now time.Time) error {
	fields := map[string]string{}

	if r.Customer.Name == "" {
		fields["customer.name"] = "required"
	}
	if r.Customer.Email == "" {
		fields["customer.email"] = "required"
	} else if a, err := mail.ParseAddress(r.Customer.Email); err != nil || a.Address != r.Customer.Email {
		fields["customer.email"] = "invalid email address"
	}
	if r.Shipping.Line1 == "" {
		fields["shipping.line1"] = "required"
	}
	if r.Shipping.City == "" {
		fields["shipping.city"] = "required"
	}
	if r.Shipping.PostalCode == "" {
		fields["shipping.postal_code"] = "required"
	}
	if r.Shipping.Country == "" {
		fields["shipping.country"] = "required"
	}

	if len(r.Lines) == 0 {
		fields["items"] = "cart is empty"
	}
	for i, l := range r.Lines {
		if l.ProductID <= 0 {
			fields[fmt.Sprintf("items[%d].product_id", i)] = "required"
		}
		switch {
		case l.Quantity <= 0:
			fields[fmt.Sprintf("items[%d].quantity", i)] = "must be a positive integer"
		case maxQty > 0 && l.Quantity > maxQty:
			fields[fmt.Sprintf("items[%d].quantity", i)] = fmt.Sprintf("must not exceed %d", maxQty)
		}
	}

	if r.Payment.Card != nil {
		for k, v := range r.Payment.Card.Validate(now) {
			fields[k] = v
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

type demand struct {
	ProductID int64
	Quantity  int
}

// aggregate sums quantities per product id, in order of first appearance.
func aggregate(lines []CartLine) []demand {
	idx := make(map[int64]int, len(lines))
	out := make([]demand, 0, len(lines))
	for _, l := range lines {
		if i, ok := idx[l.ProductID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		idx[l.ProductID] = len(out)
		out = append(out, demand{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	return out
}
