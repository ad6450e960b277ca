package payments

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNotFound  = errors.New("payment method not found")
	ErrSelection = errors.New("exactly one of stored payment method or card is required")
)

// StoredMethod is a card previously saved by a customer. Only the display
// snapshot is kept; the full number never reaches this service's storage.
type StoredMethod struct {
	ID       int64  `json:"id"`
	OwnerID  int64  `json:"owner_id"`
	Brand    string `json:"brand"`
	Last4    string `json:"last4"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
}

// Card holds raw card fields supplied with a single checkout.
type Card struct {
	Number     string `json:"number"`
	HolderName string `json:"holder_name"`
	ExpMonth   int    `json:"exp_month"`
	ExpYear    int    `json:"exp_year"`
	CVC        string `json:"cvc"`
}

// Selection is the payment part of a checkout request.
type Selection struct {
	StoredMethodID *int64 `json:"stored_method_id,omitempty"`
	Card           *Card  `json:"card,omitempty"`
}

func (s Selection) Validate() error {
	if (s.StoredMethodID == nil) == (s.Card == nil) {
		return ErrSelection
	}
	return nil
}

// Validate returns field errors keyed by "payment.card.<field>".
func (c Card) Validate(now time.Time) map[string]string {
	fields := map[string]string{}
	num := digitsOnly(c.Number)
	switch {
	case num == "":
		fields["payment.card.number"] = "required"
	case len(num) < 12 || len(num) > 19 || !luhnValid(num):
		fields["payment.card.number"] = "invalid card number"
	}
	if strings.TrimSpace(c.HolderName) == "" {
		fields["payment.card.holder_name"] = "required"
	}
	if c.ExpMonth < 1 || c.ExpMonth > 12 {
		fields["payment.card.exp_month"] = "must be between 1 and 12"
	} else if expired(c.ExpYear, c.ExpMonth, now) {
		fields["payment.card.exp_year"] = "card has expired"
	}
	cvc := strings.TrimSpace(c.CVC)
	if len(cvc) < 3 || len(cvc) > 4 || digitsOnly(cvc) != cvc {
		fields["payment.card.cvc"] = "must be 3 or 4 digits"
	}
	return fields
}

// Snapshot returns what an order may keep about the card.
func (c Card) Snapshot() (brand, last4 string) {
	num := digitsOnly(c.Number)
	if len(num) >= 4 {
		last4 = num[len(num)-4:]
	}
	return Brand(num), last4
}

// inPrefixRange reports whether the first n digits of number fall in [lo, hi].
func inPrefixRange(number string, n, lo, hi int) bool {
	if len(number) < n {
		return false
	}
	p, err := strconv.Atoi(number[:n])
	return err == nil && p >= lo && p <= hi
}

func Brand(number string) string {
	switch {
	case strings.HasPrefix(number, "4"):
		return "visa"
	case strings.HasPrefix(number, "34"), strings.HasPrefix(number, "37"):
		return "amex"
	case len(number) > 1 && number[0] == '5' && number[1] >= '1' && number[1] <= '5':
		return "mastercard"
	case inPrefixRange(number, 4, 2221, 2720):
		return "mastercard"
	case strings.HasPrefix(number, "6011"), strings.HasPrefix(number, "65"):
		return "discover"
	default:
		return "card"
	}
}

// expired reports whether the card stopped being valid before now. A card is
// valid through the last day of its expiry month.
func expired(year, month int, now time.Time) bool {
	if year < 100 {
		year += 2000
	}
	firstOfNext := time.Date(year, time.Month(month)+1, 1, 0, 0, 0, 0, time.UTC)
	return !now.UTC().Before(firstOfNext)
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-':
		default:
			return ""
		}
	}
	return b.String()
}

func luhnValid(num string) bool {
	sum := 0
	double := false
	for i := len(num) - 1; i >= 0; i-- {
		d := int(num[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
