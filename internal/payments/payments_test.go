package payments

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var now = time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)

func validCard() Card {
	return Card{Number: "4242 4242 4242 4242", HolderName: "Ada Lovelace", ExpMonth: 12, ExpYear: 2030, CVC: "123"}
}

func TestSelection_Validate(t *testing.T) {
	id := int64(7)
	c := validCard()

	assert.ErrorIs(t, Selection{}.Validate(), ErrSelection)
	assert.ErrorIs(t, Selection{StoredMethodID: &id, Card: &c}.Validate(), ErrSelection)
	assert.NoError(t, Selection{StoredMethodID: &id}.Validate())
	assert.NoError(t, Selection{Card: &c}.Validate())
}

func TestCard_Validate(t *testing.T) {
	assert.Empty(t, validCard().Validate(now))

	c := validCard()
	c.Number = "4242 4242 4242 4241"
	assert.Contains(t, c.Validate(now), "payment.card.number")

	c = validCard()
	c.Number = "4242-abcd"
	assert.Contains(t, c.Validate(now), "payment.card.number")

	c = validCard()
	c.ExpMonth, c.ExpYear = 2, 2026
	assert.Contains(t, c.Validate(now), "payment.card.exp_year")

	c = validCard()
	c.ExpMonth, c.ExpYear = 3, 26
	assert.NotContains(t, c.Validate(now), "payment.card.exp_year", "valid through the end of the month")

	c = validCard()
	c.ExpMonth = 13
	assert.Contains(t, c.Validate(now), "payment.card.exp_month")

	c = validCard()
	c.CVC = "12a"
	c.HolderName = " "
	fields := c.Validate(now)
	assert.Contains(t, fields, "payment.card.cvc")
	assert.Contains(t, fields, "payment.card.holder_name")
}

func TestBrand(t *testing.T) {
	cases := map[string]string{
		"4242424242424242": "visa",
		"378282246310005":  "amex",
		"5555555555554444": "mastercard",
		"2221000000000009": "mastercard",
		"2720990000000007": "mastercard",
		"2220990000000000": "card",
		"2721000000000000": "card",
		"2000000000000000": "card",
		"6011111111111117": "discover",
		"3530111333300000": "card",
	}
	for number, want := range cases {
		assert.Equal(t, want, Brand(number), number)
	}
}

func TestCard_Snapshot(t *testing.T) {
	brand, last4 := validCard().Snapshot()
	assert.Equal(t, "visa", brand)
	assert.Equal(t, "4242", last4)

	brand, last4 = Card{Number: "5555555555554444"}.Snapshot()
	assert.Equal(t, "mastercard", brand)
	assert.Equal(t, "4444", last4)

	brand, _ = Card{Number: "378282246310005"}.Snapshot()
	assert.Equal(t, "amex", brand)
}
