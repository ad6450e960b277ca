package orders

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderPlaced        = "OrderPlaced"
	EventOrderStatusChanged = "OrderStatusChanged"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order public reference
	Payload       json.RawMessage `json:"payload"`
}

type PlacedItem struct {
	ProductName    string `json:"product_name"`
	VariantKey     string `json:"variant_key,omitempty"`
	Quantity       int    `json:"quantity"`
	LineTotalCents int64  `json:"line_total_cents"`
}

type OrderPlacedPayload struct {
	Reference     string       `json:"reference"`
	UserID        *int64       `json:"user_id,omitempty"`
	CustomerName  string       `json:"customer_name"`
	CustomerEmail string       `json:"customer_email"`
	Currency      string       `json:"currency"`
	SubtotalCents int64        `json:"subtotal_cents"`
	ShippingCents int64        `json:"shipping_cents"`
	TaxCents      int64        `json:"tax_cents"`
	TotalCents    int64        `json:"total_cents"`
	Items         []PlacedItem `json:"items"`
	PlacedAt      time.Time    `json:"placed_at"`
}

type OrderStatusChangedPayload struct {
	Reference     string `json:"reference"`
	CustomerEmail string `json:"customer_email"`
	From          Status `json:"from"`
	To            Status `json:"to"`
}

func NewOrderPlaced(o *Order) OrderPlacedPayload {
	items := make([]PlacedItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, PlacedItem{
			ProductName:    it.ProductName,
			VariantKey:     it.VariantKey,
			Quantity:       it.Quantity,
			LineTotalCents: it.LineTotalCents,
		})
	}
	return OrderPlacedPayload{
		Reference:     o.PublicRef,
		UserID:        o.Customer.UserID,
		CustomerName:  o.Customer.Name,
		CustomerEmail: o.Customer.Email,
		Currency:      o.Currency,
		SubtotalCents: o.SubtotalCents,
		ShippingCents: o.ShippingCents,
		TaxCents:      o.TaxCents,
		TotalCents:    o.TotalCents,
		Items:         items,
		PlacedAt:      o.PlacedAt,
	}
}

// NewEnvelope wraps payload in a v1 envelope correlated by order reference.
func NewEnvelope(eventType, producer, traceID, ref string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: ref,
		Payload:       b,
	}, nil
}
