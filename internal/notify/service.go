// Package notify turns order events into customer notices.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-shop-checkout/internal/kafka"
	"github.com/ariefcatur/go-shop-checkout/internal/money"
	"github.com/ariefcatur/go-shop-checkout/internal/orders"
	"github.com/ariefcatur/go-shop-checkout/internal/redisx"
)

type Sender interface {
	SendOrderConfirmation(ctx context.Context, p orders.OrderPlacedPayload) error
	SendStatusNotice(ctx context.Context, p orders.OrderStatusChangedPayload) error
}

type Service struct {
	Redis  *redis.Client
	Sender Sender
	Log    *slog.Logger
	// Name scopes the dedup keys.
	Name string
}

// HandleMessage is installed as the consumer handler. Each event id is
// processed at most once while its dedup key lives; a failed send releases
// the key so redelivery can retry.
func (s *Service) HandleMessage(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		s.Log.Warn("skipping undecodable message", "topic", m.Topic, "offset", m.Offset, "err", err)
		return nil
	}
	if env.EventType != orders.EventOrderPlaced && env.EventType != orders.EventOrderStatusChanged {
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, s.Name, env.EventID)
	first, err := redisx.Claim(ctx, s.Redis, dkey, redisx.TTLDedup)
	if err != nil {
		return fmt.Errorf("dedup claim: %w", err)
	}
	if !first {
		s.Log.Debug("duplicate event", "event_id", env.EventID)
		return nil
	}

	if err := s.dispatch(ctx, env); err != nil {
		_ = s.Redis.Del(ctx, dkey).Err()
		return err
	}
	return nil
}

func (s *Service) dispatch(ctx context.Context, env orders.Envelope) error {
	switch env.EventType {
	case orders.EventOrderPlaced:
		p, err := kafkax.UnwrapPayload[orders.OrderPlacedPayload](env.Payload)
		if err != nil {
			return err
		}
		return s.Sender.SendOrderConfirmation(ctx, p)
	default:
		p, err := kafkax.UnwrapPayload[orders.OrderStatusChangedPayload](env.Payload)
		if err != nil {
			return err
		}
		return s.Sender.SendStatusNotice(ctx, p)
	}
}

// LogSender writes notices to the structured log instead of a mail relay.
type LogSender struct {
	Log *slog.Logger
}

func (l LogSender) SendOrderConfirmation(_ context.Context, p orders.OrderPlacedPayload) error {
	l.Log.Info("order confirmation",
		"order_ref", p.Reference,
		"to", p.CustomerEmail,
		"items", len(p.Items),
		"total", money.Format(p.TotalCents)+" "+p.Currency,
	)
	return nil
}

func (l LogSender) SendStatusNotice(_ context.Context, p orders.OrderStatusChangedPayload) error {
	l.Log.Info("order status notice",
		"order_ref", p.Reference,
		"to", p.CustomerEmail,
		"from", p.From,
		"status", p.To,
	)
	return nil
}
