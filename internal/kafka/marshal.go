package kafka

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-shop-checkout/internal/orders"
)

// Encode serialises env and returns the headers that go with it.
func Encode(env orders.Envelope) ([]byte, []kafka.Header, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, []kafka.Header{
		{Key: "x-event-type", Value: []byte(env.EventType)},
		{Key: "x-event-version", Value: []byte(strconv.Itoa(env.EventVersion))},
	}, nil
}

func DecodeEnvelope(b []byte) (orders.Envelope, error) {
	var env orders.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}

// Emit wraps payload in an envelope keyed by the order reference and hands it
// to pub.
func Emit(pub Publisher, eventType, producer, traceID, ref string, payload any) error {
	env, err := orders.NewEnvelope(eventType, producer, traceID, ref, payload)
	if err != nil {
		return err
	}
	b, headers, err := Encode(env)
	if err != nil {
		return err
	}
	pub.Publish(orders.PartitionKey(ref), b, headers...)
	return nil
}
