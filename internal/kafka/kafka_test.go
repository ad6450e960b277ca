package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-shop-checkout/internal/orders"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	fail   bool
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return errors.New("broker down")
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

func TestProducer_FlushesOnClose(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, orders.TopicOrderPlaced, 16, quiet)
	p.Start()

	for i := 0; i < 5; i++ {
		p.Publish([]byte("REF"), []byte("v"))
	}
	p.Close()
	p.WaitClosed()

	assert.Len(t, w.msgs, 5)
	assert.True(t, w.closed)
}

func TestProducer_WriteErrorDoesNotStopLoop(t *testing.T) {
	w := &fakeWriter{fail: true}
	p := newProducer(w, orders.TopicOrderPlaced, 4, quiet)
	p.Start()
	p.Publish([]byte("a"), []byte("1"))
	p.Publish([]byte("b"), []byte("2"))
	p.Close()
	p.WaitClosed()
	assert.Empty(t, w.msgs)
	assert.True(t, w.closed)
}

type recordingPublisher struct {
	key     []byte
	value   []byte
	headers []kafka.Header
}

func (r *recordingPublisher) Publish(key, value []byte, headers ...kafka.Header) {
	r.key, r.value, r.headers = key, value, headers
}

func TestEmitAndDecode(t *testing.T) {
	pub := &recordingPublisher{}
	payload := orders.OrderStatusChangedPayload{Reference: "ABCDEFGH23", From: orders.StatusPaid, To: orders.StatusShipped}

	require.NoError(t, Emit(pub, orders.EventOrderStatusChanged, "checkout-api", "req-1", "ABCDEFGH23", payload))
	assert.Equal(t, []byte("ABCDEFGH23"), pub.key)
	require.Len(t, pub.headers, 2)
	assert.Equal(t, orders.EventOrderStatusChanged, string(pub.headers[0].Value))

	env, err := DecodeEnvelope(pub.value)
	require.NoError(t, err)
	assert.Equal(t, orders.EventOrderStatusChanged, env.EventType)
	assert.Equal(t, "ABCDEFGH23", env.CorrelationID)
	assert.NotEmpty(t, env.EventID)

	got, err := UnwrapPayload[orders.OrderStatusChangedPayload](env.Payload)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		m := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func TestConsumer_CommitsOnlySuccessfulMessages(t *testing.T) {
	r := &fakeReader{pending: []kafka.Message{{Offset: 1}, {Offset: 2}, {Offset: 3}}}
	c := newConsumer(r, 2, quiet)
	c.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Start(ctx, func(_ context.Context, m kafka.Message) error {
			if m.Offset == 2 {
				return errors.New("boom")
			}
			return nil
		})
	}()

	assert.Eventually(t, func() bool { return len(r.commits()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.ElementsMatch(t, []int64{1, 3}, r.commits())
	assert.True(t, r.closed)
}
