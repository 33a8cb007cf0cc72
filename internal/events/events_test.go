package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	redis "github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/orderbilling/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingTransport struct {
	sent []Message
	err  error
}

func (t *recordingTransport) Name() string { return "memory" }
func (t *recordingTransport) Send(ctx context.Context, msg Message) error {
	if t.err != nil {
		return t.err
	}
	t.sent = append(t.sent, msg)
	return nil
}
func (t *recordingTransport) Close() error { return nil }

func TestEnvelopeCarriesDecimalAsString(t *testing.T) {
	orderID := uuid.New()
	env, err := NewEnvelope(OrderCreated{
		OrderID:     orderID,
		UserID:      uuid.New(),
		PackageType: "basic",
		Amount:      decimal.RequireFromString("9.99"),
		Currency:    "USD",
		CreatedAt:   time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, RoutingKeyOrderCreated, env.Type)
	assert.Len(t, env.ID, 26)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &raw))
	assert.Equal(t, "9.99", raw["amount"])
	assert.Equal(t, orderID.String(), raw["order_id"])

	body, err := json.Marshal(env)
	require.NoError(t, err)
	parsed, err := ParseEnvelope(body)
	require.NoError(t, err)

	event, err := parsed.Decode()
	require.NoError(t, err)
	created, ok := event.(OrderCreated)
	require.True(t, ok)
	assert.Equal(t, orderID, created.OrderID)
	assert.True(t, decimal.RequireFromString("9.99").Equal(created.Amount))
}

func TestParseEnvelopeRejectsGarbage(t *testing.T) {
	_, err := ParseEnvelope([]byte("not json"))
	assert.ErrorIs(t, err, ErrInvalidEnvelope)

	_, err = ParseEnvelope([]byte(`{"id":"","type":"order.paid","data":{}}`))
	assert.ErrorIs(t, err, ErrInvalidEnvelope)

	_, err = Envelope{ID: "x", Type: "order.refunded", Data: []byte(`{}`)}.Decode()
	assert.ErrorIs(t, err, ErrUnknownEventType)
}

func TestPublisherSendsEncodedEnvelope(t *testing.T) {
	transport := &recordingTransport{}
	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	pub := NewPublisher(PublisherParams{Transport: transport, Clock: clk, Log: zap.NewNop()})

	orderID := uuid.New()
	env, err := pub.Publish(context.Background(), OrderFailed{OrderID: orderID, Reason: "card_declined", FailedAt: clk.Now()})
	require.NoError(t, err)
	require.Len(t, transport.sent, 1)

	msg := transport.sent[0]
	assert.Equal(t, RoutingKeyOrderFailed, msg.RoutingKey)
	assert.Equal(t, orderID.String(), msg.Key)
	assert.Equal(t, env.ID, msg.ID)

	parsed, err := ParseEnvelope(msg.Body)
	require.NoError(t, err)
	assert.True(t, clk.Now().Equal(parsed.OccurredAt))
}

func TestPublisherPropagatesTransportError(t *testing.T) {
	transport := &recordingTransport{err: errors.New("broker down")}
	pub := NewPublisher(PublisherParams{Transport: transport, Clock: clock.SystemClock{}, Log: zap.NewNop()})

	_, err := pub.Publish(context.Background(), OrderPaid{OrderID: uuid.New()})
	assert.EqualError(t, err, "broker down")
}

type fakeKafkaWriter struct {
	msgs []kafka.Message
}

func (w *fakeKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}
func (w *fakeKafkaWriter) Close() error { return nil }

func TestKafkaTransportRoutesByTopic(t *testing.T) {
	w := &fakeKafkaWriter{}
	transport := newKafkaTransport(w)

	require.NoError(t, transport.Send(context.Background(), Message{ID: "01H", RoutingKey: RoutingKeyOrderPaid, Key: "order-1", Body: []byte("{}")}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, RoutingKeyOrderPaid, w.msgs[0].Topic)
	assert.Equal(t, []byte("order-1"), w.msgs[0].Key)
	assert.Equal(t, "event_id", w.msgs[0].Headers[0].Key)

	_, err := NewKafkaTransport(nil)
	assert.Error(t, err)
}

type fakeRedis struct {
	channel string
	payload interface{}
}

func (r *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	r.channel = channel
	r.payload = message
	return redis.NewIntResult(1, nil)
}

func TestRedisTransportPublishesOnChannel(t *testing.T) {
	fake := &fakeRedis{}
	transport := &RedisTransport{client: fake}

	require.NoError(t, transport.Send(context.Background(), Message{RoutingKey: RoutingKeyOrderCreated, Body: []byte("{}")}))
	assert.Equal(t, RoutingKeyOrderCreated, fake.channel)
	assert.Equal(t, []byte("{}"), fake.payload)

	_, err := NewRedisTransport(nil)
	assert.Error(t, err)
}

type fakeAMQPChannel struct {
	exchange string
	key      string
	msg      amqp.Publishing
	err      error
	closed   bool
}

func (c *fakeAMQPChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if c.err != nil {
		return c.err
	}
	c.exchange, c.key, c.msg = exchange, key, msg
	return nil
}
func (c *fakeAMQPChannel) Close() error {
	c.closed = true
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func dialChannels(channels ...*fakeAMQPChannel) (amqpPublishDialer, *int) {
	dials := 0
	return func() (amqpChannel, io.Closer, error) {
		if dials >= len(channels) {
			return nil, nil, errors.New("broker unreachable")
		}
		ch := channels[dials]
		dials++
		return ch, nopCloser{}, nil
	}, &dials
}

func TestAMQPTransportPublishesPersistentMessages(t *testing.T) {
	ch := &fakeAMQPChannel{}
	dial, _ := dialChannels(ch)
	transport := newAMQPTransport(dial, "orders")

	require.NoError(t, transport.Send(context.Background(), Message{ID: "01H", RoutingKey: RoutingKeyOrderFailed, Body: []byte("{}")}))
	assert.Equal(t, "orders", ch.exchange)
	assert.Equal(t, RoutingKeyOrderFailed, ch.key)
	assert.Equal(t, amqp.Persistent, ch.msg.DeliveryMode)
	assert.Equal(t, "01H", ch.msg.MessageId)

	require.NoError(t, transport.Close())
	assert.True(t, ch.closed)
}

func TestAMQPTransportRedialsClosedChannel(t *testing.T) {
	dead := &fakeAMQPChannel{err: amqp.ErrClosed}
	fresh := &fakeAMQPChannel{}
	dial, dials := dialChannels(dead, fresh)
	transport := newAMQPTransport(dial, "orders")

	require.NoError(t, transport.Send(context.Background(), Message{ID: "01J", RoutingKey: RoutingKeyOrderPaid, Body: []byte("{}")}))
	assert.Equal(t, 2, *dials)
	assert.True(t, dead.closed)
	assert.Equal(t, "01J", fresh.msg.MessageId)

	// other publish errors are returned without a redial
	fresh.err = errors.New("nack")
	assert.EqualError(t, transport.Send(context.Background(), Message{RoutingKey: RoutingKeyOrderPaid}), "nack")
	assert.Equal(t, 2, *dials)
}

func TestAMQPTransportReportsFailedRedial(t *testing.T) {
	dead := &fakeAMQPChannel{err: amqp.ErrClosed}
	dial, _ := dialChannels(dead)
	transport := newAMQPTransport(dial, "orders")

	err := transport.Send(context.Background(), Message{RoutingKey: RoutingKeyOrderPaid})
	assert.ErrorIs(t, err, amqp.ErrClosed)
	assert.ErrorContains(t, err, "broker unreachable")
}

type recordingAcknowledger struct {
	mu       sync.Mutex
	acks     []uint64
	nacks    []uint64
	requeued bool
}

func (a *recordingAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks = append(a.acks, tag)
	return nil
}

func (a *recordingAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks = append(a.nacks, tag)
	a.requeued = a.requeued || requeue
	return nil
}

func (a *recordingAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *recordingAcknowledger) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.acks), len(a.nacks)
}

// fakeAMQPConsumer hands out one delivery channel per queue.
type fakeAMQPConsumer struct {
	mu     sync.Mutex
	queues map[string]chan amqp.Delivery
	closed bool
}

func newFakeAMQPConsumer() *fakeAMQPConsumer {
	c := &fakeAMQPConsumer{queues: map[string]chan amqp.Delivery{}}
	for _, key := range RoutingKeys {
		c.queues[key] = make(chan amqp.Delivery, 4)
	}
	return c
}

func (c *fakeAMQPConsumer) ConsumeWithContext(ctx context.Context, queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	return c.queues[queue], nil
}

func (c *fakeAMQPConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// drop simulates the broker closing the channel.
func (c *fakeAMQPConsumer) drop() {
	for _, q := range c.queues {
		close(q)
	}
}

func envelopeBody(t *testing.T, event Event) []byte {
	t.Helper()
	env, err := NewEnvelope(event, time.Now())
	require.NoError(t, err)
	body, err := json.Marshal(env)
	require.NoError(t, err)
	return body
}

func TestAMQPSubscriberStopsWhenBrokerDrops(t *testing.T) {
	first, second := newFakeAMQPConsumer(), newFakeAMQPConsumer()
	consumers := []*fakeAMQPConsumer{first, second}
	dials := 0
	sub := newAMQPSubscriber(func() (amqpConsumer, io.Closer, error) {
		c := consumers[dials]
		dials++
		return c, nopCloser{}, nil
	}, zap.NewNop())
	sub.retry = retryPolicy{attempts: 1}

	acker := &recordingAcknowledger{}
	var handled atomic.Int32
	handle := func(ctx context.Context, env Envelope) error {
		handled.Add(1)
		return nil
	}

	first.queues[RoutingKeyOrderPaid] <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 1, Body: envelopeBody(t, OrderPaid{OrderID: uuid.New()})}
	done := make(chan error, 1)
	go func() { done <- sub.Run(context.Background(), handle) }()

	require.Eventually(t, func() bool { return handled.Load() == 1 }, time.Second, 5*time.Millisecond)
	first.drop()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrConsumerStopped)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the broker dropped")
	}
	acks, _ := acker.counts()
	assert.Equal(t, 1, acks)
	assert.True(t, first.closed)

	// the next Run dials a new session
	ctx, cancel := context.WithCancel(context.Background())
	second.queues[RoutingKeyOrderCreated] <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 2, Body: envelopeBody(t, OrderCreated{OrderID: uuid.New()})}
	go func() { done <- sub.Run(ctx, handle) }()
	require.Eventually(t, func() bool { return handled.Load() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 2, dials)
}

func TestAMQPSubscriberNacksUnhandledMessages(t *testing.T) {
	consumer := newFakeAMQPConsumer()
	sub := newAMQPSubscriber(func() (amqpConsumer, io.Closer, error) {
		return consumer, nopCloser{}, nil
	}, zap.NewNop())
	sub.retry = retryPolicy{attempts: 2}

	acker := &recordingAcknowledger{}
	var calls atomic.Int32
	consumer.queues[RoutingKeyOrderFailed] <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 7, Body: envelopeBody(t, OrderFailed{OrderID: uuid.New()})}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = sub.Run(ctx, func(ctx context.Context, env Envelope) error {
			calls.Add(1)
			return errors.New("provider down")
		})
	}()

	require.Eventually(t, func() bool {
		_, nacks := acker.counts()
		return nacks == 1
	}, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 2, calls.Load())
	assert.False(t, acker.requeued)
}

func TestDispatchReportsHandlerOutcome(t *testing.T) {
	env, err := NewEnvelope(OrderPaid{OrderID: uuid.New()}, time.Now())
	require.NoError(t, err)
	body, err := json.Marshal(env)
	require.NoError(t, err)
	once := retryPolicy{attempts: 1}

	var got Envelope
	ok := dispatch(context.Background(), zap.NewNop(), body, func(ctx context.Context, e Envelope) error {
		got = e
		return nil
	}, once)
	assert.True(t, ok)
	assert.Equal(t, env.ID, got.ID)

	ok = dispatch(context.Background(), zap.NewNop(), body, func(ctx context.Context, e Envelope) error {
		return errors.New("nope")
	}, once)
	assert.False(t, ok)

	assert.False(t, dispatch(context.Background(), zap.NewNop(), []byte("{"), nil, once))
}

func TestDispatchRetriesFailedHandler(t *testing.T) {
	body := envelopeBody(t, OrderCreated{OrderID: uuid.New()})

	calls := 0
	ok := dispatch(context.Background(), zap.NewNop(), body, func(ctx context.Context, e Envelope) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, retryPolicy{attempts: 3, delay: time.Millisecond})
	assert.True(t, ok)
	assert.Equal(t, 3, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls = 0
	ok = dispatch(ctx, zap.NewNop(), body, func(ctx context.Context, e Envelope) error {
		calls++
		return errors.New("down")
	}, retryPolicy{attempts: 5, delay: time.Hour})
	assert.False(t, ok)
	assert.Equal(t, 1, calls)
}
