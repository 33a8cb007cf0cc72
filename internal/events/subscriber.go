package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	redis "github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler processes one delivered envelope.
type Handler func(ctx context.Context, env Envelope) error

// Subscriber consumes the order routing keys from a broker until ctx is done.
type Subscriber interface {
	Name() string
	Run(ctx context.Context, handle Handler) error
	Close() error
}

type KafkaSubscriber struct {
	reader *kafka.Reader
	retry  retryPolicy
	log    *zap.Logger
}

func NewKafkaSubscriber(brokers []string, groupID string, log *zap.Logger) (*KafkaSubscriber, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if strings.TrimSpace(groupID) == "" {
		return nil, errors.New("kafka group id is required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		GroupTopics: RoutingKeys,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return &KafkaSubscriber{reader: reader, retry: defaultRetry, log: log.Named("events.kafka")}, nil
}

func (s *KafkaSubscriber) Name() string { return "kafka" }

func (s *KafkaSubscriber) Run(ctx context.Context, handle Handler) error {
	for {
		m, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		dispatch(ctx, s.log, m.Value, handle, s.retry)
		if err := s.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			s.log.Warn("commit failed", zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

func (s *KafkaSubscriber) Close() error { return s.reader.Close() }

type RedisSubscriber struct {
	client *redis.Client
	retry  retryPolicy
	log    *zap.Logger
}

func NewRedisSubscriber(client *redis.Client, log *zap.Logger) (*RedisSubscriber, error) {
	if client == nil {
		return nil, errors.New("redis client is required for the redis broker")
	}
	return &RedisSubscriber{client: client, retry: defaultRetry, log: log.Named("events.redis")}, nil
}

func (s *RedisSubscriber) Name() string { return "redis" }

func (s *RedisSubscriber) Run(ctx context.Context, handle Handler) error {
	pubsub := s.client.Subscribe(ctx, RoutingKeys...)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			dispatch(ctx, s.log, []byte(msg.Payload), handle, s.retry)
		}
	}
}

func (s *RedisSubscriber) Close() error { return nil }

// ErrConsumerStopped reports that the broker ended a consumer, usually because
// the connection or channel closed.
var ErrConsumerStopped = errors.New("amqp consumer stopped")

type amqpConsumer interface {
	ConsumeWithContext(ctx context.Context, queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

type amqpConsumeDialer func() (amqpConsumer, io.Closer, error)

// AMQPSubscriber opens a fresh connection on every Run, so a restarted Run
// recovers from a broker disconnect.
type AMQPSubscriber struct {
	connect amqpConsumeDialer
	retry   retryPolicy
	log     *zap.Logger
}

func NewAMQPSubscriber(url, exchange string, log *zap.Logger) (*AMQPSubscriber, error) {
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		return nil, errors.New("amqp exchange is required")
	}
	s := newAMQPSubscriber(func() (amqpConsumer, io.Closer, error) {
		return dialAMQPConsumer(url, exchange)
	}, log)

	ch, conn, err := s.connect()
	if err != nil {
		return nil, err
	}
	_ = ch.Close()
	_ = conn.Close()
	return s, nil
}

func newAMQPSubscriber(connect amqpConsumeDialer, log *zap.Logger) *AMQPSubscriber {
	return &AMQPSubscriber{connect: connect, retry: defaultRetry, log: log.Named("events.amqp")}
}

// dialAMQPConsumer declares one durable queue per routing key bound to exchange.
func dialAMQPConsumer(url, exchange string) (amqpConsumer, io.Closer, error) {
	conn, ch, err := dialAMQP(url, exchange)
	if err != nil {
		return nil, nil, err
	}
	for _, key := range RoutingKeys {
		if _, err := ch.QueueDeclare(key, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, nil, err
		}
		if err := ch.QueueBind(key, key, exchange, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, nil, err
		}
	}
	return ch, conn, nil
}

func (s *AMQPSubscriber) Name() string { return "amqp" }

// Run returns ErrConsumerStopped as soon as any consumer ends while ctx is live.
func (s *AMQPSubscriber) Run(ctx context.Context, handle Handler) error {
	ch, conn, err := s.connect()
	if err != nil {
		return err
	}
	defer func() {
		_ = ch.Close()
		_ = conn.Close()
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	deliveries := make(chan amqp.Delivery)
	stopped := make(chan string, len(RoutingKeys))
	for _, key := range RoutingKeys {
		msgs, err := ch.ConsumeWithContext(runCtx, key, "", false, false, false, false, nil)
		if err != nil {
			return err
		}
		go func(key string, msgs <-chan amqp.Delivery) {
			defer func() { stopped <- key }()
			for d := range msgs {
				select {
				case deliveries <- d:
				case <-runCtx.Done():
					return
				}
			}
		}(key, msgs)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case key := <-stopped:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: queue %s", ErrConsumerStopped, key)
		case d := <-deliveries:
			if dispatch(ctx, s.log, d.Body, handle, s.retry) {
				_ = d.Ack(false)
			} else {
				_ = d.Nack(false, false)
			}
		}
	}
}

func (s *AMQPSubscriber) Close() error { return nil }

// retryPolicy bounds how often a failing handler is retried before the
// message is dropped.
type retryPolicy struct {
	attempts int
	delay    time.Duration
}

var defaultRetry = retryPolicy{attempts: 3, delay: 2 * time.Second}

// dispatch parses body and runs handle, retrying handler failures per retry.
// It reports whether the message was handled.
func dispatch(ctx context.Context, log *zap.Logger, body []byte, handle Handler, retry retryPolicy) bool {
	env, err := ParseEnvelope(body)
	if err != nil {
		log.Warn("dropping malformed message", zap.Error(err))
		return false
	}
	for attempt := 1; ; attempt++ {
		err := handle(ctx, env)
		if err == nil {
			return true
		}
		log.Error("handler failed",
			zap.String("routing_key", env.Type),
			zap.String("event_id", env.ID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt >= retry.attempts {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(retry.delay):
		}
	}
}
