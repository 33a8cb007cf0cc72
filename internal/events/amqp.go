package events

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const amqpExchangeKind = "topic"

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type amqpPublishDialer func() (amqpChannel, io.Closer, error)

// AMQPTransport publishes to a durable topic exchange. A closed channel or
// connection is re-dialed on the next Send.
type AMQPTransport struct {
	mu       sync.Mutex
	dial     amqpPublishDialer
	conn     io.Closer
	channel  amqpChannel
	exchange string
}

func NewAMQPTransport(url, exchange string) (*AMQPTransport, error) {
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		return nil, errors.New("amqp exchange is required")
	}
	t := newAMQPTransport(func() (amqpChannel, io.Closer, error) {
		conn, ch, err := dialAMQP(url, exchange)
		if err != nil {
			return nil, nil, err
		}
		return ch, conn, nil
	}, exchange)

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.reconnect(); err != nil {
		return nil, err
	}
	return t, nil
}

func newAMQPTransport(dial amqpPublishDialer, exchange string) *AMQPTransport {
	return &AMQPTransport{dial: dial, exchange: exchange}
}

// dialAMQP opens a connection and a channel with the exchange declared.
func dialAMQP(url, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	if err := DeclareExchange(ch, exchange); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

// DeclareExchange declares the durable topic exchange shared by publisher and subscribers.
func DeclareExchange(ch *amqp.Channel, exchange string) error {
	return ch.ExchangeDeclare(exchange, amqpExchangeKind, true, false, false, false, nil)
}

func (t *AMQPTransport) Name() string { return "amqp" }

func (t *AMQPTransport) Send(ctx context.Context, msg Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.channel == nil {
		if err := t.reconnect(); err != nil {
			return err
		}
	}
	err := t.publish(ctx, msg)
	if !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	if rerr := t.reconnect(); rerr != nil {
		return errors.Join(err, rerr)
	}
	return t.publish(ctx, msg)
}

func (t *AMQPTransport) publish(ctx context.Context, msg Message) error {
	return t.channel.PublishWithContext(ctx, t.exchange, msg.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    time.Now().UTC(),
		Body:         msg.Body,
	})
}

// reconnect drops the current session and dials a new one. Callers hold mu.
func (t *AMQPTransport) reconnect() error {
	_ = t.closeSession()
	ch, conn, err := t.dial()
	if err != nil {
		return err
	}
	t.channel, t.conn = ch, conn
	return nil
}

func (t *AMQPTransport) closeSession() error {
	var err error
	if t.channel != nil {
		err = t.channel.Close()
	}
	if t.conn != nil {
		err = errors.Join(err, t.conn.Close())
	}
	t.channel, t.conn = nil, nil
	return err
}

func (t *AMQPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeSession()
}
