package events

import (
	"context"
	"encoding/json"

	"github.com/smallbiznis/orderbilling/internal/clock"
	"github.com/smallbiznis/orderbilling/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Publisher emits domain events to the configured broker.
type Publisher interface {
	Publish(ctx context.Context, event Event) (Envelope, error)
}

// Message is one encoded envelope handed to a Transport.
type Message struct {
	ID         string
	RoutingKey string
	Key        string
	Body       []byte
}

// Transport delivers encoded messages to a broker.
type Transport interface {
	Name() string
	Send(ctx context.Context, msg Message) error
	Close() error
}

type PublisherParams struct {
	fx.In

	Transport Transport
	Clock     clock.Clock
	Log       *zap.Logger
	Metrics   *metrics.Metrics `optional:"true"`
}

type publisher struct {
	transport Transport
	clock     clock.Clock
	log       *zap.Logger
	metrics   *metrics.Metrics
}

func NewPublisher(p PublisherParams) Publisher {
	return &publisher{
		transport: p.Transport,
		clock:     p.Clock,
		log:       p.Log.Named("events.publisher"),
		metrics:   p.Metrics,
	}
}

func (p *publisher) Publish(ctx context.Context, event Event) (Envelope, error) {
	env, err := NewEnvelope(event, p.clock.Now())
	if err != nil {
		return Envelope{}, err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, err
	}

	err = p.transport.Send(ctx, Message{
		ID:         env.ID,
		RoutingKey: env.Type,
		Key:        event.PartitionKey(),
		Body:       body,
	})
	p.metrics.RecordEventPublished(ctx, env.Type, p.transport.Name(), err)
	if err != nil {
		p.log.Error("failed to publish event",
			zap.String("routing_key", env.Type),
			zap.String("event_id", env.ID),
			zap.String("broker", p.transport.Name()),
			zap.Error(err),
		)
		return Envelope{}, err
	}

	p.log.Info("event published",
		zap.String("routing_key", env.Type),
		zap.String("event_id", env.ID),
		zap.String("key", event.PartitionKey()),
	)
	return env, nil
}
