package events

import (
	"context"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/orderbilling/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type TransportParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Redis     *redis.Client `optional:"true"`
	Log       *zap.Logger
}

func NewTransport(p TransportParams) (Transport, error) {
	var (
		transport Transport
		err       error
	)
	switch p.Config.Broker.Type {
	case config.BrokerKafka:
		transport, err = NewKafkaTransport(p.Config.Broker.KafkaBrokers)
	case config.BrokerRedis:
		transport, err = NewRedisTransport(p.Redis)
	case config.BrokerAMQP:
		transport, err = NewAMQPTransport(p.Config.Broker.AMQPURL, p.Config.Broker.AMQPExchange)
	default:
		return nil, fmt.Errorf("unsupported broker type %q", p.Config.Broker.Type)
	}
	if err != nil {
		return nil, err
	}

	p.Log.Info("event transport configured", zap.String("broker", transport.Name()))
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return transport.Close()
		},
	})
	return transport, nil
}

func NewSubscriber(p TransportParams) (Subscriber, error) {
	var (
		sub Subscriber
		err error
	)
	switch p.Config.Broker.Type {
	case config.BrokerKafka:
		sub, err = NewKafkaSubscriber(p.Config.Broker.KafkaBrokers, p.Config.Broker.KafkaGroupID, p.Log)
	case config.BrokerRedis:
		sub, err = NewRedisSubscriber(p.Redis, p.Log)
	case config.BrokerAMQP:
		sub, err = NewAMQPSubscriber(p.Config.Broker.AMQPURL, p.Config.Broker.AMQPExchange, p.Log)
	default:
		return nil, fmt.Errorf("unsupported broker type %q", p.Config.Broker.Type)
	}
	if err != nil {
		return nil, err
	}
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return sub.Close()
		},
	})
	return sub, nil
}

var Module = fx.Module("events.publisher",
	fx.Provide(NewTransport),
	fx.Provide(NewPublisher),
)

var SubscriberModule = fx.Module("events.subscriber",
	fx.Provide(NewSubscriber),
)
