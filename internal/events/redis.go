package events

import (
	"context"
	"errors"

	redis "github.com/redis/go-redis/v9"
)

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisTransport publishes each routing key on the channel of the same name.
type RedisTransport struct {
	client redisPublisher
}

func NewRedisTransport(client *redis.Client) (*RedisTransport, error) {
	if client == nil {
		return nil, errors.New("redis client is required for the redis broker")
	}
	return &RedisTransport{client: client}, nil
}

func (t *RedisTransport) Name() string { return "redis" }

func (t *RedisTransport) Send(ctx context.Context, msg Message) error {
	return t.client.Publish(ctx, msg.RoutingKey, msg.Body).Err()
}

// Close is a no-op; the shared client is closed by its own lifecycle hook.
func (t *RedisTransport) Close() error { return nil }
