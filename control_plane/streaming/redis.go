package streaming

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes events on Redis pub/sub channels named after the topic.
type RedisPublisher struct {
	source string
	client *redis.Client
}

func NewRedisPublisher(source, addr, password string, db int) *RedisPublisher {
	return &RedisPublisher{
		source: source,
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func (p *RedisPublisher) Publish(ctx context.Context, topic string, payload any) error {
	event, err := newEvent(p.source, topic, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
