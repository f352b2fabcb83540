package events

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RedisPublisher forwards events to a Redis pub/sub channel so other
// processes can react to them.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	timeout time.Duration
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = "spacehire:events"
	}
	return &RedisPublisher{
		client:  client,
		channel: channel,
		timeout: 2 * time.Second,
	}
}

// Handler adapts the publisher for EventBus.Subscribe.
func (p *RedisPublisher) Handler() EventHandler {
	return func(ctx context.Context, e Event) error {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		// The request context may already be done once the response is written.
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		return p.client.Publish(pctx, p.channel, data).Err()
	}
}

// Decode parses a message published by RedisPublisher.
func Decode(payload string) (Event, error) {
	var e Event
	err := json.UnmarshalFromString(payload, &e)
	return e, err
}
