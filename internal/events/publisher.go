package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	// PubSubChannel carries events to connected clients.
	PubSubChannel = "dispatch_events"
	// DeliveryQueueKey feeds the webhook worker.
	DeliveryQueueKey = "dispatch_event_queue"
)

// Publisher broadcasts dispatch lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// RedisPublisher fans an event out twice: a PUBLISH on the pub/sub channel
// for live subscribers, and an LPUSH on the delivery queue for the webhook
// worker. Subscribers that are offline miss channel messages; the queue is
// the durable half.
type RedisPublisher struct {
	redisClient *redis.Client
}

// NewRedisPublisher creates a new RedisPublisher.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{
		redisClient: client,
	}
}

// Publish serializes the event and sends it on both transports.
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.redisClient.Publish(ctx, PubSubChannel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event to channel: %w", err)
	}
	if err := p.redisClient.LPush(ctx, DeliveryQueueKey, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue event for delivery: %w", err)
	}
	return nil
}
