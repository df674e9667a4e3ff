package streams

import (
	"context"
	"fmt"

	"github.com/jimdaga/reelpipe/internal/pipeline"
	"github.com/redis/go-redis/v9"
)

// Publisher appends pipeline status events to a Redis Stream. It implements
// pipeline.EventSink.
type Publisher struct {
	rdb *redis.Client
}

// NewPublisher creates a new Publisher instance
func NewPublisher(redisURL string) (*Publisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return &Publisher{rdb: redis.NewClient(opts)}, nil
}

// Publish adds ev to the events stream. The stream is capped so followers
// that fall far behind lose the oldest events rather than growing Redis.
func (p *Publisher) Publish(ctx context.Context, ev pipeline.Event) error {
	values, err := eventValues(ev)
	if err != nil {
		return err
	}
	err = p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamPipelineEvents,
		MaxLen: 10000,
		Approx: true,
		ID:     "*",
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to stream: %w", err)
	}
	return nil
}

// Close closes the Redis client connection
func (p *Publisher) Close() error {
	return p.rdb.Close()
}
