package streams

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/jimdaga/reelpipe/internal/pipeline"
	"github.com/redis/go-redis/v9"
)

// EventConsumer reads pipeline events from the stream through a consumer group
type EventConsumer struct {
	rdb          *redis.Client
	groupName    string
	consumerName string
	logger       *slog.Logger
}

// NewEventConsumer creates the consumer group if needed and returns a
// consumer. Each API instance reads through its own group so every instance
// sees every event.
func NewEventConsumer(redisURL, consumerName string, logger *slog.Logger) (*EventConsumer, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	// Read timeout must exceed the XReadGroup Block duration (5s)
	// to avoid spurious i/o timeout errors on idle streams.
	opts.ReadTimeout = 10 * time.Second

	client := redis.NewClient(opts)

	// "$" delivers only events published after the group is created
	group := GroupAPIFollowers + ":" + consumerName
	err = client.XGroupCreateMkStream(context.Background(), StreamPipelineEvents, group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		client.Close()
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	return &EventConsumer{
		rdb:          client,
		groupName:    group,
		consumerName: consumerName,
		logger:       logger,
	}, nil
}

// Consume runs a blocking loop handing each event to handler until ctx ends.
// Events the handler rejects stay pending in the group.
func (c *EventConsumer) Consume(ctx context.Context, handler func(pipeline.Event) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.groupName,
			Consumer: c.consumerName,
			Streams:  []string{StreamPipelineEvents, ">"},
			Count:    50,
			Block:    5 * time.Second,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			c.logger.Error("Failed to read from stream", "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				ev, err := decodeEvent(message.Values)
				if err != nil {
					// Undecodable messages are acked so they do not wedge the group.
					c.logger.Error("Dropping invalid event", "message_id", message.ID, "error", err)
					c.ack(ctx, message.ID)
					continue
				}
				if err := handler(ev); err != nil {
					c.logger.Error("Event handler failed", "error", err, "id", ev.ID)
					continue
				}
				c.ack(ctx, message.ID)
			}
		}
	}
}

func (c *EventConsumer) ack(ctx context.Context, id string) {
	if err := c.rdb.XAck(ctx, StreamPipelineEvents, c.groupName, id).Err(); err != nil {
		c.logger.Error("Failed to ACK message", "error", err, "message_id", id)
	}
}

// Close closes the Redis client connection
func (c *EventConsumer) Close() error {
	return c.rdb.Close()
}

// StartEventConsumer starts a consumer feeding feed in a background goroutine
// and returns a stop function
func StartEventConsumer(redisURL, consumerName string, feed *Feed, logger *slog.Logger) (stop func(), err error) {
	consumer, err := NewEventConsumer(redisURL, consumerName, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create event consumer: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := consumer.Consume(ctx, feed.Handle); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Event consumer stopped with error", "error", err)
		}
	}()

	logger.Info("Event consumer started", "consumer", consumerName)
	return func() {
		cancel()
		consumer.Close()
	}, nil
}
