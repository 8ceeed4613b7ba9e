package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"qepo_backend/internal/logger"
)

// Publisher adds events to a stream and returns the message id.
type Publisher interface {
	Publish(ctx context.Context, stream string, event IdentityEvent) (messageID string, err error)
}

// RedisPublisher implements Publisher using Redis Streams.
type RedisPublisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) Publisher {
	return &RedisPublisher{client: client}
}

// Publish runs XADD with an auto-generated id.
func (p *RedisPublisher) Publish(ctx context.Context, stream string, event IdentityEvent) (string, error) {
	start := time.Now()
	l := logger.Ctx(ctx).With().Str("stream", stream).Str("type", event.Type).Str(logger.FieldUserID, event.UserID).Logger()

	values, err := event.ToMap()
	if err != nil {
		return "", fmt.Errorf("serialize event: %w", err)
	}

	messageID, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Result()
	if err != nil {
		l.Error().Err(err).Msg("publish failed")
		return "", fmt.Errorf("xadd to stream: %w", err)
	}

	l.Debug().Str("msg_id", messageID).Int("attempt", event.Attempt).Dur("duration", time.Since(start)).Msg("event published")
	return messageID, nil
}
