package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisSource receives stream events from Redis pub/sub channels named
// after the event kind.
type RedisSource struct {
	client  *redis.Client
	handler Handler
	logger  *slog.Logger
}

// NewRedisSource creates a Redis subscriber
func NewRedisSource(client *redis.Client, handler Handler, logger *slog.Logger) *RedisSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisSource{client: client, handler: handler, logger: logger}
}

// Run subscribes and blocks until ctx is done
func (s *RedisSource) Run(ctx context.Context) error {
	pubsub := s.client.Subscribe(ctx, DefaultBindingKeys...)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed before reporting readiness
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	s.logger.Info("Subscribed to Redis channels", "channels", DefaultBindingKeys)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("channel closed")
			}
			s.handleMessage(msg)
		}
	}
}

func (s *RedisSource) handleMessage(msg *redis.Message) {
	ev, err := Decode(msg.Channel, "", ContentTypeJSON, []byte(msg.Payload))
	if err != nil {
		s.logger.Error("Failed to decode event", "channel", msg.Channel, "error", err)
		return
	}
	res := s.handler(ev)
	s.logger.Debug("Processed event", "channel", msg.Channel, "auction_id", ev.AuctionID(), "result", res.String())
}
