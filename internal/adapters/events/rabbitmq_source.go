package events

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/floroz/auction-client/internal/domain/ingest"
)

// RabbitMQConfig describes where stream events are consumed from
type RabbitMQConfig struct {
	Exchange string
	// Queue is the queue name; empty declares an exclusive, server-named
	// queue so every client gets its own copy of the stream.
	Queue       string
	BindingKeys []string
}

// DefaultBindingKeys subscribe to the stream event kinds. Commands such as
// auction.create share the exchange and must not be bound.
var DefaultBindingKeys = []string{
	string(ingest.KindAuctionCreated),
	string(ingest.KindAuctionUpdated),
	string(ingest.KindAuctionClosed),
	string(ingest.KindTransactionCreated),
}

// RabbitMQSource consumes stream events from a topic exchange
type RabbitMQSource struct {
	conn    *amqp.Connection
	cfg     RabbitMQConfig
	handler Handler
	logger  *slog.Logger
}

// NewRabbitMQSource creates a new consumer
func NewRabbitMQSource(conn *amqp.Connection, cfg RabbitMQConfig, handler Handler, logger *slog.Logger) *RabbitMQSource {
	if len(cfg.BindingKeys) == 0 {
		cfg.BindingKeys = DefaultBindingKeys
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RabbitMQSource{
		conn:    conn,
		cfg:     cfg,
		handler: handler,
		logger:  logger,
	}
}

// Run starts the consumer loop
func (s *RabbitMQSource) Run(ctx context.Context) error {
	ch, err := s.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	queue, err := s.setupRabbitMQ(ch)
	if err != nil {
		return fmt.Errorf("failed to setup rabbitmq: %w", err)
	}

	msgs, err := ch.Consume(
		queue, // queue
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	s.logger.Info("Waiting for messages...", "queue", queue)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("channel closed")
			}
			s.handleDelivery(d)
		}
	}
}

func (s *RabbitMQSource) handleDelivery(d amqp.Delivery) {
	ev, err := Decode(d.RoutingKey, d.MessageId, d.ContentType, d.Body)
	if err != nil {
		s.logger.Error("Failed to decode event", "routing_key", d.RoutingKey, "error", err)
		// A message that cannot be parsed never will be.
		if nackErr := d.Nack(false, false); nackErr != nil {
			s.logger.Error("Failed to Nack message", "error", nackErr)
		}
		return
	}

	res := s.handler(ev)
	if ackErr := d.Ack(false); ackErr != nil {
		s.logger.Error("Failed to Ack message", "error", ackErr)
	}
	s.logger.Debug("Processed event", "routing_key", d.RoutingKey, "auction_id", ev.AuctionID(), "result", res.String())
}

func (s *RabbitMQSource) setupRabbitMQ(ch *amqp.Channel) (string, error) {
	err := ch.ExchangeDeclare(
		s.cfg.Exchange, // name
		"topic",        // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // args
	)
	if err != nil {
		return "", err
	}

	durable := s.cfg.Queue != ""
	q, err := ch.QueueDeclare(
		s.cfg.Queue, // name
		durable,     // durable
		!durable,    // delete when unused
		!durable,    // exclusive
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return "", err
	}

	for _, key := range s.cfg.BindingKeys {
		if err := ch.QueueBind(q.Name, key, s.cfg.Exchange, false, nil); err != nil {
			return "", fmt.Errorf("failed to bind %q: %w", key, err)
		}
	}
	return q.Name, nil
}
