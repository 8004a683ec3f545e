package events

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
)

// NATSSource receives stream events published on NATS subjects named after
// the event kind, optionally under a prefix ("market.auction.created").
type NATSSource struct {
	conn    *nats.Conn
	prefix  string
	handler Handler
	logger  *slog.Logger
}

// NewNATSSource creates a NATS subscriber
func NewNATSSource(conn *nats.Conn, prefix string, handler Handler, logger *slog.Logger) *NATSSource {
	if logger == nil {
		logger = slog.Default()
	}
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix != "" {
		prefix += "."
	}
	return &NATSSource{conn: conn, prefix: prefix, handler: handler, logger: logger}
}

// Run subscribes and blocks until ctx is done
func (s *NATSSource) Run(ctx context.Context) error {
	msgs := make(chan *nats.Msg, 256)
	var subs []*nats.Subscription
	defer func() {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
	}()

	for _, subject := range []string{s.prefix + "auction.>", s.prefix + "transaction.>"} {
		sub, err := s.conn.ChanSubscribe(subject, msgs)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		subs = append(subs, sub)
	}

	s.logger.Info("Subscribed to NATS", "prefix", s.prefix)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-msgs:
			s.handleMsg(msg)
		}
	}
}

func (s *NATSSource) handleMsg(msg *nats.Msg) {
	var id, contentType string
	if msg.Header != nil {
		id = msg.Header.Get(nats.MsgIdHdr)
		contentType = msg.Header.Get("Content-Type")
	}

	ev, err := Decode(strings.TrimPrefix(msg.Subject, s.prefix), id, contentType, msg.Data)
	if err != nil {
		s.logger.Error("Failed to decode event", "subject", msg.Subject, "error", err)
		return
	}
	res := s.handler(ev)
	s.logger.Debug("Processed event", "subject", msg.Subject, "auction_id", ev.AuctionID(), "result", res.String())
}
