package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	minReconnectDelay = 500 * time.Millisecond
	maxReconnectDelay = 30 * time.Second
)

// WebSocketSource reads enveloped events from the backend push channel and
// reconnects with exponential backoff when the connection drops.
type WebSocketSource struct {
	url     string
	header  http.Header
	dialer  *websocket.Dialer
	handler Handler
	logger  *slog.Logger
}

// NewWebSocketSource creates a push-channel reader. A non-empty token is sent
// as a bearer credential on the upgrade request.
func NewWebSocketSource(url, token string, handler Handler, logger *slog.Logger) *WebSocketSource {
	if logger == nil {
		logger = slog.Default()
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return &WebSocketSource{
		url:     url,
		header:  header,
		dialer:  websocket.DefaultDialer,
		handler: handler,
		logger:  logger,
	}
}

// Run reads until ctx is done
func (s *WebSocketSource) Run(ctx context.Context) error {
	delay := minReconnectDelay
	for {
		connected, err := s.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			delay = minReconnectDelay
		}
		s.logger.Warn("Push channel disconnected", "error", err, "retry_in", delay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

// session runs one connection. It reports whether the dial succeeded.
func (s *WebSocketSource) session(ctx context.Context) (bool, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		return false, fmt.Errorf("failed to dial push channel: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	s.logger.Info("Connected to push channel", "url", s.url)

	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return true, errors.New("closed by server")
			}
			return true, err
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		s.handleMessage(raw)
	}
}

func (s *WebSocketSource) handleMessage(raw []byte) {
	ev, err := DecodeEnvelope(raw)
	if err != nil {
		s.logger.Error("Failed to decode event", "error", err)
		return
	}
	res := s.handler(ev)
	s.logger.Debug("Processed event", "kind", ev.Kind, "auction_id", ev.AuctionID(), "result", res.String())
}
