//go:build integration

package events_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floroz/auction-client/pkg/events"
	"github.com/floroz/auction-client/pkg/testhelpers"
)

// TestRelayIntegrationWithRabbitMQ relays a queued command through a real broker
func TestRelayIntegrationWithRabbitMQ(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	broker := testhelpers.NewTestBroker(t)

	publisher, err := events.NewRabbitMQPublisher(broker.Dial(t), events.DefaultExchange)
	require.NoError(t, err)
	defer publisher.Close()

	ch, err := broker.Dial(t).Channel()
	require.NoError(t, err)
	defer ch.Close()

	q, err := ch.QueueDeclare("", false, false, true, false, nil)
	require.NoError(t, err)
	require.NoError(t, ch.QueueBind(q.Name, "auction.create", events.DefaultExchange, false, nil))

	msgs, err := ch.Consume(q.Name, "", true, false, false, false, nil)
	require.NoError(t, err)

	outbox := events.NewOutbox(0)
	payload := []byte(`{"itemId":20,"startingPrice":"50","durationHours":24}`)
	_, err = outbox.Enqueue(ctx, "auction.create", payload)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	relay := events.NewOutboxRelay(outbox, publisher, 10, 50*time.Millisecond, events.DefaultExchange, logger)

	ctxRelay, cancelRelay := context.WithCancel(ctx)
	defer cancelRelay()
	go func() {
		_ = relay.Run(ctxRelay)
	}()

	select {
	case msg := <-msgs:
		assert.Equal(t, payload, msg.Body)
		assert.Equal(t, "auction.create", msg.RoutingKey)
		assert.Equal(t, "application/json", msg.ContentType)
	case <-time.After(10 * time.Second):
		t.Fatal("Timeout waiting for message from RabbitMQ")
	}

	require.Eventually(t, func() bool { return outbox.Len() == 0 }, 2*time.Second, 50*time.Millisecond)
}
