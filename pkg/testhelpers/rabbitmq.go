package testhelpers

import (
	"context"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/testcontainers/testcontainers-go"
	tclog "github.com/testcontainers/testcontainers-go/log"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
)

type TestBroker struct {
	Container *rabbitmq.RabbitMQContainer
	URL       string
}

// NewTestBroker starts a RabbitMQ container for the duration of the test
func NewTestBroker(t *testing.T) *TestBroker {
	t.Helper()
	ctx := context.Background()

	container, err := rabbitmq.Run(ctx,
		"rabbitmq:3.12-management-alpine",
		rabbitmq.WithAdminPassword("password"),
		testcontainers.WithLogger(tclog.TestLogger(t)),
	)
	if err != nil {
		t.Fatalf("failed to start rabbitmq container: %s", err)
	}

	url, err := container.AmqpURL(ctx)
	if err != nil {
		t.Fatalf("failed to get amqp url: %s", err)
	}

	tb := &TestBroker{Container: container, URL: url}
	t.Cleanup(tb.Close(t))
	return tb
}

// Dial opens a connection that is closed with the test
func (tb *TestBroker) Dial(t *testing.T) *amqp.Connection {
	t.Helper()
	conn, err := amqp.Dial(tb.URL)
	if err != nil {
		t.Fatalf("failed to dial rabbitmq: %s", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (tb *TestBroker) Close(t *testing.T) func() {
	return func() {
		if err := tb.Container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}
}
