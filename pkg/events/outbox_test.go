package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockPublisher is a mock implementation of EventPublisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	args := m.Called(ctx, exchange, routingKey, body)
	return args.Error(0)
}

func TestOutbox_Enqueue(t *testing.T) {
	o := NewOutbox(2)
	ctx := context.Background()

	_, err := o.Enqueue(ctx, "auction.create", []byte(`{"itemId":1}`))
	require.NoError(t, err)
	_, err = o.Enqueue(ctx, "auction.create", []byte(`{"itemId":2}`))
	require.NoError(t, err)

	_, err = o.Enqueue(ctx, "auction.create", []byte(`{"itemId":3}`))
	assert.ErrorIs(t, err, ErrOutboxFull)
	assert.Equal(t, 2, o.Len())
}

func TestOutbox_EnqueueCancelledContext(t *testing.T) {
	o := NewOutbox(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Enqueue(ctx, "auction.create", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, o.Len())
}

func TestOutbox_GetPendingEventsClaims(t *testing.T) {
	o := NewOutbox(0)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := o.Enqueue(ctx, "auction.create", []byte{byte(i)})
		require.NoError(t, err)
	}

	first := o.GetPendingEvents(2)
	require.Len(t, first, 2)
	assert.Equal(t, []byte{0}, first[0].Payload)
	assert.Equal(t, 1, first[0].Attempts)

	second := o.GetPendingEvents(2)
	require.Len(t, second, 1, "claimed events are not handed out twice")
	assert.Equal(t, []byte{2}, second[0].Payload)
}

func TestOutboxRelay_ProcessBatch(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(p *MockPublisher)
		wantErr   bool
		wantLeft  int
	}{
		{
			name: "publishes and removes events",
			setupMock: func(p *MockPublisher) {
				p.On("Publish", mock.Anything, DefaultExchange, "auction.create", mock.Anything).Return(nil).Twice()
			},
			wantLeft: 0,
		},
		{
			name: "keeps events pending when the broker fails",
			setupMock: func(p *MockPublisher) {
				p.On("Publish", mock.Anything, DefaultExchange, "auction.create", mock.Anything).Return(errors.New("channel closed")).Once()
			},
			wantErr:  true,
			wantLeft: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			o := NewOutbox(0)
			_, _ = o.Enqueue(ctx, "auction.create", []byte(`{"itemId":1}`))
			_, _ = o.Enqueue(ctx, "auction.create", []byte(`{"itemId":2}`))

			pub := new(MockPublisher)
			tt.setupMock(pub)
			relay := NewOutboxRelay(o, pub, 10, time.Second, DefaultExchange, nil)

			err := relay.processBatch(ctx)

			if tt.wantErr {
				assert.Error(t, err)
				assert.Len(t, o.GetPendingEvents(10), tt.wantLeft, "events are pending again")
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantLeft, o.Len())
			pub.AssertExpectations(t)
		})
	}
}

func TestOutboxRelay_RunRetriesUntilPublished(t *testing.T) {
	o := NewOutbox(0)
	_, err := o.Enqueue(context.Background(), "auction.create", []byte(`{}`))
	require.NoError(t, err)

	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, DefaultExchange, "auction.create", mock.Anything).Return(errors.New("not yet")).Once()
	pub.On("Publish", mock.Anything, DefaultExchange, "auction.create", mock.Anything).Return(nil).Once()

	relay := NewOutboxRelay(o, pub, 10, 10*time.Millisecond, DefaultExchange, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = relay.Run(ctx) }()

	require.Eventually(t, func() bool { return o.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	pub.AssertExpectations(t)
}
