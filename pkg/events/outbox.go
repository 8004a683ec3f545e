package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// OutboxStatus defines the status of an event in the outbox
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"
	OutboxStatusProcessing OutboxStatus = "processing"
	OutboxStatusPublished  OutboxStatus = "published"
	OutboxStatusFailed     OutboxStatus = "failed"
)

var ErrOutboxFull = errors.New("outbox is full")

// OutboxEvent is a queued message waiting to be relayed to the broker
type OutboxEvent struct {
	ID          uuid.UUID
	EventType   string
	Payload     []byte
	Status      OutboxStatus
	Attempts    int
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// EventPublisher defines the interface for publishing events to a broker
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
}

// Outbox is an in-memory queue of events. Events stay pending until the
// relay managed to publish them; they are lost when the process exits.
type Outbox struct {
	mu       sync.Mutex
	events   []*OutboxEvent
	capacity int
}

// NewOutbox creates an outbox holding at most capacity unpublished events.
// capacity <= 0 means unbounded.
func NewOutbox(capacity int) *Outbox {
	return &Outbox{capacity: capacity}
}

// Enqueue stores an event for the relay
func (o *Outbox) Enqueue(ctx context.Context, eventType string, payload []byte) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.capacity > 0 && len(o.events) >= o.capacity {
		return uuid.Nil, ErrOutboxFull
	}
	ev := &OutboxEvent{
		ID:        uuid.New(),
		EventType: eventType,
		Payload:   payload,
		Status:    OutboxStatusPending,
		CreatedAt: time.Now(),
	}
	o.events = append(o.events, ev)
	return ev.ID, nil
}

// GetPendingEvents claims up to limit pending events, oldest first
func (o *Outbox) GetPendingEvents(limit int) []*OutboxEvent {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []*OutboxEvent
	for _, ev := range o.events {
		if len(out) == limit {
			break
		}
		if ev.Status == OutboxStatusPending {
			ev.Status = OutboxStatusProcessing
			ev.Attempts++
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out
}

// UpdateEventStatus records the outcome of a publish attempt.
// Published events are removed from the queue.
func (o *Outbox) UpdateEventStatus(id uuid.UUID, status OutboxStatus) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i, ev := range o.events {
		if ev.ID != id {
			continue
		}
		if status == OutboxStatusPublished {
			o.events = append(o.events[:i], o.events[i+1:]...)
			return nil
		}
		ev.Status = status
		return nil
	}
	return fmt.Errorf("outbox event %s not found", id)
}

// Len returns the number of unpublished events
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.events)
}

// OutboxRelay polls the outbox for pending events and publishes them
type OutboxRelay struct {
	outbox    *Outbox
	publisher EventPublisher
	batchSize int
	interval  time.Duration
	exchange  string
	logger    *slog.Logger
}

// NewOutboxRelay creates a new outbox relay
func NewOutboxRelay(
	outbox *Outbox,
	publisher EventPublisher,
	batchSize int,
	interval time.Duration,
	exchange string,
	logger *slog.Logger,
) *OutboxRelay {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutboxRelay{
		outbox:    outbox,
		publisher: publisher,
		batchSize: batchSize,
		interval:  interval,
		exchange:  exchange,
		logger:    logger,
	}
}

// Run starts the polling loop
func (r *OutboxRelay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Initial run
	if err := r.processBatch(ctx); err != nil {
		r.logger.Error("Error processing batch", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.processBatch(ctx); err != nil {
				r.logger.Error("Error processing batch", "error", err)
			}
		}
	}
}

func (r *OutboxRelay) processBatch(ctx context.Context) error {
	events := r.outbox.GetPendingEvents(r.batchSize)
	if len(events) == 0 {
		return nil
	}

	r.logger.Info("Processing events", "count", len(events))

	for i, event := range events {
		if err := r.publisher.Publish(ctx, r.exchange, event.EventType, event.Payload); err != nil {
			// Put this event and the rest of the batch back so order is kept on retry.
			for _, rest := range events[i:] {
				_ = r.outbox.UpdateEventStatus(rest.ID, OutboxStatusPending)
			}
			return fmt.Errorf("failed to publish event %s: %w", event.ID, err)
		}

		if err := r.outbox.UpdateEventStatus(event.ID, OutboxStatusPublished); err != nil {
			return fmt.Errorf("failed to update event status %s: %w", event.ID, err)
		}
	}
	return nil
}
