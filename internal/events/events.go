package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Type names a domain event.
type Type string

const (
	BookingCreated   Type = "booking.created"
	BookingAccepted  Type = "booking.accepted"
	BookingRejected  Type = "booking.rejected"
	BookingCancelled Type = "booking.cancelled"
	BookingCompleted Type = "booking.completed"
	BookingReminder  Type = "booking.reminder"

	TimeChangeProposed Type = "timechange.proposed"
	TimeChangeAccepted Type = "timechange.accepted"
	TimeChangeRejected Type = "timechange.rejected"

	PaymentSucceeded Type = "payment.succeeded"
	PaymentFailed    Type = "payment.failed"

	PayoutCompleted Type = "payout.completed"
	PayoutFailed    Type = "payout.failed"
)

// Wildcard subscribes a handler to every event type.
const Wildcard Type = "*"

// Event represents a lightweight domain event. Events are published only
// after the state change they describe has committed.
type Event struct {
	Type      Type           `json:"type"`
	BookingID int64          `json:"booking_id,omitempty"`
	ActorID   int64          `json:"actor_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Publisher is the fire-and-forget notification sink.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// EventHandler reacts to an event.
type EventHandler func(ctx context.Context, event Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[Type][]EventHandler
	mu          sync.RWMutex
	logger      zerolog.Logger
}

// NewEventBus constructs an empty bus.
func NewEventBus(logger zerolog.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[Type][]EventHandler),
		logger:      logger.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers a handler for a given event type, or Wildcard.
func (b *EventBus) Subscribe(eventType Type, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type. Handler errors and panics
// are logged and never reach the publisher.
func (b *EventBus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.subscribers[Wildcard]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	for _, handler := range handlers {
		b.run(ctx, handler, event)
	}
}

func (b *EventBus) run(ctx context.Context, handler EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Str("type", string(event.Type)).Msg("event handler panicked")
		}
	}()
	if err := handler(ctx, event); err != nil {
		b.logger.Warn().Err(err).Str("type", string(event.Type)).Int64("booking_id", event.BookingID).
			Msg("event handler failed")
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// LogHandler writes every event to the log.
func LogHandler(logger zerolog.Logger) EventHandler {
	return func(ctx context.Context, e Event) error {
		logger.Info().
			Str("event", string(e.Type)).
			Int64("booking_id", e.BookingID).
			Int64("actor_id", e.ActorID).
			Interface("payload", e.Payload).
			Msg("domain event")
		return nil
	}
}
