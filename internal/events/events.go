package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/casequeue/internal/domain"
)

// NotificationEvent announces a notification that has been committed to the
// notification store.
type NotificationEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Notification is the committed notification row
	Notification domain.Notification `json:"notification"`

	// Action is the history action that produced the notification
	Action domain.HistoryAction `json:"action"`

	// Actor is the user who performed the triggering transition
	Actor string `json:"actor"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// NewNotificationEvent wraps n in a new event.
func NewNotificationEvent(
	n *domain.Notification,
	action domain.HistoryAction,
	actor string,
	now time.Time,
) *NotificationEvent {
	return &NotificationEvent{
		ID:           uuid.New(),
		Notification: *n,
		Action:       action,
		Actor:        actor,
		CreatedAt:    now.UTC(),
	}
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *NotificationEvent) error
}

// EventHandlerFunc adapts a function to the EventHandler interface.
type EventHandlerFunc func(ctx context.Context, event *NotificationEvent) error

// HandleEvent calls f(ctx, event).
func (f EventHandlerFunc) HandleEvent(ctx context.Context, event *NotificationEvent) error {
	return f(ctx, event)
}

// EventEmitter defines an interface for components that can emit events.
// This allows the engine to publish events without knowing the handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	// Returns an error if the event cannot be emitted.
	EmitEvent(ctx context.Context, event *NotificationEvent) error
}
