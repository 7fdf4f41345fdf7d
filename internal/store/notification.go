package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/casequeue/internal/domain"
)

// NotificationStore is the outbox the delivery subsystem reads from.
// Version: 1.0
type NotificationStore interface {
	// Enqueue stores a new unread notification.
	Enqueue(ctx context.Context, n *domain.Notification) error

	// ListByUser returns a user's notifications newest first, optionally
	// restricted to unread ones. A non-positive limit means the default of 50.
	ListByUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*domain.Notification, error)

	// GetByID retrieves a notification by its ID.
	// Returns ErrNotificationNotFound if it does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Notification, error)

	// MarkRead flags a notification as read.
	// Returns ErrNotificationNotFound if it does not exist.
	MarkRead(ctx context.Context, id uuid.UUID) error
}
