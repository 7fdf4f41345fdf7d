package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NotificationType identifies the ownership-changing event a notification reports
type NotificationType string

// Possible notification types
const (
	NotificationTaskAssigned    NotificationType = "TASK_ASSIGNED"
	NotificationTaskForwarded   NotificationType = "TASK_FORWARDED"
	NotificationTaskReallocated NotificationType = "TASK_REALLOCATED"
)

// Notification informs a user that a task changed hands. Delivery and read
// tracking belong to a separate subsystem; the engine only enqueues.
type Notification struct {
	ID        uuid.UUID        `json:"id"`
	UserID    string           `json:"user_id"`
	TaskID    uuid.UUID        `json:"task_id"`
	Message   string           `json:"message"`
	Link      string           `json:"link"`
	Type      NotificationType `json:"type"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"created_at"`
}

// NewNotification builds an unread notification for userID about task.
func NewNotification(
	userID string,
	task *Task,
	typ NotificationType,
	message string,
	now time.Time,
) (*Notification, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: notification recipient cannot be empty", ErrValidation)
	}

	return &Notification{
		ID:        uuid.New(),
		UserID:    userID,
		TaskID:    task.ID,
		Message:   message,
		Link:      TaskLink(task.ID),
		Type:      typ,
		CreatedAt: now.UTC(),
	}, nil
}

// TaskLink returns the API path a notification points at.
func TaskLink(id uuid.UUID) string {
	return "/api/tasks/" + id.String()
}
