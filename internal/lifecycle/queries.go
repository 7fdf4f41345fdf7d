package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/casequeue/internal/domain"
	"github.com/phrazzld/casequeue/internal/store"
)

// ActiveStatuses are the statuses of tasks someone is still expected to work.
var ActiveStatuses = []domain.TaskStatus{
	domain.TaskStatusOpen,
	domain.TaskStatusReserved,
	domain.TaskStatusAssigned,
	domain.TaskStatusDeferred,
	domain.TaskStatusEscalated,
}

// GetTask returns the current state of a task.
func (e *Engine) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	task, err := e.tx.Repositories().Tasks.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return task, nil
}

// FindTasks returns tasks matching filter.
func (e *Engine) FindTasks(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, error) {
	tasks, err := e.tx.Repositories().Tasks.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find tasks: %w", err)
	}
	return tasks, nil
}

// ListByQueue returns the tasks in queue, optionally restricted to statuses.
func (e *Engine) ListByQueue(
	ctx context.Context,
	queue string,
	statuses ...domain.TaskStatus,
) ([]*domain.Task, error) {
	if err := requireUser("queue", queue); err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	return e.FindTasks(ctx, store.TaskFilter{WorkQueue: queue, Statuses: statuses})
}

// ListByAssignee returns the active tasks assigned to user.
func (e *Engine) ListByAssignee(ctx context.Context, user string) ([]*domain.Task, error) {
	if err := requireUser("assignee", user); err != nil {
		return nil, fmt.Errorf("list assignee: %w", err)
	}
	return e.FindTasks(ctx, store.TaskFilter{AssignedTo: user, Statuses: ActiveStatuses})
}

// ListDueWithin returns active tasks due between now and now+window,
// earliest first. Tasks already overdue are included.
func (e *Engine) ListDueWithin(ctx context.Context, window time.Duration) ([]*domain.Task, error) {
	if window <= 0 {
		return nil, fmt.Errorf("list due: %w: window must be positive", domain.ErrValidation)
	}
	before := e.now().UTC().Add(window)
	return e.FindTasks(ctx, store.TaskFilter{Statuses: ActiveStatuses, DueBefore: &before})
}

// GetTaskHistory returns a task's full history, newest first.
func (e *Engine) GetTaskHistory(ctx context.Context, id uuid.UUID) ([]*domain.TaskHistory, error) {
	return e.history(ctx, "task history", id)
}

// GetAssignmentHistory returns the assignment chain of a task, newest first.
func (e *Engine) GetAssignmentHistory(ctx context.Context, id uuid.UUID) ([]*domain.TaskHistory, error) {
	return e.history(ctx, "assignment history", id, domain.AssignmentActions()...)
}

func (e *Engine) history(
	ctx context.Context,
	op string,
	id uuid.UUID,
	actions ...domain.HistoryAction,
) ([]*domain.TaskHistory, error) {
	repos := e.tx.Repositories()
	if _, err := repos.Tasks.GetByID(ctx, id); err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, id, err)
	}
	entries, err := repos.History.ListByTask(ctx, id, actions...)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, id, err)
	}
	return entries, nil
}

// ListNotifications returns a user's notifications newest first.
func (e *Engine) ListNotifications(
	ctx context.Context,
	user string,
	unreadOnly bool,
	limit int,
) ([]*domain.Notification, error) {
	if err := requireUser("user", user); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	notes, err := e.tx.Repositories().Notifications.ListByUser(ctx, user, unreadOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return notes, nil
}

// GetNotification returns one notification.
func (e *Engine) GetNotification(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	n, err := e.tx.Repositories().Notifications.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get notification %s: %w", id, err)
	}
	return n, nil
}

// MarkNotificationRead flags a notification as read.
func (e *Engine) MarkNotificationRead(ctx context.Context, id uuid.UUID) error {
	if err := e.tx.Repositories().Notifications.MarkRead(ctx, id); err != nil {
		return fmt.Errorf("mark notification %s read: %w", id, err)
	}
	return nil
}
