package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/casequeue/internal/domain"
)

// HistoryStore defines the append-only task history log. There is no
// update or delete operation by construction.
// Version: 1.0
type HistoryStore interface {
	// Append writes one history row.
	// Returns ErrDuplicate if a row for the same task version exists.
	Append(ctx context.Context, entry *domain.TaskHistory) error

	// ListByTask returns the task's history newest first. When actions is
	// non-empty only rows with one of those actions are returned.
	ListByTask(ctx context.Context, taskID uuid.UUID, actions ...domain.HistoryAction) ([]*domain.TaskHistory, error)

	// LatestByTask returns the task's most recent history row.
	// Returns ErrNotFound if the task has no history.
	LatestByTask(ctx context.Context, taskID uuid.UUID) (*domain.TaskHistory, error)
}
