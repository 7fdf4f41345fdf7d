package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/casequeue/internal/domain"
)

// Expectation is the precondition of a conditional update: the row must
// still carry this status and version for the write to land.
type Expectation struct {
	Status  domain.TaskStatus
	Version int64
}

// TaskFilter selects tasks for the read surface and the sweeper. Zero
// fields are ignored; all set fields must match.
type TaskFilter struct {
	WorkQueue  string
	Statuses   []domain.TaskStatus
	AssignedTo string

	// DueAfter and DueBefore bound the due date (exclusive). Tasks without a
	// due date never match a filter that sets either bound.
	DueAfter  *time.Time
	DueBefore *time.Time

	// RestartBefore matches tasks whose restart date is strictly earlier.
	RestartBefore *time.Time

	Limit  int
	Offset int
}

// TaskStore defines the interface for the durable task table.
// Version: 1.0
type TaskStore interface {
	// Create inserts a new task. Returns ErrDuplicate if the ID exists.
	Create(ctx context.Context, task *domain.Task) error

	// GetByID retrieves a task by ID.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// Update writes every mutable column of task if and only if the stored
	// row still matches expect. On success the stored version becomes
	// expect.Version+1 and task.Version is set to it.
	// Returns ErrConflict when no row matched and ErrTaskNotFound when the
	// task does not exist at all.
	Update(ctx context.Context, task *domain.Task, expect Expectation) error

	// FindOpenCandidates returns up to limit OPEN tasks in queue, ordered by
	// priority desc, then earliest due date (tasks without one last), then
	// earliest creation.
	FindOpenCandidates(ctx context.Context, queue string, limit int) ([]*domain.Task, error)

	// Find returns tasks matching filter ordered by due date then creation.
	// Returns an empty slice if nothing matches.
	Find(ctx context.Context, filter TaskFilter) ([]*domain.Task, error)
}
