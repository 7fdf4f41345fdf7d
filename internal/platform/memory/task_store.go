package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/casequeue/internal/domain"
	"github.com/phrazzld/casequeue/internal/store"
)

// TaskStore implements store.TaskStore in memory.
type TaskStore struct {
	binding
}

// Ensure TaskStore implements store.TaskStore interface
var _ store.TaskStore = (*TaskStore)(nil)

// Create implements store.TaskStore.Create
func (r *TaskStore) Create(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	return r.with(func(st *state) error {
		if _, ok := st.tasks[task.ID]; ok {
			return fmt.Errorf("%w: task %s", store.ErrDuplicate, task.ID)
		}
		st.tasks[task.ID] = task.Clone()
		return nil
	})
}

// GetByID implements store.TaskStore.GetByID
func (r *TaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	var out *domain.Task
	err := r.with(func(st *state) error {
		t, ok := st.tasks[id]
		if !ok {
			return store.ErrTaskNotFound
		}
		out = t.Clone()
		return nil
	})
	return out, err
}

// Update implements store.TaskStore.Update
func (r *TaskStore) Update(ctx context.Context, task *domain.Task, expect store.Expectation) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	return r.with(func(st *state) error {
		current, ok := st.tasks[task.ID]
		if !ok {
			return store.ErrTaskNotFound
		}
		if current.Status != expect.Status || current.Version != expect.Version {
			return fmt.Errorf("%w: task %s is no longer %s at version %d",
				store.ErrConflict, task.ID, expect.Status, expect.Version)
		}

		next := task.Clone()
		next.Title = current.Title
		next.Description = current.Description
		next.CreatedAt = current.CreatedAt
		next.Version = expect.Version + 1
		st.tasks[task.ID] = next
		task.Version = next.Version
		return nil
	})
}

// FindOpenCandidates implements store.TaskStore.FindOpenCandidates
func (r *TaskStore) FindOpenCandidates(ctx context.Context, queue string, limit int) ([]*domain.Task, error) {
	out := make([]*domain.Task, 0)
	err := r.with(func(st *state) error {
		for _, t := range st.tasks {
			if t.WorkQueue == queue && t.Status == domain.TaskStatusOpen {
				out = append(out, t.Clone())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(out, func(a, b *domain.Task) int {
		if a.Priority != b.Priority {
			return b.Priority - a.Priority
		}
		return compareDueThenCreated(a, b)
	})

	return page(out, limit, 0), nil
}

// Find implements store.TaskStore.Find
func (r *TaskStore) Find(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, error) {
	out := make([]*domain.Task, 0)
	err := r.with(func(st *state) error {
		for _, t := range st.tasks {
			if matches(t, filter) {
				out = append(out, t.Clone())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(out, compareDueThenCreated)
	return page(out, filter.Limit, filter.Offset), nil
}

func matches(t *domain.Task, f store.TaskFilter) bool {
	if f.WorkQueue != "" && t.WorkQueue != f.WorkQueue {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, t.Status) {
		return false
	}
	if f.AssignedTo != "" && t.AssignedTo != f.AssignedTo {
		return false
	}
	if f.DueAfter != nil && (t.DueDate == nil || !t.DueDate.After(*f.DueAfter)) {
		return false
	}
	if f.DueBefore != nil && (t.DueDate == nil || !t.DueDate.Before(*f.DueBefore)) {
		return false
	}
	if f.RestartBefore != nil && (t.RestartDate == nil || !t.RestartDate.Before(*f.RestartBefore)) {
		return false
	}
	return true
}

// compareDueThenCreated orders by due date with undated tasks last, then by
// creation time, then by ID.
func compareDueThenCreated(a, b *domain.Task) int {
	switch {
	case a.DueDate != nil && b.DueDate == nil:
		return -1
	case a.DueDate == nil && b.DueDate != nil:
		return 1
	case a.DueDate != nil && b.DueDate != nil && !a.DueDate.Equal(*b.DueDate):
		return a.DueDate.Compare(*b.DueDate)
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID.String(), b.ID.String())
}

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
