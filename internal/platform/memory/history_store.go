package memory

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/phrazzld/casequeue/internal/domain"
	"github.com/phrazzld/casequeue/internal/store"
)

// HistoryStore implements store.HistoryStore in memory.
type HistoryStore struct {
	binding
}

// Ensure HistoryStore implements store.HistoryStore interface
var _ store.HistoryStore = (*HistoryStore)(nil)

// Append implements store.HistoryStore.Append
func (r *HistoryStore) Append(ctx context.Context, entry *domain.TaskHistory) error {
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	return r.with(func(st *state) error {
		if _, ok := st.tasks[entry.TaskID]; !ok {
			return fmt.Errorf("%w: history references unknown task %s", store.ErrInvalidEntity, entry.TaskID)
		}
		for _, existing := range st.history[entry.TaskID] {
			if existing.Version == entry.Version {
				return fmt.Errorf("%w: history for task %s version %d",
					store.ErrDuplicate, entry.TaskID, entry.Version)
			}
		}
		c := *entry
		st.history[entry.TaskID] = append(st.history[entry.TaskID], &c)
		return nil
	})
}

// ListByTask implements store.HistoryStore.ListByTask
func (r *HistoryStore) ListByTask(
	ctx context.Context,
	taskID uuid.UUID,
	actions ...domain.HistoryAction,
) ([]*domain.TaskHistory, error) {
	out := make([]*domain.TaskHistory, 0)
	err := r.with(func(st *state) error {
		for _, h := range st.history[taskID] {
			if len(actions) > 0 && !slices.Contains(actions, h.Action) {
				continue
			}
			c := *h
			out = append(out, &c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(out, func(a, b *domain.TaskHistory) int {
		return int(b.Version - a.Version)
	})
	return out, nil
}

// LatestByTask implements store.HistoryStore.LatestByTask
func (r *HistoryStore) LatestByTask(ctx context.Context, taskID uuid.UUID) (*domain.TaskHistory, error) {
	var latest *domain.TaskHistory
	err := r.with(func(st *state) error {
		for _, h := range st.history[taskID] {
			if latest == nil || h.Version > latest.Version {
				latest = h
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: no history for task %s", store.ErrNotFound, taskID)
	}

	c := *latest
	return &c, nil
}
