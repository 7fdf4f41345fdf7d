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

const defaultNotificationLimit = 50

// NotificationStore implements store.NotificationStore in memory.
type NotificationStore struct {
	binding
}

// Ensure NotificationStore implements store.NotificationStore interface
var _ store.NotificationStore = (*NotificationStore)(nil)

// Enqueue implements store.NotificationStore.Enqueue
func (r *NotificationStore) Enqueue(ctx context.Context, n *domain.Notification) error {
	return r.with(func(st *state) error {
		if _, ok := st.notifications[n.ID]; ok {
			return fmt.Errorf("%w: notification %s", store.ErrDuplicate, n.ID)
		}
		c := *n
		st.notifications[n.ID] = &c
		return nil
	})
}

// ListByUser implements store.NotificationStore.ListByUser
func (r *NotificationStore) ListByUser(
	ctx context.Context,
	userID string,
	unreadOnly bool,
	limit int,
) ([]*domain.Notification, error) {
	if limit <= 0 {
		limit = defaultNotificationLimit
	}

	out := make([]*domain.Notification, 0)
	err := r.with(func(st *state) error {
		for _, n := range st.notifications {
			if n.UserID != userID || (unreadOnly && n.Read) {
				continue
			}
			c := *n
			out = append(out, &c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(out, func(a, b *domain.Notification) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID.String(), a.ID.String())
	})
	return page(out, limit, 0), nil
}

// GetByID implements store.NotificationStore.GetByID
func (r *NotificationStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	var out *domain.Notification
	err := r.with(func(st *state) error {
		n, ok := st.notifications[id]
		if !ok {
			return store.ErrNotificationNotFound
		}
		c := *n
		out = &c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkRead implements store.NotificationStore.MarkRead
func (r *NotificationStore) MarkRead(ctx context.Context, id uuid.UUID) error {
	return r.with(func(st *state) error {
		n, ok := st.notifications[id]
		if !ok {
			return store.ErrNotificationNotFound
		}
		c := *n
		c.Read = true
		st.notifications[id] = &c
		return nil
	})
}
