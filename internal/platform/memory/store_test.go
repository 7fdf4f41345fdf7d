package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/casequeue/internal/domain"
	"github.com/phrazzld/casequeue/internal/platform/memory"
	"github.com/phrazzld/casequeue/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, s *memory.Store, p domain.NewTaskParams, created time.Time) *domain.Task {
	t.Helper()
	if p.WorkQueue == "" {
		p.WorkQueue = "CASEWORK_Q"
	}
	task, err := domain.NewTask(p, created)
	require.NoError(t, err)
	require.NoError(t, s.Repositories().Tasks.Create(context.Background(), task))
	return task
}

func TestTaskStore_CreateAndGet(t *testing.T) {
	s := memory.NewStore(nil)
	ctx := context.Background()
	task := seed(t, s, domain.NewTaskParams{Title: "a"}, base)

	got, err := s.Repositories().Tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)

	got.WorkQueue = "MUTATED"
	again, err := s.Repositories().Tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "CASEWORK_Q", again.WorkQueue, "returned tasks must be copies")

	err = s.Repositories().Tasks.Create(ctx, task)
	assert.ErrorIs(t, err, store.ErrDuplicate)

	_, err = s.Repositories().Tasks.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestTaskStore_UpdateIsConditional(t *testing.T) {
	s := memory.NewStore(nil)
	ctx := context.Background()
	task := seed(t, s, domain.NewTaskParams{}, base)

	c := task.Clone()
	c.Status = domain.TaskStatusAssigned
	c.AssignedTo = "alice"
	require.NoError(t, s.Repositories().Tasks.Update(ctx, c, store.Expectation{
		Status: domain.TaskStatusOpen, Version: 1,
	}))
	assert.Equal(t, int64(2), c.Version)

	stale := task.Clone()
	stale.Status = domain.TaskStatusClosed
	err := s.Repositories().Tasks.Update(ctx, stale, store.Expectation{
		Status: domain.TaskStatusOpen, Version: 1,
	})
	assert.ErrorIs(t, err, store.ErrConflict)

	got, err := s.Repositories().Tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusAssigned, got.Status)
	assert.Equal(t, int64(2), got.Version)

	missing := task.Clone()
	missing.ID = uuid.New()
	err = s.Repositories().Tasks.Update(ctx, missing, store.Expectation{
		Status: domain.TaskStatusOpen, Version: 1,
	})
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestTaskStore_ConcurrentUpdatesAdmitOneWriter(t *testing.T) {
	s := memory.NewStore(nil)
	task := seed(t, s, domain.NewTaskParams{}, base)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  []string
		failures int
	)
	for _, w := range []string{"alice", "bob", "carol", "dave", "erin"} {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			c := task.Clone()
			c.Status = domain.TaskStatusReserved
			c.ReservedBy = worker
			c.ReservedDate = domain.TimePtr(base)
			err := s.Repositories().Tasks.Update(context.Background(), c, store.Expectation{
				Status: domain.TaskStatusOpen, Version: 1,
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, worker)
			} else if errors.Is(err, store.ErrConflict) {
				failures++
			}
		}(w)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, 4, failures)

	got, err := s.Repositories().Tasks.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, winners[0], got.ReservedBy)
}

func TestTaskStore_FindOpenCandidatesOrdering(t *testing.T) {
	s := memory.NewStore(nil)
	soon := base.Add(time.Hour)
	later := base.Add(48 * time.Hour)

	low := seed(t, s, domain.NewTaskParams{Priority: 1, DueDate: &soon}, base)
	highNoDue := seed(t, s, domain.NewTaskParams{Priority: 5}, base)
	highLater := seed(t, s, domain.NewTaskParams{Priority: 5, DueDate: &later}, base)
	highSoonOld := seed(t, s, domain.NewTaskParams{Priority: 5, DueDate: &soon}, base)
	highSoonNew := seed(t, s, domain.NewTaskParams{Priority: 5, DueDate: &soon}, base.Add(time.Minute))
	seed(t, s, domain.NewTaskParams{Priority: 9, WorkQueue: "OTHER_Q"}, base)

	got, err := s.Repositories().Tasks.FindOpenCandidates(context.Background(), "CASEWORK_Q", 10)
	require.NoError(t, err)

	ids := make([]uuid.UUID, len(got))
	for i, task := range got {
		ids[i] = task.ID
	}
	assert.Equal(t, []uuid.UUID{highSoonOld.ID, highSoonNew.ID, highLater.ID, highNoDue.ID, low.ID}, ids)

	limited, err := s.Repositories().Tasks.FindOpenCandidates(context.Background(), "CASEWORK_Q", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestTaskStore_FindFilters(t *testing.T) {
	s := memory.NewStore(nil)
	ctx := context.Background()
	soon := base.Add(time.Hour)
	later := base.Add(72 * time.Hour)

	dueSoon := seed(t, s, domain.NewTaskParams{DueDate: &soon, AssignedTo: "alice"}, base)
	seed(t, s, domain.NewTaskParams{DueDate: &later}, base)
	seed(t, s, domain.NewTaskParams{}, base)

	got, err := s.Repositories().Tasks.Find(ctx, store.TaskFilter{DueBefore: domain.TimePtr(base.Add(24 * time.Hour))})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, dueSoon.ID, got[0].ID)

	got, err = s.Repositories().Tasks.Find(ctx, store.TaskFilter{AssignedTo: "alice"})
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = s.Repositories().Tasks.Find(ctx, store.TaskFilter{
		WorkQueue: "CASEWORK_Q",
		Statuses:  []domain.TaskStatus{domain.TaskStatusOpen},
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Nil(t, got[2].DueDate, "undated tasks sort last")

	got, err = s.Repositories().Tasks.Find(ctx, store.TaskFilter{Offset: 2, Limit: 5})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = s.Repositories().Tasks.Find(ctx, store.TaskFilter{Statuses: []domain.TaskStatus{domain.TaskStatusClosed}})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestWithinTx_DiscardsWritesOnError(t *testing.T) {
	s := memory.NewStore(nil)
	ctx := context.Background()
	task := seed(t, s, domain.NewTaskParams{}, base)
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		c := task.Clone()
		c.Status = domain.TaskStatusAssigned
		c.AssignedTo = "alice"
		if err := repos.Tasks.Update(ctx, c, store.Expectation{Status: domain.TaskStatusOpen, Version: 1}); err != nil {
			return err
		}
		entry, err := domain.NewTaskHistory(c, domain.ActionAssigned, "sup", domain.TaskStatusOpen, "", "")
		if err != nil {
			return err
		}
		if err := repos.History.Append(ctx, entry); err != nil {
			return err
		}
		n, err := domain.NewNotification("alice", c, domain.NotificationTaskAssigned, "assigned", base)
		if err != nil {
			return err
		}
		if err := repos.Notifications.Enqueue(ctx, n); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.Repositories().Tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusOpen, got.Status)
	assert.Equal(t, int64(1), got.Version)

	history, err := s.Repositories().History.ListByTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Empty(t, history)

	notes, err := s.Repositories().Notifications.ListByUser(ctx, "alice", false, 0)
	require.NoError(t, err)
	assert.Empty(t, notes)
}

func TestWithinTx_CommitsAllWrites(t *testing.T) {
	s := memory.NewStore(nil)
	ctx := context.Background()
	task := seed(t, s, domain.NewTaskParams{}, base)

	err := s.WithinTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		c := task.Clone()
		c.Status = domain.TaskStatusAssigned
		c.AssignedTo = "alice"
		if err := repos.Tasks.Update(ctx, c, store.Expectation{Status: domain.TaskStatusOpen, Version: 1}); err != nil {
			return err
		}
		entry, err := domain.NewTaskHistory(c, domain.ActionAssigned, "sup", domain.TaskStatusOpen, "", "")
		if err != nil {
			return err
		}
		return repos.History.Append(ctx, entry)
	})
	require.NoError(t, err)

	history, err := s.Repositories().History.ListByTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, int64(2), history[0].Version)
}

func TestWithinTx_CanceledContext(t *testing.T) {
	s := memory.NewStore(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.WithinTx(ctx, func(context.Context, store.Repositories) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestHistoryStore_AppendOnlyAndOrdered(t *testing.T) {
	s := memory.NewStore(nil)
	ctx := context.Background()
	task := seed(t, s, domain.NewTaskParams{}, base)
	repos := s.Repositories()

	created, err := domain.NewTaskHistory(task, domain.ActionCreated, "intake", "", "", "")
	require.NoError(t, err)
	require.NoError(t, repos.History.Append(ctx, created))

	err = repos.History.Append(ctx, created)
	assert.ErrorIs(t, err, store.ErrDuplicate)

	next := task.Clone()
	next.Version = 2
	next.Status = domain.TaskStatusAssigned
	next.AssignedTo = "alice"
	assigned, err := domain.NewTaskHistory(next, domain.ActionAssigned, "sup", domain.TaskStatusOpen, "", "")
	require.NoError(t, err)
	require.NoError(t, repos.History.Append(ctx, assigned))

	all, err := repos.History.ListByTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, domain.ActionAssigned, all[0].Action, "newest first")

	chain, err := repos.History.ListByTask(ctx, task.ID, domain.AssignmentActions()...)
	require.NoError(t, err)
	require.Len(t, chain, 1)

	latest, err := repos.History.LatestByTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest.Version)
	assert.Equal(t, domain.TaskStatusAssigned, latest.NewStatus)

	_, err = repos.History.LatestByTask(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)

	orphan, err := domain.NewTaskHistory(&domain.Task{ID: uuid.New(), Status: domain.TaskStatusOpen, Version: 1},
		domain.ActionCreated, "intake", "", "", "")
	require.NoError(t, err)
	assert.ErrorIs(t, repos.History.Append(ctx, orphan), store.ErrInvalidEntity)
}

func TestNotificationStore(t *testing.T) {
	s := memory.NewStore(nil)
	ctx := context.Background()
	task := seed(t, s, domain.NewTaskParams{}, base)
	repos := s.Repositories()

	first, err := domain.NewNotification("alice", task, domain.NotificationTaskAssigned, "one", base)
	require.NoError(t, err)
	second, err := domain.NewNotification("alice", task, domain.NotificationTaskForwarded, "two", base.Add(time.Minute))
	require.NoError(t, err)
	other, err := domain.NewNotification("bob", task, domain.NotificationTaskAssigned, "three", base)
	require.NoError(t, err)

	for _, n := range []*domain.Notification{first, second, other} {
		require.NoError(t, repos.Notifications.Enqueue(ctx, n))
	}

	require.NoError(t, repos.Notifications.MarkRead(ctx, first.ID))
	assert.ErrorIs(t, repos.Notifications.MarkRead(ctx, uuid.New()), store.ErrNotificationNotFound)

	got, err := repos.Notifications.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.UserID)
	assert.True(t, got.Read)
	_, err = repos.Notifications.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotificationNotFound)

	all, err := repos.Notifications.ListByUser(ctx, "alice", false, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)

	unread, err := repos.Notifications.ListByUser(ctx, "alice", true, 0)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, second.ID, unread[0].ID)
}
