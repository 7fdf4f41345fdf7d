package lifecycle_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/casequeue/internal/domain"
	"github.com/phrazzld/casequeue/internal/events"
	"github.com/phrazzld/casequeue/internal/lifecycle"
	"github.com/phrazzld/casequeue/internal/platform/logger"
	"github.com/phrazzld/casequeue/internal/platform/memory"
	"github.com/phrazzld/casequeue/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []*events.NotificationEvent
	err    error
}

func (r *recordingEmitter) EmitEvent(_ context.Context, e *events.NotificationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingEmitter) Events() []*events.NotificationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*events.NotificationEvent(nil), r.events...)
}

type fixture struct {
	engine  *lifecycle.Engine
	store   *memory.Store
	clock   *clock
	emitter *recordingEmitter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log, _ := logger.GetTestLogger(t)
	st := memory.NewStore(log)
	clk := &clock{now: base}
	em := &recordingEmitter{}
	eng := lifecycle.NewEngine(st, em, lifecycle.Config{}, log, lifecycle.WithClock(clk.Now))
	return &fixture{engine: eng, store: st, clock: clk, emitter: em}
}

func (f *fixture) create(t *testing.T, p domain.NewTaskParams) *domain.Task {
	t.Helper()
	if p.WorkQueue == "" {
		p.WorkQueue = "CASEWORK_Q"
	}
	if p.Title == "" {
		p.Title = "review claim"
	}
	task, err := f.engine.Create(context.Background(), p, "intake")
	require.NoError(t, err)
	// distinct creation times keep candidate ordering deterministic
	f.clock.Advance(time.Second)
	return task
}

// assertConsistent checks that the task's status and version agree with its
// newest history row and that history versions are contiguous.
func (f *fixture) assertConsistent(t *testing.T, id uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	task, err := f.engine.GetTask(ctx, id)
	require.NoError(t, err)
	history, err := f.engine.GetTaskHistory(ctx, id)
	require.NoError(t, err)
	require.NotEmpty(t, history)

	assert.Equal(t, task.Status, history[0].NewStatus)
	assert.Equal(t, task.Version, history[0].Version)
	for i, h := range history {
		assert.Equal(t, task.Version-int64(i), h.Version, "history versions must be contiguous")
	}
	assert.Equal(t, task.Status == domain.TaskStatusReserved, task.ReservedBy != "")
}

func (f *fixture) historyLen(t *testing.T, id uuid.UUID) int {
	t.Helper()
	history, err := f.engine.GetTaskHistory(context.Background(), id)
	require.NoError(t, err)
	return len(history)
}

func (f *fixture) notifications(t *testing.T, user string) []*domain.Notification {
	t.Helper()
	notes, err := f.engine.ListNotifications(context.Background(), user, false, 0)
	require.NoError(t, err)
	return notes
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	due := base.Add(48 * time.Hour)
	task := f.create(t, domain.NewTaskParams{Priority: 3, DueDate: &due, AssignedTo: "carol"})
	assert.Equal(t, domain.TaskStatusOpen, task.Status)
	assert.Equal(t, int64(1), task.Version)

	history, err := f.engine.GetTaskHistory(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.ActionCreated, history[0].Action)
	assert.Equal(t, domain.TaskStatus(""), history[0].PreviousStatus)
	assert.Equal(t, "intake", history[0].PerformedBy)

	_, err = f.engine.Create(ctx, domain.NewTaskParams{WorkQueue: "Q"}, "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.engine.Create(ctx, domain.NewTaskParams{}, "intake")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestTransitions(t *testing.T) {
	ctx := context.Background()
	future := base.Add(72 * time.Hour)

	tests := []struct {
		name   string
		setup  func(t *testing.T, f *fixture, id uuid.UUID)
		run    func(f *fixture, id uuid.UUID) (*domain.Task, error)
		action domain.HistoryAction
		check  func(t *testing.T, task *domain.Task)
	}{
		{
			name:   "reserve",
			run:    func(f *fixture, id uuid.UUID) (*domain.Task, error) { return f.engine.Reserve(ctx, id, "bob") },
			action: domain.ActionReserved,
			check: func(t *testing.T, task *domain.Task) {
				assert.Equal(t, domain.TaskStatusReserved, task.Status)
				assert.Equal(t, "bob", task.ReservedBy)
				require.NotNil(t, task.ReservedDate)
				assert.True(t, task.ReservedDate.Equal(task.UpdatedAt))
			},
		},
		{
			name: "unreserve",
			setup: func(t *testing.T, f *fixture, id uuid.UUID) {
				_, err := f.engine.Reserve(ctx, id, "bob")
				require.NoError(t, err)
			},
			run:    func(f *fixture, id uuid.UUID) (*domain.Task, error) { return f.engine.Unreserve(ctx, id, "bob") },
			action: domain.ActionUnreserved,
			check: func(t *testing.T, task *domain.Task) {
				assert.Equal(t, domain.TaskStatusOpen, task.Status)
				assert.Empty(t, task.ReservedBy)
				assert.Nil(t, task.ReservedDate)
			},
		},
		{
			name:   "assign",
			run:    func(f *fixture, id uuid.UUID) (*domain.Task, error) { return f.engine.Assign(ctx, id, "bob", "alice") },
			action: domain.ActionAssigned,
			check: func(t *testing.T, task *domain.Task) {
				assert.Equal(t, domain.TaskStatusAssigned, task.Status)
				assert.Equal(t, "bob", task.AssignedTo)
			},
		},
		{
			name: "defer",
			setup: func(t *testing.T, f *fixture, id uuid.UUID) {
				_, err := f.engine.Assign(ctx, id, "bob", "alice")
				require.NoError(t, err)
			},
			run: func(f *fixture, id uuid.UUID) (*domain.Task, error) {
				return f.engine.Defer(ctx, id, "bob", future, "waiting on documents")
			},
			action: domain.ActionDeferred,
			check: func(t *testing.T, task *domain.Task) {
				assert.Equal(t, domain.TaskStatusDeferred, task.Status)
				assert.Equal(t, "bob", task.DeferredBy)
				assert.Equal(t, "bob", task.AssignedTo)
				require.NotNil(t, task.RestartDate)
				assert.True(t, task.RestartDate.Equal(future))
				require.NotNil(t, task.DeferredDate)
			},
		},
		{
			name: "close",
			run: func(f *fixture, id uuid.UUID) (*domain.Task, error) {
				return f.engine.Close(ctx, id, "bob", "resolved")
			},
			action: domain.ActionClosed,
			check: func(t *testing.T, task *domain.Task) {
				assert.Equal(t, domain.TaskStatusClosed, task.Status)
				assert.Equal(t, "bob", task.ClosedBy)
				assert.Equal(t, "resolved", task.CloseComments)
				require.NotNil(t, task.ClosedDate)
			},
		},
		{
			name: "escalate",
			run: func(f *fixture, id uuid.UUID) (*domain.Task, error) {
				return f.engine.Escalate(ctx, id, "SUPERVISOR_Q")
			},
			action: domain.ActionEscalated,
			check: func(t *testing.T, task *domain.Task) {
				assert.Equal(t, domain.TaskStatusEscalated, task.Status)
				assert.Equal(t, "SUPERVISOR_Q", task.WorkQueue)
			},
		},
		{
			name:   "auto close",
			run:    func(f *fixture, id uuid.UUID) (*domain.Task, error) { return f.engine.AutoClose(ctx, id) },
			action: domain.ActionAutoClosed,
			check: func(t *testing.T, task *domain.Task) {
				assert.Equal(t, domain.TaskStatusClosed, task.Status)
				assert.Equal(t, domain.SystemActor, task.ClosedBy)
			},
		},
		{
			name: "comment",
			run: func(f *fixture, id uuid.UUID) (*domain.Task, error) {
				return f.engine.AddComment(ctx, id, "bob", "called the claimant")
			},
			action: domain.ActionCommented,
			check: func(t *testing.T, task *domain.Task) {
				assert.Equal(t, domain.TaskStatusOpen, task.Status)
			},
		},
		{
			name: "modify time",
			run: func(f *fixture, id uuid.UUID) (*domain.Task, error) {
				return f.engine.ModifyTimeWorked(ctx, id, "bob", 45, "")
			},
			action: domain.ActionTimeModified,
			check: func(t *testing.T, task *domain.Task) {
				assert.Equal(t, 45, task.TimeWorked)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			task := f.create(t, domain.NewTaskParams{})
			if tc.setup != nil {
				tc.setup(t, f, task.ID)
			}
			before, err := f.engine.GetTask(ctx, task.ID)
			require.NoError(t, err)
			rows := f.historyLen(t, task.ID)

			after, err := tc.run(f, task.ID)
			require.NoError(t, err)
			tc.check(t, after)

			assert.Equal(t, before.Version+1, after.Version)
			history, err := f.engine.GetTaskHistory(ctx, task.ID)
			require.NoError(t, err)
			require.Len(t, history, rows+1, "exactly one history row per transition")
			assert.Equal(t, tc.action, history[0].Action)
			assert.Equal(t, before.Status, history[0].PreviousStatus)
			assert.Equal(t, after.Status, history[0].NewStatus)

			stored, err := f.engine.GetTask(ctx, task.ID)
			require.NoError(t, err)
			assert.Equal(t, after, stored)
			f.assertConsistent(t, task.ID)
		})
	}
}

func TestInvalidStateWritesNothing(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		run      func(f *fixture, id uuid.UUID) (*domain.Task, error)
		expected []domain.TaskStatus
	}{
		{
			name:     "unreserve open task",
			run:      func(f *fixture, id uuid.UUID) (*domain.Task, error) { return f.engine.Unreserve(ctx, id, "bob") },
			expected: []domain.TaskStatus{domain.TaskStatusReserved},
		},
		{
			name: "defer open task",
			run: func(f *fixture, id uuid.UUID) (*domain.Task, error) {
				return f.engine.Defer(ctx, id, "bob", base.Add(time.Hour), "")
			},
			expected: []domain.TaskStatus{domain.TaskStatusReserved, domain.TaskStatusAssigned},
		},
		{
			name:     "restart open task",
			run:      func(f *fixture, id uuid.UUID) (*domain.Task, error) { return f.engine.Restart(ctx, id, "bob") },
			expected: []domain.TaskStatus{domain.TaskStatusClosed, domain.TaskStatusEscalated, domain.TaskStatusDeferred},
		},
		{
			name:     "reallocate open task",
			run:      func(f *fixture, id uuid.UUID) (*domain.Task, error) { return f.engine.Reallocate(ctx, id, "sue", "") },
			expected: []domain.TaskStatus{domain.TaskStatusReserved, domain.TaskStatusAssigned},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			task := f.create(t, domain.NewTaskParams{})

			_, err := tc.run(f, task.ID)
			require.Error(t, err)
			assert.ErrorIs(t, err, lifecycle.ErrInvalidState)

			var invalid *lifecycle.InvalidStateError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tc.expected, invalid.Expected)
			assert.Equal(t, domain.TaskStatusOpen, invalid.Actual)
			assert.Equal(t, task.ID, invalid.TaskID)

			stored, err := f.engine.GetTask(ctx, task.ID)
			require.NoError(t, err)
			assert.Equal(t, task, stored)
			assert.Equal(t, 1, f.historyLen(t, task.ID))
		})
	}
}

func TestNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	missing := uuid.New()

	_, err := f.engine.Reserve(ctx, missing, "bob")
	assert.ErrorIs(t, err, lifecycle.ErrTaskNotFound)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
	assert.True(t, lifecycle.IsSkippable(err))

	_, err = f.engine.GetTask(ctx, missing)
	assert.ErrorIs(t, err, lifecycle.ErrTaskNotFound)

	_, err = f.engine.GetTaskHistory(ctx, missing)
	assert.ErrorIs(t, err, lifecycle.ErrTaskNotFound)
}

func TestArgumentValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, domain.NewTaskParams{})

	_, err := f.engine.Reserve(ctx, task.ID, "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.engine.Assign(ctx, task.ID, " ", "alice")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.engine.AddComment(ctx, task.ID, "bob", "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.engine.ModifyTimeWorked(ctx, task.ID, "bob", -5, "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.engine.ModifyTimeWorked(ctx, task.ID, "bob", 0, "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.engine.ReserveNext(ctx, "CASEWORK_Q", "bob", 0)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.engine.ListDueWithin(ctx, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.engine.Assign(ctx, task.ID, "bob", "alice")
	require.NoError(t, err)
	_, err = f.engine.Defer(ctx, task.ID, "bob", base.Add(-time.Minute), "")
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.False(t, lifecycle.IsSkippable(err))

	assert.Equal(t, 2, f.historyLen(t, task.ID), "rejected calls write no history")
}

func TestModifyTimeWorked_NegativeDeltaWithinTotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, domain.NewTaskParams{})

	_, err := f.engine.ModifyTimeWorked(ctx, task.ID, "bob", 30, "")
	require.NoError(t, err)
	got, err := f.engine.ModifyTimeWorked(ctx, task.ID, "bob", -10, "correction")
	require.NoError(t, err)
	assert.Equal(t, 20, got.TimeWorked)

	_, err = f.engine.ModifyTimeWorked(ctx, task.ID, "bob", -21, "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	stored, err := f.engine.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, stored.TimeWorked)
	f.assertConsistent(t, task.ID)
}

func TestConcurrentReserve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, domain.NewTaskParams{})

	users := []string{"alice", "bob"}
	errs := make([]error, len(users))
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
	)
	for i, user := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = f.engine.Reserve(ctx, task.ID, user)
		}()
	}
	close(start)
	wg.Wait()

	winners := 0
	winner := ""
	for i, err := range errs {
		if err == nil {
			winners++
			winner = users[i]
			continue
		}
		assert.True(t, errors.Is(err, lifecycle.ErrInvalidState) || errors.Is(err, lifecycle.ErrStoreConflict),
			"loser got %v", err)
	}
	require.Equal(t, 1, winners)

	stored, err := f.engine.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, winner, stored.ReservedBy)
	assert.Equal(t, 2, f.historyLen(t, task.ID))
}

func TestReserveNext(t *testing.T) {
	ctx := context.Background()

	t.Run("returns every open task when fewer than n", func(t *testing.T) {
		f := newFixture(t)
		for range 3 {
			f.create(t, domain.NewTaskParams{WorkQueue: "QUEUE_X"})
		}
		f.create(t, domain.NewTaskParams{WorkQueue: "OTHER_Q"})

		got, err := f.engine.ReserveNext(ctx, "QUEUE_X", "bob", 5)
		require.NoError(t, err)
		require.Len(t, got, 3)
		for _, task := range got {
			assert.Equal(t, domain.TaskStatusReserved, task.Status)
			assert.Equal(t, "bob", task.ReservedBy)
			assert.Equal(t, "QUEUE_X", task.WorkQueue)
			f.assertConsistent(t, task.ID)
		}
	})

	t.Run("orders by priority then due date then creation", func(t *testing.T) {
		f := newFixture(t)
		soon := base.Add(time.Hour)
		later := base.Add(24 * time.Hour)

		oldUndated := f.create(t, domain.NewTaskParams{Title: "old undated", Priority: 1})
		laterDue := f.create(t, domain.NewTaskParams{Title: "later", Priority: 1, DueDate: &later})
		urgent := f.create(t, domain.NewTaskParams{Title: "urgent", Priority: 5})
		soonDue := f.create(t, domain.NewTaskParams{Title: "soon", Priority: 1, DueDate: &soon})
		newUndated := f.create(t, domain.NewTaskParams{Title: "new undated", Priority: 1})

		got, err := f.engine.ReserveNext(ctx, "CASEWORK_Q", "bob", 4)
		require.NoError(t, err)
		require.Len(t, got, 4)
		ids := []uuid.UUID{got[0].ID, got[1].ID, got[2].ID, got[3].ID}
		assert.Equal(t, []uuid.UUID{urgent.ID, soonDue.ID, laterDue.ID, oldUndated.ID}, ids)

		left, err := f.engine.GetTask(ctx, newUndated.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusOpen, left.Status)
	})

	t.Run("caps the batch size", func(t *testing.T) {
		log, _ := logger.GetTestLogger(t)
		st := memory.NewStore(log)
		eng := lifecycle.NewEngine(st, nil, lifecycle.Config{ReserveNextMax: 2}, log)
		for range 4 {
			_, err := eng.Create(ctx, domain.NewTaskParams{WorkQueue: "Q"}, "intake")
			require.NoError(t, err)
		}

		got, err := eng.ReserveNext(ctx, "Q", "bob", 10)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("empty queue", func(t *testing.T) {
		f := newFixture(t)
		got, err := f.engine.ReserveNext(ctx, "EMPTY_Q", "bob", 3)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestReserveSelected_SkipsUnavailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	open1 := f.create(t, domain.NewTaskParams{})
	taken := f.create(t, domain.NewTaskParams{})
	open2 := f.create(t, domain.NewTaskParams{})
	_, err := f.engine.Reserve(ctx, taken.ID, "alice")
	require.NoError(t, err)

	got, err := f.engine.ReserveSelected(ctx, []uuid.UUID{open1.ID, taken.ID, uuid.New(), open2.ID}, "bob")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, open1.ID, got[0].ID)
	assert.Equal(t, open2.ID, got[1].ID)

	still, err := f.engine.GetTask(ctx, taken.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", still.ReservedBy)
}

func TestClose_NotIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, domain.NewTaskParams{})

	_, err := f.engine.Close(ctx, task.ID, "bob", "done")
	require.NoError(t, err)

	_, err = f.engine.Close(ctx, task.ID, "bob", "done again")
	assert.ErrorIs(t, err, lifecycle.ErrInvalidState)

	stored, err := f.engine.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "done", stored.CloseComments)
	assert.Equal(t, 2, f.historyLen(t, task.ID))
}

func TestClose_FromReservedClearsReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, domain.NewTaskParams{})

	_, err := f.engine.Reserve(ctx, task.ID, "bob")
	require.NoError(t, err)
	closed, err := f.engine.Close(ctx, task.ID, "bob", "")
	require.NoError(t, err)
	assert.Empty(t, closed.ReservedBy)
	f.assertConsistent(t, task.ID)
}

func TestRestartAfterClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, domain.NewTaskParams{})

	_, err := f.engine.Assign(ctx, task.ID, "carol", "alice")
	require.NoError(t, err)
	_, err = f.engine.Close(ctx, task.ID, "carol", "fixed")
	require.NoError(t, err)

	got, err := f.engine.Restart(ctx, task.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusOpen, got.Status)
	assert.Empty(t, got.ReservedBy)
	assert.Empty(t, got.AssignedTo)
	assert.Empty(t, got.ClosedBy)
	assert.Empty(t, got.CloseComments)
	assert.Nil(t, got.ClosedDate)
	f.assertConsistent(t, task.ID)
}

func TestDeferThenRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, domain.NewTaskParams{})

	_, err := f.engine.Reserve(ctx, task.ID, "bob")
	require.NoError(t, err)
	deferred, err := f.engine.Defer(ctx, task.ID, "bob", base.Add(7*24*time.Hour), "on leave")
	require.NoError(t, err)
	assert.Empty(t, deferred.ReservedBy)

	got, err := f.engine.Restart(ctx, task.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusOpen, got.Status)
	assert.Nil(t, got.RestartDate)
	assert.Empty(t, got.DeferredBy)
	assert.Nil(t, got.DeferredDate)
	f.assertConsistent(t, task.ID)
}

func TestForward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, domain.NewTaskParams{})

	_, err := f.engine.Reserve(ctx, task.ID, "carol")
	require.NoError(t, err)

	got, err := f.engine.Forward(ctx, task.ID, "bob", "alice", "fyi")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusOpen, got.Status)
	assert.Empty(t, got.ReservedBy)
	assert.Nil(t, got.ReservedDate)
	assert.Equal(t, "bob", got.AssignedTo)
	assert.Equal(t, "bob", got.ForwardedTo)
	assert.Equal(t, "alice", got.ForwardedBy)
	require.NotNil(t, got.ForwardedDate)

	notes := f.notifications(t, "bob")
	require.Len(t, notes, 1)
	assert.Equal(t, domain.NotificationTaskForwarded, notes[0].Type)
	assert.Equal(t, task.ID, notes[0].TaskID)
	assert.Equal(t, domain.TaskLink(task.ID), notes[0].Link)

	history, err := f.engine.GetTaskHistory(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "fyi", history[0].Comments)

	emitted := f.emitter.Events()
	require.Len(t, emitted, 1)
	assert.Equal(t, notes[0].ID, emitted[0].Notification.ID)
	assert.Equal(t, domain.ActionForwarded, emitted[0].Action)
	assert.Equal(t, "alice", emitted[0].Actor)
}

func TestForward_FromClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, domain.NewTaskParams{})

	_, err := f.engine.Close(ctx, task.ID, "alice", "")
	require.NoError(t, err)
	got, err := f.engine.Forward(ctx, task.ID, "bob", "alice", "")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusOpen, got.Status)
	f.assertConsistent(t, task.ID)
}

func TestNotificationOnlyForOtherUsers(t *testing.T) {
	ctx := context.Background()

	t.Run("assign to someone else", func(t *testing.T) {
		f := newFixture(t)
		task := f.create(t, domain.NewTaskParams{})
		_, err := f.engine.Assign(ctx, task.ID, "bob", "alice")
		require.NoError(t, err)

		notes := f.notifications(t, "bob")
		require.Len(t, notes, 1)
		assert.Equal(t, domain.NotificationTaskAssigned, notes[0].Type)
		assert.False(t, notes[0].Read)
		assert.Len(t, f.emitter.Events(), 1)
	})

	t.Run("assign to self", func(t *testing.T) {
		f := newFixture(t)
		task := f.create(t, domain.NewTaskParams{})
		_, err := f.engine.Assign(ctx, task.ID, "alice", "alice")
		require.NoError(t, err)
		assert.Empty(t, f.notifications(t, "alice"))
		assert.Empty(t, f.emitter.Events())
	})

	t.Run("reallocate by supervisor notifies prior owner", func(t *testing.T) {
		f := newFixture(t)
		task := f.create(t, domain.NewTaskParams{})
		_, err := f.engine.Reserve(ctx, task.ID, "bob")
		require.NoError(t, err)

		got, err := f.engine.Reallocate(ctx, task.ID, "sue", "rebalancing")
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusOpen, got.Status)
		assert.Empty(t, got.ReservedBy)

		notes := f.notifications(t, "bob")
		require.Len(t, notes, 1)
		assert.Equal(t, domain.NotificationTaskReallocated, notes[0].Type)
	})

	t.Run("reallocate by owner", func(t *testing.T) {
		f := newFixture(t)
		task := f.create(t, domain.NewTaskParams{})
		_, err := f.engine.Assign(ctx, task.ID, "bob", "alice")
		require.NoError(t, err)

		got, err := f.engine.Reallocate(ctx, task.ID, "bob", "")
		require.NoError(t, err)
		assert.Equal(t, "bob", got.AssignedTo, "assignee is retained")

		notes := f.notifications(t, "bob")
		require.Len(t, notes, 1, "only the original assignment notice")
		assert.Equal(t, domain.NotificationTaskAssigned, notes[0].Type)
	})
}

func TestEmitterFailureDoesNotFailTransition(t *testing.T) {
	f := newFixture(t)
	f.emitter.err = errors.New("delivery down")
	ctx := context.Background()
	task := f.create(t, domain.NewTaskParams{})

	got, err := f.engine.Assign(ctx, task.ID, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusAssigned, got.Status)
	assert.Len(t, f.notifications(t, "bob"), 1)
}

func TestAssignmentHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, domain.NewTaskParams{})

	_, err := f.engine.Reserve(ctx, task.ID, "bob")
	require.NoError(t, err)
	_, err = f.engine.AddComment(ctx, task.ID, "bob", "note")
	require.NoError(t, err)
	_, err = f.engine.Forward(ctx, task.ID, "carol", "bob", "")
	require.NoError(t, err)
	_, err = f.engine.Assign(ctx, task.ID, "dave", "alice")
	require.NoError(t, err)
	_, err = f.engine.Reallocate(ctx, task.ID, "alice", "")
	require.NoError(t, err)

	chain, err := f.engine.GetAssignmentHistory(ctx, task.ID)
	require.NoError(t, err)
	actions := make([]domain.HistoryAction, len(chain))
	for i, h := range chain {
		actions[i] = h.Action
	}
	assert.Equal(t, []domain.HistoryAction{
		domain.ActionReallocated,
		domain.ActionAssigned,
		domain.ActionForwarded,
		domain.ActionReserved,
	}, actions)
	assert.Equal(t, 6, f.historyLen(t, task.ID))
}

func TestEscalate_ClearsReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, domain.NewTaskParams{})

	_, err := f.engine.Reserve(ctx, task.ID, "bob")
	require.NoError(t, err)
	got, err := f.engine.Escalate(ctx, task.ID, "SUPERVISOR_Q")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusEscalated, got.Status)
	assert.Empty(t, got.ReservedBy)

	history, err := f.engine.GetTaskHistory(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SystemActor, history[0].PerformedBy)
	assert.Contains(t, history[0].Details, "to_queue=SUPERVISOR_Q")
}

func TestOverdueTransitionsRecheckDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	due := base.Add(time.Hour)
	task := f.create(t, domain.NewTaskParams{DueDate: &due})

	_, err := f.engine.EscalateOverdue(ctx, task.ID, "SUPERVISOR_Q")
	assert.ErrorIs(t, err, lifecycle.ErrNotDue)
	_, err = f.engine.AutoCloseOverdue(ctx, task.ID)
	assert.ErrorIs(t, err, lifecycle.ErrNotDue)
	assert.True(t, lifecycle.IsSkippable(err))

	f.clock.Advance(2 * time.Hour)
	got, err := f.engine.AutoCloseOverdue(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusClosed, got.Status)

	_, err = f.engine.EscalateOverdue(ctx, task.ID, "SUPERVISOR_Q")
	assert.ErrorIs(t, err, lifecycle.ErrInvalidState)
}

func TestReopenDeferred(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, domain.NewTaskParams{})

	_, err := f.engine.Assign(ctx, task.ID, "bob", "alice")
	require.NoError(t, err)
	_, err = f.engine.Defer(ctx, task.ID, "bob", base.Add(24*time.Hour), "")
	require.NoError(t, err)

	_, err = f.engine.ReopenDeferred(ctx, task.ID)
	assert.ErrorIs(t, err, lifecycle.ErrNotDue)

	f.clock.Advance(25 * time.Hour)
	got, err := f.engine.ReopenDeferred(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusOpen, got.Status)
	assert.Nil(t, got.RestartDate)
	assert.Empty(t, got.AssignedTo)
	f.assertConsistent(t, task.ID)
}

// staleTransactor serves task reads one version behind, as if another
// writer committed between the read and the conditional update.
type staleTransactor struct {
	store.Transactor
}

func (s staleTransactor) WithinTx(ctx context.Context, fn store.UnitOfWorkFn) error {
	return s.Transactor.WithinTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		repos.Tasks = staleTasks{repos.Tasks}
		return fn(ctx, repos)
	})
}

type staleTasks struct {
	store.TaskStore
}

func (s staleTasks) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	task, err := s.TaskStore.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	task.Version--
	return task, nil
}

func TestConflictIsReportedAndWritesNothing(t *testing.T) {
	ctx := context.Background()
	log, _ := logger.GetTestLogger(t)
	st := memory.NewStore(log)
	setup := lifecycle.NewEngine(st, nil, lifecycle.Config{}, log)
	task, err := setup.Create(ctx, domain.NewTaskParams{WorkQueue: "CASEWORK_Q"}, "intake")
	require.NoError(t, err)

	eng := lifecycle.NewEngine(staleTransactor{st}, nil, lifecycle.Config{}, log)
	_, err = eng.Reserve(ctx, task.ID, "bob")
	require.Error(t, err)
	assert.ErrorIs(t, err, lifecycle.ErrStoreConflict)
	assert.ErrorIs(t, err, store.ErrConflict)

	var conflict *lifecycle.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "reserve", conflict.Op)

	batch, err := eng.ReserveNext(ctx, "CASEWORK_Q", "carol", 1)
	require.NoError(t, err, "lost races are skipped in batches")
	assert.Empty(t, batch)

	got, err := setup.ReserveSelected(ctx, []uuid.UUID{task.ID}, "bob")
	require.NoError(t, err)
	assert.Len(t, got, 1, "nothing was written by the conflicting attempts")

	history, err := setup.GetTaskHistory(ctx, task.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	soon := base.Add(2 * time.Hour)
	far := base.Add(10 * 24 * time.Hour)
	overdue := base.Add(-time.Hour)

	a := f.create(t, domain.NewTaskParams{WorkQueue: "A_Q", DueDate: &soon})
	b := f.create(t, domain.NewTaskParams{WorkQueue: "A_Q", DueDate: &far})
	c := f.create(t, domain.NewTaskParams{WorkQueue: "B_Q", DueDate: &overdue})
	d := f.create(t, domain.NewTaskParams{WorkQueue: "A_Q"})

	_, err := f.engine.Assign(ctx, b.ID, "bob", "alice")
	require.NoError(t, err)
	_, err = f.engine.Assign(ctx, d.ID, "bob", "alice")
	require.NoError(t, err)
	_, err = f.engine.Close(ctx, d.ID, "bob", "")
	require.NoError(t, err)

	inQueue, err := f.engine.ListByQueue(ctx, "A_Q")
	require.NoError(t, err)
	assert.Len(t, inQueue, 3)

	openInQueue, err := f.engine.ListByQueue(ctx, "A_Q", domain.TaskStatusOpen)
	require.NoError(t, err)
	require.Len(t, openInQueue, 1)
	assert.Equal(t, a.ID, openInQueue[0].ID)

	mine, err := f.engine.ListByAssignee(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, mine, 1, "closed tasks are not active")
	assert.Equal(t, b.ID, mine[0].ID)

	due, err := f.engine.ListDueWithin(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, c.ID, due[0].ID)
	assert.Equal(t, a.ID, due[1].ID)
}

func TestMarkNotificationRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, domain.NewTaskParams{})

	_, err := f.engine.Assign(ctx, task.ID, "bob", "alice")
	require.NoError(t, err)
	notes := f.notifications(t, "bob")
	require.Len(t, notes, 1)

	got, err := f.engine.GetNotification(ctx, notes[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", got.UserID)
	assert.False(t, got.Read)

	require.NoError(t, f.engine.MarkNotificationRead(ctx, notes[0].ID))
	unread, err := f.engine.ListNotifications(ctx, "bob", true, 10)
	require.NoError(t, err)
	assert.Empty(t, unread)

	err = f.engine.MarkNotificationRead(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotificationNotFound)

	_, err = f.engine.GetNotification(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotificationNotFound)
}

func TestBlankActorIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, domain.NewTaskParams{})

	_, err := f.engine.Reserve(ctx, task.ID, "   ")
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.ErrorIs(t, err, domain.ErrEmptyActor)

	_, err = f.engine.Create(ctx, domain.NewTaskParams{Title: "t", WorkQueue: "CASEWORK_Q"}, "\t")
	assert.ErrorIs(t, err, domain.ErrEmptyActor)

	stored, err := f.engine.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusOpen, stored.Status)
	assert.Empty(t, stored.ReservedBy)
	assert.Equal(t, 1, f.historyLen(t, task.ID))
}
