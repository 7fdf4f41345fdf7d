package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/casequeue/internal/domain"
	"github.com/phrazzld/casequeue/internal/platform/logger"
)

// Status sets used as transition preconditions.
var (
	fromOpen        = []domain.TaskStatus{domain.TaskStatusOpen}
	fromReserved    = []domain.TaskStatus{domain.TaskStatusReserved}
	fromOwned       = []domain.TaskStatus{domain.TaskStatusReserved, domain.TaskStatusAssigned}
	fromRestartable = []domain.TaskStatus{
		domain.TaskStatusClosed, domain.TaskStatusEscalated, domain.TaskStatusDeferred,
	}
	fromDeferred  = []domain.TaskStatus{domain.TaskStatusDeferred}
	fromAny       = domain.AllTaskStatuses()
	fromNotClosed = []domain.TaskStatus{
		domain.TaskStatusOpen, domain.TaskStatusReserved, domain.TaskStatusAssigned,
		domain.TaskStatusDeferred, domain.TaskStatusEscalated,
	}

	// SweepableStatuses are the statuses a missed deadline acts on.
	SweepableStatuses = []domain.TaskStatus{
		domain.TaskStatusOpen, domain.TaskStatusReserved, domain.TaskStatusAssigned,
	}
)

func requireUser(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s cannot be empty", domain.ErrValidation, field)
	}
	return nil
}

// Reserve soft-locks an OPEN task for user.
func (e *Engine) Reserve(ctx context.Context, id uuid.UUID, user string) (*domain.Task, error) {
	return e.run(ctx, id, transition{
		op:     "reserve",
		action: domain.ActionReserved,
		actor:  user,
		from:   fromOpen,
		apply: func(t *domain.Task, now time.Time) (string, error) {
			t.Status = domain.TaskStatusReserved
			t.ReservedBy = user
			t.ReservedDate = domain.TimePtr(now)
			return "", nil
		},
	})
}

// ReserveNext reserves up to n OPEN tasks from queue, best candidates first.
// Each candidate is reserved in its own unit of work; candidates lost to a
// concurrent actor are skipped, so fewer than n tasks may come back. On an
// unexpected store error the tasks reserved so far are returned with it.
func (e *Engine) ReserveNext(ctx context.Context, queue, user string, n int) ([]*domain.Task, error) {
	if n <= 0 {
		return nil, fmt.Errorf("reserve next: %w: n must be positive, got %d", domain.ErrValidation, n)
	}
	if err := requireUser("queue", queue); err != nil {
		return nil, fmt.Errorf("reserve next: %w", err)
	}
	if err := requireUser("user", user); err != nil {
		return nil, fmt.Errorf("reserve next: %w", err)
	}
	n = min(n, e.cfg.ReserveNextMax)

	candidates, err := e.tx.Repositories().Tasks.FindOpenCandidates(ctx, queue, n)
	if err != nil {
		return nil, fmt.Errorf("reserve next: %w", err)
	}

	ids := make([]uuid.UUID, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	return e.reserveEach(ctx, "reserve next", ids, user)
}

// ReserveSelected reserves each listed task that is still OPEN and returns
// only the ones that were reserved.
func (e *Engine) ReserveSelected(ctx context.Context, ids []uuid.UUID, user string) ([]*domain.Task, error) {
	if err := requireUser("user", user); err != nil {
		return nil, fmt.Errorf("reserve selected: %w", err)
	}
	return e.reserveEach(ctx, "reserve selected", ids, user)
}

func (e *Engine) reserveEach(ctx context.Context, op string, ids []uuid.UUID, user string) ([]*domain.Task, error) {
	reserved := make([]*domain.Task, 0, len(ids))
	skipped := 0
	for _, id := range ids {
		task, err := e.Reserve(ctx, id, user)
		if err != nil {
			if IsSkippable(err) {
				skipped++
				continue
			}
			return reserved, fmt.Errorf("%s: %w", op, err)
		}
		reserved = append(reserved, task)
	}

	logger.FromContextOrDefault(ctx, e.logger).Debug("batch reservation finished",
		slog.String("op", op),
		slog.String("user", user),
		slog.Int("requested", len(ids)),
		slog.Int("reserved", len(reserved)),
		slog.Int("skipped", skipped))
	return reserved, nil
}

// Unreserve releases a RESERVED task back to its queue.
func (e *Engine) Unreserve(ctx context.Context, id uuid.UUID, user string) (*domain.Task, error) {
	return e.run(ctx, id, transition{
		op:     "unreserve",
		action: domain.ActionUnreserved,
		actor:  user,
		from:   fromReserved,
		apply: func(t *domain.Task, _ time.Time) (string, error) {
			details := "released_by=" + t.ReservedBy
			t.Status = domain.TaskStatusOpen
			t.ClearReservation()
			return details, nil
		},
	})
}

// Assign pushes an OPEN task onto target and notifies them.
func (e *Engine) Assign(ctx context.Context, id uuid.UUID, target, by string) (*domain.Task, error) {
	if err := requireUser("target", target); err != nil {
		return nil, fmt.Errorf("assign task %s: %w", id, err)
	}
	return e.run(ctx, id, transition{
		op:     "assign",
		action: domain.ActionAssigned,
		actor:  by,
		from:   fromOpen,
		apply: func(t *domain.Task, _ time.Time) (string, error) {
			t.Status = domain.TaskStatusAssigned
			t.AssignedTo = target
			return "assigned_to=" + target, nil
		},
		notify: func(_, after *domain.Task) *notice {
			return &notice{
				recipient: target,
				typ:       domain.NotificationTaskAssigned,
				message:   fmt.Sprintf("Task %q was assigned to you by %s", after.Title, by),
			}
		},
	})
}

// Forward hands a task in any status to target and returns it to OPEN.
func (e *Engine) Forward(ctx context.Context, id uuid.UUID, target, by, comments string) (*domain.Task, error) {
	if err := requireUser("target", target); err != nil {
		return nil, fmt.Errorf("forward task %s: %w", id, err)
	}
	return e.run(ctx, id, transition{
		op:       "forward",
		action:   domain.ActionForwarded,
		actor:    by,
		from:     fromAny,
		comments: comments,
		apply: func(t *domain.Task, now time.Time) (string, error) {
			t.Status = domain.TaskStatusOpen
			t.ClearReservation()
			t.AssignedTo = target
			t.ForwardedTo = target
			t.ForwardedBy = by
			t.ForwardedDate = domain.TimePtr(now)
			return "forwarded_to=" + target, nil
		},
		notify: func(_, after *domain.Task) *notice {
			return &notice{
				recipient: target,
				typ:       domain.NotificationTaskForwarded,
				message:   fmt.Sprintf("Task %q was forwarded to you by %s", after.Title, by),
			}
		},
	})
}

// Defer suspends an owned task until restartDate, which must be in the future.
func (e *Engine) Defer(
	ctx context.Context,
	id uuid.UUID,
	user string,
	restartDate time.Time,
	comment string,
) (*domain.Task, error) {
	return e.run(ctx, id, transition{
		op:       "defer",
		action:   domain.ActionDeferred,
		actor:    user,
		from:     fromOwned,
		comments: comment,
		guard: func(_ *domain.Task, now time.Time) error {
			if !restartDate.After(now) {
				return fmt.Errorf("%w: restart date %s is not in the future",
					domain.ErrValidation, restartDate.UTC().Format(time.RFC3339))
			}
			return nil
		},
		apply: func(t *domain.Task, now time.Time) (string, error) {
			t.Status = domain.TaskStatusDeferred
			t.ClearReservation()
			t.DeferredBy = user
			t.DeferredDate = domain.TimePtr(now)
			t.RestartDate = domain.TimePtr(restartDate)
			return "restart_date=" + restartDate.UTC().Format(time.RFC3339), nil
		},
	})
}

// Close closes a task. Closing an already CLOSED task is an InvalidStateError.
func (e *Engine) Close(ctx context.Context, id uuid.UUID, user, comments string) (*domain.Task, error) {
	return e.run(ctx, id, transition{
		op:       "close",
		action:   domain.ActionClosed,
		actor:    user,
		from:     fromNotClosed,
		comments: comments,
		apply: func(t *domain.Task, now time.Time) (string, error) {
			closeTask(t, user, comments, now)
			return "", nil
		},
	})
}

func closeTask(t *domain.Task, by, comments string, now time.Time) {
	t.Status = domain.TaskStatusClosed
	t.ClearReservation()
	t.ClosedBy = by
	t.ClosedDate = domain.TimePtr(now)
	t.CloseComments = comments
}

// Restart reopens a CLOSED, ESCALATED or DEFERRED task with every
// ownership, closure and deferral field cleared.
func (e *Engine) Restart(ctx context.Context, id uuid.UUID, user string) (*domain.Task, error) {
	return e.run(ctx, id, transition{
		op:     "restart",
		action: domain.ActionRestarted,
		actor:  user,
		from:   fromRestartable,
		apply: func(t *domain.Task, _ time.Time) (string, error) {
			t.Status = domain.TaskStatusOpen
			t.ClearOwnership()
			return "", nil
		},
	})
}

// Reallocate returns an owned task to OPEN. assignedTo is kept. The previous
// owner is notified when it is someone other than user.
func (e *Engine) Reallocate(ctx context.Context, id uuid.UUID, user, comments string) (*domain.Task, error) {
	return e.run(ctx, id, transition{
		op:       "reallocate",
		action:   domain.ActionReallocated,
		actor:    user,
		from:     fromOwned,
		comments: comments,
		apply: func(t *domain.Task, _ time.Time) (string, error) {
			details := "previous_owner=" + t.Owner()
			t.Status = domain.TaskStatusOpen
			t.ClearReservation()
			return details, nil
		},
		notify: func(before, after *domain.Task) *notice {
			return &notice{
				recipient: before.Owner(),
				typ:       domain.NotificationTaskReallocated,
				message:   fmt.Sprintf("Task %q was reallocated by %s", after.Title, user),
			}
		},
	})
}

// Escalate moves a task in any status to queue as ESCALATED. It is
// performed by the system.
func (e *Engine) Escalate(ctx context.Context, id uuid.UUID, queue string) (*domain.Task, error) {
	return e.escalate(ctx, id, queue, fromAny, nil)
}

// EscalateOverdue escalates a task only while it is still OPEN, RESERVED
// or ASSIGNED and past its due date, as re-checked inside the unit of work.
func (e *Engine) EscalateOverdue(ctx context.Context, id uuid.UUID, queue string) (*domain.Task, error) {
	return e.escalate(ctx, id, queue, SweepableStatuses, requireOverdue)
}

func (e *Engine) escalate(
	ctx context.Context,
	id uuid.UUID,
	queue string,
	from []domain.TaskStatus,
	guard func(*domain.Task, time.Time) error,
) (*domain.Task, error) {
	if err := requireUser("queue", queue); err != nil {
		return nil, fmt.Errorf("escalate task %s: %w", id, err)
	}
	return e.run(ctx, id, transition{
		op:     "escalate",
		action: domain.ActionEscalated,
		actor:  domain.SystemActor,
		from:   from,
		guard:  guard,
		apply: func(t *domain.Task, _ time.Time) (string, error) {
			details := fmt.Sprintf("from_queue=%s to_queue=%s", t.WorkQueue, queue)
			t.Status = domain.TaskStatusEscalated
			t.WorkQueue = queue
			t.ClearReservation()
			return details, nil
		},
	})
}

// AutoClose closes a task in any status on behalf of the system.
func (e *Engine) AutoClose(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return e.autoClose(ctx, id, fromAny, nil)
}

// AutoCloseOverdue auto-closes a task only while it is still OPEN, RESERVED
// or ASSIGNED and past its due date.
func (e *Engine) AutoCloseOverdue(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return e.autoClose(ctx, id, SweepableStatuses, requireOverdue)
}

func (e *Engine) autoClose(
	ctx context.Context,
	id uuid.UUID,
	from []domain.TaskStatus,
	guard func(*domain.Task, time.Time) error,
) (*domain.Task, error) {
	const comments = "closed automatically after the due date passed"
	return e.run(ctx, id, transition{
		op:       "auto close",
		action:   domain.ActionAutoClosed,
		actor:    domain.SystemActor,
		from:     from,
		guard:    guard,
		comments: comments,
		apply: func(t *domain.Task, now time.Time) (string, error) {
			closeTask(t, domain.SystemActor, comments, now)
			return "", nil
		},
	})
}

func requireOverdue(t *domain.Task, now time.Time) error {
	if !t.IsOverdue(now) {
		return fmt.Errorf("%w: task %s", ErrNotDue, t.ID)
	}
	return nil
}

// ReopenDeferred restarts a DEFERRED task whose restart date has passed, on
// behalf of the system.
func (e *Engine) ReopenDeferred(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return e.run(ctx, id, transition{
		op:     "reopen deferred",
		action: domain.ActionRestarted,
		actor:  domain.SystemActor,
		from:   fromDeferred,
		guard: func(t *domain.Task, now time.Time) error {
			if t.RestartDate == nil || t.RestartDate.After(now) {
				return fmt.Errorf("%w: task %s restart date not reached", ErrNotDue, t.ID)
			}
			return nil
		},
		apply: func(t *domain.Task, _ time.Time) (string, error) {
			t.Status = domain.TaskStatusOpen
			t.ClearOwnership()
			return "restart date reached", nil
		},
	})
}

// AddComment records a comment without changing status.
func (e *Engine) AddComment(ctx context.Context, id uuid.UUID, user, comment string) (*domain.Task, error) {
	if strings.TrimSpace(comment) == "" {
		return nil, fmt.Errorf("comment on task %s: %w: comment cannot be empty", id, domain.ErrValidation)
	}
	return e.run(ctx, id, transition{
		op:       "comment",
		action:   domain.ActionCommented,
		actor:    user,
		from:     fromAny,
		comments: comment,
		apply: func(*domain.Task, time.Time) (string, error) {
			return "", nil
		},
	})
}

// ModifyTimeWorked adds delta minutes, which may be negative, to the task's
// time worked. The total may not drop below zero.
func (e *Engine) ModifyTimeWorked(
	ctx context.Context,
	id uuid.UUID,
	user string,
	delta int,
	comment string,
) (*domain.Task, error) {
	if delta == 0 {
		return nil, fmt.Errorf("modify time on task %s: %w: delta cannot be zero", id, domain.ErrValidation)
	}
	return e.run(ctx, id, transition{
		op:       "modify time",
		action:   domain.ActionTimeModified,
		actor:    user,
		from:     fromAny,
		comments: comment,
		apply: func(t *domain.Task, _ time.Time) (string, error) {
			total := t.TimeWorked + delta
			if total < 0 {
				return "", fmt.Errorf("%w: time worked would become %d", domain.ErrValidation, total)
			}
			t.TimeWorked = total
			return fmt.Sprintf("delta=%+d total=%d", delta, total), nil
		},
	})
}
