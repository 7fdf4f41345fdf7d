package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/casequeue/internal/domain"
	"github.com/phrazzld/casequeue/internal/events"
	"github.com/phrazzld/casequeue/internal/platform/logger"
	"github.com/phrazzld/casequeue/internal/store"
)

// DefaultReserveNextMax caps a single ReserveNext call when Config leaves it unset.
const DefaultReserveNextMax = 50

// Config holds engine tunables.
type Config struct {
	// ReserveNextMax is the largest batch ReserveNext will attempt.
	ReserveNextMax int
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine runs task lifecycle transitions against a store.Transactor.
type Engine struct {
	tx      store.Transactor
	emitter events.EventEmitter
	cfg     Config
	now     func() time.Time
	logger  *slog.Logger
}

// NewEngine creates an Engine. emitter may be nil, in which case committed
// notifications are only stored.
func NewEngine(
	tx store.Transactor,
	emitter events.EventEmitter,
	cfg Config,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReserveNextMax <= 0 {
		cfg.ReserveNextMax = DefaultReserveNextMax
	}

	e := &Engine{
		tx:      tx,
		emitter: emitter,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "lifecycle_engine")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// notice describes a notification a transition wants to send.
type notice struct {
	recipient string
	typ       domain.NotificationType
	message   string
}

// transition is one row of the state machine.
type transition struct {
	op       string
	action   domain.HistoryAction
	actor    string
	from     []domain.TaskStatus
	comments string

	// guard runs after the status check and may reject the transition.
	guard func(t *domain.Task, now time.Time) error

	// apply mutates the copy of the task and returns the history details.
	apply func(t *domain.Task, now time.Time) (details string, err error)

	// notify inspects the before and after state and may request a notification.
	notify func(before, after *domain.Task) *notice
}

// run executes tr against task id as a single unit of work.
func (e *Engine) run(ctx context.Context, id uuid.UUID, tr transition) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, e.logger)

	if strings.TrimSpace(tr.actor) == "" {
		return nil, fmt.Errorf("%s task %s: %w: %w", tr.op, id, domain.ErrValidation, domain.ErrEmptyActor)
	}

	var (
		result   *domain.Task
		previous domain.TaskStatus
		notes    []*domain.Notification
	)
	err := e.tx.WithinTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		notes = nil

		current, err := repos.Tasks.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !slices.Contains(tr.from, current.Status) {
			return &InvalidStateError{Op: tr.op, TaskID: id, Expected: tr.from, Actual: current.Status}
		}

		now := e.now().UTC()
		if tr.guard != nil {
			if err := tr.guard(current, now); err != nil {
				return err
			}
		}

		next := current.Clone()
		details, err := tr.apply(next, now)
		if err != nil {
			return err
		}
		next.UpdatedAt = now

		expect := store.Expectation{Status: current.Status, Version: current.Version}
		if err := repos.Tasks.Update(ctx, next, expect); err != nil {
			return err
		}

		entry, err := domain.NewTaskHistory(next, tr.action, tr.actor, current.Status, tr.comments, details)
		if err != nil {
			return err
		}
		if err := repos.History.Append(ctx, entry); err != nil {
			return err
		}

		if tr.notify != nil {
			if n := tr.notify(current, next); n != nil && n.recipient != "" && n.recipient != tr.actor {
				note, err := domain.NewNotification(n.recipient, next, n.typ, n.message, now)
				if err != nil {
					return err
				}
				if err := repos.Notifications.Enqueue(ctx, note); err != nil {
					return err
				}
				notes = append(notes, note)
			}
		}

		result = next
		previous = current.Status
		return nil
	})
	if err != nil {
		err = classify(tr.op, id, err)
		if IsSkippable(err) {
			log.Debug("transition rejected",
				slog.String("op", tr.op),
				slog.String("task_id", id.String()),
				slog.String("error", err.Error()))
		} else {
			log.Error("transition failed",
				slog.String("op", tr.op),
				slog.String("task_id", id.String()),
				slog.String("error", err.Error()))
		}
		return nil, err
	}

	log.Info("task transitioned",
		slog.String("op", tr.op),
		slog.String("task_id", id.String()),
		slog.String("actor", tr.actor),
		slog.String("from", string(previous)),
		slog.String("to", string(result.Status)),
		slog.Int64("version", result.Version))

	e.publish(ctx, tr, notes)
	return result, nil
}

// publish emits committed notifications. Failures are logged only; the
// notification rows are already durable.
func (e *Engine) publish(ctx context.Context, tr transition, notes []*domain.Notification) {
	if e.emitter == nil {
		return
	}
	for _, n := range notes {
		event := events.NewNotificationEvent(n, tr.action, tr.actor, e.now())
		if err := e.emitter.EmitEvent(ctx, event); err != nil {
			logger.FromContextOrDefault(ctx, e.logger).Warn("failed to publish notification event",
				slog.String("notification_id", n.ID.String()),
				slog.String("error", err.Error()))
		}
	}
}

// Create stores a new OPEN task together with its CREATED history row.
func (e *Engine) Create(ctx context.Context, p domain.NewTaskParams, actor string) (*domain.Task, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, fmt.Errorf("create task: %w: %w", domain.ErrValidation, domain.ErrEmptyActor)
	}

	task, err := domain.NewTask(p, e.now())
	if err != nil {
		return nil, err
	}

	err = e.tx.WithinTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		if err := repos.Tasks.Create(ctx, task); err != nil {
			return err
		}
		entry, err := domain.NewTaskHistory(task, domain.ActionCreated, actor, "", "", "")
		if err != nil {
			return err
		}
		return repos.History.Append(ctx, entry)
	})
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	logger.FromContextOrDefault(ctx, e.logger).Info("task created",
		slog.String("task_id", task.ID.String()),
		slog.String("work_queue", task.WorkQueue),
		slog.String("actor", actor))
	return task, nil
}
