package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/casequeue/internal/domain"
	"github.com/phrazzld/casequeue/internal/lifecycle"
	"github.com/phrazzld/casequeue/internal/store"
)

// Engine is the subset of the lifecycle engine the sweeper drives.
type Engine interface {
	FindTasks(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, error)
	EscalateOverdue(ctx context.Context, id uuid.UUID, queue string) (*domain.Task, error)
	AutoCloseOverdue(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	ReopenDeferred(ctx context.Context, id uuid.UUID) (*domain.Task, error)
}

// Config holds configuration for the sweeper
type Config struct {
	// Interval between runs. If zero, defaults to one minute.
	Interval time.Duration

	// BatchSize caps how many tasks of each kind one run selects.
	// If zero, defaults to 200.
	BatchSize int

	// MaxRuns is the run budget. The sweeper stops by itself after this
	// many runs; zero means it runs until stopped.
	MaxRuns int

	// EscalationTargets maps a queue to the queue its overdue tasks are
	// escalated to. Overdue tasks in unlisted queues are auto-closed.
	EscalationTargets map[string]string

	// ReopenDeferred restarts DEFERRED tasks whose restart date has passed.
	ReopenDeferred bool
}

// DefaultConfig returns a Config with reasonable defaults
func DefaultConfig() Config {
	return Config{
		Interval:  time.Minute,
		BatchSize: 200,
	}
}

// Result counts what a single run did.
type Result struct {
	Selected   int `json:"selected"`
	Escalated  int `json:"escalated"`
	AutoClosed int `json:"auto_closed"`
	Reopened   int `json:"reopened"`
	// Skipped tasks changed underneath the run and no longer qualified.
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Option customizes a Sweeper.
type Option func(*Sweeper)

// WithClock replaces the wall clock used to select overdue tasks.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		s.now = now
	}
}

// Sweeper runs the deadline policy on a ticker.
type Sweeper struct {
	engine Engine
	config Config
	now    func() time.Time
	logger *slog.Logger
	runs   atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Sweeper. If logger is nil, a default logger will be used.
func New(engine Engine, config Config, logger *slog.Logger, opts ...Option) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}

	s := &Sweeper{
		engine: engine,
		config: config,
		now:    time.Now,
		logger: logger.With(slog.String("component", "deadline_sweeper")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Runs returns how many runs have completed.
func (s *Sweeper) Runs() int {
	return int(s.runs.Load())
}

// RunOnce performs a single sweep. Per-task failures are logged and counted
// in the Result; an error is returned only when candidates cannot be selected.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	now := s.now().UTC()

	overdue, err := s.engine.FindTasks(ctx, store.TaskFilter{
		Statuses:  lifecycle.SweepableStatuses,
		DueBefore: &now,
		Limit:     s.config.BatchSize,
	})
	if err != nil {
		return res, fmt.Errorf("select overdue tasks: %w", err)
	}
	res.Selected = len(overdue)

	for _, task := range overdue {
		if ctx.Err() != nil {
			break
		}
		target, escalate := s.config.EscalationTargets[task.WorkQueue]
		if escalate {
			_, err = s.engine.EscalateOverdue(ctx, task.ID, target)
		} else {
			_, err = s.engine.AutoCloseOverdue(ctx, task.ID)
		}
		switch {
		case err == nil && escalate:
			res.Escalated++
		case err == nil:
			res.AutoClosed++
		default:
			s.recordFailure(ctx, &res, task, err)
		}
	}

	if s.config.ReopenDeferred && ctx.Err() == nil {
		deferred, err := s.engine.FindTasks(ctx, store.TaskFilter{
			Statuses:      []domain.TaskStatus{domain.TaskStatusDeferred},
			RestartBefore: &now,
			Limit:         s.config.BatchSize,
		})
		if err != nil {
			return res, fmt.Errorf("select deferred tasks: %w", err)
		}
		res.Selected += len(deferred)

		for _, task := range deferred {
			if ctx.Err() != nil {
				break
			}
			if _, err := s.engine.ReopenDeferred(ctx, task.ID); err != nil {
				s.recordFailure(ctx, &res, task, err)
				continue
			}
			res.Reopened++
		}
	}

	s.logger.Info("sweep finished",
		slog.Int("selected", res.Selected),
		slog.Int("escalated", res.Escalated),
		slog.Int("auto_closed", res.AutoClosed),
		slog.Int("reopened", res.Reopened),
		slog.Int("skipped", res.Skipped),
		slog.Int("failed", res.Failed))

	return res, ctx.Err()
}

func (s *Sweeper) recordFailure(ctx context.Context, res *Result, task *domain.Task, err error) {
	if lifecycle.IsSkippable(err) {
		res.Skipped++
		s.logger.DebugContext(ctx, "task no longer qualifies",
			slog.String("task_id", task.ID.String()),
			slog.String("error", err.Error()))
		return
	}
	res.Failed++
	s.logger.ErrorContext(ctx, "failed to sweep task",
		slog.String("task_id", task.ID.String()),
		slog.String("work_queue", task.WorkQueue),
		slog.String("error", err.Error()))
}

// Run sweeps on every tick until ctx is cancelled or the run budget is
// spent. It returns nil in both cases.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logger.Info("deadline sweeper started",
		slog.Duration("interval", s.config.Interval),
		slog.Int("max_runs", s.config.MaxRuns))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("deadline sweeper stopped", slog.Int("runs", s.Runs()))
			return nil

		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("sweep failed", slog.String("error", err.Error()))
			}
			runs := s.runs.Add(1)
			if s.config.MaxRuns > 0 && runs >= int64(s.config.MaxRuns) {
				s.logger.Info("deadline sweeper run budget spent", slog.Int64("runs", runs))
				return nil
			}
		}
	}
}

// Start runs the sweeper in a background goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.Run(ctx)
	}()
}

// Stop cancels a started sweeper and waits for the current run to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}
