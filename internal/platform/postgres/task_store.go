package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/casequeue/internal/domain"
	"github.com/phrazzld/casequeue/internal/platform/logger"
	"github.com/phrazzld/casequeue/internal/store"
)

// taskColumns is the column list shared by every task SELECT, in scan order.
const taskColumns = `
	id, title, description, work_queue, status, priority, due_date,
	assigned_to, reserved_by, reserved_date,
	forwarded_to, forwarded_by, forwarded_date,
	deferred_by, deferred_date, restart_date,
	closed_by, closed_date, close_comments,
	time_worked, version, created_at, updated_at`

// PostgresTaskStore implements the store.TaskStore interface
// using a PostgreSQL database as the storage backend.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a new PostgreSQL implementation of the TaskStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// Ensure PostgresTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*PostgresTaskStore)(nil)

// WithTx returns a new store instance that uses the provided transaction.
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) *PostgresTaskStore {
	return &PostgresTaskStore{
		db:     tx,
		logger: s.logger,
	}
}

// Create implements store.TaskStore.Create
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		log.Warn("task validation failed during create",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23)
	`
	_, err := s.db.ExecContext(ctx, query,
		task.ID,
		task.Title,
		task.Description,
		task.WorkQueue,
		string(task.Status),
		task.Priority,
		nullTime(task.DueDate),
		nullString(task.AssignedTo),
		nullString(task.ReservedBy),
		nullTime(task.ReservedDate),
		nullString(task.ForwardedTo),
		nullString(task.ForwardedBy),
		nullTime(task.ForwardedDate),
		nullString(task.DeferredBy),
		nullTime(task.DeferredDate),
		nullTime(task.RestartDate),
		nullString(task.ClosedBy),
		nullTime(task.ClosedDate),
		nullString(task.CloseComments),
		task.TimeWorked,
		task.Version,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		if IsCheckConstraintViolation(err) {
			log.Warn("task rejected by check constraint",
				slog.String("error", err.Error()),
				slog.String("task_id", task.ID.String()))
		} else {
			log.Error("failed to create task",
				slog.String("error", err.Error()),
				slog.String("task_id", task.ID.String()))
		}
		return MapError(err)
	}

	log.Debug("task created",
		slog.String("task_id", task.ID.String()),
		slog.String("work_queue", task.WorkQueue))
	return nil
}

// GetByID implements store.TaskStore.GetByID
func (s *PostgresTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("task not found", slog.String("task_id", id.String()))
			return nil, store.ErrTaskNotFound
		}
		log.Error("failed to get task",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return nil, MapError(err)
	}

	return task, nil
}

// Update implements store.TaskStore.Update. The row is only written when
// its status and version still match expect.
func (s *PostgresTaskStore) Update(ctx context.Context, task *domain.Task, expect store.Expectation) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		log.Warn("task validation failed during update",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	query := `
		UPDATE tasks SET
			work_queue = $1, status = $2, priority = $3, due_date = $4,
			assigned_to = $5, reserved_by = $6, reserved_date = $7,
			forwarded_to = $8, forwarded_by = $9, forwarded_date = $10,
			deferred_by = $11, deferred_date = $12, restart_date = $13,
			closed_by = $14, closed_date = $15, close_comments = $16,
			time_worked = $17, updated_at = $18,
			version = version + 1
		WHERE id = $19 AND status = $20 AND version = $21
	`
	result, err := s.db.ExecContext(ctx, query,
		task.WorkQueue,
		string(task.Status),
		task.Priority,
		nullTime(task.DueDate),
		nullString(task.AssignedTo),
		nullString(task.ReservedBy),
		nullTime(task.ReservedDate),
		nullString(task.ForwardedTo),
		nullString(task.ForwardedBy),
		nullTime(task.ForwardedDate),
		nullString(task.DeferredBy),
		nullTime(task.DeferredDate),
		nullTime(task.RestartDate),
		nullString(task.ClosedBy),
		nullTime(task.ClosedDate),
		nullString(task.CloseComments),
		task.TimeWorked,
		task.UpdatedAt,
		task.ID,
		string(expect.Status),
		expect.Version,
	)
	if err != nil {
		log.Error("failed to update task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return MapError(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		exists, err := s.exists(ctx, task.ID)
		if err != nil {
			return err
		}
		if !exists {
			return store.ErrTaskNotFound
		}
		log.Info("conditional task update lost",
			slog.String("task_id", task.ID.String()),
			slog.String("expected_status", string(expect.Status)),
			slog.Int64("expected_version", expect.Version))
		return fmt.Errorf("%w: task %s is no longer %s at version %d",
			store.ErrConflict, task.ID, expect.Status, expect.Version)
	}

	task.Version = expect.Version + 1
	return nil
}

func (s *PostgresTaskStore) exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM tasks WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, MapError(err)
	}
	return exists, nil
}

// FindOpenCandidates implements store.TaskStore.FindOpenCandidates
func (s *PostgresTaskStore) FindOpenCandidates(
	ctx context.Context,
	queue string,
	limit int,
) ([]*domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE work_queue = $1 AND status = $2
		ORDER BY priority DESC, due_date ASC NULLS LAST, created_at ASC, id ASC
		LIMIT $3
	`
	return s.queryTasks(ctx, query, queue, string(domain.TaskStatusOpen), limit)
}

// Find implements store.TaskStore.Find
func (s *PostgresTaskStore) Find(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.WorkQueue != "" {
		where = append(where, "work_queue = "+arg(filter.WorkQueue))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = arg(string(st))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.AssignedTo != "" {
		where = append(where, "assigned_to = "+arg(filter.AssignedTo))
	}
	if filter.DueAfter != nil {
		where = append(where, "due_date > "+arg(filter.DueAfter.UTC()))
	}
	if filter.DueBefore != nil {
		where = append(where, "due_date < "+arg(filter.DueBefore.UTC()))
	}
	if filter.RestartBefore != nil {
		where = append(where, "restart_date < "+arg(filter.RestartBefore.UTC()))
	}

	var b strings.Builder
	b.WriteString("SELECT " + taskColumns + " FROM tasks")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY due_date ASC NULLS LAST, created_at ASC, id ASC")
	if filter.Limit > 0 {
		b.WriteString(" LIMIT " + arg(filter.Limit))
	}
	if filter.Offset > 0 {
		b.WriteString(" OFFSET " + arg(filter.Offset))
	}

	return s.queryTasks(ctx, b.String(), args...)
}

func (s *PostgresTaskStore) queryTasks(ctx context.Context, query string, args ...any) ([]*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query tasks", slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	tasks := make([]*domain.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			log.Error("failed to scan task row", slog.String("error", err.Error()))
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		log.Error("error iterating task rows", slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	return tasks, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		t                                             domain.Task
		status                                        string
		assignedTo, reservedBy, forwardedTo           sql.NullString
		forwardedBy, deferredBy, closedBy, closeNotes sql.NullString
		dueDate, reservedDate, forwardedDate          sql.NullTime
		deferredDate, restartDate, closedDate         sql.NullTime
	)

	err := row.Scan(
		&t.ID, &t.Title, &t.Description, &t.WorkQueue, &status, &t.Priority, &dueDate,
		&assignedTo, &reservedBy, &reservedDate,
		&forwardedTo, &forwardedBy, &forwardedDate,
		&deferredBy, &deferredDate, &restartDate,
		&closedBy, &closedDate, &closeNotes,
		&t.TimeWorked, &t.Version, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = domain.TaskStatus(status)
	t.DueDate = timeFromNull(dueDate)
	t.AssignedTo = assignedTo.String
	t.ReservedBy = reservedBy.String
	t.ReservedDate = timeFromNull(reservedDate)
	t.ForwardedTo = forwardedTo.String
	t.ForwardedBy = forwardedBy.String
	t.ForwardedDate = timeFromNull(forwardedDate)
	t.DeferredBy = deferredBy.String
	t.DeferredDate = timeFromNull(deferredDate)
	t.RestartDate = timeFromNull(restartDate)
	t.ClosedBy = closedBy.String
	t.ClosedDate = timeFromNull(closedDate)
	t.CloseComments = closeNotes.String
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()

	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timeFromNull(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
