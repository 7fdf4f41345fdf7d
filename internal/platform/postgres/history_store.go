package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/casequeue/internal/domain"
	"github.com/phrazzld/casequeue/internal/platform/logger"
	"github.com/phrazzld/casequeue/internal/store"
)

const historyColumns = `
		SELECT id, task_id, version, action, performed_by, performed_at,
			previous_status, new_status, comments, details
		FROM task_history`

// PostgresHistoryStore implements the store.HistoryStore interface.
// It only ever inserts into task_history.
type PostgresHistoryStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresHistoryStore creates a new PostgreSQL implementation of the HistoryStore interface.
// If logger is nil, a default logger will be used.
func NewPostgresHistoryStore(db store.DBTX, logger *slog.Logger) *PostgresHistoryStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresHistoryStore{
		db:     db,
		logger: logger.With(slog.String("component", "history_store")),
	}
}

// Ensure PostgresHistoryStore implements store.HistoryStore interface
var _ store.HistoryStore = (*PostgresHistoryStore)(nil)

// WithTx returns a new store instance that uses the provided transaction.
func (s *PostgresHistoryStore) WithTx(tx *sql.Tx) *PostgresHistoryStore {
	return &PostgresHistoryStore{
		db:     tx,
		logger: s.logger,
	}
}

// Append implements store.HistoryStore.Append
func (s *PostgresHistoryStore) Append(ctx context.Context, entry *domain.TaskHistory) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := entry.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO task_history (
			id, task_id, version, action, performed_by, performed_at,
			previous_status, new_status, comments, details
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.TaskID,
		entry.Version,
		string(entry.Action),
		entry.PerformedBy,
		entry.PerformedAt,
		nullString(string(entry.PreviousStatus)),
		string(entry.NewStatus),
		nullString(entry.Comments),
		nullString(entry.Details),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			log.Warn("history row already exists for task version",
				slog.String("task_id", entry.TaskID.String()),
				slog.Int64("version", entry.Version))
			return fmt.Errorf("%w: history for task %s version %d",
				store.ErrDuplicate, entry.TaskID, entry.Version)
		}
		log.Error("failed to append task history",
			slog.String("error", err.Error()),
			slog.String("task_id", entry.TaskID.String()),
			slog.String("action", string(entry.Action)))
		return MapError(err)
	}

	return nil
}

// ListByTask implements store.HistoryStore.ListByTask
func (s *PostgresHistoryStore) ListByTask(
	ctx context.Context,
	taskID uuid.UUID,
	actions ...domain.HistoryAction,
) ([]*domain.TaskHistory, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	args := []any{taskID}
	query := historyColumns + `
		WHERE task_id = $1`
	if len(actions) > 0 {
		placeholders := make([]string, len(actions))
		for i, a := range actions {
			args = append(args, string(a))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		query += ` AND action IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY version DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query task history",
			slog.String("error", err.Error()),
			slog.String("task_id", taskID.String()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]*domain.TaskHistory, 0)
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task history row: %w", err)
		}
		entries = append(entries, h)
	}

	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}

	return entries, nil
}

// LatestByTask implements store.HistoryStore.LatestByTask
func (s *PostgresHistoryStore) LatestByTask(ctx context.Context, taskID uuid.UUID) (*domain.TaskHistory, error) {
	query := historyColumns + `
		WHERE task_id = $1
		ORDER BY version DESC
		LIMIT 1`

	h, err := scanHistory(s.db.QueryRowContext(ctx, query, taskID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no history for task %s", store.ErrNotFound, taskID)
		}
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to get latest task history",
			slog.String("error", err.Error()),
			slog.String("task_id", taskID.String()))
		return nil, MapError(err)
	}
	return h, nil
}

func scanHistory(row rowScanner) (*domain.TaskHistory, error) {
	var (
		h                           domain.TaskHistory
		action, newStatus           string
		previous, comments, details sql.NullString
	)
	if err := row.Scan(
		&h.ID, &h.TaskID, &h.Version, &action, &h.PerformedBy, &h.PerformedAt,
		&previous, &newStatus, &comments, &details,
	); err != nil {
		return nil, err
	}
	h.Action = domain.HistoryAction(action)
	h.NewStatus = domain.TaskStatus(newStatus)
	h.PreviousStatus = domain.TaskStatus(previous.String)
	h.Comments = comments.String
	h.Details = details.String
	h.PerformedAt = h.PerformedAt.UTC()
	return &h, nil
}
