package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/casequeue/internal/domain"
	"github.com/phrazzld/casequeue/internal/platform/logger"
	"github.com/phrazzld/casequeue/internal/store"
)

// defaultNotificationLimit caps ListByUser when no limit is given.
const defaultNotificationLimit = 50

const notificationColumns = `id, user_id, task_id, message, link, type, read, created_at`

// PostgresNotificationStore implements the store.NotificationStore interface.
type PostgresNotificationStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresNotificationStore creates a new PostgreSQL implementation of the NotificationStore interface.
// If logger is nil, a default logger will be used.
func NewPostgresNotificationStore(db store.DBTX, logger *slog.Logger) *PostgresNotificationStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresNotificationStore{
		db:     db,
		logger: logger.With(slog.String("component", "notification_store")),
	}
}

// Ensure PostgresNotificationStore implements store.NotificationStore interface
var _ store.NotificationStore = (*PostgresNotificationStore)(nil)

// WithTx returns a new store instance that uses the provided transaction.
func (s *PostgresNotificationStore) WithTx(tx *sql.Tx) *PostgresNotificationStore {
	return &PostgresNotificationStore{
		db:     tx,
		logger: s.logger,
	}
}

// Enqueue implements store.NotificationStore.Enqueue
func (s *PostgresNotificationStore) Enqueue(ctx context.Context, n *domain.Notification) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		INSERT INTO notifications (id, user_id, task_id, message, link, type, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		n.ID,
		n.UserID,
		n.TaskID,
		n.Message,
		n.Link,
		string(n.Type),
		n.Read,
		n.CreatedAt,
	)
	if err != nil {
		log.Error("failed to enqueue notification",
			slog.String("error", err.Error()),
			slog.String("task_id", n.TaskID.String()),
			slog.String("type", string(n.Type)))
		return MapError(err)
	}

	log.Debug("notification enqueued",
		slog.String("notification_id", n.ID.String()),
		slog.String("user_id", n.UserID))
	return nil
}

// ListByUser implements store.NotificationStore.ListByUser
func (s *PostgresNotificationStore) ListByUser(
	ctx context.Context,
	userID string,
	unreadOnly bool,
	limit int,
) ([]*domain.Notification, error) {
	if limit <= 0 {
		limit = defaultNotificationLimit
	}

	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE user_id = $1 AND ($2 = FALSE OR read = FALSE)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, userID, unreadOnly, limit)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to query notifications",
			slog.String("error", err.Error()),
			slog.String("user_id", userID))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]*domain.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification row: %w", err)
		}
		out = append(out, n)
	}

	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}

	return out, nil
}

// GetByID implements store.NotificationStore.GetByID
func (s *PostgresNotificationStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`

	n, err := scanNotification(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotificationNotFound
		}
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to get notification",
			slog.String("error", err.Error()),
			slog.String("notification_id", id.String()))
		return nil, MapError(err)
	}
	return n, nil
}

// MarkRead implements store.NotificationStore.MarkRead
func (s *PostgresNotificationStore) MarkRead(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1`, id)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to mark notification read",
			slog.String("error", err.Error()),
			slog.String("notification_id", id.String()))
		return MapError(err)
	}

	return CheckRowsAffected(result, store.ErrNotificationNotFound)
}

func scanNotification(row rowScanner) (*domain.Notification, error) {
	var (
		n   domain.Notification
		typ string
	)
	if err := row.Scan(&n.ID, &n.UserID, &n.TaskID, &n.Message, &n.Link, &typ, &n.Read, &n.CreatedAt); err != nil {
		return nil, err
	}
	n.Type = domain.NotificationType(typ)
	n.CreatedAt = n.CreatedAt.UTC()
	return &n, nil
}
