package postgres

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/phrazzld/casequeue/internal/store"
)

// Transactor implements store.Transactor on top of a *sql.DB. Each unit of
// work runs in its own database transaction.
type Transactor struct {
	db            *sql.DB
	tasks         *PostgresTaskStore
	history       *PostgresHistoryStore
	notifications *PostgresNotificationStore
}

// NewTransactor creates a Transactor and the stores it binds to each
// transaction.
func NewTransactor(db *sql.DB, logger *slog.Logger) *Transactor {
	return &Transactor{
		db:            db,
		tasks:         NewPostgresTaskStore(db, logger),
		history:       NewPostgresHistoryStore(db, logger),
		notifications: NewPostgresNotificationStore(db, logger),
	}
}

// Ensure Transactor implements store.Transactor interface
var _ store.Transactor = (*Transactor)(nil)

// WithinTx implements store.Transactor.WithinTx
func (t *Transactor) WithinTx(ctx context.Context, fn store.UnitOfWorkFn) error {
	return store.RunInTransaction(ctx, t.db, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, store.Repositories{
			Tasks:         t.tasks.WithTx(tx),
			History:       t.history.WithTx(tx),
			Notifications: t.notifications.WithTx(tx),
		})
	})
}

// Repositories implements store.Transactor.Repositories
func (t *Transactor) Repositories() store.Repositories {
	return store.Repositories{
		Tasks:         t.tasks,
		History:       t.history,
		Notifications: t.notifications,
	}
}
