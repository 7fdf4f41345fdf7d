package memory

import (
	"context"
	"log/slog"
	"maps"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/casequeue/internal/domain"
	"github.com/phrazzld/casequeue/internal/platform/logger"
	"github.com/phrazzld/casequeue/internal/store"
)

// state is one consistent snapshot of every table. Stored tasks and
// notifications are never mutated in place; writes replace the pointer.
type state struct {
	tasks         map[uuid.UUID]*domain.Task
	history       map[uuid.UUID][]*domain.TaskHistory
	notifications map[uuid.UUID]*domain.Notification
}

func newState() *state {
	return &state{
		tasks:         make(map[uuid.UUID]*domain.Task),
		history:       make(map[uuid.UUID][]*domain.TaskHistory),
		notifications: make(map[uuid.UUID]*domain.Notification),
	}
}

func (s *state) clone() *state {
	c := &state{
		tasks:         maps.Clone(s.tasks),
		history:       make(map[uuid.UUID][]*domain.TaskHistory, len(s.history)),
		notifications: maps.Clone(s.notifications),
	}
	for id, entries := range s.history {
		c.history[id] = append([]*domain.TaskHistory(nil), entries...)
	}
	return c
}

// Store is an in-memory store.Transactor. Units of work are serialized by a
// single mutex and run against a private copy of the state that replaces the
// committed state only when the unit succeeds.
type Store struct {
	mu     sync.Mutex
	state  *state
	logger *slog.Logger
}

// NewStore creates an empty in-memory store. If logger is nil, a default
// logger will be used.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		state:  newState(),
		logger: logger.With(slog.String("component", "memory_store")),
	}
}

// Ensure Store implements store.Transactor interface
var _ store.Transactor = (*Store)(nil)

// WithinTx implements store.Transactor.WithinTx
func (s *Store) WithinTx(ctx context.Context, fn store.UnitOfWorkFn) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(ctx, reposFor(s, work)); err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Debug("discarded unit of work",
			slog.String("error", err.Error()))
		return err
	}

	s.state = work
	return nil
}

// Repositories implements store.Transactor.Repositories. Each call through
// the returned stores is atomic on its own.
func (s *Store) Repositories() store.Repositories {
	return reposFor(s, nil)
}

func reposFor(s *Store, st *state) store.Repositories {
	b := binding{store: s, tx: st}
	return store.Repositories{
		Tasks:         &TaskStore{b},
		History:       &HistoryStore{b},
		Notifications: &NotificationStore{b},
	}
}

// binding ties a repository to either a unit of work's private state or,
// when tx is nil, to the committed state under the store mutex.
type binding struct {
	store *Store
	tx    *state
}

func (b binding) with(fn func(st *state) error) error {
	if b.tx != nil {
		return fn(b.tx)
	}
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	return fn(b.store.state)
}
