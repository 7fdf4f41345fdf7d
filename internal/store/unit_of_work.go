package store

import "context"

// Repositories bundles the stores bound to one unit of work.
type Repositories struct {
	Tasks         TaskStore
	History       HistoryStore
	Notifications NotificationStore
}

// UnitOfWorkFn runs inside a unit of work. Returning an error discards
// every write made through repos.
type UnitOfWorkFn func(ctx context.Context, repos Repositories) error

// Transactor runs functions as all-or-nothing units of work. Outside a unit
// of work, Repositories gives non-transactional access for reads.
type Transactor interface {
	WithinTx(ctx context.Context, fn UnitOfWorkFn) error
	Repositories() Repositories
}
