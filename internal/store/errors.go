package store

import (
	"errors"
	"fmt"
)

// Errors shared by every store backend. Callers match them with errors.Is;
// backends wrap them with the entity id or constraint involved.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when a write would create a second copy of a
	// unique row, such as two history rows for the same task version.
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity is returned when an entity fails validation or a
	// database constraint. The wrapped error holds the detail.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrConflict is returned when a conditional update matched no rows:
	// the row changed status or version since it was read.
	ErrConflict = errors.New("conditional update conflict")

	// ErrTransactionFailed is returned when a transaction cannot be started
	// or committed.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrTaskNotFound is ErrNotFound for tasks.
	ErrTaskNotFound = fmt.Errorf("%w: task", ErrNotFound)

	// ErrNotificationNotFound is ErrNotFound for notifications.
	ErrNotificationNotFound = fmt.Errorf("%w: notification", ErrNotFound)
)

// IsConflictError reports whether err is a lost conditional update.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrConflict)
}
