package lifecycle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/casequeue/internal/domain"
	"github.com/phrazzld/casequeue/internal/store"
)

var (
	// ErrInvalidState is matched by every *InvalidStateError.
	ErrInvalidState = errors.New("invalid task state")

	// ErrStoreConflict is matched by every *ConflictError.
	ErrStoreConflict = errors.New("task changed concurrently")

	// ErrTaskNotFound is returned for unknown task ids.
	ErrTaskNotFound = store.ErrTaskNotFound

	// ErrNotDue is returned by the sweeper-only transitions when the task
	// no longer qualifies, for example because its due date moved.
	ErrNotDue = errors.New("task is not due")
)

// InvalidStateError reports a transition attempted from a status that its
// precondition does not allow. Nothing was written.
type InvalidStateError struct {
	Op       string
	TaskID   uuid.UUID
	Expected []domain.TaskStatus
	Actual   domain.TaskStatus
}

func (e *InvalidStateError) Error() string {
	expected := make([]string, len(e.Expected))
	for i, s := range e.Expected {
		expected[i] = string(s)
	}
	return fmt.Sprintf("%s task %s: expected status %s, got %s",
		e.Op, e.TaskID, strings.Join(expected, "|"), e.Actual)
}

// Is makes errors.Is(err, ErrInvalidState) true.
func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

// ConflictError reports a conditional update that lost a race with another
// writer. Retrying after re-reading the task is safe.
type ConflictError struct {
	Op     string
	TaskID uuid.UUID
	Err    error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s task %s: %v", e.Op, e.TaskID, e.Err)
}

// Unwrap returns the underlying store error.
func (e *ConflictError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrStoreConflict) true.
func (e *ConflictError) Is(target error) bool {
	return target == ErrStoreConflict
}

// IsSkippable reports whether a batch operation may move on to the next
// task after err: the task was taken, changed or vanished underneath it.
func IsSkippable(err error) bool {
	return errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrStoreConflict) ||
		errors.Is(err, ErrTaskNotFound) ||
		errors.Is(err, ErrNotDue)
}

// classify maps a unit-of-work error onto the engine's error taxonomy.
func classify(op string, id uuid.UUID, err error) error {
	var invalid *InvalidStateError
	if errors.As(err, &invalid) {
		return err
	}
	if errors.Is(err, store.ErrConflict) {
		return &ConflictError{Op: op, TaskID: id, Err: err}
	}
	return fmt.Errorf("%s task %s: %w", op, id, err)
}
