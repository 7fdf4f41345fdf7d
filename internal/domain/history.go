package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// HistoryAction names the lifecycle operation recorded by a history row
type HistoryAction string

// Possible history actions
const (
	ActionCreated      HistoryAction = "CREATED"
	ActionReserved     HistoryAction = "RESERVED"
	ActionUnreserved   HistoryAction = "UNRESERVED"
	ActionAssigned     HistoryAction = "ASSIGNED"
	ActionForwarded    HistoryAction = "FORWARDED"
	ActionDeferred     HistoryAction = "DEFERRED"
	ActionClosed       HistoryAction = "CLOSED"
	ActionRestarted    HistoryAction = "RESTARTED"
	ActionReallocated  HistoryAction = "REALLOCATED"
	ActionEscalated    HistoryAction = "ESCALATED"
	ActionAutoClosed   HistoryAction = "AUTO_CLOSED"
	ActionCommented    HistoryAction = "COMMENTED"
	ActionTimeModified HistoryAction = "TIME_MODIFIED"
)

// Valid reports whether a is one of the known actions.
func (a HistoryAction) Valid() bool {
	switch a {
	case ActionCreated, ActionReserved, ActionUnreserved, ActionAssigned,
		ActionForwarded, ActionDeferred, ActionClosed, ActionRestarted,
		ActionReallocated, ActionEscalated, ActionAutoClosed, ActionCommented,
		ActionTimeModified:
		return true
	default:
		return false
	}
}

// AssignmentActions is the subset of actions that make up a task's
// assignment chain.
func AssignmentActions() []HistoryAction {
	return []HistoryAction{
		ActionAssigned,
		ActionReserved,
		ActionForwarded,
		ActionReallocated,
	}
}

// TaskHistory is one append-only audit row. Rows are never updated or
// deleted. Version is the task row version the transition produced, which
// makes it unique per task and gives a total order of a task's history.
type TaskHistory struct {
	ID             uuid.UUID     `json:"id"`
	TaskID         uuid.UUID     `json:"task_id"`
	Version        int64         `json:"version"`
	Action         HistoryAction `json:"action"`
	PerformedBy    string        `json:"performed_by"`
	PerformedAt    time.Time     `json:"performed_at"`
	PreviousStatus TaskStatus    `json:"previous_status,omitempty"`
	NewStatus      TaskStatus    `json:"new_status"`
	Comments       string        `json:"comments,omitempty"`
	Details        string        `json:"details,omitempty"`
}

// NewTaskHistory builds the history row for a transition from previous to
// the task's current state. previous is empty for task creation.
func NewTaskHistory(
	task *Task,
	action HistoryAction,
	performedBy string,
	previous TaskStatus,
	comments string,
	details string,
) (*TaskHistory, error) {
	h := &TaskHistory{
		ID:             uuid.New(),
		TaskID:         task.ID,
		Version:        task.Version,
		Action:         action,
		PerformedBy:    performedBy,
		PerformedAt:    task.UpdatedAt,
		PreviousStatus: previous,
		NewStatus:      task.Status,
		Comments:       comments,
		Details:        details,
	}

	if err := h.Validate(); err != nil {
		return nil, err
	}

	return h, nil
}

// Validate checks if the history row has valid data.
func (h *TaskHistory) Validate() error {
	if h.ID == uuid.Nil || h.TaskID == uuid.Nil {
		return fmt.Errorf("%w: %w", ErrValidation, ErrInvalidID)
	}

	if !h.Action.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrValidation, ErrInvalidAction, h.Action)
	}

	if h.PerformedBy == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyActor)
	}

	if !h.NewStatus.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrValidation, ErrInvalidStatus, h.NewStatus)
	}

	if h.PreviousStatus != "" && !h.PreviousStatus.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrValidation, ErrInvalidStatus, h.PreviousStatus)
	}

	return nil
}
