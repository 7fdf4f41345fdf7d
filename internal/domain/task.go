package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

// Possible task status values
const (
	TaskStatusOpen      TaskStatus = "OPEN"
	TaskStatusReserved  TaskStatus = "RESERVED"
	TaskStatusAssigned  TaskStatus = "ASSIGNED"
	TaskStatusDeferred  TaskStatus = "DEFERRED"
	TaskStatusClosed    TaskStatus = "CLOSED"
	TaskStatusEscalated TaskStatus = "ESCALATED"
)

// SystemActor is recorded as the performer of transitions raised by the
// system itself, such as deadline escalation and auto-close.
const SystemActor = "SYSTEM"

// AllTaskStatuses returns every known status in declaration order.
func AllTaskStatuses() []TaskStatus {
	return []TaskStatus{
		TaskStatusOpen,
		TaskStatusReserved,
		TaskStatusAssigned,
		TaskStatusDeferred,
		TaskStatusClosed,
		TaskStatusEscalated,
	}
}

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusOpen, TaskStatusReserved, TaskStatusAssigned,
		TaskStatusDeferred, TaskStatusClosed, TaskStatusEscalated:
		return true
	default:
		return false
	}
}

// ParseTaskStatus converts a case-insensitive status name to a TaskStatus.
func ParseTaskStatus(s string) (TaskStatus, error) {
	status := TaskStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !status.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return status, nil
}

// Task is a unit of casework routed through work queues. A task is never
// deleted; it only moves between statuses through the lifecycle engine.
//
// Version is the optimistic-concurrency row version. Every successful
// transition increments it by exactly one.
type Task struct {
	ID          uuid.UUID  `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	WorkQueue   string     `json:"work_queue"`
	Status      TaskStatus `json:"status"`
	Priority    int        `json:"priority"`
	DueDate     *time.Time `json:"due_date,omitempty"`

	AssignedTo string `json:"assigned_to,omitempty"`

	ReservedBy   string     `json:"reserved_by,omitempty"`
	ReservedDate *time.Time `json:"reserved_date,omitempty"`

	ForwardedTo   string     `json:"forwarded_to,omitempty"`
	ForwardedBy   string     `json:"forwarded_by,omitempty"`
	ForwardedDate *time.Time `json:"forwarded_date,omitempty"`

	DeferredBy   string     `json:"deferred_by,omitempty"`
	DeferredDate *time.Time `json:"deferred_date,omitempty"`
	RestartDate  *time.Time `json:"restart_date,omitempty"`

	ClosedBy      string     `json:"closed_by,omitempty"`
	ClosedDate    *time.Time `json:"closed_date,omitempty"`
	CloseComments string     `json:"close_comments,omitempty"`

	// TimeWorked is the accumulated working time in minutes.
	TimeWorked int `json:"time_worked"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTaskParams carries the fields an external collaborator supplies when
// submitting a task.
type NewTaskParams struct {
	Title       string
	Description string
	WorkQueue   string
	AssignedTo  string
	Priority    int
	DueDate     *time.Time
}

// NewTask creates an OPEN task with a fresh ID and version 1.
// Returns an error if validation fails.
func NewTask(p NewTaskParams, now time.Time) (*Task, error) {
	now = now.UTC()
	task := &Task{
		ID:          uuid.New(),
		Title:       p.Title,
		Description: p.Description,
		WorkQueue:   strings.TrimSpace(p.WorkQueue),
		AssignedTo:  p.AssignedTo,
		Status:      TaskStatusOpen,
		Priority:    p.Priority,
		DueDate:     utcPtr(p.DueDate),
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks structural invariants only. The meaning of title and
// description belongs to the collaborator creating the task.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return fmt.Errorf("%w: %w", ErrValidation, ErrInvalidID)
	}

	if t.WorkQueue == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyQueue)
	}

	if !t.Status.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrValidation, ErrInvalidStatus, t.Status)
	}

	if t.TimeWorked < 0 {
		return fmt.Errorf("%w: time worked cannot be negative", ErrValidation)
	}

	if (t.ReservedBy != "") != (t.Status == TaskStatusReserved) {
		return fmt.Errorf("%w: reserved_by must be set exactly while status is %s",
			ErrValidation, TaskStatusReserved)
	}

	return nil
}

// Clone returns a deep copy of the task so callers can mutate it freely.
func (t *Task) Clone() *Task {
	c := *t
	c.DueDate = copyTime(t.DueDate)
	c.ReservedDate = copyTime(t.ReservedDate)
	c.ForwardedDate = copyTime(t.ForwardedDate)
	c.DeferredDate = copyTime(t.DeferredDate)
	c.RestartDate = copyTime(t.RestartDate)
	c.ClosedDate = copyTime(t.ClosedDate)
	return &c
}

// ClearReservation drops the soft lock held by a worker.
func (t *Task) ClearReservation() {
	t.ReservedBy = ""
	t.ReservedDate = nil
}

// ClearOwnership resets every ownership, closure and deferral field.
func (t *Task) ClearOwnership() {
	t.ClearReservation()
	t.AssignedTo = ""
	t.ForwardedTo = ""
	t.ForwardedBy = ""
	t.ForwardedDate = nil
	t.DeferredBy = ""
	t.DeferredDate = nil
	t.RestartDate = nil
	t.ClosedBy = ""
	t.ClosedDate = nil
	t.CloseComments = ""
}

// Owner returns the user currently holding the task: the reserving worker
// while RESERVED, otherwise the assignee. Empty when nobody holds it.
func (t *Task) Owner() string {
	if t.Status == TaskStatusReserved && t.ReservedBy != "" {
		return t.ReservedBy
	}
	return t.AssignedTo
}

// IsOverdue reports whether the task has a due date strictly before now.
func (t *Task) IsOverdue(now time.Time) bool {
	return t.DueDate != nil && t.DueDate.Before(now)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

// TimePtr returns a pointer to the UTC form of t.
func TimePtr(t time.Time) *time.Time {
	v := t.UTC()
	return &v
}
