package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/casequeue/internal/domain"
)

// CreateTaskRequest defines the payload for submitting a new task.
type CreateTaskRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	WorkQueue   string     `json:"work_queue"            validate:"required,max=100"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
	Priority    int        `json:"priority"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

// TargetRequest names the user a task is assigned or forwarded to.
type TargetRequest struct {
	Target   string `json:"target"             validate:"required"`
	Comments string `json:"comments,omitempty"`
}

// DeferRequest defines the payload for deferring a task.
type DeferRequest struct {
	RestartDate time.Time `json:"restart_date"      validate:"required"`
	Comment     string    `json:"comment,omitempty"`
}

// CommentsRequest carries optional free-text comments for close and reallocate.
type CommentsRequest struct {
	Comments string `json:"comments,omitempty"`
}

// CommentRequest defines the payload for adding a comment.
type CommentRequest struct {
	Comment string `json:"comment" validate:"required"`
}

// TimeWorkedRequest adjusts time worked by DeltaMinutes, which may be negative.
type TimeWorkedRequest struct {
	DeltaMinutes int    `json:"delta_minutes"     validate:"ne=0"`
	Comment      string `json:"comment,omitempty"`
}

// ReserveNextRequest defines how many tasks to pull from a queue.
type ReserveNextRequest struct {
	Count int `json:"count" validate:"gt=0"`
}

// ReserveSelectedRequest lists the tasks a worker wants to reserve.
type ReserveSelectedRequest struct {
	TaskIDs []uuid.UUID `json:"task_ids" validate:"required,min=1,max=100"`
}

// EscalateRequest names the queue a task is escalated to.
type EscalateRequest struct {
	WorkQueue string `json:"work_queue" validate:"required"`
}

// TaskResponse is a task projected through the caller's role.
type TaskResponse map[string]any

// TaskListResponse wraps a list of projected tasks.
type TaskListResponse struct {
	Tasks []TaskResponse `json:"tasks"`
	Count int            `json:"count"`
}

// HistoryResponse wraps a task's history, newest first.
type HistoryResponse struct {
	TaskID  uuid.UUID             `json:"task_id"`
	Entries []*domain.TaskHistory `json:"entries"`
}

// NotificationListResponse wraps a user's notifications, newest first.
type NotificationListResponse struct {
	Notifications []*domain.Notification `json:"notifications"`
	Count         int                    `json:"count"`
}

func projectTask(role domain.Role, t *domain.Task) TaskResponse {
	return TaskResponse(role.Project(t))
}

func projectTasks(role domain.Role, tasks []*domain.Task) TaskListResponse {
	out := make([]TaskResponse, len(tasks))
	for i, t := range tasks {
		out[i] = projectTask(role, t)
	}
	return TaskListResponse{Tasks: out, Count: len(out)}
}
