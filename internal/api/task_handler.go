package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/casequeue/internal/api/shared"
	"github.com/phrazzld/casequeue/internal/domain"
	"github.com/phrazzld/casequeue/internal/lifecycle"
	"github.com/phrazzld/casequeue/internal/platform/logger"
	"github.com/phrazzld/casequeue/internal/store"
)

// DefaultDueWindow is used by GET /tasks/due when no window is given.
const DefaultDueWindow = 24 * time.Hour

// Engine is the lifecycle surface exposed over HTTP.
type Engine interface {
	Create(ctx context.Context, p domain.NewTaskParams, actor string) (*domain.Task, error)
	GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	FindTasks(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, error)
	ListDueWithin(ctx context.Context, window time.Duration) ([]*domain.Task, error)

	Reserve(ctx context.Context, id uuid.UUID, user string) (*domain.Task, error)
	ReserveNext(ctx context.Context, queue, user string, n int) ([]*domain.Task, error)
	ReserveSelected(ctx context.Context, ids []uuid.UUID, user string) ([]*domain.Task, error)
	Unreserve(ctx context.Context, id uuid.UUID, user string) (*domain.Task, error)
	Assign(ctx context.Context, id uuid.UUID, target, by string) (*domain.Task, error)
	Forward(ctx context.Context, id uuid.UUID, target, by, comments string) (*domain.Task, error)
	Defer(ctx context.Context, id uuid.UUID, user string, restartDate time.Time, comment string) (*domain.Task, error)
	Close(ctx context.Context, id uuid.UUID, user, comments string) (*domain.Task, error)
	Restart(ctx context.Context, id uuid.UUID, user string) (*domain.Task, error)
	Reallocate(ctx context.Context, id uuid.UUID, user, comments string) (*domain.Task, error)
	Escalate(ctx context.Context, id uuid.UUID, queue string) (*domain.Task, error)
	AutoClose(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	AddComment(ctx context.Context, id uuid.UUID, user, comment string) (*domain.Task, error)
	ModifyTimeWorked(ctx context.Context, id uuid.UUID, user string, delta int, comment string) (*domain.Task, error)

	GetTaskHistory(ctx context.Context, id uuid.UUID) ([]*domain.TaskHistory, error)
	GetAssignmentHistory(ctx context.Context, id uuid.UUID) ([]*domain.TaskHistory, error)
	ListNotifications(ctx context.Context, user string, unreadOnly bool, limit int) ([]*domain.Notification, error)
	GetNotification(ctx context.Context, id uuid.UUID) (*domain.Notification, error)
	MarkNotificationRead(ctx context.Context, id uuid.UUID) error
}

// TaskHandler handles task lifecycle HTTP requests
type TaskHandler struct {
	engine Engine
	logger *slog.Logger
}

// NewTaskHandler creates a new TaskHandler
func NewTaskHandler(engine Engine, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for TaskHandler")
	}

	return &TaskHandler{
		engine: engine,
		logger: logger.With(slog.String("component", "task_handler")),
	}
}

// CreateTask handles POST /tasks
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	actor, role, ok := identity(w, r)
	if !ok {
		return
	}

	var req CreateTaskRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	task, err := h.engine.Create(r.Context(), domain.NewTaskParams{
		Title:       req.Title,
		Description: req.Description,
		WorkQueue:   req.WorkQueue,
		AssignedTo:  req.AssignedTo,
		Priority:    req.Priority,
		DueDate:     req.DueDate,
	}, actor)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to create task")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, projectTask(role, task))
}

// GetTask handles GET /tasks/{id}
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	_, role, id, ok := identityAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	task, err := h.engine.GetTask(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get task")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, projectTask(role, task))
}

// ListTasks handles GET /tasks?queue=&status=&assignee=&limit=&offset=
// A queue or an assignee is required.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	_, role, ok := identity(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	queue := strings.TrimSpace(q.Get("queue"))
	assignee := strings.TrimSpace(q.Get("assignee"))
	if queue == "" && assignee == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "queue or assignee is required")
		return
	}

	statuses, err := queryStatuses(r, "status")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	filter := store.TaskFilter{
		WorkQueue:  queue,
		AssignedTo: assignee,
		Statuses:   statuses,
		Limit:      limit,
		Offset:     offset,
	}
	if assignee != "" && len(filter.Statuses) == 0 {
		// An assignee's list covers the work still in hand, paged or not.
		filter.Statuses = lifecycle.ActiveStatuses
	}

	tasks, err := h.engine.FindTasks(r.Context(), filter)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list tasks")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, projectTasks(role, tasks))
}

// ListDueTasks handles GET /tasks/due?within=24h
func (h *TaskHandler) ListDueTasks(w http.ResponseWriter, r *http.Request) {
	_, role, ok := identity(w, r)
	if !ok {
		return
	}

	window := DefaultDueWindow
	if raw := r.URL.Query().Get("within"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			shared.RespondWithError(w, r, http.StatusBadRequest, "within must be a positive duration such as 24h")
			return
		}
		window = d
	}

	tasks, err := h.engine.ListDueWithin(r.Context(), window)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list due tasks")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, projectTasks(role, tasks))
}

// transitionFunc performs one lifecycle operation for an identified caller.
type transitionFunc func(ctx context.Context, id uuid.UUID, actor string) (*domain.Task, error)

// runTransition is the shared tail of every POST /tasks/{id}/<op> handler.
func (h *TaskHandler) runTransition(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	req any,
	optionalBody bool,
	fn transitionFunc,
) {
	actor, role, id, ok := identityAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	if req != nil {
		decode := decodeAndValidate
		if optionalBody {
			decode = decodeOptional
		}
		if !decode(w, r, req) {
			return
		}
	}

	task, err := fn(r.Context(), id, actor)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to "+op+" task")
		return
	}

	logger.FromContextOrDefault(r.Context(), h.logger).Debug("task operation completed",
		slog.String("op", op),
		slog.String("task_id", id.String()),
		slog.String("status", string(task.Status)))
	shared.RespondWithJSON(w, r, http.StatusOK, projectTask(role, task))
}

// Reserve handles POST /tasks/{id}/reserve
func (h *TaskHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, "reserve", nil, false, func(ctx context.Context, id uuid.UUID, actor string) (*domain.Task, error) {
		return h.engine.Reserve(ctx, id, actor)
	})
}

// Unreserve handles POST /tasks/{id}/unreserve
func (h *TaskHandler) Unreserve(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, "unreserve", nil, false, func(ctx context.Context, id uuid.UUID, actor string) (*domain.Task, error) {
		return h.engine.Unreserve(ctx, id, actor)
	})
}

// Assign handles POST /tasks/{id}/assign
func (h *TaskHandler) Assign(w http.ResponseWriter, r *http.Request) {
	var req TargetRequest
	h.runTransition(w, r, "assign", &req, false, func(ctx context.Context, id uuid.UUID, actor string) (*domain.Task, error) {
		return h.engine.Assign(ctx, id, req.Target, actor)
	})
}

// Forward handles POST /tasks/{id}/forward
func (h *TaskHandler) Forward(w http.ResponseWriter, r *http.Request) {
	var req TargetRequest
	h.runTransition(w, r, "forward", &req, false, func(ctx context.Context, id uuid.UUID, actor string) (*domain.Task, error) {
		return h.engine.Forward(ctx, id, req.Target, actor, req.Comments)
	})
}

// Defer handles POST /tasks/{id}/defer
func (h *TaskHandler) Defer(w http.ResponseWriter, r *http.Request) {
	var req DeferRequest
	h.runTransition(w, r, "defer", &req, false, func(ctx context.Context, id uuid.UUID, actor string) (*domain.Task, error) {
		return h.engine.Defer(ctx, id, actor, req.RestartDate, req.Comment)
	})
}

// Close handles POST /tasks/{id}/close
func (h *TaskHandler) Close(w http.ResponseWriter, r *http.Request) {
	var req CommentsRequest
	h.runTransition(w, r, "close", &req, true, func(ctx context.Context, id uuid.UUID, actor string) (*domain.Task, error) {
		return h.engine.Close(ctx, id, actor, req.Comments)
	})
}

// Restart handles POST /tasks/{id}/restart
func (h *TaskHandler) Restart(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, "restart", nil, false, func(ctx context.Context, id uuid.UUID, actor string) (*domain.Task, error) {
		return h.engine.Restart(ctx, id, actor)
	})
}

// Reallocate handles POST /tasks/{id}/reallocate
func (h *TaskHandler) Reallocate(w http.ResponseWriter, r *http.Request) {
	var req CommentsRequest
	h.runTransition(w, r, "reallocate", &req, true, func(ctx context.Context, id uuid.UUID, actor string) (*domain.Task, error) {
		return h.engine.Reallocate(ctx, id, actor, req.Comments)
	})
}

// Escalate handles POST /tasks/{id}/escalate. Restricted to the SYSTEM role.
func (h *TaskHandler) Escalate(w http.ResponseWriter, r *http.Request) {
	var req EscalateRequest
	h.runTransition(w, r, "escalate", &req, false, func(ctx context.Context, id uuid.UUID, _ string) (*domain.Task, error) {
		return h.engine.Escalate(ctx, id, req.WorkQueue)
	})
}

// AutoClose handles POST /tasks/{id}/auto-close. Restricted to the SYSTEM role.
func (h *TaskHandler) AutoClose(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, "auto close", nil, false, func(ctx context.Context, id uuid.UUID, _ string) (*domain.Task, error) {
		return h.engine.AutoClose(ctx, id)
	})
}

// AddComment handles POST /tasks/{id}/comments
func (h *TaskHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	var req CommentRequest
	h.runTransition(w, r, "comment on", &req, false, func(ctx context.Context, id uuid.UUID, actor string) (*domain.Task, error) {
		return h.engine.AddComment(ctx, id, actor, req.Comment)
	})
}

// ModifyTimeWorked handles POST /tasks/{id}/time
func (h *TaskHandler) ModifyTimeWorked(w http.ResponseWriter, r *http.Request) {
	var req TimeWorkedRequest
	h.runTransition(w, r, "modify time on", &req, false, func(ctx context.Context, id uuid.UUID, actor string) (*domain.Task, error) {
		return h.engine.ModifyTimeWorked(ctx, id, actor, req.DeltaMinutes, req.Comment)
	})
}

// ReserveNext handles POST /queues/{queue}/reserve-next
func (h *TaskHandler) ReserveNext(w http.ResponseWriter, r *http.Request) {
	actor, role, ok := identity(w, r)
	if !ok {
		return
	}

	var req ReserveNextRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	tasks, err := h.engine.ReserveNext(r.Context(), chi.URLParam(r, "queue"), actor, req.Count)
	if err != nil && len(tasks) == 0 {
		HandleAPIError(w, r, err, "Failed to reserve tasks")
		return
	}
	if err != nil {
		// Partial success: the reservations already committed are returned.
		logger.FromContextOrDefault(r.Context(), h.logger).Warn("reserve next stopped early",
			slog.Int("reserved", len(tasks)),
			slog.String("error", err.Error()))
	}

	shared.RespondWithJSON(w, r, http.StatusOK, projectTasks(role, tasks))
}

// ReserveSelected handles POST /tasks/reserve-selected
func (h *TaskHandler) ReserveSelected(w http.ResponseWriter, r *http.Request) {
	actor, role, ok := identity(w, r)
	if !ok {
		return
	}

	var req ReserveSelectedRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	tasks, err := h.engine.ReserveSelected(r.Context(), req.TaskIDs, actor)
	if err != nil && len(tasks) == 0 {
		HandleAPIError(w, r, err, "Failed to reserve tasks")
		return
	}
	if err != nil {
		logger.FromContextOrDefault(r.Context(), h.logger).Warn("reserve selected stopped early",
			slog.Int("reserved", len(tasks)),
			slog.Int("requested", len(req.TaskIDs)),
			slog.String("error", err.Error()))
	}

	shared.RespondWithJSON(w, r, http.StatusOK, projectTasks(role, tasks))
}

// GetHistory handles GET /tasks/{id}/history
func (h *TaskHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	h.respondHistory(w, r, h.engine.GetTaskHistory)
}

// GetAssignmentHistory handles GET /tasks/{id}/assignments
func (h *TaskHandler) GetAssignmentHistory(w http.ResponseWriter, r *http.Request) {
	h.respondHistory(w, r, h.engine.GetAssignmentHistory)
}

func (h *TaskHandler) respondHistory(
	w http.ResponseWriter,
	r *http.Request,
	fetch func(context.Context, uuid.UUID) ([]*domain.TaskHistory, error),
) {
	_, _, id, ok := identityAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	entries, err := fetch(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get task history")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, HistoryResponse{TaskID: id, Entries: entries})
}
