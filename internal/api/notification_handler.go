package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/casequeue/internal/api/shared"
	"github.com/phrazzld/casequeue/internal/domain"
)

// NotificationHandler serves the notification outbox to the delivery
// subsystem and to users reading their own notifications.
type NotificationHandler struct {
	engine Engine
	logger *slog.Logger
}

// NewNotificationHandler creates a new NotificationHandler
func NewNotificationHandler(engine Engine, logger *slog.Logger) *NotificationHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for NotificationHandler")
	}

	return &NotificationHandler{
		engine: engine,
		logger: logger.With(slog.String("component", "notification_handler")),
	}
}

// canReadFor reports whether the caller may read user's notifications.
func canReadFor(actor string, role domain.Role, user string) bool {
	return actor == user || role == domain.RoleSupervisor || role == domain.RoleSystem
}

// ListNotifications handles GET /users/{user}/notifications?unread=true&limit=
func (h *NotificationHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	actor, role, ok := identity(w, r)
	if !ok {
		return
	}

	user := strings.TrimSpace(chi.URLParam(r, "user"))
	if !canReadFor(actor, role, user) {
		shared.RespondWithError(w, r, http.StatusForbidden, "Cannot read another user's notifications")
		return
	}

	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	unreadOnly := r.URL.Query().Get("unread") == "true"

	notes, err := h.engine.ListNotifications(r.Context(), user, unreadOnly, limit)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list notifications")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, NotificationListResponse{
		Notifications: notes,
		Count:         len(notes),
	})
}

// MarkRead handles POST /notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	actor, role, id, ok := identityAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	note, err := h.engine.GetNotification(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to mark notification read")
		return
	}
	if !canReadFor(actor, role, note.UserID) {
		shared.RespondWithError(w, r, http.StatusForbidden, "Cannot read another user's notifications")
		return
	}

	if err := h.engine.MarkNotificationRead(r.Context(), id); err != nil {
		HandleAPIError(w, r, err, "Failed to mark notification read")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
