package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/casequeue/internal/api/middleware"
	"github.com/phrazzld/casequeue/internal/domain"
)

// NewRouter builds the HTTP handler for the casequeue API.
func NewRouter(engine Engine, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	tasks := NewTaskHandler(engine, logger)
	notifications := NewNotificationHandler(engine, logger)

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewTraceMiddleware(logger))
	r.Use(chimiddleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RequireActor)

		r.Post("/tasks", tasks.CreateTask)
		r.Get("/tasks", tasks.ListTasks)
		r.Get("/tasks/due", tasks.ListDueTasks)
		r.Post("/tasks/reserve-selected", tasks.ReserveSelected)

		r.Route("/tasks/{id}", func(r chi.Router) {
			r.Get("/", tasks.GetTask)
			r.Get("/history", tasks.GetHistory)
			r.Get("/assignments", tasks.GetAssignmentHistory)

			r.Post("/reserve", tasks.Reserve)
			r.Post("/unreserve", tasks.Unreserve)
			r.Post("/assign", tasks.Assign)
			r.Post("/forward", tasks.Forward)
			r.Post("/defer", tasks.Defer)
			r.Post("/close", tasks.Close)
			r.Post("/restart", tasks.Restart)
			r.Post("/reallocate", tasks.Reallocate)
			r.Post("/comments", tasks.AddComment)
			r.Post("/time", tasks.ModifyTimeWorked)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(domain.RoleSystem))
				r.Post("/escalate", tasks.Escalate)
				r.Post("/auto-close", tasks.AutoClose)
			})
		})

		r.Post("/queues/{queue}/reserve-next", tasks.ReserveNext)

		r.Get("/users/{user}/notifications", notifications.ListNotifications)
		r.Post("/notifications/{id}/read", notifications.MarkRead)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.Error("failed to write health check response", "error", err)
		}
	})

	return r
}
