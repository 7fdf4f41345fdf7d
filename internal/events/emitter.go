package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/phrazzld/casequeue/internal/platform/logger"
)

// InMemoryEventEmitter is a simple implementation of the EventEmitter interface
// that stores registered handlers in memory and dispatches events to them.
type InMemoryEventEmitter struct {
	handlers []EventHandler
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewInMemoryEventEmitter creates a new instance of InMemoryEventEmitter.
func NewInMemoryEventEmitter(logger *slog.Logger) *InMemoryEventEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryEventEmitter{
		handlers: make([]EventHandler, 0),
		logger:   logger.With("component", "in_memory_event_emitter"),
	}
}

// Ensure InMemoryEventEmitter implements EventEmitter interface
var _ EventEmitter = (*InMemoryEventEmitter)(nil)

// RegisterHandler adds a new event handler to receive events.
func (e *InMemoryEventEmitter) RegisterHandler(handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handler)
	e.logger.Debug("registered new event handler", "handler_count", len(e.handlers))
}

// EmitEvent delivers event to every registered handler in registration
// order. A failing handler does not stop delivery to the others; all
// failures are joined into the returned error.
func (e *InMemoryEventEmitter) EmitEvent(ctx context.Context, event *NotificationEvent) error {
	e.mu.RLock()
	handlers := slices.Clone(e.handlers)
	e.mu.RUnlock()

	log := logger.FromContextOrDefault(ctx, e.logger).With(
		"event_id", event.ID,
		"task_id", event.Notification.TaskID,
		"notification_type", event.Notification.Type)

	if len(handlers) == 0 {
		log.Debug("no handlers registered for event")
		return nil
	}

	var errs []error
	for i, handler := range handlers {
		if err := handler.HandleEvent(ctx, event); err != nil {
			log.Error("handler failed to process event", "error", err, "handler_index", i)
			errs = append(errs, fmt.Errorf("handler %d: %w", i, err))
		}
	}

	return errors.Join(errs...)
}

// LoggingHandler records every notification event at info level. It stands
// in for the delivery subsystem when none is wired.
type LoggingHandler struct {
	logger *slog.Logger
}

// NewLoggingHandler creates a LoggingHandler.
func NewLoggingHandler(logger *slog.Logger) *LoggingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingHandler{logger: logger.With("component", "notification_log")}
}

// HandleEvent implements EventHandler.
func (h *LoggingHandler) HandleEvent(ctx context.Context, event *NotificationEvent) error {
	h.logger.InfoContext(ctx, "notification enqueued",
		"notification_id", event.Notification.ID,
		"user_id", event.Notification.UserID,
		"task_id", event.Notification.TaskID,
		"type", event.Notification.Type,
		"action", event.Action,
		"actor", event.Actor)
	return nil
}
