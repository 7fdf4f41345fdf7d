package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/casequeue/internal/api/shared"
	"github.com/phrazzld/casequeue/internal/domain"
	"github.com/phrazzld/casequeue/internal/lifecycle"
	"github.com/phrazzld/casequeue/internal/store"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// leaking internal error types to clients.
func MapErrorToStatusCode(err error) int {
	var validationErrs validator.ValidationErrors

	switch {
	case errors.Is(err, store.ErrTaskNotFound),
		errors.Is(err, store.ErrNotificationNotFound):
		return http.StatusNotFound

	case errors.Is(err, lifecycle.ErrInvalidState),
		errors.Is(err, lifecycle.ErrStoreConflict),
		errors.Is(err, lifecycle.ErrNotDue):
		return http.StatusConflict

	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, store.ErrInvalidEntity),
		errors.Is(err, shared.ErrEmptyBody),
		errors.As(err, &validationErrs):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-facing message for err.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var (
		invalid        *lifecycle.InvalidStateError
		validationErrs validator.ValidationErrors
	)
	switch {
	case errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"

	case errors.Is(err, store.ErrNotificationNotFound):
		return "Notification not found"

	case errors.As(err, &invalid):
		expected := make([]string, len(invalid.Expected))
		for i, s := range invalid.Expected {
			expected[i] = string(s)
		}
		return fmt.Sprintf("Task is %s; %s requires %s",
			invalid.Actual, invalid.Op, strings.Join(expected, " or "))

	case errors.Is(err, lifecycle.ErrStoreConflict):
		return "Task was changed by someone else; reload and retry"

	case errors.Is(err, lifecycle.ErrNotDue):
		return "Task is not due"

	case errors.As(err, &validationErrs):
		return SanitizeValidationError(err)

	case errors.Is(err, domain.ErrValidation):
		msg := err.Error()
		if i := strings.Index(msg, domain.ErrValidation.Error()); i >= 0 {
			msg = msg[i:]
		}
		return "Invalid request: " + msg

	case errors.Is(err, domain.ErrInvalidID):
		return "Invalid ID format"

	case errors.Is(err, domain.ErrInvalidStatus):
		return "Invalid task status"

	case errors.Is(err, shared.ErrEmptyBody):
		return "Request body is required"

	case errors.Is(err, store.ErrInvalidEntity):
		return "Invalid entity data"

	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError turns validator errors into a message naming the
// first offending field.
func SanitizeValidationError(err error) string {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) || len(validationErrs) == 0 {
		return "Validation error"
	}

	fe := validationErrs[0]
	return fmt.Sprintf("Invalid %s: %s", fe.Field(), getValidationTagMessage(fe.Tag()))
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min", "gt", "gte":
		return "too small"
	case "max", "lt", "lte":
		return "too large"
	case "ne":
		return "must not be zero"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}

// HandleAPIError writes the mapped status and safe message for err and logs
// the redacted detail. defaultMsg replaces the generic message on 500s.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, defaultMsg string) {
	status := MapErrorToStatusCode(err)
	msg := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && defaultMsg != "" {
		msg = defaultMsg
	}
	shared.RespondWithErrorAndLog(w, r, status, msg, err)
}
