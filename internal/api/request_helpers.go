package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/casequeue/internal/api/shared"
	"github.com/phrazzld/casequeue/internal/domain"
	"github.com/phrazzld/casequeue/internal/platform/logger"
	"github.com/phrazzld/casequeue/internal/redact"
)

// getPathUUID extracts and parses a UUID path parameter.
func getPathUUID(r *http.Request, paramName string) (uuid.UUID, error) {
	raw := chi.URLParam(r, paramName)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("%w: %s is required", domain.ErrValidation, paramName)
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s has invalid format", domain.ErrInvalidID, paramName)
	}
	return id, nil
}

// identity returns the actor and role placed in the context by the
// RequireActor middleware. It writes a 401 and returns false when absent.
func identity(w http.ResponseWriter, r *http.Request) (string, domain.Role, bool) {
	actor, ok := shared.GetActor(r.Context())
	role, roleOK := shared.GetRole(r.Context())
	if !ok || !roleOK {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Caller identity not found")
		return "", 0, false
	}
	return actor, role, true
}

// identityAndPathUUID combines identity and getPathUUID, writing an error
// response when either fails.
func identityAndPathUUID(
	w http.ResponseWriter,
	r *http.Request,
	paramName string,
) (string, domain.Role, uuid.UUID, bool) {
	actor, role, ok := identity(w, r)
	if !ok {
		return "", 0, uuid.Nil, false
	}

	id, err := getPathUUID(r, paramName)
	if err != nil {
		logger.FromContext(r.Context()).Debug("invalid path parameter",
			slog.String("param_name", paramName),
			slog.String("value", chi.URLParam(r, paramName)))
		HandleAPIError(w, r, err, "")
		return "", 0, uuid.Nil, false
	}
	return actor, role, id, true
}

// decodeAndValidate reads the JSON body into req and validates it.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, req any) bool {
	return validateDecoded(w, r, req, shared.DecodeJSON(w, r, req))
}

// validateDecoded writes the 400 for a failed decode or an invalid request.
func validateDecoded(w http.ResponseWriter, r *http.Request, req any, err error) bool {
	if err != nil {
		logger.FromContext(r.Context()).Debug("invalid request format",
			slog.String("error", redact.Error(err)))
		if MapErrorToStatusCode(err) == http.StatusBadRequest {
			HandleAPIError(w, r, err, "")
		} else {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		}
		return false
	}

	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return false
	}
	return true
}

// queryStatuses parses a comma-separated status query parameter.
func queryStatuses(r *http.Request, name string) ([]domain.TaskStatus, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}

	var statuses []domain.TaskStatus
	for _, part := range strings.Split(raw, ",") {
		s, err := domain.ParseTaskStatus(part)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, s)
	}
	return statuses, nil
}

// queryInt parses a non-negative integer query parameter, returning def
// when it is absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", domain.ErrValidation, name)
	}
	return n, nil
}

// decodeOptional is decodeAndValidate for endpoints whose body may be omitted.
// A chunked request with nothing in it counts as omitted.
func decodeOptional(w http.ResponseWriter, r *http.Request, req any) bool {
	if r.Body == nil || r.Body == http.NoBody {
		return true
	}
	err := shared.DecodeJSON(w, r, req)
	if errors.Is(err, shared.ErrEmptyBody) {
		return true
	}
	return validateDecoded(w, r, req, err)
}
