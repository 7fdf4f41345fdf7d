package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/phrazzld/casequeue/internal/api/shared"
	"github.com/phrazzld/casequeue/internal/domain"
	"github.com/phrazzld/casequeue/internal/platform/logger"
)

// Identity headers set by the surrounding application. They are trusted as
// given; authenticating the caller happens before requests reach this API.
const (
	ActorHeader = "X-Actor"
	RoleHeader  = "X-Role"
)

// RequireActor reads the acting user and role from the identity headers and
// stores them in the request context. Requests without a usable identity
// are rejected with 401.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := strings.TrimSpace(r.Header.Get(ActorHeader))
		if actor == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, ActorHeader+" header required")
			return
		}

		role, err := domain.ParseRole(r.Header.Get(RoleHeader))
		if err != nil {
			shared.RespondWithErrorAndLog(w, r, http.StatusUnauthorized,
				"Invalid or missing "+RoleHeader+" header", err, shared.WithElevatedLogLevel())
			return
		}

		ctx := shared.WithActor(r.Context(), actor, role)
		log := logger.FromContext(ctx).With(
			slog.String("actor", actor),
			slog.String("role", role.String()))
		ctx = logger.WithLogger(ctx, log)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole lets only the listed roles through; others get 403.
// It must run after RequireActor.
func RequireRole(roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, ok := shared.GetRole(r.Context())
			if ok {
				for _, allowed := range roles {
					if role == allowed {
						next.ServeHTTP(w, r)
						return
					}
				}
			}
			shared.RespondWithError(w, r, http.StatusForbidden, "Operation not permitted for this role")
		})
	}
}
