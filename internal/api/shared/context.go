package shared

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/casequeue/internal/domain"
)

// ContextKey is the type of request context keys set by the API layer.
type ContextKey string

// Context keys for various values
const (
	// ActorContextKey holds the acting user taken from the X-Actor header
	ActorContextKey ContextKey = "actor"

	// RoleContextKey holds the caller's domain.Role taken from the X-Role header
	RoleContextKey ContextKey = "role"

	// TraceIDKey is the key for the trace ID in the request context
	TraceIDKey ContextKey = "traceID"

	// TraceIDLength is the number of random bytes in a trace ID
	TraceIDLength = 16 // 32 hex characters
)

// WithActor returns a context carrying the acting user and role.
func WithActor(ctx context.Context, actor string, role domain.Role) context.Context {
	ctx = context.WithValue(ctx, ActorContextKey, actor)
	return context.WithValue(ctx, RoleContextKey, role)
}

// GetActor returns the acting user, or false if none was set.
func GetActor(ctx context.Context) (string, bool) {
	actor, ok := ctx.Value(ActorContextKey).(string)
	return actor, ok && actor != ""
}

// GetRole returns the caller's role, or false if none was set.
func GetRole(ctx context.Context) (domain.Role, bool) {
	role, ok := ctx.Value(RoleContextKey).(domain.Role)
	return role, ok
}

// SetTraceID adds a trace ID to the context. An incoming ID is reused when
// it looks sane so callers can correlate across services.
func SetTraceID(ctx context.Context, incoming string) context.Context {
	traceID := strings.TrimSpace(incoming)
	if traceID == "" || len(traceID) > 64 {
		traceID = generateTraceID()
	}
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID retrieves the trace ID from the context.
// If no trace ID exists, it returns an empty string.
func GetTraceID(ctx context.Context) string {
	traceID, ok := ctx.Value(TraceIDKey).(string)
	if !ok {
		return ""
	}
	return traceID
}

// generateTraceID creates a random 32-character hex trace ID. If the
// system randomness source fails it falls back to a UUID's hex digits.
func generateTraceID() string {
	b := make([]byte, TraceIDLength)
	if n, err := rand.Read(b); err != nil || n != TraceIDLength {
		slog.Error("failed to generate random trace ID",
			"error", err,
			"bytes_read", n,
			"fallback", "uuid")
		return strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return hex.EncodeToString(b)
}
