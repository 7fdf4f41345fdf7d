package middleware

import (
	"log/slog"
	"net/http"

	"github.com/phrazzld/casequeue/internal/api/shared"
	"github.com/phrazzld/casequeue/internal/platform/logger"
)

// TraceHeader carries the trace ID in both directions.
const TraceHeader = "X-Trace-ID"

// NewTraceMiddleware adds a trace ID to the request context and a request
// logger tagged with it. It should run early in the chain so that every
// later handler and error response can use both.
func NewTraceMiddleware(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := shared.SetTraceID(r.Context(), r.Header.Get(TraceHeader))
			traceID := shared.GetTraceID(ctx)

			log := base.With(slog.String("trace_id", traceID))
			ctx = logger.WithLogger(ctx, log)

			log.Debug("request started",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr))

			w.Header().Set(TraceHeader, traceID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
