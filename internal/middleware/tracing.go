package middleware

import (
	"net/http"

	"github.com/studiodesk/studiodesk/pkg/logger"
)

// TraceHeader carries the request trace ID in both directions.
const TraceHeader = "X-Trace-ID"

// TracingMiddleware adds a trace ID to every request context and response.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if traceID == "" || len(traceID) > 128 {
			traceID = logger.NewTraceID()
		}

		ctx := logger.WithTraceID(r.Context(), traceID)
		w.Header().Set(TraceHeader, traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
