package obs

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// HeaderCorrelationID is the HTTP header carrying the opaque correlation
// id that threads through every outbound request and log event.
const HeaderCorrelationID = "X-Correlation-Id"

type correlationKey struct{}

// NewCorrelationID mints a fresh id in the "<prefix>-<12 hex>" shape, as
// CorrelationMiddleware and the orchestrator's one-shot CLI mode do when
// the caller doesn't supply one.
func NewCorrelationID(prefix string) string {
	if prefix == "" {
		prefix = "daemon"
	}
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return prefix + "-" + raw[:12]
}

// WithCorrelationID stashes id on ctx for downstream retrieval by
// CorrelationID and FromContext.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID retrieves the id stashed by WithCorrelationID, or "".
func CorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(correlationKey{}).(string); ok {
		return v
	}
	return ""
}

// CorrelationMiddleware extracts X-Correlation-Id from the request, or
// mints one, stashes it on the request context, and stamps it on the
// response so callers can always correlate HTTP bridge calls with
// orchestrator/node log lines.
func CorrelationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderCorrelationID)
		if id == "" {
			id = NewCorrelationID("http")
		}
		w.Header().Set(HeaderCorrelationID, id)
		ctx := WithCorrelationID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// InjectHeader sets X-Correlation-Id on an outbound request (e.g. to the
// planner) from the context, if present.
func InjectHeader(ctx context.Context, h http.Header) {
	if id := CorrelationID(ctx); id != "" {
		h.Set(HeaderCorrelationID, id)
	}
}
