package eventing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"erp-core/internal/auth"
)

// CorrelationHeader lets callers group the events of one business flow.
const CorrelationHeader = "X-Correlation-ID"

type correlationKey struct{}

// WithCorrelationID tags events published under ctx with id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationIDFromContext returns the explicit correlation id, else the
// trace id of the active span. Trace context is propagated from orders to
// inventory, so both sides of a reservation share it.
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(correlationKey{}).(string); ok && id != "" {
		return id
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// CorrelationMiddleware copies CorrelationHeader into the request context.
func CorrelationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get(CorrelationHeader); id != "" {
			r = r.WithContext(WithCorrelationID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// MetaFromContext builds envelope metadata for events published under ctx.
// The tenant comes from the authenticated identity, else defaultTenantID.
func MetaFromContext(ctx context.Context, defaultTenantID string) Meta {
	meta := Meta{TenantID: defaultTenantID}
	if ctx == nil {
		return meta
	}
	if tenantID := auth.TenantIDFromContext(ctx); tenantID != "" {
		meta.TenantID = tenantID
	}
	meta.CorrelationID = CorrelationIDFromContext(ctx)
	return meta
}
