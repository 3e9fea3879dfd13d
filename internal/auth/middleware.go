package auth

import (
	"net/http"
	"strings"

	"erp-core/internal/platform/httpx"
)

// Middleware validates JWTs and enforces the role policy.
type Middleware struct {
	Secret []byte
	Policy Policy

	// Disabled skips token checks and runs every request as an admin of
	// DefaultTenant. Used for local service-to-service setups.
	Disabled      bool
	DefaultTenant string
}

// NewMiddleware constructs an auth middleware.
func NewMiddleware(secret []byte, policy Policy) *Middleware {
	return &Middleware{Secret: secret, Policy: policy}
}

// NewDisabledMiddleware returns a middleware that trusts every caller.
func NewDisabledMiddleware(tenantID string) *Middleware {
	return &Middleware{Disabled: true, DefaultTenant: tenantID}
}

// Wrap applies authentication and authorization to next.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Disabled {
			ctx := WithIdentity(r.Context(), m.DefaultTenant, RoleAdmin, SubjectSystem)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		if m.Policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}
		required, ok := m.Policy.Required(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		id, err := ParseJWT(BearerToken(r), m.Secret)
		if err != nil {
			deny(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
			return
		}
		if !id.Role.Allows(required) {
			deny(w, http.StatusForbidden, "forbidden", "role "+string(id.Role)+" cannot perform this request")
			return
		}
		ctx := WithIdentity(r.Context(), id.TenantID, id.Role, id.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func deny(w http.ResponseWriter, status int, code, message string) {
	httpx.WriteJSON(w, status, httpx.ErrorBody{Status: status, Message: message, Code: code})
}

// BearerToken returns the bearer token of r, or "".
func BearerToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
