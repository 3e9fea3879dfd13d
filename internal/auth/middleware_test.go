package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_NoToken(t *testing.T) {
	mw := NewMiddleware([]byte("test-secret"), NewDefaultPolicy(nil, nil))
	resp := httptest.NewRecorder()
	mw.Wrap(okHandler()).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/orders", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "unauthorized", body["code"])
	assert.EqualValues(t, 401, body["status"])
}

func TestAuthMiddleware_RoleMatrix(t *testing.T) {
	secret := []byte("test-secret")
	mw := NewMiddleware(secret, NewDefaultPolicy([]string{"/healthz"}, []string{"/metrics"}))
	handler := mw.Wrap(okHandler())

	cases := []struct {
		name   string
		role   string
		method string
		path   string
		want   int
	}{
		{"viewer lists orders", "viewer", http.MethodGet, "/orders", http.StatusOK},
		{"viewer cannot create order", "viewer", http.MethodPost, "/orders", http.StatusForbidden},
		{"clerk changes status", "clerk", http.MethodPatch, "/orders/o-1/status", http.StatusOK},
		{"clerk cannot delete order", "clerk", http.MethodDelete, "/orders/o-1", http.StatusForbidden},
		{"admin deletes order", "admin", http.MethodDelete, "/orders/o-1", http.StatusOK},
		{"clerk reserves stock", "clerk", http.MethodPost, "/inventory/reserve", http.StatusOK},
		{"clerk cannot set stock", "clerk", http.MethodPut, "/inventory/stock/p-1", http.StatusForbidden},
		{"clerk cannot transfer", "clerk", http.MethodPost, "/accounts/transfer", http.StatusForbidden},
		{"accountant transfers", "accountant", http.MethodPost, "/accounts/transfer", http.StatusOK},
		{"accountant records payment", "accountant", http.MethodPost, "/invoices/i-1/payments", http.StatusOK},
		{"accountant cannot create order", "accountant", http.MethodPost, "/orders", http.StatusForbidden},
		{"accountant cannot delete account", "accountant", http.MethodDelete, "/accounts/a-1", http.StatusForbidden},
		{"accountant exports statement", "accountant", http.MethodGet, "/accounts/a-1/statement.pdf", http.StatusOK},
		{"viewer cannot export statement", "viewer", http.MethodGet, "/accounts/a-1/statement.xlsx", http.StatusForbidden},
		{"viewer reads categories", "viewer", http.MethodGet, "/categories", http.StatusOK},
		{"accountant cannot create category", "accountant", http.MethodPost, "/categories", http.StatusForbidden},
		{"admin creates category", "admin", http.MethodPost, "/categories", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			req.Header.Set("Authorization", "Bearer "+mustToken(t, secret, "tenant-a", tc.role))
			resp := httptest.NewRecorder()
			handler.ServeHTTP(resp, req)
			assert.Equal(t, tc.want, resp.Code)
		})
	}
}

func TestAuthMiddleware_ExemptPaths(t *testing.T) {
	mw := NewMiddleware([]byte("test-secret"), NewDefaultPolicy([]string{"/healthz"}, []string{"/metrics"}))
	handler := mw.Wrap(okHandler())
	for _, path := range []string{"/healthz", "/metrics", "/unknown"} {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, resp.Code, path)
	}
}

func TestAuthMiddleware_IdentityInContext(t *testing.T) {
	secret := []byte("test-secret")
	mw := NewMiddleware(secret, NewDefaultPolicy(nil, nil))
	var got Identity
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = IdentityFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/invoices", nil)
	req.Header.Set("Authorization", "bearer "+mustToken(t, secret, "tenant-a", "accountant"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, Identity{TenantID: "tenant-a", Role: RoleAccountant, Subject: "user-1"}, got)
}

func TestDisabledMiddlewareRunsAsSystem(t *testing.T) {
	mw := NewDisabledMiddleware("tenant-default")
	var subject string
	var role Role
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = SubjectFromContext(r.Context())
		role = RoleFromContext(r.Context())
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/orders/o-1", nil))
	assert.Equal(t, SubjectSystem, subject)
	assert.Equal(t, RoleAdmin, role)
}

func TestActorFallsBackToSystem(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, SubjectSystem, ActorFromContext(ctx))
	_, ok := IdentityFromContext(ctx)
	assert.False(t, ok)
	assert.Equal(t, "", TenantIDFromContext(ctx))
}

func TestParseJWTRejectsBadTokens(t *testing.T) {
	secret := []byte("test-secret")
	_, err := ParseJWT("", secret)
	assert.Error(t, err)

	_, err = ParseJWT(mustToken(t, []byte("other"), "tenant-a", "viewer"), secret)
	assert.Error(t, err)

	_, err = ParseJWT(mustToken(t, secret, "tenant-a", "superuser"), secret)
	assert.Error(t, err)

	_, err = ParseJWT(mustToken(t, secret, "", "admin"), secret)
	assert.Error(t, err)

	noExpiry := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{TenantID: "tenant-a", Role: "admin"})
	signed, err := noExpiry.SignedString(secret)
	require.NoError(t, err)
	_, err = ParseJWT(signed, secret)
	assert.Error(t, err)

	id, err := ParseJWT(mustToken(t, secret, "tenant-a", "admin"), secret)
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", id.TenantID)
	assert.Equal(t, RoleAdmin, id.Role)
}

func TestIssueTokenRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	want := Identity{TenantID: "tenant-a", Role: RoleClerk, Subject: "orders-service"}
	token, err := IssueToken(secret, want, time.Hour, time.Now())
	require.NoError(t, err)

	got, err := ParseJWT(token, secret)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	expired, err := IssueToken(secret, want, time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	_, err = ParseJWT(expired, secret)
	assert.Error(t, err)

	_, err = IssueToken(secret, Identity{TenantID: "tenant-a", Role: "root"}, time.Hour, time.Now())
	assert.Error(t, err)
	_, err = IssueToken(nil, want, time.Hour, time.Now())
	assert.Error(t, err)
	_, err = IssueToken(secret, want, 0, time.Now())
	assert.Error(t, err)
}

func TestRoleAllows(t *testing.T) {
	assert.True(t, RoleClerk.Allows(Requirement{AreaInventory, AccessWrite}))
	assert.False(t, RoleClerk.Allows(Requirement{AreaFinance, AccessWrite}))
	assert.False(t, RoleAccountant.Allows(Requirement{AreaFinance, AccessManage}))
	assert.True(t, RoleAdmin.Allows(Requirement{AreaFinance, AccessManage}))
	assert.False(t, Role("").Allows(Requirement{AreaOrders, AccessRead}))
}

func mustToken(t *testing.T, secret []byte, tenantID, role string) string {
	t.Helper()
	claims := Claims{
		TenantID: tenantID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	require.NoError(t, err)
	return signed
}
