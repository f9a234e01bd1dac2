package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authgate.dev/internal/auth"
	"authgate.dev/internal/password"
	"authgate.dev/internal/token"
)

type testBackend struct {
	handler http.Handler
	svc     *auth.Service
	rbac    *auth.RBAC
	store   *auth.MemStore
}

func newTestBackend(t *testing.T, opts Options) *testBackend {
	t.Helper()
	store := auth.NewMemStore()
	hasher := password.NewHasher(password.Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	codec, err := token.NewCodec("handler-test-secret", "authgate-test", 15*time.Minute)
	require.NoError(t, err)
	svc, err := auth.NewService(store, hasher, codec)
	require.NoError(t, err)
	rbac, err := auth.NewRBAC(store)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, rbac.EnsureBuiltins(ctx))
	for _, r := range []auth.Role{
		{Name: auth.AdminRole, Description: "Full access", IsSystem: true},
		{Name: auth.DefaultRole, Description: "Standard account", IsSystem: true},
	} {
		role := r
		require.NoError(t, store.Roles().Create(ctx, &role))
	}

	api := New(svc, rbac, ReadyProbe{}, opts)
	return &testBackend{handler: api.Handler(), svc: svc, rbac: rbac, store: store}
}

func (b *testBackend) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	b.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(dst))
}

func (b *testBackend) registerUser(t *testing.T, email, pass string) *auth.AuthResult {
	t.Helper()
	rec := b.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"email": email, "password": pass,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res auth.AuthResult
	decodeBody(t, rec, &res)
	return &res
}

// promote assigns the admin role directly through the store.
func (b *testBackend) promote(t *testing.T, userID string) {
	t.Helper()
	ctx := context.Background()
	admin, err := b.store.Roles().FindByName(ctx, auth.AdminRole)
	require.NoError(t, err)
	require.NoError(t, b.store.Roles().Assign(ctx, userID, admin.ID))
}

func TestRegisterAndDuplicate(t *testing.T) {
	b := newTestBackend(t, Options{})

	res := b.registerUser(t, "alice@example.com", "Str0ng!Pass")
	assert.Equal(t, []string{"user"}, res.User.Roles)
	assert.NotEmpty(t, res.Tokens.AccessToken)
	assert.NotEmpty(t, res.Tokens.RefreshToken)

	rec := b.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"email": "alice@example.com", "password": "Other!Pass1",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	var body map[string]any
	decodeBody(t, rec, &body)
	assert.Equal(t, "CONFLICT", body["code"])
}

func TestLoginWrongPassword(t *testing.T) {
	b := newTestBackend(t, Options{})
	b.registerUser(t, "alice@example.com", "Str0ng!Pass")

	rec := b.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "nope",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var body map[string]any
	decodeBody(t, rec, &body)
	assert.Equal(t, "INVALID_CREDENTIALS", body["code"])
}

func TestRefreshRotationOverHTTP(t *testing.T) {
	b := newTestBackend(t, Options{})
	res := b.registerUser(t, "alice@example.com", "Str0ng!Pass")

	rec := b.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": res.Tokens.RefreshToken,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var pair auth.TokenPair
	decodeBody(t, rec, &pair)
	assert.NotEqual(t, res.Tokens.RefreshToken, pair.RefreshToken)

	// Replay of the consumed token.
	rec = b.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": res.Tokens.RefreshToken,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var body map[string]any
	decodeBody(t, rec, &body)
	assert.Equal(t, "TOKEN_REVOKED", body["code"])
}

func TestMeRequiresBearer(t *testing.T) {
	b := newTestBackend(t, Options{})
	res := b.registerUser(t, "alice@example.com", "Str0ng!Pass")

	rec := b.do(t, http.MethodGet, "/v1/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = b.do(t, http.MethodGet, "/v1/auth/me", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = b.do(t, http.MethodGet, "/v1/auth/me", res.Tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	decodeBody(t, rec, &body)
	assert.Equal(t, "alice@example.com", body["email"])
}

func TestLogoutAllOverHTTP(t *testing.T) {
	b := newTestBackend(t, Options{})
	res := b.registerUser(t, "alice@example.com", "Str0ng!Pass")

	rec := b.do(t, http.MethodPost, "/v1/auth/logout-all", res.Tokens.AccessToken, map[string]string{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = b.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": res.Tokens.RefreshToken,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestForgotPasswordSameResponseEitherWay(t *testing.T) {
	b := newTestBackend(t, Options{})
	b.registerUser(t, "real@example.com", "Str0ng!Pass")

	recKnown := b.do(t, http.MethodPost, "/v1/auth/forgot-password", "", map[string]string{
		"email": "real@example.com",
	})
	recUnknown := b.do(t, http.MethodPost, "/v1/auth/forgot-password", "", map[string]string{
		"email": "ghost@example.com",
	})
	assert.Equal(t, http.StatusOK, recKnown.Code)
	assert.Equal(t, http.StatusOK, recUnknown.Code)
	assert.Equal(t, recKnown.Body.String(), recUnknown.Body.String())
}

func TestResetPasswordUnknownToken(t *testing.T) {
	b := newTestBackend(t, Options{})

	rec := b.do(t, http.MethodPost, "/v1/auth/reset-password", "", map[string]string{
		"token": "never-issued", "password": "N3w!Password",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRBACEndpointsEnforcePermissions(t *testing.T) {
	b := newTestBackend(t, Options{})
	user := b.registerUser(t, "plain@example.com", "Str0ng!Pass")
	admin := b.registerUser(t, "root@example.com", "Str0ng!Pass")
	b.promote(t, admin.User.ID)

	// Fresh token so the claims carry the admin role.
	rec := b.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": "root@example.com", "password": "Str0ng!Pass",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var adminRes auth.AuthResult
	decodeBody(t, rec, &adminRes)

	// Plain user: forbidden.
	rec = b.do(t, http.MethodGet, "/v1/rbac/roles", user.Tokens.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// No token at all: unauthorized.
	rec = b.do(t, http.MethodGet, "/v1/rbac/roles", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Admin: allowed.
	rec = b.do(t, http.MethodGet, "/v1/rbac/roles", adminRes.Tokens.AccessToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRoleLifecycleOverHTTP(t *testing.T) {
	b := newTestBackend(t, Options{})
	admin := b.registerUser(t, "root@example.com", "Str0ng!Pass")
	b.promote(t, admin.User.ID)
	rec := b.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": "root@example.com", "password": "Str0ng!Pass",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var adminRes auth.AuthResult
	decodeBody(t, rec, &adminRes)
	bearer := adminRes.Tokens.AccessToken

	// Create.
	rec = b.do(t, http.MethodPost, "/v1/rbac/roles", bearer, map[string]string{
		"name": "editor", "description": "can edit docs",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var role auth.Role
	decodeBody(t, rec, &role)
	assert.Equal(t, fmt.Sprintf("/v1/rbac/roles/%s", role.ID), rec.Header().Get("Location"))

	// Get with permissions.
	rec = b.do(t, http.MethodGet, "/v1/rbac/roles/"+role.ID, bearer, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Assign the role to a user.
	target := b.registerUser(t, "writer@example.com", "Str0ng!Pass")
	rec = b.do(t, http.MethodPost, "/v1/rbac/users/"+target.User.ID+"/roles", bearer, map[string]string{
		"role_id": role.ID,
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Deleting a system role conflicts.
	adminRole, err := b.store.Roles().FindByName(context.Background(), auth.AdminRole)
	require.NoError(t, err)
	rec = b.do(t, http.MethodDelete, "/v1/rbac/roles/"+adminRole.ID, bearer, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Custom role deletes fine.
	rec = b.do(t, http.MethodDelete, "/v1/rbac/roles/"+role.ID, bearer, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	b := newTestBackend(t, Options{Version: "1.0.0"})

	rec := b.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	decodeBody(t, rec, &body)
	assert.Equal(t, "1.0.0", body["version"])

	rec = b.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	b := newTestBackend(t, Options{})

	rec := b.do(t, http.MethodGet, "/v1/auth/login", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "POST", rec.Header().Get("Allow"))
}
