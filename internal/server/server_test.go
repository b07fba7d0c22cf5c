package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaman1990/SisCoreApi/internal/apperr"
	"github.com/xaman1990/SisCoreApi/internal/auth"
	"github.com/xaman1990/SisCoreApi/internal/db/bunx"
	"github.com/xaman1990/SisCoreApi/internal/db/models"
	"github.com/xaman1990/SisCoreApi/internal/repository"
	"github.com/xaman1990/SisCoreApi/internal/services/catalog"
	"github.com/xaman1990/SisCoreApi/internal/services/master"
	"github.com/xaman1990/SisCoreApi/internal/services/permissions"
	"github.com/xaman1990/SisCoreApi/internal/services/roles"
	"github.com/xaman1990/SisCoreApi/internal/services/session"
	"github.com/xaman1990/SisCoreApi/internal/services/users"
	"github.com/xaman1990/SisCoreApi/internal/telemetry"
	"github.com/xaman1990/SisCoreApi/internal/tenancy"
	"github.com/xaman1990/SisCoreApi/internal/testutil"
)

// headerResolver resolves tenants from the X-Tenant header only.
type headerResolver map[string]tenancy.TenantContext

func (h headerResolver) Resolve(_ context.Context, meta tenancy.RequestMetadata) (tenancy.TenantContext, error) {
	tc, ok := h[meta.Header.Get("X-Tenant")]
	if !ok {
		return tenancy.TenantContext{}, apperr.TenantUnresolved(errors.New("unknown tenant"))
	}
	return tc, nil
}

type serverFixture struct {
	router http.Handler
	tokens *auth.TokenService
}

// newServerFixture wires every service over a sqlite master store and one
// tenant "acme" holding ana (user 1, registered as God) and bruno (user 2).
func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	ctx := context.Background()
	masterDB := testutil.NewMasterStore(t)
	tenant := testutil.NewTenantStore(t)

	registry := tenancy.NewRegistry(masterDB, "", nil)
	acme := &models.Company{Name: "Acme", Subdomain: "acme", DbDriver: models.DriverSQLite, DbName: tenant.Path}
	require.NoError(t, registry.Create(ctx, acme))
	tc, err := tenancy.NewTenantContext(acme, "")
	require.NoError(t, err)

	passwords := auth.NewPasswordService(4)
	hash, err := passwords.Hash("s3cret!")
	require.NoError(t, err)
	repos := repository.NewTenantRepositories(tenant.DB)
	require.NoError(t, repos.Users.Create(ctx, &models.User{ID: 1, Email: "ana@acme.test", PasswordHash: hash, FullName: "Ana", Status: models.StatusActive}))
	require.NoError(t, repos.Users.Create(ctx, &models.User{ID: 2, Email: "bruno@acme.test", PasswordHash: hash, FullName: "Bruno", Status: models.StatusActive}))

	stores := tenancy.NewStoreFactory(bunx.Options{})
	authority := master.NewAuthority(masterDB, stores, "", nil)
	_, err = authority.RegisterMasterUser(ctx, master.RegisterInput{TenantUserID: 1, TenantSubdomain: "acme", IsGod: true}, nil)
	require.NoError(t, err)

	tokens, err := auth.NewTokenService(auth.TokenConfig{Secret: "test-secret", Issuer: "siscore"})
	require.NoError(t, err)
	metrics := telemetry.NewMetrics()

	router := NewRouter(RouterOptions{
		Resolver:    headerResolver{"acme": tc},
		Tokens:      tokens,
		Registry:    registry,
		Sessions:    session.NewService(stores, tokens, passwords, session.Config{AccessTTL: time.Minute, RefreshTTL: time.Hour}, metrics, nil),
		Permissions: permissions.NewEngine(stores, metrics, nil),
		Catalog:     catalog.NewManager(stores, nil),
		Roles:       roles.NewService(stores, authority, nil),
		Users:       users.NewService(stores, passwords, nil),
		Master:      authority,
		Metrics:     metrics,
	})
	return &serverFixture{router: router, tokens: tokens}
}

func (f *serverFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-Tenant", "acme")
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *serverFixture) login(t *testing.T, email string) session.Session {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": email, "password": "s3cret!"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out session.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthAndMetrics(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])

	f.do(t, http.MethodGet, "/api/roles", "", nil)
	rec = f.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginAndMe(t *testing.T) {
	f := newServerFixture(t)
	s := f.login(t, "ana@acme.test")
	assert.NotEmpty(t, s.RefreshToken)
	assert.Equal(t, int64(1), s.User.ID)

	rec := f.do(t, http.MethodGet, "/api/auth/me", s.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "1", body["userId"])
	assert.Equal(t, "acme", body["tenant"])

	rec = f.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": s.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/auth/logout", "", map[string]string{"refreshToken": s.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "rotated token is already revoked")
}

func TestAuthFailures(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "ana@acme.test", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, apperr.ErrInvalidCredentials.Error(), decodeBody(t, rec)["error"])

	rec = f.do(t, http.MethodGet, "/api/roles", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	foreign, err := f.tokens.IssueForTenant("globex", 1, "ana@acme.test", nil, time.Minute)
	require.NoError(t, err)
	rec = f.do(t, http.MethodGet, "/api/auth/me", foreign, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUnknownTenant(t *testing.T) {
	f := newServerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{}`))
	req.Header.Set("X-Tenant", "initech")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotContains(t, rec.Body.String(), "initech")
}

func TestErrorMapping(t *testing.T) {
	f := newServerFixture(t)
	token := f.login(t, "bruno@acme.test").AccessToken

	rec := f.do(t, http.MethodGet, "/api/roles/999", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/roles", token, map[string]string{"name": "  "})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/roles/abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/roles", token, map[string]string{"name": "Clerk"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "Clerk", decodeBody(t, rec)["name"])
}

func TestPermissionCheck_NoGrant(t *testing.T) {
	f := newServerFixture(t)
	token := f.login(t, "bruno@acme.test").AccessToken

	rec := f.do(t, http.MethodPost, "/api/permissions/check", token, map[string]any{"moduleId": 999, "permissionCode": "view"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["hasPermission"])
	assert.Equal(t, permissions.MsgPrivilegeNotFound, body["message"])
}

func TestMasterCompanies_GodOnly(t *testing.T) {
	f := newServerFixture(t)
	god := f.login(t, "ana@acme.test").AccessToken
	plain := f.login(t, "bruno@acme.test").AccessToken

	company := map[string]any{
		"name":      "Globex",
		"subdomain": "globex",
		"dbDriver":  models.DriverSQLite,
		"dbName":    filepath.Join(t.TempDir(), "globex.db"),
	}

	rec := f.do(t, http.MethodPost, "/api/master/companies", plain, company)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/master/companies", god, company)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "globex", decodeBody(t, rec)["subdomain"])
	assert.NotContains(t, rec.Body.String(), "dbPassword")

	rec = f.do(t, http.MethodGet, "/api/master/users/check-god", god, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["isGod"])

	rec = f.do(t, http.MethodPost, "/api/master/users/register", plain, map[string]any{"tenantUserId": 2, "tenantSubdomain": "acme", "isGod": true})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWriteError_HidesInternalErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)

	writeError(rec, req, zap.NewNop(), errors.New("pq: password authentication failed"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = httptest.NewRecorder()
	writeError(rec, req, zap.NewNop(), apperr.Unavailable("open tenant store", errors.New("dial tcp 10.0.0.5:5432")))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")
}
