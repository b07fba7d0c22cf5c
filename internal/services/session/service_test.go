package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xaman1990/SisCoreApi/internal/apperr"
	"github.com/xaman1990/SisCoreApi/internal/auth"
	"github.com/xaman1990/SisCoreApi/internal/db/bunx"
	"github.com/xaman1990/SisCoreApi/internal/db/models"
	"github.com/xaman1990/SisCoreApi/internal/repository"
	"github.com/xaman1990/SisCoreApi/internal/telemetry"
	"github.com/xaman1990/SisCoreApi/internal/tenancy"
	"github.com/xaman1990/SisCoreApi/internal/testutil"
)

type sessionFixture struct {
	svc    *Service
	tokens *auth.TokenService
	repos  repository.TenantRepositories
	tc     tenancy.TenantContext
}

// User 10 (ana) has a password and role Clerk; user 11 is OAuth-only with a
// phone number; user 12 is inactive.
func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	store := testutil.NewTenantStore(t)
	ctx := context.Background()
	repos := repository.NewTenantRepositories(store.DB)

	passwords := auth.NewPasswordService(4)
	hash, err := passwords.Hash("s3cret!")
	require.NoError(t, err)

	require.NoError(t, repos.Roles.Create(ctx, &models.Role{ID: 3, Name: "Clerk", Status: models.StatusActive}))
	require.NoError(t, repos.Roles.Create(ctx, &models.Role{ID: 4, Name: "Retired", Status: models.StatusInactive}))
	require.NoError(t, repos.Users.Create(ctx, &models.User{ID: 10, Email: "ana@acme.test", PasswordHash: hash, FullName: "Ana", Status: models.StatusActive}))
	require.NoError(t, repos.Users.Create(ctx, &models.User{ID: 11, PhoneNumber: "+5215550001", FullName: "Oscar", Status: models.StatusActive}))
	require.NoError(t, repos.Users.Create(ctx, &models.User{ID: 12, Email: "gone@acme.test", PasswordHash: hash, FullName: "Gone", Status: models.StatusInactive}))
	require.NoError(t, repos.Roles.ReplaceUserRoles(ctx, 10, []int64{3, 4}, nil, time.Now().UTC()))

	tokens, err := auth.NewTokenService(auth.TokenConfig{Secret: "test-secret", Issuer: "siscore"})
	require.NoError(t, err)

	svc := NewService(tenancy.NewStoreFactory(bunx.Options{}), tokens, passwords,
		Config{AccessTTL: 15 * time.Minute, RefreshTTL: 24 * time.Hour}, telemetry.NewMetrics(), nil)
	tc := tenancy.TenantContext{
		CompanyID:        1,
		Subdomain:        "acme",
		Driver:           models.DriverSQLite,
		ConnectionString: "file:" + store.Path,
	}
	return &sessionFixture{svc: svc, tokens: tokens, repos: repos, tc: tc}
}

func TestLogin(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	out, err := f.svc.Login(ctx, f.tc,
		LoginInput{Email: " ANA@acme.test ", Password: "s3cret!", DeviceID: "dev-1", DeviceName: "Laptop"},
		ClientInfo{IP: "10.0.0.1", UserAgent: "curl/8"})
	require.NoError(t, err)

	assert.Equal(t, int64(10), out.User.ID)
	assert.Equal(t, "Ana", out.User.FullName)
	assert.Equal(t, []string{"Clerk"}, out.User.Roles)

	claims, err := f.tokens.Validate(out.AccessToken)
	require.NoError(t, err)
	id, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, int64(10), id)
	assert.Equal(t, []string{"Clerk"}, claims.Roles)
	assert.Equal(t, "acme", claims.Tenant)

	stored, err := f.repos.Tokens.GetByJti(ctx, out.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "dev-1", stored.DeviceID)
	assert.Equal(t, "Laptop", stored.DeviceName)
	assert.Equal(t, "10.0.0.1", stored.IPAddress)
	assert.Nil(t, stored.RevokedAt)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), stored.ExpiresAt, time.Minute)

	user, err := f.repos.Users.GetByID(ctx, 10)
	require.NoError(t, err)
	assert.NotNil(t, user.LastLoginAt)
}

func TestLogin_UserWithoutPasswordHash(t *testing.T) {
	f := newSessionFixture(t)

	for _, password := range []string{"", "anything"} {
		_, err := f.svc.Login(context.Background(), f.tc, LoginInput{Phone: "+5215550001", Password: password}, ClientInfo{})
		require.Error(t, err)
		assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)
	}

	tokens, err := f.repos.Tokens.ListByUser(context.Background(), 11)
	require.NoError(t, err)
	assert.Empty(t, tokens)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	f := newSessionFixture(t)

	tests := []struct {
		name string
		in   LoginInput
	}{
		{"no identifier", LoginInput{Password: "s3cret!"}},
		{"unknown email", LoginInput{Email: "nobody@acme.test", Password: "s3cret!"}},
		{"wrong password", LoginInput{Email: "ana@acme.test", Password: "nope"}},
		{"empty password", LoginInput{Email: "ana@acme.test"}},
		{"inactive user", LoginInput{Email: "gone@acme.test", Password: "s3cret!"}},
		{"unknown phone", LoginInput{Phone: "+1000"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Login(context.Background(), f.tc, tt.in, ClientInfo{})
			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)
		})
	}
}

func TestRefresh_RotationChain(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	first, err := f.svc.Login(ctx, f.tc,
		LoginInput{Email: "ana@acme.test", Password: "s3cret!", DeviceID: "dev-1", DeviceName: "Laptop"},
		ClientInfo{IP: "10.0.0.1", UserAgent: "curl/8"})
	require.NoError(t, err)

	const n = 4
	chain := []string{first.RefreshToken}
	for i := 0; i < n; i++ {
		next, err := f.svc.Refresh(ctx, f.tc, chain[len(chain)-1], RefreshInput{IP: "10.0.0.2"})
		require.NoError(t, err)
		assert.Equal(t, int64(10), next.User.ID)
		assert.NotEqual(t, chain[len(chain)-1], next.RefreshToken)
		chain = append(chain, next.RefreshToken)
	}

	tokens, err := f.repos.Tokens.ListByUser(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tokens, n+1)

	active := 0
	for _, tok := range tokens {
		if tok.IsActive(time.Now()) {
			active++
		}
	}
	assert.Equal(t, 1, active)

	for i := 0; i < n; i++ {
		tok, err := f.repos.Tokens.GetByJti(ctx, chain[i])
		require.NoError(t, err)
		require.NotNil(t, tok.RevokedAt)
		require.NotNil(t, tok.ReplacedByJti)
		assert.Equal(t, chain[i+1], *tok.ReplacedByJti)
	}

	last, err := f.repos.Tokens.GetByJti(ctx, chain[n])
	require.NoError(t, err)
	assert.Nil(t, last.RevokedAt)
	assert.Equal(t, "dev-1", last.DeviceID)
	assert.Equal(t, "Laptop", last.DeviceName)
	assert.Equal(t, "10.0.0.2", last.IPAddress)
	assert.Equal(t, "curl/8", last.UserAgent)

	_, err = f.svc.Refresh(ctx, f.tc, chain[0], RefreshInput{})
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)
}

func TestRefresh_Rejections(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	out, err := f.svc.Login(ctx, f.tc, LoginInput{Email: "ana@acme.test", Password: "s3cret!"}, ClientInfo{})
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, f.tc, "", RefreshInput{})
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)
	_, err = f.svc.Refresh(ctx, f.tc, "unknown-jti", RefreshInput{})
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)

	clock := f.svc.now
	f.svc.now = func() time.Time { return clock().Add(48 * time.Hour) }
	_, err = f.svc.Refresh(ctx, f.tc, out.RefreshToken, RefreshInput{})
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)
	f.svc.now = clock

	user, err := f.repos.Users.GetByID(ctx, 10)
	require.NoError(t, err)
	user.Status = models.StatusBlocked
	require.NoError(t, f.repos.Users.Update(ctx, user, "status"))

	_, err = f.svc.Refresh(ctx, f.tc, out.RefreshToken, RefreshInput{})
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)

	tok, err := f.repos.Tokens.GetByJti(ctx, out.RefreshToken)
	require.NoError(t, err)
	assert.Nil(t, tok.RevokedAt, "rejected refresh must not revoke")
}

func TestLogout(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	out, err := f.svc.Login(ctx, f.tc, LoginInput{Email: "ana@acme.test", Password: "s3cret!"}, ClientInfo{})
	require.NoError(t, err)

	revoked, err := f.svc.Logout(ctx, f.tc, out.RefreshToken)
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = f.svc.Logout(ctx, f.tc, out.RefreshToken)
	require.NoError(t, err)
	assert.False(t, revoked)

	revoked, err = f.svc.Logout(ctx, f.tc, "missing")
	require.NoError(t, err)
	assert.False(t, revoked)

	_, err = f.svc.Refresh(ctx, f.tc, out.RefreshToken, RefreshInput{})
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)
}
