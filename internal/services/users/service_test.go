package users_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xaman1990/SisCoreApi/internal/apperr"
	"github.com/xaman1990/SisCoreApi/internal/auth"
	"github.com/xaman1990/SisCoreApi/internal/db/bunx"
	"github.com/xaman1990/SisCoreApi/internal/db/models"
	"github.com/xaman1990/SisCoreApi/internal/repository"
	"github.com/xaman1990/SisCoreApi/internal/services/users"
	"github.com/xaman1990/SisCoreApi/internal/tenancy"
	"github.com/xaman1990/SisCoreApi/internal/testutil"
)

type fixture struct {
	svc       *users.Service
	passwords *auth.PasswordService
	repos     repository.TenantRepositories
	tc        tenancy.TenantContext
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testutil.NewTenantStore(t)
	ctx := context.Background()
	repos := repository.NewTenantRepositories(store.DB)

	require.NoError(t, repos.Roles.Create(ctx, &models.Role{ID: 2, Name: "Admin", Status: models.StatusActive}))
	require.NoError(t, repos.Roles.Create(ctx, &models.Role{ID: 3, Name: "Clerk", Status: models.StatusActive}))

	passwords := auth.NewPasswordService(4)
	return &fixture{
		svc:       users.NewService(tenancy.NewStoreFactory(bunx.Options{}), passwords, nil),
		passwords: passwords,
		repos:     repos,
		tc: tenancy.TenantContext{
			CompanyID:        1,
			Subdomain:        "acme",
			Driver:           models.DriverSQLite,
			ConnectionString: "file:" + store.Path,
		},
	}
}

func roleIDs(v *users.UserView) []int64 {
	out := make([]int64, 0, len(v.Roles))
	for _, r := range v.Roles {
		out = append(out, r.ID)
	}
	return out
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	actor := int64(1)

	v, err := f.svc.Register(ctx, f.tc, users.RegisterUserInput{
		Email:    "Ana@Acme.test",
		Password: "s3cret!",
		FullName: "Ana",
		RoleIDs:  []int64{3, 99, 2},
	}, &actor)
	require.NoError(t, err)
	assert.Equal(t, "ana@acme.test", v.Email)
	assert.Equal(t, models.StatusActive, v.Status)
	assert.Equal(t, []int64{2, 3}, roleIDs(v))
	assert.True(t, f.passwords.Verify("s3cret!", v.PasswordHash))
	require.NotNil(t, v.CreatedBy)
	assert.Equal(t, actor, *v.CreatedBy)

	tests := []struct {
		name string
		in   users.RegisterUserInput
	}{
		{"no contact", users.RegisterUserInput{Password: "x", FullName: "X"}},
		{"no name", users.RegisterUserInput{Email: "x@acme.test", Password: "x"}},
		{"no password", users.RegisterUserInput{Email: "x@acme.test", FullName: "X"}},
		{"duplicate email", users.RegisterUserInput{Email: "ANA@acme.test", Password: "x", FullName: "X"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Register(ctx, f.tc, tt.in, nil)
			assert.ErrorIs(t, err, apperr.ErrConflict)
		})
	}
}

func TestUpdateAssignDeactivate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ana, err := f.svc.Register(ctx, f.tc, users.RegisterUserInput{Email: "ana@acme.test", Password: "x", FullName: "Ana"}, nil)
	require.NoError(t, err)
	bruno, err := f.svc.Register(ctx, f.tc, users.RegisterUserInput{PhoneNumber: "+5215550002", Password: "x", FullName: "Bruno"}, nil)
	require.NoError(t, err)

	phone := "+5215550002"
	_, err = f.svc.Update(ctx, f.tc, ana.ID, users.UserPatch{PhoneNumber: &phone})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	name, empty := "Ana Maria", ""
	updated, err := f.svc.Update(ctx, f.tc, ana.ID, users.UserPatch{FullName: &name, Email: &empty})
	require.NoError(t, err)
	assert.Equal(t, "Ana Maria", updated.FullName)
	assert.Equal(t, "ana@acme.test", updated.Email)
	assert.NotNil(t, updated.UpdatedAt)

	v, err := f.svc.AssignRoles(ctx, f.tc, bruno.ID, []int64{3, 3}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, roleIDs(v))

	v, err = f.svc.AssignRoles(ctx, f.tc, bruno.ID, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, v.Roles)

	_, err = f.svc.AssignRoles(ctx, f.tc, 999, []int64{2}, nil)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	done, err := f.svc.Deactivate(ctx, f.tc, bruno.ID)
	require.NoError(t, err)
	assert.True(t, done)
	done, err = f.svc.Deactivate(ctx, f.tc, 999)
	require.NoError(t, err)
	assert.False(t, done)

	active, err := f.svc.List(ctx, f.tc, false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, ana.ID, active[0].ID)

	all, err := f.svc.List(ctx, f.tc, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
