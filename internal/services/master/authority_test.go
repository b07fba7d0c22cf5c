package master_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xaman1990/SisCoreApi/internal/apperr"
	"github.com/xaman1990/SisCoreApi/internal/db/bunx"
	"github.com/xaman1990/SisCoreApi/internal/db/models"
	"github.com/xaman1990/SisCoreApi/internal/repository"
	"github.com/xaman1990/SisCoreApi/internal/services/master"
	"github.com/xaman1990/SisCoreApi/internal/tenancy"
	"github.com/xaman1990/SisCoreApi/internal/testutil"
)

type fixture struct {
	auth    *master.Authority
	acme    *models.Company
	globex  *models.Company
	tenants repository.TenantRepositories
}

// newFixture builds a master store with two companies sharing one sqlite
// tenant store holding users 1 (ana), 2 (bruno), 3 (no email) and
// 4 (inactive).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	masterDB := testutil.NewMasterStore(t)
	tenant := testutil.NewTenantStore(t)

	companies := repository.NewMasterRepositories(masterDB).Companies
	acme := &models.Company{Name: "Acme", Subdomain: "acme", DbDriver: models.DriverSQLite, DbName: tenant.Path, Status: models.CompanyActive}
	globex := &models.Company{Name: "Globex", Subdomain: "globex", DbDriver: models.DriverSQLite, DbName: tenant.Path, Status: models.CompanyActive}
	require.NoError(t, companies.Create(ctx, acme))
	require.NoError(t, companies.Create(ctx, globex))

	repos := repository.NewTenantRepositories(tenant.DB)
	for _, u := range []*models.User{
		{ID: 1, Email: "ana@acme.test", FullName: "Ana", Status: models.StatusActive},
		{ID: 2, Email: "bruno@acme.test", FullName: "Bruno", Status: models.StatusActive},
		{ID: 3, PhoneNumber: "+5215550000", FullName: "Phone only", Status: models.StatusActive},
		{ID: 4, Email: "gone@acme.test", FullName: "Gone", Status: models.StatusInactive},
	} {
		require.NoError(t, repos.Users.Create(ctx, u))
	}

	return &fixture{
		auth:    master.NewAuthority(masterDB, tenancy.NewStoreFactory(bunx.Options{}), "", nil),
		acme:    acme,
		globex:  globex,
		tenants: repos,
	}
}

func TestRegisterMasterUser_GodGating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	god, err := f.auth.RegisterMasterUser(ctx, master.RegisterInput{TenantUserID: 1, TenantSubdomain: "ACME", IsGod: true}, nil)
	require.NoError(t, err)
	assert.True(t, god.IsGod)
	assert.Equal(t, "ana@acme.test", god.Email)
	assert.Equal(t, "acme", god.TenantSubdomain)
	require.Len(t, god.Companies, 1)
	assert.Equal(t, models.CompanyRoleGod, god.Companies[0].Role)

	owner, err := f.auth.RegisterMasterUser(ctx, master.RegisterInput{TenantUserID: 2, TenantSubdomain: "globex"}, &god.ID)
	require.NoError(t, err)
	assert.False(t, owner.IsGod)
	require.Len(t, owner.Companies, 1)
	assert.Equal(t, models.CompanyRoleOwner, owner.Companies[0].Role)

	_, err = f.auth.RegisterMasterUser(ctx, master.RegisterInput{TenantUserID: 2, TenantSubdomain: "acme", IsGod: true}, &owner.ID)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = f.auth.RegisterMasterUser(ctx, master.RegisterInput{TenantUserID: 2, TenantSubdomain: "acme"}, &god.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict, "duplicate email")

	assert.True(t, f.auth.IsGodByEmail(ctx, "ANA@acme.test"))
	assert.False(t, f.auth.IsGodByEmail(ctx, "bruno@acme.test"))
	assert.False(t, f.auth.IsGodByEmail(ctx, "nobody@acme.test"))
	assert.False(t, f.auth.IsGodByEmail(ctx, ""))

	isGod, err := f.auth.IsGod(ctx, 1, f.acme.ID)
	require.NoError(t, err)
	assert.True(t, isGod)
	isGod, err = f.auth.IsGod(ctx, 1, f.globex.ID)
	require.NoError(t, err)
	assert.False(t, isGod)
}

func TestRegisterMasterUser_ValidatesTenantUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   master.RegisterInput
		kind error
	}{
		{"unknown company", master.RegisterInput{TenantUserID: 1, TenantSubdomain: "initech"}, apperr.ErrNotFound},
		{"unknown user", master.RegisterInput{TenantUserID: 99, TenantSubdomain: "acme"}, apperr.ErrNotFound},
		{"inactive user", master.RegisterInput{TenantUserID: 4, TenantSubdomain: "acme"}, apperr.ErrNotFound},
		{"user without email", master.RegisterInput{TenantUserID: 3, TenantSubdomain: "acme"}, apperr.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.auth.RegisterMasterUser(ctx, tt.in, nil)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestAssignCompany(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	god, err := f.auth.RegisterMasterUser(ctx, master.RegisterInput{TenantUserID: 1, TenantSubdomain: "acme", IsGod: true}, nil)
	require.NoError(t, err)
	owner, err := f.auth.RegisterMasterUser(ctx, master.RegisterInput{TenantUserID: 2, TenantSubdomain: "acme"}, &god.ID)
	require.NoError(t, err)

	in := master.AssignInput{MasterUserID: owner.ID, CompanyID: f.globex.ID, Role: "viewer"}

	_, err = f.auth.AssignCompany(ctx, in, &owner.ID)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	_, err = f.auth.AssignCompany(ctx, in, nil)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	godRole := in
	godRole.Role = "GOD"
	_, err = f.auth.AssignCompany(ctx, godRole, &god.ID)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	bogus := in
	bogus.Role = "janitor"
	_, err = f.auth.AssignCompany(ctx, bogus, &god.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	view, err := f.auth.AssignCompany(ctx, in, &god.ID)
	require.NoError(t, err)
	require.Len(t, view.Companies, 2)
	assert.Equal(t, "globex", view.Companies[1].Subdomain)
	assert.Equal(t, models.CompanyRoleViewer, view.Companies[1].Role)

	in.Role = "admin"
	view, err = f.auth.AssignCompany(ctx, in, &god.ID)
	require.NoError(t, err)
	require.Len(t, view.Companies, 2)
	assert.Equal(t, models.CompanyRoleAdmin, view.Companies[1].Role)

	removed, err := f.auth.RevokeCompany(ctx, owner.ID, f.globex.ID)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = f.auth.RevokeCompany(ctx, owner.ID, f.globex.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	missing := in
	missing.MasterUserID = 999
	_, err = f.auth.AssignCompany(ctx, missing, &god.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	god, err := f.auth.RegisterMasterUser(ctx, master.RegisterInput{TenantUserID: 1, TenantSubdomain: "acme", IsGod: true}, nil)
	require.NoError(t, err)
	_, err = f.auth.RegisterMasterUser(ctx, master.RegisterInput{TenantUserID: 2, TenantSubdomain: "acme"}, &god.ID)
	require.NoError(t, err)

	all, err := f.auth.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "ana@acme.test", all[0].Email)

	onlyGods := true
	gods, err := f.auth.List(ctx, &onlyGods)
	require.NoError(t, err)
	require.Len(t, gods, 1)
	assert.Equal(t, god.ID, gods[0].ID)

	byEmail, err := f.auth.GetByEmail(ctx, "bruno@acme.test")
	require.NoError(t, err)
	byTenant, err := f.auth.GetByTenantUser(ctx, 2, f.acme.ID)
	require.NoError(t, err)
	assert.Equal(t, byEmail.ID, byTenant.ID)

	got, err := f.auth.Get(ctx, god.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.TenantCompanyName)

	_, err = f.auth.Get(ctx, 999)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
