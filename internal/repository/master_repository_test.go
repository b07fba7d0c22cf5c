package repository_test

import (
	"context"
	"database/sql"
	"net"
	"syscall"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/xaman1990/SisCoreApi/internal/apperr"
	"github.com/xaman1990/SisCoreApi/internal/db/models"
	"github.com/xaman1990/SisCoreApi/internal/repository"
	"github.com/xaman1990/SisCoreApi/internal/testutil"
)

func TestCompanyRepository_SubdomainLookups(t *testing.T) {
	db := testutil.NewMasterStore(t)
	ctx := context.Background()
	repos := repository.NewMasterRepositories(db)

	acme := &models.Company{Name: "Acme", Subdomain: " ACME ", DbDriver: models.DriverSQLite, DbName: "acme.db", Status: models.CompanyActive}
	gone := &models.Company{Name: "Gone", Subdomain: "gone", DbDriver: models.DriverSQLite, DbName: "gone.db", Status: models.CompanyInactive}
	require.NoError(t, repos.Companies.Create(ctx, acme))
	require.NoError(t, repos.Companies.Create(ctx, gone))
	assert.Equal(t, "acme", acme.Subdomain)

	got, err := repos.Companies.GetActiveBySubdomain(ctx, "Acme")
	require.NoError(t, err)
	assert.Equal(t, acme.ID, got.ID)

	_, err = repos.Companies.GetActiveBySubdomain(ctx, "gone")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	got, err = repos.Companies.GetBySubdomain(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, got.IsActive())

	exists, err := repos.Companies.SubdomainExists(ctx, "acme", acme.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	active, err := repos.Companies.List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, active, 1)
	all, err := repos.Companies.List(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMasterUserRepository_Grants(t *testing.T) {
	db := testutil.NewMasterStore(t)
	ctx := context.Background()
	repos := repository.NewMasterRepositories(db)

	company := &models.Company{Name: "Acme", Subdomain: "acme", DbDriver: models.DriverSQLite, DbName: "acme.db", Status: models.CompanyActive}
	require.NoError(t, repos.Companies.Create(ctx, company))

	user := &models.MasterUser{
		Email:           "Root@Example.com",
		FullName:        "Root",
		TenantUserID:    1,
		TenantCompanyID: company.ID,
		IsGod:           true,
		Status:          models.MasterUserActive,
	}
	require.NoError(t, repos.MasterUsers.Create(ctx, user))

	got, err := repos.MasterUsers.GetByEmail(ctx, "root@example.COM")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	gods := true
	list, err := repos.MasterUsers.ListActive(ctx, &gods)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	grant := &models.MasterUserCompany{MasterUserID: user.ID, CompanyID: company.ID, Role: models.CompanyRoleGod}
	require.NoError(t, repos.Grants.Create(ctx, grant))

	grant.Role = models.CompanyRoleAdmin
	require.NoError(t, repos.Grants.Update(ctx, grant))
	stored, err := repos.Grants.Get(ctx, user.ID, company.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CompanyRoleAdmin, stored.Role)

	removed, err := repos.Grants.Delete(ctx, user.ID, company.ID)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = repos.Grants.Delete(ctx, user.ID, company.ID)
	require.NoError(t, err)
	assert.False(t, removed)
}

func newMockDB(t *testing.T) (*bun.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqldb, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := bun.NewDB(sqldb, pgdialect.New())
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func TestRepository_ConnectivityFailureIsUnavailable(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT").
		WillReturnError(&net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET})

	_, err := repository.NewBunCompanyRepository(db).GetActiveBySubdomain(context.Background(), "acme")
	require.ErrorIs(t, err, apperr.ErrUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_NoRowsIsNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT").WillReturnError(sql.ErrNoRows)

	_, err := repository.NewBunRoleRepository(db).GetByID(context.Background(), 7)
	require.ErrorIs(t, err, apperr.ErrNotFound)
	require.ErrorContains(t, err, "role not found: 7")
}
