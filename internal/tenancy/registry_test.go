package tenancy_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xaman1990/SisCoreApi/internal/apperr"
	"github.com/xaman1990/SisCoreApi/internal/db/bunx"
	"github.com/xaman1990/SisCoreApi/internal/db/models"
	"github.com/xaman1990/SisCoreApi/internal/repository"
	"github.com/xaman1990/SisCoreApi/internal/tenancy"
	"github.com/xaman1990/SisCoreApi/internal/testutil"
)

func TestRegistry_Lifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := tenancy.NewRegistry(testutil.NewMasterStore(t), "sslmode=disable", nil)

	acme := &models.Company{Name: "Acme", Subdomain: "Acme", DbHost: "db", DbName: "acme", DbUser: "u", DbPassword: "p"}
	require.NoError(t, reg.Create(ctx, acme))
	assert.Equal(t, "acme", acme.Subdomain)
	assert.True(t, acme.IsActive())

	dup := &models.Company{Name: "Other", Subdomain: "ACME", DbHost: "db", DbName: "x"}
	require.ErrorIs(t, reg.Create(ctx, dup), apperr.ErrConflict)

	bad := &models.Company{Name: "Bad", Subdomain: "bad", DbDriver: "oracle", DbName: "x"}
	require.ErrorIs(t, reg.Create(ctx, bad), apperr.ErrConflict)

	got, err := reg.ActiveBySubdomain(ctx, "ACME")
	require.NoError(t, err)
	assert.Equal(t, acme.ID, got.ID)

	host := "db2"
	rotated, err := reg.UpdateConnection(ctx, acme.ID, tenancy.ConnectionUpdate{Host: &host})
	require.NoError(t, err)
	assert.Equal(t, "db2", rotated.DbHost)

	require.NoError(t, reg.Deactivate(ctx, acme.ID))
	_, err = reg.ActiveBySubdomain(ctx, "acme")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	all, err := reg.List(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStoreFactory_OpensIndependentHandles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testutil.NewTenantStore(t)
	tc := &tenancy.TenantContext{CompanyID: 1, Subdomain: "acme", Driver: models.DriverSQLite, ConnectionString: "file:" + store.Path}

	factory := tenancy.NewStoreFactory(bunx.Options{})
	first, err := factory.Open(ctx, tc)
	require.NoError(t, err)
	second, err := factory.Open(ctx, tc)
	require.NoError(t, err)
	assert.NotSame(t, first.DB, second.DB)

	require.NoError(t, first.Repos().Permissions.Create(ctx, &models.Permission{Code: "read", Name: "Read"}))
	require.NoError(t, first.Close())

	perms, err := second.Repos().Permissions.List(ctx, repositoryFilterAll())
	require.NoError(t, err)
	assert.Len(t, perms, 1)
	require.NoError(t, second.Close())

	_, err = factory.Open(ctx, nil)
	require.ErrorIs(t, err, apperr.ErrTenantUnresolved)
}

func TestStoreFactory_UnreachableStoreIsUnavailable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	missingDir := filepath.Join(t.TempDir(), "missing", "tenant.db")
	tc := &tenancy.TenantContext{CompanyID: 1, Driver: models.DriverSQLite, ConnectionString: "file:" + missingDir + "?mode=ro"}

	store, err := tenancy.NewStoreFactory(bunx.Options{}).Open(ctx, tc)
	require.NoError(t, err, "open is lazy")
	defer store.Close()

	_, err = store.Repos().Permissions.GetByID(ctx, 1)
	require.ErrorIs(t, err, apperr.ErrUnavailable)
}

func repositoryFilterAll() repository.PermissionFilter {
	return repository.PermissionFilter{IncludeSystem: true}
}
