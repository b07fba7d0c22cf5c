package catalog_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xaman1990/SisCoreApi/internal/apperr"
	"github.com/xaman1990/SisCoreApi/internal/db/bunx"
	"github.com/xaman1990/SisCoreApi/internal/db/models"
	"github.com/xaman1990/SisCoreApi/internal/repository"
	"github.com/xaman1990/SisCoreApi/internal/services/catalog"
	"github.com/xaman1990/SisCoreApi/internal/tenancy"
	"github.com/xaman1990/SisCoreApi/internal/testutil"
)

type fixture struct {
	mgr   *catalog.Manager
	repos repository.TenantRepositories
	tc    tenancy.TenantContext
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testutil.NewTenantStore(t)
	return &fixture{
		mgr:   catalog.NewManager(tenancy.NewStoreFactory(bunx.Options{}), nil),
		repos: repository.NewTenantRepositories(store.DB),
		tc: tenancy.TenantContext{
			CompanyID:        1,
			Subdomain:        "acme",
			Driver:           models.DriverSQLite,
			ConnectionString: "file:" + store.Path,
		},
	}
}

func (f *fixture) module(t *testing.T, code string) *models.Module {
	t.Helper()
	mod, err := f.mgr.CreateModule(context.Background(), f.tc, catalog.ModuleInput{Code: code, Name: code}, nil)
	require.NoError(t, err)
	return mod
}

func livePrivileges(t *testing.T, f *fixture, moduleID int64) []models.ModulePrivilege {
	t.Helper()
	out, err := f.mgr.ListPrivileges(context.Background(), f.tc, moduleID, repository.PrivilegeFilter{})
	require.NoError(t, err)
	return out
}

func TestCreatePermission_FansOutDefaultToEveryModule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	users := f.module(t, "users")
	reports := f.module(t, "reports")

	perm, err := f.mgr.CreatePermission(ctx, f.tc, catalog.PermissionInput{
		Code:               "  Approve ",
		Name:               "Approve",
		IsDefaultForModule: true,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "approve", perm.Code)

	for _, mod := range []*models.Module{users, reports} {
		privs := livePrivileges(t, f, mod.ID)
		require.Len(t, privs, 1, "module %s", mod.Code)
		assert.Equal(t, perm.ID, privs[0].PermissionID)
		assert.Equal(t, "approve", privs[0].Code)
		assert.True(t, privs[0].IsDefault)
	}

	_, err = f.mgr.CreatePermission(ctx, f.tc, catalog.PermissionInput{Code: "APPROVE", Name: "Again"}, nil)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestCreatePermission_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.CreatePermission(ctx, f.tc, catalog.PermissionInput{Code: " ", Name: "x"}, nil)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	_, err = f.mgr.CreatePermission(ctx, f.tc, catalog.PermissionInput{Code: "x", Name: ""}, nil)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	perm, err := f.mgr.CreatePermission(ctx, f.tc, catalog.PermissionInput{Code: "export", Name: "Export"}, nil)
	require.NoError(t, err)
	mod := f.module(t, "users")
	assert.Empty(t, livePrivileges(t, f, mod.ID))

	other, err := f.mgr.CreatePermission(ctx, f.tc, catalog.PermissionInput{Code: "print", Name: "Print"}, nil)
	require.NoError(t, err)
	taken := "EXPORT"
	_, err = f.mgr.UpdatePermission(ctx, f.tc, other.ID, catalog.PermissionPatch{Code: &taken}, nil)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	same := "Export"
	name := "Export data"
	updated, err := f.mgr.UpdatePermission(ctx, f.tc, perm.ID, catalog.PermissionPatch{Code: &same, Name: &name}, nil)
	require.NoError(t, err)
	assert.Equal(t, "export", updated.Code)
	assert.Equal(t, "Export data", updated.Name)
	assert.NotNil(t, updated.UpdatedAt)
}

func TestCreateModule_PullsDefaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, code := range []string{"read", "create"} {
		_, err := f.mgr.CreatePermission(ctx, f.tc, catalog.PermissionInput{Code: code, Name: code, IsDefaultForModule: true}, nil)
		require.NoError(t, err)
	}
	_, err := f.mgr.CreatePermission(ctx, f.tc, catalog.PermissionInput{Code: "approve", Name: "approve"}, nil)
	require.NoError(t, err)

	mod := f.module(t, "timesheet")
	privs := livePrivileges(t, f, mod.ID)
	require.Len(t, privs, 2)
	assert.Equal(t, "create", privs[0].Code)
	assert.Equal(t, "read", privs[1].Code)

	_, err = f.mgr.CreateModule(ctx, f.tc, catalog.ModuleInput{Code: "timesheet", Name: "Dup"}, nil)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestEnsureDefaultPrivileges_IsIdempotentAndRevives(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mod := f.module(t, "users")
	_, err := f.mgr.CreatePermission(ctx, f.tc, catalog.PermissionInput{Code: "read", Name: "Read", IsDefaultForModule: true}, nil)
	require.NoError(t, err)

	privs := livePrivileges(t, f, mod.ID)
	require.Len(t, privs, 1)
	readID := privs[0].ID

	deleted, err := f.mgr.DeletePrivilege(ctx, f.tc, readID, nil)
	require.NoError(t, err)
	require.True(t, deleted)
	assert.Empty(t, livePrivileges(t, f, mod.ID))

	require.NoError(t, f.mgr.EnsureDefaultPrivileges(ctx, f.tc, mod.ID, nil))
	first := livePrivileges(t, f, mod.ID)
	require.Len(t, first, 1)
	assert.Equal(t, readID, first[0].ID)
	assert.True(t, first[0].IsDefault)

	require.NoError(t, f.mgr.EnsureDefaultPrivileges(ctx, f.tc, mod.ID, nil))
	assert.Equal(t, first, livePrivileges(t, f, mod.ID))

	all, err := f.mgr.ListPrivileges(ctx, f.tc, mod.ID, repository.PrivilegeFilter{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	assert.ErrorIs(t, f.mgr.EnsureDefaultPrivileges(ctx, f.tc, 999, nil), apperr.ErrNotFound)
}

func TestDeletePrivilege_BlockedByLiveAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mod := f.module(t, "users")
	perm, err := f.mgr.CreatePermission(ctx, f.tc, catalog.PermissionInput{Code: "create", Name: "Create"}, nil)
	require.NoError(t, err)
	priv, err := f.mgr.CreatePrivilege(ctx, f.tc, mod.ID, catalog.PrivilegeInput{PermissionID: perm.ID, NameOverride: "Create user"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Create user", priv.Name)
	assert.Equal(t, "create", priv.Code)

	role := &models.Role{Name: "Manager", Status: models.StatusActive}
	require.NoError(t, f.repos.Roles.Create(ctx, role))
	a := models.NewAssignment(priv.ID, models.RoleGrantee(role.ID), nil, priv.CreatedAt)
	require.NoError(t, f.repos.Assignments.Create(ctx, a))

	_, err = f.mgr.DeletePrivilege(ctx, f.tc, priv.ID, nil)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	a.IsDeleted = true
	require.NoError(t, f.repos.Assignments.Update(ctx, a, "is_deleted"))

	deleted, err := f.mgr.DeletePrivilege(ctx, f.tc, priv.ID, nil)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = f.mgr.DeletePrivilege(ctx, f.tc, priv.ID, nil)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = f.mgr.DeletePrivilege(ctx, f.tc, 999, nil)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestRestorePrivilege_RejectsLiveDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mod := f.module(t, "users")
	perm, err := f.mgr.CreatePermission(ctx, f.tc, catalog.PermissionInput{Code: "create", Name: "Create"}, nil)
	require.NoError(t, err)

	old, err := f.mgr.CreatePrivilege(ctx, f.tc, mod.ID, catalog.PrivilegeInput{PermissionID: perm.ID}, nil)
	require.NoError(t, err)
	_, err = f.mgr.CreatePrivilege(ctx, f.tc, mod.ID, catalog.PrivilegeInput{PermissionID: perm.ID}, nil)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = f.mgr.DeletePrivilege(ctx, f.tc, old.ID, nil)
	require.NoError(t, err)
	_, err = f.mgr.CreatePrivilege(ctx, f.tc, mod.ID, catalog.PrivilegeInput{PermissionID: perm.ID}, nil)
	require.NoError(t, err)

	_, err = f.mgr.RestorePrivilege(ctx, f.tc, old.ID, nil)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = f.mgr.DeletePermission(ctx, f.tc, perm.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestCreatePrivilege_SubModuleMustBelongToModule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	users := f.module(t, "users")
	reports := f.module(t, "reports")
	perm, err := f.mgr.CreatePermission(ctx, f.tc, catalog.PermissionInput{Code: "export", Name: "Export"}, nil)
	require.NoError(t, err)

	sub, err := f.mgr.CreateSubModule(ctx, f.tc, reports.ID, catalog.SubModuleInput{Code: "Monthly", Name: "Monthly"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "monthly", sub.Code)
	assert.True(t, sub.IsEnabled)

	_, err = f.mgr.CreatePrivilege(ctx, f.tc, users.ID, catalog.PrivilegeInput{PermissionID: perm.ID, SubModuleID: &sub.ID}, nil)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	priv, err := f.mgr.CreatePrivilege(ctx, f.tc, reports.ID, catalog.PrivilegeInput{PermissionID: perm.ID, SubModuleID: &sub.ID}, nil)
	require.NoError(t, err)

	scoped, err := f.mgr.ListPrivileges(ctx, f.tc, reports.ID, repository.PrivilegeFilter{SubModuleID: &sub.ID})
	require.NoError(t, err)
	require.Len(t, scoped, 1)

	_, err = f.mgr.DeleteSubModule(ctx, f.tc, sub.ID, nil)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	updated, err := f.mgr.UpdatePrivilege(ctx, f.tc, priv.ID, catalog.PrivilegePatch{RemoveSubModule: true}, nil)
	require.NoError(t, err)
	assert.Nil(t, updated.SubModuleID)

	deleted, err := f.mgr.DeleteSubModule(ctx, f.tc, sub.ID, nil)
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestSubModules_RestoreBlockedByLiveCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mod := f.module(t, "reports")

	sub, err := f.mgr.CreateSubModule(ctx, f.tc, mod.ID, catalog.SubModuleInput{Code: "daily", Name: "Daily"}, nil)
	require.NoError(t, err)
	_, err = f.mgr.CreateSubModule(ctx, f.tc, mod.ID, catalog.SubModuleInput{Code: "DAILY", Name: "Again"}, nil)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = f.mgr.DeleteSubModule(ctx, f.tc, sub.ID, nil)
	require.NoError(t, err)
	_, err = f.mgr.CreateSubModule(ctx, f.tc, mod.ID, catalog.SubModuleInput{Code: "daily", Name: "Daily v2"}, nil)
	require.NoError(t, err)

	_, err = f.mgr.RestoreSubModule(ctx, f.tc, sub.ID, nil)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	restored, err := f.mgr.RestoreSubModule(ctx, f.tc, 999, nil)
	require.NoError(t, err)
	assert.False(t, restored)

	_, err = f.mgr.UpdateSubModule(ctx, f.tc, sub.ID, catalog.SubModulePatch{}, nil)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestUpdateModule_SystemRestrictions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sys := &models.Module{Code: "admin", Name: "Admin", IsEnabled: true, IsSystem: true}
	require.NoError(t, f.repos.Modules.Create(ctx, sys))

	rename := "Administration"
	_, err := f.mgr.UpdateModule(ctx, f.tc, sys.ID, catalog.ModulePatch{Name: &rename})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	disable := false
	_, err = f.mgr.UpdateModule(ctx, f.tc, sys.ID, catalog.ModulePatch{IsEnabled: &disable})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	icon := "shield"
	order := 9
	same := "Admin"
	updated, err := f.mgr.UpdateModule(ctx, f.tc, sys.ID, catalog.ModulePatch{Name: &same, Icon: &icon, MenuOrder: &order})
	require.NoError(t, err)
	assert.Equal(t, "shield", updated.Icon)
	assert.Equal(t, 9, updated.MenuOrder)

	_, err = f.mgr.DeleteModule(ctx, f.tc, sys.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestDeleteModule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.mgr.CreatePermission(ctx, f.tc, catalog.PermissionInput{Code: "read", Name: "Read", IsDefaultForModule: true}, nil)
	require.NoError(t, err)
	mod := f.module(t, "users")

	_, err = f.mgr.DeleteModule(ctx, f.tc, mod.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	privs := livePrivileges(t, f, mod.ID)
	require.Len(t, privs, 1)
	_, err = f.mgr.DeletePrivilege(ctx, f.tc, privs[0].ID, nil)
	require.NoError(t, err)

	deleted, err := f.mgr.DeleteModule(ctx, f.tc, mod.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	got, err := f.mgr.GetModule(ctx, f.tc, mod.ID)
	require.NoError(t, err)
	assert.False(t, got.IsEnabled)
	assert.Empty(t, got.Privileges)

	visible, err := f.mgr.ListModules(ctx, f.tc, false)
	require.NoError(t, err)
	assert.Empty(t, visible)
	all, err := f.mgr.ListModules(ctx, f.tc, true)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	deleted, err = f.mgr.DeleteModule(ctx, f.tc, 999)
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = f.mgr.GenerateModule(ctx, f.tc, catalog.GenerateModuleInput{Prompt: "inventory"})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}
