package tenant_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaman1990/SisCoreApi/internal/db/models"
	"github.com/xaman1990/SisCoreApi/internal/testutil"
)

func TestTenantSchema_GranteeMustBeExclusive(t *testing.T) {
	store := testutil.NewTenantStore(t)
	ctx := context.Background()
	db := store.DB

	mod := &models.Module{Code: "users", Name: "Users", IsEnabled: true}
	_, err := db.NewInsert().Model(mod).Exec(ctx)
	require.NoError(t, err)
	perm := &models.Permission{Code: "create", Name: "Create"}
	_, err = db.NewInsert().Model(perm).Exec(ctx)
	require.NoError(t, err)
	priv := &models.ModulePrivilege{ModuleID: mod.ID, PermissionID: perm.ID, Code: "create", Name: "Create"}
	_, err = db.NewInsert().Model(priv).Exec(ctx)
	require.NoError(t, err)
	role := &models.Role{Name: "Manager", Status: models.StatusActive}
	_, err = db.NewInsert().Model(role).Exec(ctx)
	require.NoError(t, err)
	user := &models.User{Email: "a@example.com", FullName: "A", Status: models.StatusActive}
	_, err = db.NewInsert().Model(user).Exec(ctx)
	require.NoError(t, err)

	// neither grantee
	_, err = db.NewInsert().Model(&models.PermissionAssignment{ModulePrivilegeID: priv.ID}).Exec(ctx)
	require.Error(t, err)

	// both grantees
	both := &models.PermissionAssignment{ModulePrivilegeID: priv.ID, RoleID: &role.ID, UserID: &user.ID}
	_, err = db.NewInsert().Model(both).Exec(ctx)
	require.Error(t, err)

	_, err = db.NewInsert().Model(&models.PermissionAssignment{ModulePrivilegeID: priv.ID, RoleID: &role.ID}).Exec(ctx)
	require.NoError(t, err)
}

func TestTenantSchema_LiveUniqueness(t *testing.T) {
	store := testutil.NewTenantStore(t)
	ctx := context.Background()
	db := store.DB

	mod := &models.Module{Code: "reports", Name: "Reports", IsEnabled: true}
	_, err := db.NewInsert().Model(mod).Exec(ctx)
	require.NoError(t, err)
	perm := &models.Permission{Code: "read", Name: "Read"}
	_, err = db.NewInsert().Model(perm).Exec(ctx)
	require.NoError(t, err)

	first := &models.ModulePrivilege{ModuleID: mod.ID, PermissionID: perm.ID, Code: "read", Name: "Read"}
	_, err = db.NewInsert().Model(first).Exec(ctx)
	require.NoError(t, err)

	dup := &models.ModulePrivilege{ModuleID: mod.ID, PermissionID: perm.ID, Code: "read", Name: "Read"}
	_, err = db.NewInsert().Model(dup).Exec(ctx)
	require.Error(t, err, "second live privilege for the same pair must be rejected")

	// Once the first is soft-deleted a new live row is allowed
	_, err = db.NewUpdate().Model(first).Set("is_deleted = ?", true).WherePK().Exec(ctx)
	require.NoError(t, err)
	dup.ID = 0
	_, err = db.NewInsert().Model(dup).Exec(ctx)
	require.NoError(t, err)

	count, err := db.NewSelect().Model((*models.ModulePrivilege)(nil)).Where("module_id = ?", mod.ID).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
