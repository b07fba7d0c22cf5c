package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/xaman1990/SisCoreApi/internal/apperr"
	"github.com/xaman1990/SisCoreApi/internal/db/models"
	"github.com/xaman1990/SisCoreApi/internal/repository"
	"github.com/xaman1990/SisCoreApi/internal/testutil"
)

type tenantFixture struct {
	db     *bun.DB
	repos  repository.TenantRepositories
	module *models.Module
	read   *models.Permission
	write  *models.Permission
}

func newTenantFixture(t *testing.T) *tenantFixture {
	t.Helper()
	store := testutil.NewTenantStore(t)
	ctx := context.Background()
	repos := repository.NewTenantRepositories(store.DB)

	mod := &models.Module{Code: "timesheet", Name: "Timesheet", IsEnabled: true, MenuOrder: 1}
	require.NoError(t, repos.Modules.Create(ctx, mod))
	read := &models.Permission{Code: "read", Name: "Read", IsDefaultForModule: true}
	require.NoError(t, repos.Permissions.Create(ctx, read))
	write := &models.Permission{Code: "write", Name: "Write"}
	require.NoError(t, repos.Permissions.Create(ctx, write))

	return &tenantFixture{db: store.DB, repos: repos, module: mod, read: read, write: write}
}

func (f *tenantFixture) privilege(t *testing.T, perm *models.Permission) *models.ModulePrivilege {
	t.Helper()
	p := &models.ModulePrivilege{
		ModuleID:     f.module.ID,
		PermissionID: perm.ID,
		Code:         perm.Code,
		Name:         perm.Name,
	}
	require.NoError(t, f.repos.Privileges.Create(context.Background(), p))
	return p
}

func TestPermissionRepository_ListFilters(t *testing.T) {
	f := newTenantFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repos.Permissions.Create(ctx, &models.Permission{Code: "admin", Name: "Administer", IsSystem: true}))

	all, err := f.repos.Permissions.List(ctx, repository.PermissionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "read", all[0].Code)
	assert.Equal(t, "write", all[1].Code)

	withSystem, err := f.repos.Permissions.List(ctx, repository.PermissionFilter{IncludeSystem: true})
	require.NoError(t, err)
	require.Len(t, withSystem, 3)
	assert.Equal(t, "admin", withSystem[0].Code)

	onlyDefaults := true
	defaults, err := f.repos.Permissions.List(ctx, repository.PermissionFilter{OnlyDefaults: &onlyDefaults})
	require.NoError(t, err)
	require.Len(t, defaults, 1)
	assert.Equal(t, "read", defaults[0].Code)

	byCode, err := f.repos.Permissions.List(ctx, repository.PermissionFilter{Code: "rit"})
	require.NoError(t, err)
	require.Len(t, byCode, 1)
	assert.Equal(t, "write", byCode[0].Code)
}

func TestPermissionRepository_CodeExistsExcludesSelf(t *testing.T) {
	f := newTenantFixture(t)
	ctx := context.Background()

	exists, err := f.repos.Permissions.CodeExists(ctx, "read", 0)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = f.repos.Permissions.CodeExists(ctx, "read", f.read.ID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestPrivilegeRepository_ListByModule(t *testing.T) {
	f := newTenantFixture(t)
	ctx := context.Background()
	read := f.privilege(t, f.read)
	write := f.privilege(t, f.write)

	write.IsDeleted = true
	require.NoError(t, f.repos.Privileges.Update(ctx, write, "is_deleted"))

	live, err := f.repos.Privileges.ListByModule(ctx, f.module.ID, repository.PrivilegeFilter{})
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, read.ID, live[0].ID)

	all, err := f.repos.Privileges.ListByModule(ctx, f.module.ID, repository.PrivilegeFilter{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byCode, err := f.repos.Privileges.ListByModule(ctx, f.module.ID, repository.PrivilegeFilter{
		IncludeDeleted: true,
		PermissionCode: "write",
	})
	require.NoError(t, err)
	require.Len(t, byCode, 1)
	assert.Equal(t, write.ID, byCode[0].ID)

	n, err := f.repos.Privileges.CountLiveByModule(ctx, f.module.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.repos.Privileges.CountByPermission(ctx, f.write.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "deleted privileges still reference the permission")
}

func TestPrivilegeRepository_ListLiveIDsInModule(t *testing.T) {
	f := newTenantFixture(t)
	ctx := context.Background()
	read := f.privilege(t, f.read)
	write := f.privilege(t, f.write)

	write.IsDeleted = true
	require.NoError(t, f.repos.Privileges.Update(ctx, write, "is_deleted"))

	ids, err := f.repos.Privileges.ListLiveIDsInModule(ctx, f.module.ID, []int64{read.ID, write.ID, 9999})
	require.NoError(t, err)
	assert.Equal(t, []int64{read.ID}, ids)

	ids, err = f.repos.Privileges.ListLiveIDsInModule(ctx, f.module.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestLiveDuplicateExists(t *testing.T) {
	f := newTenantFixture(t)
	ctx := context.Background()
	read := f.privilege(t, f.read)
	db := f.db

	dup, err := repository.LiveDuplicateExists(ctx, db, (*models.ModulePrivilege)(nil), 0,
		repository.Eq("module_id", f.module.ID), repository.Eq("permission_id", f.read.ID))
	require.NoError(t, err)
	assert.True(t, dup)

	dup, err = repository.LiveDuplicateExists(ctx, db, (*models.ModulePrivilege)(nil), read.ID,
		repository.Eq("module_id", f.module.ID), repository.Eq("permission_id", f.read.ID))
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestAssignmentRepository_FindPrefersLiveRow(t *testing.T) {
	f := newTenantFixture(t)
	ctx := context.Background()
	priv := f.privilege(t, f.read)
	user := &models.User{Email: "ana@example.com", FullName: "Ana", Status: models.StatusActive}
	require.NoError(t, f.repos.Users.Create(ctx, user))

	now := time.Now().UTC()
	g := models.UserGrantee(user.ID)
	old := models.NewAssignment(priv.ID, g, nil, now)
	require.NoError(t, f.repos.Assignments.Create(ctx, old))
	old.IsDeleted = true
	require.NoError(t, f.repos.Assignments.Update(ctx, old, "is_deleted"))

	_, err := f.repos.Assignments.Find(ctx, priv.ID, models.RoleGrantee(user.ID))
	require.ErrorIs(t, err, apperr.ErrNotFound)

	found, err := f.repos.Assignments.Find(ctx, priv.ID, g)
	require.NoError(t, err)
	assert.Equal(t, old.ID, found.ID)
	assert.True(t, found.IsDeleted)

	live := models.NewAssignment(priv.ID, g, nil, now)
	require.NoError(t, f.repos.Assignments.Create(ctx, live))
	found, err = f.repos.Assignments.Find(ctx, priv.ID, g)
	require.NoError(t, err)
	assert.Equal(t, live.ID, found.ID)

	n, err := f.repos.Assignments.CountLiveByPrivilege(ctx, priv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAssignmentRepository_ListLiveForOrdersByRole(t *testing.T) {
	f := newTenantFixture(t)
	ctx := context.Background()
	priv := f.privilege(t, f.read)

	low := &models.Role{Name: "Auditor", Status: models.StatusActive}
	high := &models.Role{Name: "Clerk", Status: models.StatusActive}
	require.NoError(t, f.repos.Roles.Create(ctx, low))
	require.NoError(t, f.repos.Roles.Create(ctx, high))
	user := &models.User{Email: "bo@example.com", FullName: "Bo", Status: models.StatusActive}
	require.NoError(t, f.repos.Users.Create(ctx, user))

	now := time.Now().UTC()
	require.NoError(t, f.repos.Assignments.Create(ctx, models.NewAssignment(priv.ID, models.RoleGrantee(high.ID), nil, now)))
	require.NoError(t, f.repos.Assignments.Create(ctx, models.NewAssignment(priv.ID, models.RoleGrantee(low.ID), nil, now)))

	got, err := f.repos.Assignments.ListLiveFor(ctx, []int64{priv.ID}, user.ID, []int64{low.ID, high.ID})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NotNil(t, got[0].RoleID)
	assert.Equal(t, low.ID, *got[0].RoleID)

	got, err = f.repos.Assignments.ListLiveFor(ctx, []int64{priv.ID}, user.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRoleRepository_ReplaceUserRoles(t *testing.T) {
	f := newTenantFixture(t)
	ctx := context.Background()
	a := &models.Role{Name: "A", Status: models.StatusActive}
	b := &models.Role{Name: "B", Status: models.StatusActive}
	require.NoError(t, f.repos.Roles.Create(ctx, a))
	require.NoError(t, f.repos.Roles.Create(ctx, b))
	user := &models.User{Email: "cy@example.com", FullName: "Cy", Status: models.StatusActive}
	require.NoError(t, f.repos.Users.Create(ctx, user))

	now := time.Now().UTC()
	require.NoError(t, f.repos.Roles.ReplaceUserRoles(ctx, user.ID, []int64{b.ID, a.ID, b.ID}, nil, now))
	ids, err := f.repos.Roles.RoleIDsForUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID, b.ID}, ids)

	require.NoError(t, f.repos.Roles.ReplaceUserRoles(ctx, user.ID, []int64{b.ID}, nil, now))
	roles, err := f.repos.Roles.RolesForUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, "B", roles[0].Name)

	exists, err := f.repos.Roles.NameExists(ctx, "  a ", 0)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestUserRepository_ActiveLookups(t *testing.T) {
	f := newTenantFixture(t)
	ctx := context.Background()
	active := &models.User{Email: " Dee@Example.com", FullName: "Dee", Status: models.StatusActive}
	blocked := &models.User{PhoneNumber: "555-0101", FullName: "Ed", Status: models.StatusBlocked}
	require.NoError(t, f.repos.Users.Create(ctx, active))
	require.NoError(t, f.repos.Users.Create(ctx, blocked))

	got, err := f.repos.Users.GetActiveByEmail(ctx, "DEE@example.com")
	require.NoError(t, err)
	assert.Equal(t, active.ID, got.ID)

	_, err = f.repos.Users.GetActiveByPhone(ctx, "555-0101")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	exists, err := f.repos.Users.PhoneExists(ctx, "555-0101")
	require.NoError(t, err)
	assert.True(t, exists)

	users, err := f.repos.Users.List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	dupe := &models.User{Email: "dee@example.com", FullName: "Dup", Status: models.StatusActive}
	err = f.repos.Users.Create(ctx, dupe)
	require.ErrorIs(t, err, apperr.ErrConflict)
}

func TestRefreshTokenRepository_RevokeOnce(t *testing.T) {
	f := newTenantFixture(t)
	ctx := context.Background()
	user := &models.User{Email: "fa@example.com", FullName: "Fa", Status: models.StatusActive}
	require.NoError(t, f.repos.Users.Create(ctx, user))

	now := time.Now().UTC()
	token := &models.RefreshToken{UserID: user.ID, Jti: "jti-1", ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, f.repos.Tokens.Create(ctx, token))

	next := "jti-2"
	revoked, err := f.repos.Tokens.Revoke(ctx, "jti-1", now, &next)
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = f.repos.Tokens.Revoke(ctx, "jti-1", now, nil)
	require.NoError(t, err)
	assert.False(t, revoked, "second revocation must not win")

	got, err := f.repos.Tokens.GetByJti(ctx, "jti-1")
	require.NoError(t, err)
	require.NotNil(t, got.ReplacedByJti)
	assert.Equal(t, "jti-2", *got.ReplacedByJti)
	assert.False(t, got.IsActive(now))

	_, err = f.repos.Tokens.GetByJti(ctx, "missing")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}
