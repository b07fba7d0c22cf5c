package repository

import "github.com/uptrace/bun"

// MasterRepositories bundles the repositories of the master store.
type MasterRepositories struct {
	Companies   CompanyRepository
	MasterUsers MasterUserRepository
	Grants      MasterUserCompanyRepository
}

// NewMasterRepositories binds the master repositories to db, which may be a
// connection or a transaction.
func NewMasterRepositories(db bun.IDB) MasterRepositories {
	return MasterRepositories{
		Companies:   NewBunCompanyRepository(db),
		MasterUsers: NewBunMasterUserRepository(db),
		Grants:      NewBunMasterUserCompanyRepository(db),
	}
}

// TenantRepositories bundles the repositories of one tenant store.
type TenantRepositories struct {
	Modules     ModuleRepository
	Permissions PermissionRepository
	Privileges  PrivilegeRepository
	Assignments AssignmentRepository
	Roles       RoleRepository
	Users       UserRepository
	Tokens      RefreshTokenRepository
}

// NewTenantRepositories binds the tenant repositories to db, which may be a
// connection or a transaction.
func NewTenantRepositories(db bun.IDB) TenantRepositories {
	return TenantRepositories{
		Modules:     NewBunModuleRepository(db),
		Permissions: NewBunPermissionRepository(db),
		Privileges:  NewBunPrivilegeRepository(db),
		Assignments: NewBunAssignmentRepository(db),
		Roles:       NewBunRoleRepository(db),
		Users:       NewBunUserRepository(db),
		Tokens:      NewBunRefreshTokenRepository(db),
	}
}
