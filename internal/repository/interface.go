package repository

import (
	"context"
	"time"

	"github.com/xaman1990/SisCoreApi/internal/db/models"
)

// ========================================
// Master store
// ========================================

// CompanyRepository persists tenant records.
type CompanyRepository interface {
	Create(ctx context.Context, company *models.Company) error
	GetByID(ctx context.Context, id int64) (*models.Company, error)
	// GetBySubdomain matches case-insensitively regardless of status.
	GetBySubdomain(ctx context.Context, subdomain string) (*models.Company, error)
	// GetActiveBySubdomain matches case-insensitively among active companies.
	GetActiveBySubdomain(ctx context.Context, subdomain string) (*models.Company, error)
	SubdomainExists(ctx context.Context, subdomain string, excludeID int64) (bool, error)
	List(ctx context.Context, includeInactive bool) ([]models.Company, error)
	Update(ctx context.Context, company *models.Company, columns ...string) error
}

// MasterUserRepository persists cross-tenant identities.
type MasterUserRepository interface {
	Create(ctx context.Context, user *models.MasterUser) error
	GetByID(ctx context.Context, id int64) (*models.MasterUser, error)
	GetByEmail(ctx context.Context, email string) (*models.MasterUser, error)
	GetByTenantUser(ctx context.Context, tenantUserID, companyID int64) (*models.MasterUser, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	TenantUserExists(ctx context.Context, tenantUserID, companyID int64) (bool, error)
	// ListActive returns active master users, optionally filtered by the God flag.
	ListActive(ctx context.Context, isGod *bool) ([]models.MasterUser, error)
}

// MasterUserCompanyRepository persists per-company grants of master users.
type MasterUserCompanyRepository interface {
	Get(ctx context.Context, masterUserID, companyID int64) (*models.MasterUserCompany, error)
	Create(ctx context.Context, grant *models.MasterUserCompany) error
	Update(ctx context.Context, grant *models.MasterUserCompany) error
	// Delete removes the grant and reports whether one existed.
	Delete(ctx context.Context, masterUserID, companyID int64) (bool, error)
	ListByMasterUser(ctx context.Context, masterUserID int64) ([]models.MasterUserCompany, error)
}

// ========================================
// Tenant store
// ========================================

// ModuleRepository persists modules and their sub-modules.
type ModuleRepository interface {
	Create(ctx context.Context, module *models.Module) error
	GetByID(ctx context.Context, id int64) (*models.Module, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	// List orders by menu order then name. Disabled non-system modules are
	// skipped unless includeDisabled is set.
	List(ctx context.Context, includeDisabled bool) ([]models.Module, error)
	// ListEnabled returns enabled modules ordered by menu order then name,
	// optionally restricted to one module.
	ListEnabled(ctx context.Context, moduleID *int64) ([]models.Module, error)
	ListIDs(ctx context.Context) ([]int64, error)
	Update(ctx context.Context, module *models.Module, columns ...string) error

	CreateSubModule(ctx context.Context, sub *models.SubModule) error
	GetSubModule(ctx context.Context, id int64) (*models.SubModule, error)
	ListSubModules(ctx context.Context, moduleID int64, includeDeleted bool) ([]models.SubModule, error)
	UpdateSubModule(ctx context.Context, sub *models.SubModule, columns ...string) error
	CountLiveSubModules(ctx context.Context, moduleID int64) (int, error)
	// LiveSubModuleExists reports whether id is a live sub-module of moduleID.
	LiveSubModuleExists(ctx context.Context, moduleID, id int64) (bool, error)
	// SubModuleCodeTaken reports whether a live sub-module of moduleID other
	// than excludeID uses code.
	SubModuleCodeTaken(ctx context.Context, moduleID int64, code string, excludeID int64) (bool, error)
}

// PermissionFilter narrows catalog listings.
type PermissionFilter struct {
	Code          string // substring, normalized
	Name          string // substring
	IncludeSystem bool
	OnlyDefaults  *bool
}

// PermissionRepository persists the permission catalog.
type PermissionRepository interface {
	Create(ctx context.Context, permission *models.Permission) error
	GetByID(ctx context.Context, id int64) (*models.Permission, error)
	CodeExists(ctx context.Context, code string, excludeID int64) (bool, error)
	List(ctx context.Context, filter PermissionFilter) ([]models.Permission, error)
	ListDefaults(ctx context.Context) ([]models.Permission, error)
	Update(ctx context.Context, permission *models.Permission, columns ...string) error
	Delete(ctx context.Context, id int64) error
}

// PrivilegeFilter narrows module privilege listings.
type PrivilegeFilter struct {
	IncludeDeleted bool
	SubModuleID    *int64
	PermissionID   *int64
	PermissionCode string // normalized; matches the privilege or catalog code
}

// PrivilegeRepository persists module privileges.
type PrivilegeRepository interface {
	Create(ctx context.Context, privilege *models.ModulePrivilege) error
	CreateMany(ctx context.Context, privileges []*models.ModulePrivilege) error
	GetByID(ctx context.Context, id int64) (*models.ModulePrivilege, error)
	// GetLiveByCode finds the live privilege of a module by code.
	GetLiveByCode(ctx context.Context, moduleID int64, code string) (*models.ModulePrivilege, error)
	ListByModule(ctx context.Context, moduleID int64, filter PrivilegeFilter) ([]models.ModulePrivilege, error)
	// ListAllByModule includes deleted rows; used by default synchronization.
	ListAllByModule(ctx context.Context, moduleID int64) ([]models.ModulePrivilege, error)
	// ListLiveForModules returns live privileges of the given modules ordered by code.
	ListLiveForModules(ctx context.Context, moduleIDs []int64) ([]models.ModulePrivilege, error)
	// ListLiveIDsInModule returns which of ids are live privileges of moduleID.
	ListLiveIDsInModule(ctx context.Context, moduleID int64, ids []int64) ([]int64, error)
	ModulesWithLivePermission(ctx context.Context, permissionID int64) ([]int64, error)
	// LiveExists reports whether a live privilege other than excludeID
	// instantiates permissionID in moduleID.
	LiveExists(ctx context.Context, moduleID, permissionID, excludeID int64) (bool, error)
	CountByPermission(ctx context.Context, permissionID int64) (int, error)
	CountLiveByModule(ctx context.Context, moduleID int64) (int, error)
	CountLiveBySubModule(ctx context.Context, subModuleID int64) (int, error)
	Update(ctx context.Context, privilege *models.ModulePrivilege, columns ...string) error
}

// AssignmentRepository persists permission assignments.
type AssignmentRepository interface {
	Create(ctx context.Context, assignment *models.PermissionAssignment) error
	// Find returns the most recent assignment of privilegeID to g, deleted or not.
	Find(ctx context.Context, privilegeID int64, g models.Grantee) (*models.PermissionAssignment, error)
	// ListForGrantee returns every assignment (deleted included) of g among privilegeIDs.
	ListForGrantee(ctx context.Context, g models.Grantee, privilegeIDs []int64) ([]models.PermissionAssignment, error)
	// ListLiveFor returns live assignments among privilegeIDs held by the user
	// directly or through one of roleIDs, ordered by role id.
	ListLiveFor(ctx context.Context, privilegeIDs []int64, userID int64, roleIDs []int64) ([]models.PermissionAssignment, error)
	CountLiveByPrivilege(ctx context.Context, privilegeID int64) (int, error)
	Update(ctx context.Context, assignment *models.PermissionAssignment, columns ...string) error
}

// RoleRepository persists roles and role memberships.
type RoleRepository interface {
	Create(ctx context.Context, role *models.Role) error
	GetByID(ctx context.Context, id int64) (*models.Role, error)
	GetByIDs(ctx context.Context, ids []int64) ([]models.Role, error)
	NameExists(ctx context.Context, name string, excludeID int64) (bool, error)
	ListActive(ctx context.Context) ([]models.Role, error)
	Update(ctx context.Context, role *models.Role, columns ...string) error

	// RoleIDsForUser returns the role ids of the user in ascending order.
	RoleIDsForUser(ctx context.Context, userID int64) ([]int64, error)
	// RolesForUser returns the roles of the user ordered by id.
	RolesForUser(ctx context.Context, userID int64) ([]models.Role, error)
	// ReplaceUserRoles makes roleIDs the exact membership set of the user.
	ReplaceUserRoles(ctx context.Context, userID int64, roleIDs []int64, actorID *int64, now time.Time) error
}

// UserRepository persists tenant users.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetActiveByEmail(ctx context.Context, email string) (*models.User, error)
	GetActiveByPhone(ctx context.Context, phone string) (*models.User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	PhoneExists(ctx context.Context, phone string) (bool, error)
	List(ctx context.Context, includeInactive bool) ([]models.User, error)
	Update(ctx context.Context, user *models.User, columns ...string) error
}

// RefreshTokenRepository persists refresh token rotation chains.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	GetByJti(ctx context.Context, jti string) (*models.RefreshToken, error)
	// Revoke sets revoked_at (and replaced_by_jti when given) on a token that
	// is not yet revoked. It reports whether this call performed the revocation.
	Revoke(ctx context.Context, jti string, at time.Time, replacedBy *string) (bool, error)
	ListByUser(ctx context.Context, userID int64) ([]models.RefreshToken, error)
}
