// Package permissions resolves what a tenant user may do and manages the
// grants behind it.
//
// A user holds a privilege directly (a user assignment) or through one of
// their roles (a role assignment). A live direct assignment always wins;
// among role assignments the one of the role with the lowest id is reported.
// Absence of any live assignment means no permission.
package permissions

import (
	"time"

	"go.uber.org/zap"

	"github.com/xaman1990/SisCoreApi/internal/logger"
	"github.com/xaman1990/SisCoreApi/internal/telemetry"
	"github.com/xaman1990/SisCoreApi/internal/tenancy"
)

const tracerName = "siscore/services/permissions"

// Source names where a granted permission comes from.
type Source string

const (
	SourceDirect Source = "Direct"
	SourceRole   Source = "Role"
)

// Check result messages for negative decisions.
const (
	MsgUserNotFound      = "user not found"
	MsgPrivilegeNotFound = "privilege not found"
	MsgNotGranted        = "user does not have the requested permission"
)

// PrivilegeGrant is one granted privilege of a module.
type PrivilegeGrant struct {
	ModulePrivilegeID      int64  `json:"modulePrivilegeId"`
	PermissionID           int64  `json:"permissionId"`
	PermissionAssignmentID int64  `json:"permissionAssignmentId"`
	Code                   string `json:"code"`
	Name                   string `json:"name"`
	HasPermission          bool   `json:"hasPermission"`
}

// ModuleGrants lists the granted privileges of one module.
type ModuleGrants struct {
	ModuleID   int64            `json:"moduleId"`
	ModuleCode string           `json:"moduleCode"`
	ModuleName string           `json:"moduleName"`
	Privileges []PrivilegeGrant `json:"privileges"`
}

// EffectivePermissions is the full set of privileges a user holds.
type EffectivePermissions struct {
	UserID  int64          `json:"userId"`
	Modules []ModuleGrants `json:"modules"`
}

// RoleRef is a compact role reference.
type RoleRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// UserPermissions adds the user's identity and roles to EffectivePermissions.
type UserPermissions struct {
	UserID   int64          `json:"userId"`
	UserName string         `json:"userName"`
	Roles    []RoleRef      `json:"roles"`
	Modules  []ModuleGrants `json:"modules"`
}

// CheckResult is the decision for one (user, module, privilege code) triple.
// A negative decision is not an error.
type CheckResult struct {
	Granted  bool   `json:"hasPermission"`
	Source   Source `json:"source,omitempty"`
	RoleID   *int64 `json:"roleId,omitempty"`
	RoleName string `json:"roleName,omitempty"`
	Message  string `json:"message,omitempty"`
}

// PrivilegeDetail describes one privilege of a module and, when a user is
// given, whether and how that user holds it.
type PrivilegeDetail struct {
	ModulePrivilegeID int64  `json:"modulePrivilegeId"`
	PermissionID      int64  `json:"permissionId"`
	SubModuleID       *int64 `json:"subModuleId,omitempty"`
	Code              string `json:"code"`
	Name              string `json:"name"`
	Description       string `json:"description,omitempty"`
	IsDefault         bool   `json:"isDefault"`
	HasPermission     bool   `json:"hasPermission"`
	Source            Source `json:"source,omitempty"`
	RoleID            *int64 `json:"roleId,omitempty"`
	RoleName          string `json:"roleName,omitempty"`
}

// ModulePermissions is the per-privilege view of one module.
type ModulePermissions struct {
	ModuleID   int64             `json:"moduleId"`
	ModuleCode string            `json:"moduleCode"`
	ModuleName string            `json:"moduleName"`
	Privileges []PrivilegeDetail `json:"privileges"`
}

// RolePrivilege is one cell of a role matrix.
type RolePrivilege struct {
	ModulePrivilegeID int64  `json:"modulePrivilegeId"`
	PermissionID      int64  `json:"permissionId"`
	Code              string `json:"code"`
	Name              string `json:"name"`
	IsDefault         bool   `json:"isDefault"`
	IsGranted         bool   `json:"isGranted"`
}

// RoleModulePermissions is one module row of a role matrix.
type RoleModulePermissions struct {
	ModuleID   int64           `json:"moduleId"`
	ModuleCode string          `json:"moduleCode"`
	ModuleName string          `json:"moduleName"`
	Privileges []RolePrivilege `json:"privileges"`
}

// PrivilegeToggle requests a grant (Granted true) or a revocation.
type PrivilegeToggle struct {
	ModulePrivilegeID int64 `json:"modulePrivilegeId"`
	Granted           bool  `json:"isGranted"`
}

// ModuleToggles groups the toggles of one module in a role matrix update.
type ModuleToggles struct {
	ModuleID   int64             `json:"moduleId"`
	Privileges []PrivilegeToggle `json:"privileges"`
}

// Engine resolves and manages permission grants of tenant stores.
type Engine struct {
	stores  tenancy.StoreOpener
	metrics *telemetry.Metrics
	log     *zap.Logger
	now     func() time.Time
}

// NewEngine creates an engine. metrics and log may be nil.
func NewEngine(stores tenancy.StoreOpener, metrics *telemetry.Metrics, log *zap.Logger) *Engine {
	return &Engine{
		stores:  stores,
		metrics: metrics,
		log:     logger.OrNop(log).Named("permissions"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}
