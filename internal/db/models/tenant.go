package models

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// Module is a top-level functional area of a tenant (timesheet, reports, ...).
// System modules only allow icon and menu order changes.
type Module struct {
	bun.BaseModel `bun:"table:modules,alias:m"`

	ID          int64      `bun:"id,pk,autoincrement" json:"id"`
	Code        string     `bun:"code,notnull,unique" json:"code"`
	Name        string     `bun:"name,notnull" json:"name"`
	Description string     `bun:"description,nullzero" json:"description"`
	Icon        string     `bun:"icon,nullzero" json:"icon"`
	MenuOrder   int        `bun:"menu_order,notnull,default:0" json:"menuOrder"`
	IsEnabled   bool       `bun:"is_enabled,notnull" json:"isEnabled"`
	IsSystem    bool       `bun:"is_system,notnull,default:false" json:"isSystem"`
	CreatedAt   time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt   *time.Time `bun:"updated_at" json:"updatedAt,omitempty"`
}

// SubModule groups privileges inside a module. Codes are unique per module
// among live rows.
type SubModule struct {
	bun.BaseModel `bun:"table:sub_modules,alias:sm"`

	ID          int64      `bun:"id,pk,autoincrement" json:"id"`
	ModuleID    int64      `bun:"module_id,notnull" json:"moduleId"`
	Code        string     `bun:"code,notnull" json:"code"`
	Name        string     `bun:"name,notnull" json:"name"`
	Description string     `bun:"description,nullzero" json:"description"`
	MenuOrder   int        `bun:"menu_order,notnull,default:0" json:"menuOrder"`
	IsEnabled   bool       `bun:"is_enabled,notnull" json:"isEnabled"`
	IsDeleted   bool       `bun:"is_deleted,notnull,default:false" json:"isDeleted"`
	CreatedAt   time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
	CreatedBy   *int64     `bun:"created_by" json:"createdBy,omitempty"`
	UpdatedAt   *time.Time `bun:"updated_at" json:"updatedAt,omitempty"`
	UpdatedBy   *int64     `bun:"updated_by" json:"updatedBy,omitempty"`
}

// Permission is a catalog entry (create, read, approve, ...). Default
// permissions are instantiated into every module.
type Permission struct {
	bun.BaseModel `bun:"table:permissions,alias:p"`

	ID                 int64      `bun:"id,pk,autoincrement" json:"id"`
	Code               string     `bun:"code,notnull,unique" json:"code"` // trimmed, lower-case
	Name               string     `bun:"name,notnull" json:"name"`
	Description        string     `bun:"description,nullzero" json:"description"`
	IsSystem           bool       `bun:"is_system,notnull,default:false" json:"isSystem"`
	IsDefaultForModule bool       `bun:"is_default_for_module,notnull,default:false" json:"isDefaultForModule"`
	CreatedAt          time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
	CreatedBy          *int64     `bun:"created_by" json:"createdBy,omitempty"`
	UpdatedAt          *time.Time `bun:"updated_at" json:"updatedAt,omitempty"`
	UpdatedBy          *int64     `bun:"updated_by" json:"updatedBy,omitempty"`
}

// NormalizeCode trims and lower-cases a permission or privilege code.
func NormalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// ModulePrivilege instantiates a catalog permission inside a module,
// optionally scoped to a sub-module. At most one live row exists per
// (module, permission).
type ModulePrivilege struct {
	bun.BaseModel `bun:"table:module_privileges,alias:mp"`

	ID           int64      `bun:"id,pk,autoincrement" json:"id"`
	ModuleID     int64      `bun:"module_id,notnull" json:"moduleId"`
	PermissionID int64      `bun:"permission_id,notnull" json:"permissionId"`
	SubModuleID  *int64     `bun:"sub_module_id" json:"subModuleId,omitempty"`
	Code         string     `bun:"code,notnull" json:"code"`
	Name         string     `bun:"name,notnull" json:"name"`
	Description  string     `bun:"description,nullzero" json:"description"`
	IsDefault    bool       `bun:"is_default,notnull,default:false" json:"isDefault"`
	IsDeleted    bool       `bun:"is_deleted,notnull,default:false" json:"isDeleted"`
	CreatedAt    time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
	CreatedBy    *int64     `bun:"created_by" json:"createdBy,omitempty"`
	UpdatedAt    *time.Time `bun:"updated_at" json:"updatedAt,omitempty"`
	UpdatedBy    *int64     `bun:"updated_by" json:"updatedBy,omitempty"`
}

// Role and user status values.
const (
	StatusInactive int16 = 0
	StatusActive   int16 = 1
	StatusBlocked  int16 = 2
)

// Role is a named set of privilege grants. System roles are immutable.
type Role struct {
	bun.BaseModel `bun:"table:roles,alias:r"`

	ID          int64     `bun:"id,pk,autoincrement" json:"id"`
	Name        string    `bun:"name,notnull,unique" json:"name"`
	Description string    `bun:"description,nullzero" json:"description"`
	IsSystem    bool      `bun:"is_system,notnull,default:false" json:"isSystem"`
	Status      int16     `bun:"status,notnull" json:"status"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
}

// User is a tenant-local principal. At least one of Email or PhoneNumber is set.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID             int64      `bun:"id,pk,autoincrement" json:"id"`
	Email          string     `bun:"email,nullzero" json:"email"`
	PhoneNumber    string     `bun:"phone_number,nullzero" json:"phoneNumber"`
	PasswordHash   string     `bun:"password_hash,nullzero" json:"-"` // empty for OAuth-only users
	GoogleID       string     `bun:"google_id,nullzero" json:"googleId"`
	FullName       string     `bun:"full_name,notnull" json:"fullName"`
	EmployeeNumber string     `bun:"employee_number,nullzero" json:"employeeNumber"`
	EmailVerified  bool       `bun:"email_verified,notnull,default:false" json:"emailVerified"`
	PhoneVerified  bool       `bun:"phone_verified,notnull,default:false" json:"phoneVerified"`
	MfaEnabled     bool       `bun:"mfa_enabled,notnull,default:false" json:"mfaEnabled"`
	Status         int16      `bun:"status,notnull" json:"status"`
	LastLoginAt    *time.Time `bun:"last_login_at" json:"lastLoginAt,omitempty"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt      *time.Time `bun:"updated_at" json:"updatedAt,omitempty"`
	CreatedBy      *int64     `bun:"created_by" json:"createdBy,omitempty"`
}

// IsActive reports whether the user may log in.
func (u *User) IsActive() bool {
	return u != nil && u.Status == StatusActive
}

// UserRole is a role membership.
type UserRole struct {
	bun.BaseModel `bun:"table:user_roles,alias:ur"`

	UserID     int64     `bun:"user_id,pk" json:"userId"`
	RoleID     int64     `bun:"role_id,pk" json:"roleId"`
	AssignedAt time.Time `bun:"assigned_at,nullzero,notnull,default:current_timestamp" json:"assignedAt"`
	AssignedBy *int64    `bun:"assigned_by" json:"assignedBy,omitempty"`
}

// RefreshToken is one link of a refresh token rotation chain. A token is
// usable only while RevokedAt is nil and ExpiresAt is in the future.
type RefreshToken struct {
	bun.BaseModel `bun:"table:refresh_tokens,alias:rt"`

	ID            int64      `bun:"id,pk,autoincrement" json:"id"`
	UserID        int64      `bun:"user_id,notnull" json:"userId"`
	Jti           string     `bun:"jti,notnull,unique" json:"jti"`
	DeviceID      string     `bun:"device_id,nullzero" json:"deviceId"`
	DeviceName    string     `bun:"device_name,nullzero" json:"deviceName"`
	IPAddress     string     `bun:"ip_address,nullzero" json:"ipAddress"`
	UserAgent     string     `bun:"user_agent,nullzero" json:"userAgent"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expiresAt"`
	RevokedAt     *time.Time `bun:"revoked_at" json:"revokedAt,omitempty"`
	ReplacedByJti *string    `bun:"replaced_by_jti" json:"replacedByJti,omitempty"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
}

// IsActive reports whether the token can still be exchanged at now.
func (t *RefreshToken) IsActive(now time.Time) bool {
	return t != nil && t.RevokedAt == nil && t.ExpiresAt.After(now)
}
