package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Company status values.
const (
	CompanyInactive int16 = 0
	CompanyActive   int16 = 1
)

// Tenant store drivers understood by the store factory.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Company is a tenant record in the master store. Each company owns one
// isolated tenant database described by the Db* fields.
type Company struct {
	bun.BaseModel `bun:"table:companies,alias:c"`

	ID                int64      `bun:"id,pk,autoincrement" json:"id"`
	Name              string     `bun:"name,notnull" json:"name"`
	Subdomain         string     `bun:"subdomain,notnull,unique" json:"subdomain"` // stored lower-case
	DbDriver          string     `bun:"db_driver,notnull,default:'postgres'" json:"dbDriver"`
	DbHost            string     `bun:"db_host,notnull" json:"dbHost"`
	DbPort            *int       `bun:"db_port" json:"dbPort,omitempty"` // nil means the driver default
	DbName            string     `bun:"db_name,notnull" json:"dbName"`
	DbUser            string     `bun:"db_user,notnull" json:"dbUser"`
	DbPassword        string     `bun:"db_password,notnull" json:"-"`
	ConnectionOptions string     `bun:"connection_options,nullzero" json:"connectionOptions"`
	BrandingJSON      string     `bun:"branding_json,nullzero" json:"brandingJson"`
	SettingsJSON      string     `bun:"settings_json,nullzero" json:"settingsJson"`
	Status            int16      `bun:"status,notnull" json:"status"`
	CreatedAt         time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt         *time.Time `bun:"updated_at" json:"updatedAt,omitempty"`
}

// IsActive reports whether the company may be resolved for requests.
func (c *Company) IsActive() bool {
	return c != nil && c.Status == CompanyActive
}

// Master user status values.
const (
	MasterUserInactive int16 = 0
	MasterUserActive   int16 = 1
	MasterUserBlocked  int16 = 2
)

// MasterUser is a cross-tenant identity anchored to one user of one tenant.
type MasterUser struct {
	bun.BaseModel `bun:"table:master_users,alias:mu"`

	ID              int64      `bun:"id,pk,autoincrement" json:"id"`
	Email           string     `bun:"email,notnull,unique" json:"email"` // lower-case
	FullName        string     `bun:"full_name,notnull" json:"fullName"`
	PhoneNumber     string     `bun:"phone_number,nullzero" json:"phoneNumber"`
	GoogleID        string     `bun:"google_id,nullzero" json:"googleId"`
	TenantUserID    int64      `bun:"tenant_user_id,notnull" json:"tenantUserId"`
	TenantCompanyID int64      `bun:"tenant_company_id,notnull" json:"tenantCompanyId"`
	IsGod           bool       `bun:"is_god,notnull,default:false" json:"isGod"`
	Status          int16      `bun:"status,notnull" json:"status"`
	LastLoginAt     *time.Time `bun:"last_login_at" json:"lastLoginAt,omitempty"`
	CreatedAt       time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt       *time.Time `bun:"updated_at" json:"updatedAt,omitempty"`
	CreatedBy       *int64     `bun:"created_by" json:"createdBy,omitempty"`
}

// Company roles a master user can hold.
const (
	CompanyRoleGod    = "god"
	CompanyRoleOwner  = "owner"
	CompanyRoleAdmin  = "admin"
	CompanyRoleViewer = "viewer"
)

// MasterUserCompany grants a master user a role inside one company.
type MasterUserCompany struct {
	bun.BaseModel `bun:"table:master_user_companies,alias:muc"`

	ID           int64     `bun:"id,pk,autoincrement" json:"id"`
	MasterUserID int64     `bun:"master_user_id,notnull" json:"masterUserId"`
	CompanyID    int64     `bun:"company_id,notnull" json:"companyId"`
	Role         string    `bun:"role,notnull,default:'viewer'" json:"role"`
	GrantedAt    time.Time `bun:"granted_at,nullzero,notnull,default:current_timestamp" json:"grantedAt"`
	GrantedBy    *int64    `bun:"granted_by" json:"grantedBy,omitempty"`
}
