package models

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// GranteeKind tells which kind of principal receives an assignment.
type GranteeKind int

const (
	GranteeRole GranteeKind = iota + 1
	GranteeUser
)

func (k GranteeKind) String() string {
	switch k {
	case GranteeRole:
		return "role"
	case GranteeUser:
		return "user"
	default:
		return "unknown"
	}
}

// Grantee is either a role or a user, never both and never neither.
// The zero value is invalid.
type Grantee struct {
	kind GranteeKind
	id   int64
}

// RoleGrantee returns a grantee for the role with the given id.
func RoleGrantee(roleID int64) Grantee { return Grantee{kind: GranteeRole, id: roleID} }

// UserGrantee returns a grantee for the user with the given id.
func UserGrantee(userID int64) Grantee { return Grantee{kind: GranteeUser, id: userID} }

func (g Grantee) Kind() GranteeKind { return g.kind }
func (g Grantee) ID() int64         { return g.id }
func (g Grantee) IsRole() bool      { return g.kind == GranteeRole }
func (g Grantee) IsUser() bool      { return g.kind == GranteeUser }
func (g Grantee) Valid() bool       { return g.kind != 0 && g.id > 0 }

func (g Grantee) String() string {
	return fmt.Sprintf("%s:%d", g.kind, g.id)
}

// PermissionAssignment grants one module privilege to one grantee inside a
// validity window. Revoking soft-deletes the row; granting again revives it.
//
// RoleID and UserID are the storage form of the grantee; use Grantee and
// SetGrantee instead of touching them directly. The migration backs the
// exclusivity with a CHECK constraint.
type PermissionAssignment struct {
	bun.BaseModel `bun:"table:permission_assignments,alias:pa"`

	ID                int64      `bun:"id,pk,autoincrement" json:"id"`
	ModulePrivilegeID int64      `bun:"module_privilege_id,notnull" json:"modulePrivilegeId"`
	RoleID            *int64     `bun:"role_id" json:"roleId,omitempty"`
	UserID            *int64     `bun:"user_id" json:"userId,omitempty"`
	GrantedBy         *int64     `bun:"granted_by" json:"grantedBy,omitempty"`
	GrantedAt         time.Time  `bun:"granted_at,nullzero,notnull,default:current_timestamp" json:"grantedAt"`
	ValidFrom         time.Time  `bun:"valid_from,nullzero,notnull,default:current_timestamp" json:"validFrom"`
	ValidTo           *time.Time `bun:"valid_to" json:"validTo,omitempty"`
	IsInherited       bool       `bun:"is_inherited,notnull,default:false" json:"isInherited"`
	OverrideParentID  *int64     `bun:"override_parent_id" json:"overrideParentId,omitempty"`
	IsDeleted         bool       `bun:"is_deleted,notnull,default:false" json:"isDeleted"`
	CreatedAt         time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
	CreatedBy         *int64     `bun:"created_by" json:"createdBy,omitempty"`
	UpdatedAt         *time.Time `bun:"updated_at" json:"updatedAt,omitempty"`
	UpdatedBy         *int64     `bun:"updated_by" json:"updatedBy,omitempty"`
}

// NewAssignment builds a live assignment of privilegeID to g starting at now.
func NewAssignment(privilegeID int64, g Grantee, actorID *int64, now time.Time) *PermissionAssignment {
	a := &PermissionAssignment{
		ModulePrivilegeID: privilegeID,
		GrantedBy:         actorID,
		GrantedAt:         now,
		ValidFrom:         now,
		CreatedAt:         now,
		CreatedBy:         actorID,
	}
	a.SetGrantee(g)
	return a
}

// Grantee decodes the storage columns. Rows violating exclusivity decode to
// the invalid zero Grantee.
func (a *PermissionAssignment) Grantee() Grantee {
	switch {
	case a.RoleID != nil && a.UserID == nil:
		return RoleGrantee(*a.RoleID)
	case a.UserID != nil && a.RoleID == nil:
		return UserGrantee(*a.UserID)
	default:
		return Grantee{}
	}
}

// SetGrantee replaces the grantee, clearing the other column.
func (a *PermissionAssignment) SetGrantee(g Grantee) {
	id := g.ID()
	a.RoleID, a.UserID = nil, nil
	switch g.Kind() {
	case GranteeRole:
		a.RoleID = &id
	case GranteeUser:
		a.UserID = &id
	}
}

// EffectiveAt reports whether the assignment counts at now: live and inside
// its validity window.
func (a *PermissionAssignment) EffectiveAt(now time.Time) bool {
	if a.IsDeleted {
		return false
	}
	if a.ValidFrom.After(now) {
		return false
	}
	return a.ValidTo == nil || a.ValidTo.After(now)
}
