package permissions

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/xaman1990/SisCoreApi/internal/apperr"
	"github.com/xaman1990/SisCoreApi/internal/db/models"
	"github.com/xaman1990/SisCoreApi/internal/logger"
	"github.com/xaman1990/SisCoreApi/internal/repository"
	"github.com/xaman1990/SisCoreApi/internal/telemetry"
	"github.com/xaman1990/SisCoreApi/internal/tenancy"
)

// findAssignment returns the most relevant assignment of privilegeID to g,
// or nil when there has never been one.
func findAssignment(ctx context.Context, repos repository.TenantRepositories, privilegeID int64, g models.Grantee) (*models.PermissionAssignment, error) {
	a, err := repos.Assignments.Find(ctx, privilegeID, g)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	return a, err
}

// grantTo makes privilegeID live for g: a new assignment when none exists,
// a revived one when the last was revoked. A live assignment is left as is.
func grantTo(ctx context.Context, repos repository.TenantRepositories, privilegeID int64, g models.Grantee, actorID *int64, now time.Time) (*models.PermissionAssignment, bool, error) {
	existing, err := findAssignment(ctx, repos, privilegeID, g)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		a := models.NewAssignment(privilegeID, g, actorID, now)
		if err := repos.Assignments.Create(ctx, a); err != nil {
			return nil, false, err
		}
		return a, true, nil
	}
	if !existing.IsDeleted {
		return existing, false, nil
	}

	existing.IsDeleted = false
	existing.GrantedAt = now
	existing.GrantedBy = actorID
	existing.ValidFrom = now
	existing.ValidTo = nil
	existing.UpdatedAt = &now
	existing.UpdatedBy = actorID
	err = repos.Assignments.Update(ctx, existing,
		"is_deleted", "granted_at", "granted_by", "valid_from", "valid_to", "updated_at", "updated_by")
	if err != nil {
		return nil, false, err
	}
	return existing, true, nil
}

// revokeFrom soft-deletes the live assignment of privilegeID to g, if any.
func revokeFrom(ctx context.Context, repos repository.TenantRepositories, privilegeID int64, g models.Grantee, actorID *int64, now time.Time) (bool, error) {
	existing, err := findAssignment(ctx, repos, privilegeID, g)
	if err != nil || existing == nil || existing.IsDeleted {
		return false, err
	}
	existing.IsDeleted = true
	existing.UpdatedAt = &now
	existing.UpdatedBy = actorID
	if err := repos.Assignments.Update(ctx, existing, "is_deleted", "updated_at", "updated_by"); err != nil {
		return false, err
	}
	return true, nil
}

// RoleMatrix shows, for every enabled module (or only moduleID), which live
// privileges the role holds.
func (e *Engine) RoleMatrix(ctx context.Context, tc tenancy.TenantContext, roleID int64, moduleID *int64) ([]RoleModulePermissions, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "permissions.RoleMatrix",
		attribute.Int64(telemetry.AttrTenantCompanyID, tc.CompanyID),
		attribute.Int64(telemetry.AttrRoleID, roleID),
	)
	defer span.End()

	var result []RoleModulePermissions
	err := tenancy.WithStore(ctx, e.stores, tc, func(store *tenancy.Store) error {
		repos := store.Repos()
		if _, err := repos.Roles.GetByID(ctx, roleID); err != nil {
			return err
		}
		modules, err := repos.Modules.ListEnabled(ctx, moduleID)
		if err != nil {
			return err
		}
		moduleIDs := make([]int64, 0, len(modules))
		for _, m := range modules {
			moduleIDs = append(moduleIDs, m.ID)
		}
		privileges, err := repos.Privileges.ListLiveForModules(ctx, moduleIDs)
		if err != nil {
			return err
		}
		privilegeIDs := make([]int64, 0, len(privileges))
		for _, p := range privileges {
			privilegeIDs = append(privilegeIDs, p.ID)
		}
		assignments, err := repos.Assignments.ListForGrantee(ctx, models.RoleGrantee(roleID), privilegeIDs)
		if err != nil {
			return err
		}
		granted := make(map[int64]bool, len(assignments))
		for _, a := range assignments {
			if !a.IsDeleted {
				granted[a.ModulePrivilegeID] = true
			}
		}

		byModule := make(map[int64][]RolePrivilege, len(modules))
		for _, p := range privileges {
			byModule[p.ModuleID] = append(byModule[p.ModuleID], RolePrivilege{
				ModulePrivilegeID: p.ID,
				PermissionID:      p.PermissionID,
				Code:              p.Code,
				Name:              p.Name,
				IsDefault:         p.IsDefault,
				IsGranted:         granted[p.ID],
			})
		}
		result = make([]RoleModulePermissions, 0, len(modules))
		for _, m := range modules {
			privs := byModule[m.ID]
			if privs == nil {
				privs = []RolePrivilege{}
			}
			result = append(result, RoleModulePermissions{
				ModuleID:   m.ID,
				ModuleCode: m.Code,
				ModuleName: m.Name,
				Privileges: privs,
			})
		}
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return result, nil
}

// UpdateRoleMatrix applies grant and revoke toggles for a role in one
// transaction. Every privilege id must belong to the module it is listed
// under, otherwise the whole batch is rejected.
func (e *Engine) UpdateRoleMatrix(ctx context.Context, tc tenancy.TenantContext, roleID int64, modules []ModuleToggles, actorID *int64) error {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "permissions.UpdateRoleMatrix",
		attribute.Int64(telemetry.AttrTenantCompanyID, tc.CompanyID),
		attribute.Int64(telemetry.AttrRoleID, roleID),
		attribute.Int("modules", len(modules)),
	)
	defer span.End()

	now := e.now()
	var granted, revoked int
	err := tenancy.WithStore(ctx, e.stores, tc, func(store *tenancy.Store) error {
		return store.InTx(ctx, func(ctx context.Context, repos repository.TenantRepositories) error {
			if _, err := repos.Roles.GetByID(ctx, roleID); err != nil {
				return err
			}
			if len(modules) == 0 {
				return nil
			}

			for _, m := range modules {
				if err := validateToggles(ctx, repos, m); err != nil {
					return err
				}
			}

			g := models.RoleGrantee(roleID)
			for _, m := range modules {
				for _, t := range m.Privileges {
					if t.Granted {
						_, changed, err := grantTo(ctx, repos, t.ModulePrivilegeID, g, actorID, now)
						if err != nil {
							return err
						}
						if changed {
							granted++
						}
						continue
					}
					changed, err := revokeFrom(ctx, repos, t.ModulePrivilegeID, g, actorID, now)
					if err != nil {
						return err
					}
					if changed {
						revoked++
					}
				}
			}
			return nil
		})
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	logger.WithContext(ctx, e.log).Info("role matrix updated",
		zap.Int64("company_id", tc.CompanyID),
		zap.Int64("role_id", roleID),
		zap.Int("granted", granted),
		zap.Int("revoked", revoked),
	)
	return nil
}

func validateToggles(ctx context.Context, repos repository.TenantRepositories, m ModuleToggles) error {
	seen := make(map[int64]struct{}, len(m.Privileges))
	ids := make([]int64, 0, len(m.Privileges))
	for _, t := range m.Privileges {
		if _, dup := seen[t.ModulePrivilegeID]; dup {
			continue
		}
		seen[t.ModulePrivilegeID] = struct{}{}
		ids = append(ids, t.ModulePrivilegeID)
	}
	if len(ids) == 0 {
		return nil
	}
	found, err := repos.Privileges.ListLiveIDsInModule(ctx, m.ModuleID, ids)
	if err != nil {
		return err
	}
	if len(found) != len(ids) {
		return apperr.Conflict("one or more privileges are not live privileges of module %d", m.ModuleID)
	}
	return nil
}

// GrantToUser grants a live privilege directly to a user.
func (e *Engine) GrantToUser(ctx context.Context, tc tenancy.TenantContext, userID, privilegeID int64, actorID *int64) (*models.PermissionAssignment, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "permissions.GrantToUser",
		attribute.Int64(telemetry.AttrTenantCompanyID, tc.CompanyID),
		attribute.Int64(telemetry.AttrUserID, userID),
		attribute.Int64(telemetry.AttrPrivilegeID, privilegeID),
	)
	defer span.End()

	var result *models.PermissionAssignment
	err := tenancy.WithStore(ctx, e.stores, tc, func(store *tenancy.Store) error {
		return store.InTx(ctx, func(ctx context.Context, repos repository.TenantRepositories) error {
			if _, err := repos.Users.GetByID(ctx, userID); err != nil {
				return err
			}
			privilege, err := repos.Privileges.GetByID(ctx, privilegeID)
			if err != nil {
				return err
			}
			if privilege.IsDeleted {
				return apperr.NotFound("module privilege not found: %d", privilegeID)
			}
			a, changed, err := grantTo(ctx, repos, privilegeID, models.UserGrantee(userID), actorID, e.now())
			if err != nil {
				return err
			}
			if changed {
				telemetry.AddEvent(span, "grant.applied")
			}
			result = a
			return nil
		})
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return result, nil
}

// RevokeFromUser revokes a direct grant. It reports whether a live grant
// was revoked.
func (e *Engine) RevokeFromUser(ctx context.Context, tc tenancy.TenantContext, userID, privilegeID int64, actorID *int64) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "permissions.RevokeFromUser",
		attribute.Int64(telemetry.AttrTenantCompanyID, tc.CompanyID),
		attribute.Int64(telemetry.AttrUserID, userID),
		attribute.Int64(telemetry.AttrPrivilegeID, privilegeID),
	)
	defer span.End()

	var revoked bool
	err := tenancy.WithStore(ctx, e.stores, tc, func(store *tenancy.Store) error {
		return store.InTx(ctx, func(ctx context.Context, repos repository.TenantRepositories) error {
			var err error
			revoked, err = revokeFrom(ctx, repos, privilegeID, models.UserGrantee(userID), actorID, e.now())
			return err
		})
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return false, err
	}
	return revoked, nil
}
