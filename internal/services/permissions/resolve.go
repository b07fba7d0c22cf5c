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

// grant is the winning assignment of one privilege for one user.
type grant struct {
	assignmentID int64
	source       Source
	roleID       *int64
	roleName     string
}

// activeRoles returns the user's active roles ordered by id.
func activeRoles(ctx context.Context, repos repository.TenantRepositories, userID int64) ([]models.Role, error) {
	roles, err := repos.Roles.RolesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	active := roles[:0]
	for _, r := range roles {
		if r.Status == models.StatusActive {
			active = append(active, r)
		}
	}
	return active, nil
}

// resolveGrants picks, for each privilege the user holds at now, the direct
// assignment if any, otherwise the assignment of the lowest role id.
func resolveGrants(ctx context.Context, repos repository.TenantRepositories, userID int64, roles []models.Role, privilegeIDs []int64, now time.Time) (map[int64]grant, error) {
	roleIDs := make([]int64, 0, len(roles))
	roleNames := make(map[int64]string, len(roles))
	for _, r := range roles {
		roleIDs = append(roleIDs, r.ID)
		roleNames[r.ID] = r.Name
	}

	assignments, err := repos.Assignments.ListLiveFor(ctx, privilegeIDs, userID, roleIDs)
	if err != nil {
		return nil, err
	}

	out := make(map[int64]grant, len(assignments))
	for i := range assignments {
		a := &assignments[i]
		if !a.EffectiveAt(now) {
			continue
		}
		g := a.Grantee()
		switch {
		case g.IsUser() && g.ID() == userID:
			out[a.ModulePrivilegeID] = grant{assignmentID: a.ID, source: SourceDirect}
		case g.IsRole():
			cur, ok := out[a.ModulePrivilegeID]
			if ok && (cur.source == SourceDirect || *cur.roleID <= g.ID()) {
				continue
			}
			roleID := g.ID()
			out[a.ModulePrivilegeID] = grant{
				assignmentID: a.ID,
				source:       SourceRole,
				roleID:       &roleID,
				roleName:     roleNames[roleID],
			}
		}
	}
	return out, nil
}

// grantedModules loads the enabled modules and their live privileges and
// keeps only the privileges the user holds. Modules without any are dropped.
func (e *Engine) grantedModules(ctx context.Context, repos repository.TenantRepositories, userID int64, roles []models.Role) ([]ModuleGrants, error) {
	modules, err := repos.Modules.ListEnabled(ctx, nil)
	if err != nil {
		return nil, err
	}
	moduleIDs := make([]int64, 0, len(modules))
	for _, m := range modules {
		moduleIDs = append(moduleIDs, m.ID)
	}
	privileges, err := repos.Privileges.ListLiveForModules(ctx, moduleIDs)
	if err != nil {
		return nil, err
	}
	privilegeIDs := make([]int64, 0, len(privileges))
	for _, p := range privileges {
		privilegeIDs = append(privilegeIDs, p.ID)
	}

	grants, err := resolveGrants(ctx, repos, userID, roles, privilegeIDs, e.now())
	if err != nil {
		return nil, err
	}

	byModule := make(map[int64][]PrivilegeGrant)
	for _, p := range privileges {
		g, ok := grants[p.ID]
		if !ok {
			continue
		}
		byModule[p.ModuleID] = append(byModule[p.ModuleID], PrivilegeGrant{
			ModulePrivilegeID:      p.ID,
			PermissionID:           p.PermissionID,
			PermissionAssignmentID: g.assignmentID,
			Code:                   p.Code,
			Name:                   p.Name,
			HasPermission:          true,
		})
	}

	out := make([]ModuleGrants, 0, len(byModule))
	for _, m := range modules {
		privs, ok := byModule[m.ID]
		if !ok {
			continue
		}
		out = append(out, ModuleGrants{
			ModuleID:   m.ID,
			ModuleCode: m.Code,
			ModuleName: m.Name,
			Privileges: privs,
		})
	}
	return out, nil
}

// EffectivePermissions lists every privilege the user holds, grouped by
// module in menu order.
func (e *Engine) EffectivePermissions(ctx context.Context, tc tenancy.TenantContext, userID int64) (*EffectivePermissions, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "permissions.EffectivePermissions",
		attribute.Int64(telemetry.AttrTenantCompanyID, tc.CompanyID),
		attribute.Int64(telemetry.AttrUserID, userID),
	)
	defer span.End()

	var result *EffectivePermissions
	err := tenancy.WithStore(ctx, e.stores, tc, func(store *tenancy.Store) error {
		repos := store.Repos()
		if _, err := repos.Users.GetByID(ctx, userID); err != nil {
			return err
		}
		roles, err := activeRoles(ctx, repos, userID)
		if err != nil {
			return err
		}
		modules, err := e.grantedModules(ctx, repos, userID, roles)
		if err != nil {
			return err
		}
		result = &EffectivePermissions{UserID: userID, Modules: modules}
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return result, nil
}

// UserPermissions is EffectivePermissions plus the user's name and roles.
func (e *Engine) UserPermissions(ctx context.Context, tc tenancy.TenantContext, userID int64) (*UserPermissions, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "permissions.UserPermissions",
		attribute.Int64(telemetry.AttrTenantCompanyID, tc.CompanyID),
		attribute.Int64(telemetry.AttrUserID, userID),
	)
	defer span.End()

	var result *UserPermissions
	err := tenancy.WithStore(ctx, e.stores, tc, func(store *tenancy.Store) error {
		repos := store.Repos()
		user, err := repos.Users.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		roles, err := activeRoles(ctx, repos, userID)
		if err != nil {
			return err
		}
		modules, err := e.grantedModules(ctx, repos, userID, roles)
		if err != nil {
			return err
		}
		refs := make([]RoleRef, 0, len(roles))
		for _, r := range roles {
			refs = append(refs, RoleRef{ID: r.ID, Name: r.Name})
		}
		result = &UserPermissions{
			UserID:   user.ID,
			UserName: user.FullName,
			Roles:    refs,
			Modules:  modules,
		}
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return result, nil
}

// CheckPermission decides whether the user holds the privilege code of a
// module. Unknown users and privileges yield a negative result, not an error.
func (e *Engine) CheckPermission(ctx context.Context, tc tenancy.TenantContext, userID, moduleID int64, code string) (*CheckResult, error) {
	code = models.NormalizeCode(code)
	ctx, span := telemetry.StartSpan(ctx, tracerName, "permissions.CheckPermission",
		attribute.Int64(telemetry.AttrTenantCompanyID, tc.CompanyID),
		attribute.Int64(telemetry.AttrUserID, userID),
		attribute.Int64(telemetry.AttrModuleID, moduleID),
		attribute.String(telemetry.AttrPrivilegeCode, code),
	)
	defer span.End()

	var result *CheckResult
	err := tenancy.WithStore(ctx, e.stores, tc, func(store *tenancy.Store) error {
		repos := store.Repos()
		if _, err := repos.Users.GetByID(ctx, userID); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				result = &CheckResult{Message: MsgUserNotFound}
				return nil
			}
			return err
		}
		privilege, err := repos.Privileges.GetLiveByCode(ctx, moduleID, code)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				result = &CheckResult{Message: MsgPrivilegeNotFound}
				return nil
			}
			return err
		}
		roles, err := activeRoles(ctx, repos, userID)
		if err != nil {
			return err
		}
		grants, err := resolveGrants(ctx, repos, userID, roles, []int64{privilege.ID}, e.now())
		if err != nil {
			return err
		}
		g, ok := grants[privilege.ID]
		if !ok {
			result = &CheckResult{Message: MsgNotGranted}
			return nil
		}
		result = &CheckResult{Granted: true, Source: g.source, RoleID: g.roleID, RoleName: g.roleName}
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Bool(telemetry.AttrPermissionGranted, result.Granted),
		attribute.String(telemetry.AttrPermissionSource, string(result.Source)),
	)
	e.metrics.RecordPermissionCheck(result.Granted, string(result.Source))
	logger.WithContext(ctx, e.log).Debug("permission checked",
		zap.Int64("user_id", userID),
		zap.Int64("module_id", moduleID),
		zap.String("code", code),
		zap.Bool("granted", result.Granted),
	)
	return result, nil
}

// ModulePermissions lists the live privileges of a module. When userID is
// given each privilege also reports whether and how that user holds it.
func (e *Engine) ModulePermissions(ctx context.Context, tc tenancy.TenantContext, moduleID int64, userID *int64) (*ModulePermissions, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "permissions.ModulePermissions",
		attribute.Int64(telemetry.AttrTenantCompanyID, tc.CompanyID),
		attribute.Int64(telemetry.AttrModuleID, moduleID),
	)
	defer span.End()

	var result *ModulePermissions
	err := tenancy.WithStore(ctx, e.stores, tc, func(store *tenancy.Store) error {
		repos := store.Repos()
		module, err := repos.Modules.GetByID(ctx, moduleID)
		if err != nil {
			return err
		}
		privileges, err := repos.Privileges.ListByModule(ctx, moduleID, repository.PrivilegeFilter{})
		if err != nil {
			return err
		}

		var grants map[int64]grant
		if userID != nil {
			if _, err := repos.Users.GetByID(ctx, *userID); err != nil {
				return err
			}
			roles, err := activeRoles(ctx, repos, *userID)
			if err != nil {
				return err
			}
			ids := make([]int64, 0, len(privileges))
			for _, p := range privileges {
				ids = append(ids, p.ID)
			}
			if grants, err = resolveGrants(ctx, repos, *userID, roles, ids, e.now()); err != nil {
				return err
			}
		}

		details := make([]PrivilegeDetail, 0, len(privileges))
		for _, p := range privileges {
			d := PrivilegeDetail{
				ModulePrivilegeID: p.ID,
				PermissionID:      p.PermissionID,
				SubModuleID:       p.SubModuleID,
				Code:              p.Code,
				Name:              p.Name,
				Description:       p.Description,
				IsDefault:         p.IsDefault,
			}
			if g, ok := grants[p.ID]; ok {
				d.HasPermission = true
				d.Source = g.source
				d.RoleID = g.roleID
				d.RoleName = g.roleName
			}
			details = append(details, d)
		}
		result = &ModulePermissions{
			ModuleID:   module.ID,
			ModuleCode: module.Code,
			ModuleName: module.Name,
			Privileges: details,
		}
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return result, nil
}
