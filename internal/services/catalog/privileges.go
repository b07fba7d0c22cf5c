package catalog

import (
	"context"
	"strings"
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

// PrivilegeInput instantiates a catalog permission in a module. Name and
// description default to the catalog values, IsDefault to the permission's
// default-for-module flag.
type PrivilegeInput struct {
	PermissionID int64  `json:"permissionId"`
	SubModuleID  *int64 `json:"subModuleId"`
	NameOverride string `json:"nameOverride"`
	Description  string `json:"description"`
	IsDefault    *bool  `json:"isDefault"`
}

// PrivilegePatch changes a module privilege. Switching PermissionID resets
// code, name and description to the new catalog entry before NameOverride
// and Description apply.
type PrivilegePatch struct {
	PermissionID    *int64  `json:"permissionId"`
	SubModuleID     *int64  `json:"subModuleId"`
	RemoveSubModule bool    `json:"removeSubModule"`
	NameOverride    *string `json:"nameOverride"`
	Description     *string `json:"description"`
	IsDefault       *bool   `json:"isDefault"`
}

func requireLiveSubModule(ctx context.Context, repos repository.TenantRepositories, moduleID, subModuleID int64) error {
	ok, err := repos.Modules.LiveSubModuleExists(ctx, moduleID, subModuleID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Conflict("sub-module %d does not belong to module %d", subModuleID, moduleID)
	}
	return nil
}

func requireNoLiveDuplicate(ctx context.Context, repos repository.TenantRepositories, moduleID, permissionID, excludeID int64) error {
	dup, err := repos.Privileges.LiveExists(ctx, moduleID, permissionID, excludeID)
	if err != nil {
		return err
	}
	if dup {
		return apperr.Conflict("module %d already has a live privilege for permission %d", moduleID, permissionID)
	}
	return nil
}

// ListPrivileges returns the privileges of a module ordered by code.
func (m *Manager) ListPrivileges(ctx context.Context, tc tenancy.TenantContext, moduleID int64, filter repository.PrivilegeFilter) (out []models.ModulePrivilege, err error) {
	ctx, end := m.tenantSpan(ctx, "catalog.ListPrivileges", tc, attribute.Int64(telemetry.AttrModuleID, moduleID))
	defer func() { end(err) }()

	filter.PermissionCode = models.NormalizeCode(filter.PermissionCode)
	err = tenancy.WithStore(ctx, m.stores, tc, func(store *tenancy.Store) error {
		var err error
		out, err = store.Repos().Privileges.ListByModule(ctx, moduleID, filter)
		return err
	})
	return out, err
}

// GetPrivilege returns one module privilege, deleted or not.
func (m *Manager) GetPrivilege(ctx context.Context, tc tenancy.TenantContext, id int64) (out *models.ModulePrivilege, err error) {
	ctx, end := m.tenantSpan(ctx, "catalog.GetPrivilege", tc, attribute.Int64(telemetry.AttrPrivilegeID, id))
	defer func() { end(err) }()

	err = tenancy.WithStore(ctx, m.stores, tc, func(store *tenancy.Store) error {
		var err error
		out, err = store.Repos().Privileges.GetByID(ctx, id)
		return err
	})
	return out, err
}

// CreatePrivilege instantiates a catalog permission in a module.
func (m *Manager) CreatePrivilege(ctx context.Context, tc tenancy.TenantContext, moduleID int64, in PrivilegeInput, actorID *int64) (out *models.ModulePrivilege, err error) {
	ctx, end := m.tenantSpan(ctx, "catalog.CreatePrivilege", tc,
		attribute.Int64(telemetry.AttrModuleID, moduleID),
		attribute.Int64(telemetry.AttrPermissionID, in.PermissionID),
	)
	defer func() { end(err) }()

	err = tenancy.WithStore(ctx, m.stores, tc, func(store *tenancy.Store) error {
		return store.InTx(ctx, func(ctx context.Context, repos repository.TenantRepositories) error {
			if _, err := repos.Modules.GetByID(ctx, moduleID); err != nil {
				return err
			}
			perm, err := repos.Permissions.GetByID(ctx, in.PermissionID)
			if err != nil {
				return err
			}
			if in.SubModuleID != nil {
				if err := requireLiveSubModule(ctx, repos, moduleID, *in.SubModuleID); err != nil {
					return err
				}
			}
			if err := requireNoLiveDuplicate(ctx, repos, moduleID, perm.ID, 0); err != nil {
				return err
			}

			p := &models.ModulePrivilege{
				ModuleID:     moduleID,
				PermissionID: perm.ID,
				SubModuleID:  in.SubModuleID,
				Code:         perm.Code,
				Name:         perm.Name,
				Description:  perm.Description,
				IsDefault:    perm.IsDefaultForModule,
				CreatedAt:    m.now(),
				CreatedBy:    actorID,
			}
			if name := strings.TrimSpace(in.NameOverride); name != "" {
				p.Name = name
			}
			if desc := strings.TrimSpace(in.Description); desc != "" {
				p.Description = desc
			}
			if in.IsDefault != nil {
				p.IsDefault = *in.IsDefault
			}
			if err := repos.Privileges.Create(ctx, p); err != nil {
				return err
			}
			out = p
			return nil
		})
	})
	return out, err
}

// UpdatePrivilege applies patch to a module privilege.
func (m *Manager) UpdatePrivilege(ctx context.Context, tc tenancy.TenantContext, id int64, patch PrivilegePatch, actorID *int64) (out *models.ModulePrivilege, err error) {
	ctx, end := m.tenantSpan(ctx, "catalog.UpdatePrivilege", tc, attribute.Int64(telemetry.AttrPrivilegeID, id))
	defer func() { end(err) }()

	err = tenancy.WithStore(ctx, m.stores, tc, func(store *tenancy.Store) error {
		return store.InTx(ctx, func(ctx context.Context, repos repository.TenantRepositories) error {
			p, err := repos.Privileges.GetByID(ctx, id)
			if err != nil {
				return err
			}

			if patch.PermissionID != nil && *patch.PermissionID != p.PermissionID {
				perm, err := repos.Permissions.GetByID(ctx, *patch.PermissionID)
				if err != nil {
					return err
				}
				if !p.IsDeleted {
					if err := requireNoLiveDuplicate(ctx, repos, p.ModuleID, perm.ID, p.ID); err != nil {
						return err
					}
				}
				p.PermissionID = perm.ID
				p.Code = perm.Code
				p.Name = perm.Name
				p.Description = perm.Description
			}

			switch {
			case patch.SubModuleID != nil:
				if err := requireLiveSubModule(ctx, repos, p.ModuleID, *patch.SubModuleID); err != nil {
					return err
				}
				p.SubModuleID = patch.SubModuleID
			case patch.RemoveSubModule:
				p.SubModuleID = nil
			}

			if patch.NameOverride != nil {
				if name := strings.TrimSpace(*patch.NameOverride); name != "" {
					p.Name = name
				}
			}
			if patch.Description != nil {
				p.Description = strings.TrimSpace(*patch.Description)
			}
			if patch.IsDefault != nil {
				p.IsDefault = *patch.IsDefault
			}

			now := m.now()
			p.UpdatedAt = &now
			p.UpdatedBy = actorID
			if err := repos.Privileges.Update(ctx, p); err != nil {
				return err
			}
			out = p
			return nil
		})
	})
	return out, err
}

// DeletePrivilege soft-deletes a privilege nobody holds anymore. Deleting
// an already deleted privilege succeeds.
func (m *Manager) DeletePrivilege(ctx context.Context, tc tenancy.TenantContext, id int64, actorID *int64) (deleted bool, err error) {
	ctx, end := m.tenantSpan(ctx, "catalog.DeletePrivilege", tc, attribute.Int64(telemetry.AttrPrivilegeID, id))
	defer func() { end(err) }()

	err = tenancy.WithStore(ctx, m.stores, tc, func(store *tenancy.Store) error {
		return store.InTx(ctx, func(ctx context.Context, repos repository.TenantRepositories) error {
			p, err := repos.Privileges.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if p.IsDeleted {
				deleted = true
				return nil
			}
			n, err := repos.Assignments.CountLiveByPrivilege(ctx, id)
			if err != nil {
				return err
			}
			if n > 0 {
				return apperr.Conflict("privilege %q is still assigned to %d roles or users", p.Code, n)
			}
			if err := setPrivilegeDeleted(ctx, repos, p, true, actorID, m.now()); err != nil {
				return err
			}
			deleted = true
			return nil
		})
	})
	return absentIsFalse(deleted, err)
}

// RestorePrivilege revives a deleted privilege unless its module already
// holds a live privilege for the same permission.
func (m *Manager) RestorePrivilege(ctx context.Context, tc tenancy.TenantContext, id int64, actorID *int64) (restored bool, err error) {
	ctx, end := m.tenantSpan(ctx, "catalog.RestorePrivilege", tc, attribute.Int64(telemetry.AttrPrivilegeID, id))
	defer func() { end(err) }()

	err = tenancy.WithStore(ctx, m.stores, tc, func(store *tenancy.Store) error {
		return store.InTx(ctx, func(ctx context.Context, repos repository.TenantRepositories) error {
			p, err := repos.Privileges.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if !p.IsDeleted {
				restored = true
				return nil
			}
			if err := requireNoLiveDuplicate(ctx, repos, p.ModuleID, p.PermissionID, p.ID); err != nil {
				return err
			}
			if err := setPrivilegeDeleted(ctx, repos, p, false, actorID, m.now()); err != nil {
				return err
			}
			restored = true
			return nil
		})
	})
	return absentIsFalse(restored, err)
}

func setPrivilegeDeleted(ctx context.Context, repos repository.TenantRepositories, p *models.ModulePrivilege, deleted bool, actorID *int64, now time.Time) error {
	p.IsDeleted = deleted
	p.UpdatedAt = &now
	p.UpdatedBy = actorID
	return repos.Privileges.Update(ctx, p, "is_deleted", "updated_at", "updated_by")
}

// EnsureDefaultPrivileges makes every default catalog permission live in
// the module: missing privileges are created, deleted ones revived and
// flagged default. Running it again changes nothing.
func (m *Manager) EnsureDefaultPrivileges(ctx context.Context, tc tenancy.TenantContext, moduleID int64, actorID *int64) (err error) {
	ctx, end := m.tenantSpan(ctx, "catalog.EnsureDefaultPrivileges", tc, attribute.Int64(telemetry.AttrModuleID, moduleID))
	defer func() { end(err) }()

	var created, revived int
	err = tenancy.WithStore(ctx, m.stores, tc, func(store *tenancy.Store) error {
		return store.InTx(ctx, func(ctx context.Context, repos repository.TenantRepositories) error {
			if _, err := repos.Modules.GetByID(ctx, moduleID); err != nil {
				return err
			}
			var err error
			created, revived, err = ensureDefaults(ctx, repos, moduleID, actorID, m.now())
			return err
		})
	})
	if err != nil {
		return err
	}
	if created+revived > 0 {
		logger.WithContext(ctx, m.log).Info("default privileges synchronized",
			zap.Int64("company_id", tc.CompanyID),
			zap.Int64("module_id", moduleID),
			zap.Int("created", created),
			zap.Int("revived", revived),
		)
	}
	return nil
}

// ensureDefaults is the body of EnsureDefaultPrivileges, shared with
// CreateModule. A permission with a live privilege is left alone; otherwise
// its most recent deleted privilege is revived, or a new one created.
func ensureDefaults(ctx context.Context, repos repository.TenantRepositories, moduleID int64, actorID *int64, now time.Time) (created, revived int, err error) {
	defaults, err := repos.Permissions.ListDefaults(ctx)
	if err != nil || len(defaults) == 0 {
		return 0, 0, err
	}
	existing, err := repos.Privileges.ListAllByModule(ctx, moduleID)
	if err != nil {
		return 0, 0, err
	}

	live := make(map[int64]bool, len(existing))
	latestDeleted := make(map[int64]*models.ModulePrivilege, len(existing))
	for i := range existing {
		p := &existing[i]
		if !p.IsDeleted {
			live[p.PermissionID] = true
			continue
		}
		latestDeleted[p.PermissionID] = p
	}

	for i := range defaults {
		perm := &defaults[i]
		if live[perm.ID] {
			continue
		}
		if p, ok := latestDeleted[perm.ID]; ok {
			p.IsDeleted = false
			p.IsDefault = true
			p.UpdatedAt = &now
			p.UpdatedBy = actorID
			if err := repos.Privileges.Update(ctx, p, "is_deleted", "is_default", "updated_at", "updated_by"); err != nil {
				return created, revived, err
			}
			revived++
			continue
		}
		if err := repos.Privileges.Create(ctx, defaultPrivilege(moduleID, perm, actorID, now)); err != nil {
			return created, revived, err
		}
		created++
	}
	return created, revived, nil
}
