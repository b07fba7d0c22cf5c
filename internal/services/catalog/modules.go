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

// ModuleDetail is a module with its live privileges and sub-modules.
type ModuleDetail struct {
	models.Module
	Privileges []models.ModulePrivilege `json:"privileges"`
	SubModules []models.SubModule       `json:"subModules"`
}

// ModuleInput describes a new module.
type ModuleInput struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	MenuOrder   int    `json:"menuOrder"`
}

// ModulePatch changes the non-nil fields of a module. System modules only
// accept Icon and MenuOrder.
type ModulePatch struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Icon        *string `json:"icon"`
	MenuOrder   *int    `json:"menuOrder"`
	IsEnabled   *bool   `json:"isEnabled"`
}

// GenerateModuleInput is the request of an assisted module generation.
type GenerateModuleInput struct {
	Prompt string `json:"prompt"`
}

// SubModuleInput describes a new sub-module.
type SubModuleInput struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MenuOrder   int    `json:"menuOrder"`
	IsEnabled   *bool  `json:"isEnabled"`
}

// SubModulePatch changes the non-nil fields of a sub-module.
type SubModulePatch struct {
	Code        *string `json:"code"`
	Name        *string `json:"name"`
	Description *string `json:"description"`
	MenuOrder   *int    `json:"menuOrder"`
	IsEnabled   *bool   `json:"isEnabled"`
}

func detail(ctx context.Context, repos repository.TenantRepositories, mod models.Module, privileges []models.ModulePrivilege) (ModuleDetail, error) {
	subs, err := repos.Modules.ListSubModules(ctx, mod.ID, false)
	if err != nil {
		return ModuleDetail{}, err
	}
	if privileges == nil {
		privileges = []models.ModulePrivilege{}
	}
	if subs == nil {
		subs = []models.SubModule{}
	}
	return ModuleDetail{Module: mod, Privileges: privileges, SubModules: subs}, nil
}

// ========================================
// Modules
// ========================================

// ListModules returns modules in menu order. Disabled modules are included
// only when includeDisabled is set; system modules are always listed.
func (m *Manager) ListModules(ctx context.Context, tc tenancy.TenantContext, includeDisabled bool) (out []ModuleDetail, err error) {
	ctx, end := m.tenantSpan(ctx, "catalog.ListModules", tc)
	defer func() { end(err) }()

	err = tenancy.WithStore(ctx, m.stores, tc, func(store *tenancy.Store) error {
		repos := store.Repos()
		modules, err := repos.Modules.List(ctx, includeDisabled)
		if err != nil {
			return err
		}
		ids := make([]int64, 0, len(modules))
		for _, mod := range modules {
			ids = append(ids, mod.ID)
		}
		privileges, err := repos.Privileges.ListLiveForModules(ctx, ids)
		if err != nil {
			return err
		}
		byModule := make(map[int64][]models.ModulePrivilege, len(modules))
		for _, p := range privileges {
			byModule[p.ModuleID] = append(byModule[p.ModuleID], p)
		}

		out = make([]ModuleDetail, 0, len(modules))
		for _, mod := range modules {
			d, err := detail(ctx, repos, mod, byModule[mod.ID])
			if err != nil {
				return err
			}
			out = append(out, d)
		}
		return nil
	})
	return out, err
}

// GetModule returns one module with its live privileges and sub-modules.
func (m *Manager) GetModule(ctx context.Context, tc tenancy.TenantContext, id int64) (out *ModuleDetail, err error) {
	ctx, end := m.tenantSpan(ctx, "catalog.GetModule", tc, attribute.Int64(telemetry.AttrModuleID, id))
	defer func() { end(err) }()

	err = tenancy.WithStore(ctx, m.stores, tc, func(store *tenancy.Store) error {
		repos := store.Repos()
		mod, err := repos.Modules.GetByID(ctx, id)
		if err != nil {
			return err
		}
		privileges, err := repos.Privileges.ListByModule(ctx, id, repository.PrivilegeFilter{})
		if err != nil {
			return err
		}
		d, err := detail(ctx, repos, *mod, privileges)
		if err != nil {
			return err
		}
		out = &d
		return nil
	})
	return out, err
}

// CreateModule adds an enabled module and instantiates every default
// permission into it.
func (m *Manager) CreateModule(ctx context.Context, tc tenancy.TenantContext, in ModuleInput, actorID *int64) (out *models.Module, err error) {
	ctx, end := m.tenantSpan(ctx, "catalog.CreateModule", tc)
	defer func() { end(err) }()

	code := strings.TrimSpace(in.Code)
	name := strings.TrimSpace(in.Name)
	if code == "" || name == "" {
		return nil, apperr.Conflict("module code and name are required")
	}

	now := m.now()
	var created, revived int
	err = tenancy.WithStore(ctx, m.stores, tc, func(store *tenancy.Store) error {
		return store.InTx(ctx, func(ctx context.Context, repos repository.TenantRepositories) error {
			taken, err := repos.Modules.CodeExists(ctx, code)
			if err != nil {
				return err
			}
			if taken {
				return apperr.Conflict("module code %q already exists", code)
			}
			mod := &models.Module{
				Code:        code,
				Name:        name,
				Description: strings.TrimSpace(in.Description),
				Icon:        strings.TrimSpace(in.Icon),
				MenuOrder:   in.MenuOrder,
				IsEnabled:   true,
				CreatedAt:   now,
			}
			if err := repos.Modules.Create(ctx, mod); err != nil {
				return err
			}
			out = mod
			created, revived, err = ensureDefaults(ctx, repos, mod.ID, actorID, now)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	logger.WithContext(ctx, m.log).Info("module created",
		zap.Int64("company_id", tc.CompanyID),
		zap.String("code", out.Code),
		zap.Int("default_privileges", created+revived),
	)
	return out, nil
}

// UpdateModule applies patch. Changing the name, description or enabled
// flag of a system module is rejected.
func (m *Manager) UpdateModule(ctx context.Context, tc tenancy.TenantContext, id int64, patch ModulePatch) (out *models.Module, err error) {
	ctx, end := m.tenantSpan(ctx, "catalog.UpdateModule", tc, attribute.Int64(telemetry.AttrModuleID, id))
	defer func() { end(err) }()

	err = tenancy.WithStore(ctx, m.stores, tc, func(store *tenancy.Store) error {
		repos := store.Repos()
		mod, err := repos.Modules.GetByID(ctx, id)
		if err != nil {
			return err
		}

		if mod.IsSystem {
			restricted := (patch.Name != nil && strings.TrimSpace(*patch.Name) != "" && strings.TrimSpace(*patch.Name) != mod.Name) ||
				(patch.Description != nil && strings.TrimSpace(*patch.Description) != mod.Description) ||
				(patch.IsEnabled != nil && *patch.IsEnabled != mod.IsEnabled)
			if restricted {
				return apperr.Conflict("system modules only allow icon and menu order changes")
			}
		} else {
			if patch.Name != nil && strings.TrimSpace(*patch.Name) != "" {
				mod.Name = strings.TrimSpace(*patch.Name)
			}
			if patch.Description != nil {
				mod.Description = strings.TrimSpace(*patch.Description)
			}
			if patch.IsEnabled != nil {
				mod.IsEnabled = *patch.IsEnabled
			}
		}
		if patch.Icon != nil {
			mod.Icon = strings.TrimSpace(*patch.Icon)
		}
		if patch.MenuOrder != nil {
			mod.MenuOrder = *patch.MenuOrder
		}

		now := m.now()
		mod.UpdatedAt = &now
		if err := repos.Modules.Update(ctx, mod); err != nil {
			return err
		}
		out = mod
		return nil
	})
	return out, err
}

// DeleteModule disables a module that has no live privileges or
// sub-modules. System modules cannot be deleted.
func (m *Manager) DeleteModule(ctx context.Context, tc tenancy.TenantContext, id int64) (deleted bool, err error) {
	ctx, end := m.tenantSpan(ctx, "catalog.DeleteModule", tc, attribute.Int64(telemetry.AttrModuleID, id))
	defer func() { end(err) }()

	err = tenancy.WithStore(ctx, m.stores, tc, func(store *tenancy.Store) error {
		return store.InTx(ctx, func(ctx context.Context, repos repository.TenantRepositories) error {
			mod, err := repos.Modules.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if mod.IsSystem {
				return apperr.Conflict("system modules cannot be deleted")
			}
			privileges, err := repos.Privileges.CountLiveByModule(ctx, id)
			if err != nil {
				return err
			}
			subs, err := repos.Modules.CountLiveSubModules(ctx, id)
			if err != nil {
				return err
			}
			if privileges > 0 || subs > 0 {
				return apperr.Conflict("module %q still has %d privileges and %d sub-modules", mod.Code, privileges, subs)
			}

			now := m.now()
			mod.IsEnabled = false
			mod.UpdatedAt = &now
			if err := repos.Modules.Update(ctx, mod, "is_enabled", "updated_at"); err != nil {
				return err
			}
			deleted = true
			return nil
		})
	})
	return absentIsFalse(deleted, err)
}

// GenerateModule is reserved for assisted module generation.
func (m *Manager) GenerateModule(ctx context.Context, tc tenancy.TenantContext, in GenerateModuleInput) (*models.Module, error) {
	_, end := m.tenantSpan(ctx, "catalog.GenerateModule", tc)
	err := apperr.Conflict("module generation is not implemented")
	end(err)
	return nil, err
}

// ========================================
// Sub-modules
// ========================================

// CreateSubModule adds a sub-module. Codes are unique among the live
// sub-modules of a module.
func (m *Manager) CreateSubModule(ctx context.Context, tc tenancy.TenantContext, moduleID int64, in SubModuleInput, actorID *int64) (out *models.SubModule, err error) {
	ctx, end := m.tenantSpan(ctx, "catalog.CreateSubModule", tc, attribute.Int64(telemetry.AttrModuleID, moduleID))
	defer func() { end(err) }()

	code := models.NormalizeCode(in.Code)
	name := strings.TrimSpace(in.Name)
	if code == "" || name == "" {
		return nil, apperr.Conflict("sub-module code and name are required")
	}

	err = tenancy.WithStore(ctx, m.stores, tc, func(store *tenancy.Store) error {
		return store.InTx(ctx, func(ctx context.Context, repos repository.TenantRepositories) error {
			if _, err := repos.Modules.GetByID(ctx, moduleID); err != nil {
				return err
			}
			taken, err := repos.Modules.SubModuleCodeTaken(ctx, moduleID, code, 0)
			if err != nil {
				return err
			}
			if taken {
				return apperr.Conflict("sub-module code %q already exists in module %d", code, moduleID)
			}
			enabled := true
			if in.IsEnabled != nil {
				enabled = *in.IsEnabled
			}
			sub := &models.SubModule{
				ModuleID:    moduleID,
				Code:        code,
				Name:        name,
				Description: strings.TrimSpace(in.Description),
				MenuOrder:   in.MenuOrder,
				IsEnabled:   enabled,
				CreatedAt:   m.now(),
				CreatedBy:   actorID,
			}
			if err := repos.Modules.CreateSubModule(ctx, sub); err != nil {
				return err
			}
			out = sub
			return nil
		})
	})
	return out, err
}

// UpdateSubModule applies patch to a live sub-module.
func (m *Manager) UpdateSubModule(ctx context.Context, tc tenancy.TenantContext, id int64, patch SubModulePatch, actorID *int64) (out *models.SubModule, err error) {
	ctx, end := m.tenantSpan(ctx, "catalog.UpdateSubModule", tc)
	defer func() { end(err) }()

	err = tenancy.WithStore(ctx, m.stores, tc, func(store *tenancy.Store) error {
		return store.InTx(ctx, func(ctx context.Context, repos repository.TenantRepositories) error {
			sub, err := repos.Modules.GetSubModule(ctx, id)
			if err != nil {
				return err
			}
			if sub.IsDeleted {
				return apperr.Conflict("sub-module %d is deleted", id)
			}
			if patch.Code != nil {
				code := models.NormalizeCode(*patch.Code)
				if code == "" {
					return apperr.Conflict("sub-module code cannot be empty")
				}
				taken, err := repos.Modules.SubModuleCodeTaken(ctx, sub.ModuleID, code, id)
				if err != nil {
					return err
				}
				if taken {
					return apperr.Conflict("sub-module code %q already exists in module %d", code, sub.ModuleID)
				}
				sub.Code = code
			}
			if patch.Name != nil {
				name := strings.TrimSpace(*patch.Name)
				if name == "" {
					return apperr.Conflict("sub-module name cannot be empty")
				}
				sub.Name = name
			}
			if patch.Description != nil {
				sub.Description = strings.TrimSpace(*patch.Description)
			}
			if patch.MenuOrder != nil {
				sub.MenuOrder = *patch.MenuOrder
			}
			if patch.IsEnabled != nil {
				sub.IsEnabled = *patch.IsEnabled
			}
			now := m.now()
			sub.UpdatedAt = &now
			sub.UpdatedBy = actorID
			if err := repos.Modules.UpdateSubModule(ctx, sub); err != nil {
				return err
			}
			out = sub
			return nil
		})
	})
	return out, err
}

// DeleteSubModule soft-deletes a sub-module that scopes no live privilege.
func (m *Manager) DeleteSubModule(ctx context.Context, tc tenancy.TenantContext, id int64, actorID *int64) (deleted bool, err error) {
	ctx, end := m.tenantSpan(ctx, "catalog.DeleteSubModule", tc)
	defer func() { end(err) }()

	err = tenancy.WithStore(ctx, m.stores, tc, func(store *tenancy.Store) error {
		return store.InTx(ctx, func(ctx context.Context, repos repository.TenantRepositories) error {
			sub, err := repos.Modules.GetSubModule(ctx, id)
			if err != nil {
				return err
			}
			if sub.IsDeleted {
				deleted = true
				return nil
			}
			n, err := repos.Privileges.CountLiveBySubModule(ctx, id)
			if err != nil {
				return err
			}
			if n > 0 {
				return apperr.Conflict("sub-module %q still scopes %d privileges", sub.Code, n)
			}
			return setSubModuleDeleted(ctx, repos, sub, true, actorID, m.now(), &deleted)
		})
	})
	return absentIsFalse(deleted, err)
}

// RestoreSubModule revives a deleted sub-module unless a live one already
// uses its code.
func (m *Manager) RestoreSubModule(ctx context.Context, tc tenancy.TenantContext, id int64, actorID *int64) (restored bool, err error) {
	ctx, end := m.tenantSpan(ctx, "catalog.RestoreSubModule", tc)
	defer func() { end(err) }()

	err = tenancy.WithStore(ctx, m.stores, tc, func(store *tenancy.Store) error {
		return store.InTx(ctx, func(ctx context.Context, repos repository.TenantRepositories) error {
			sub, err := repos.Modules.GetSubModule(ctx, id)
			if err != nil {
				return err
			}
			if !sub.IsDeleted {
				restored = true
				return nil
			}
			taken, err := repos.Modules.SubModuleCodeTaken(ctx, sub.ModuleID, sub.Code, id)
			if err != nil {
				return err
			}
			if taken {
				return apperr.Conflict("a live sub-module with code %q already exists", sub.Code)
			}
			return setSubModuleDeleted(ctx, repos, sub, false, actorID, m.now(), &restored)
		})
	})
	return absentIsFalse(restored, err)
}

func setSubModuleDeleted(ctx context.Context, repos repository.TenantRepositories, sub *models.SubModule, deleted bool, actorID *int64, now time.Time, done *bool) error {
	sub.IsDeleted = deleted
	sub.UpdatedAt = &now
	sub.UpdatedBy = actorID
	if err := repos.Modules.UpdateSubModule(ctx, sub, "is_deleted", "updated_at", "updated_by"); err != nil {
		return err
	}
	*done = true
	return nil
}
