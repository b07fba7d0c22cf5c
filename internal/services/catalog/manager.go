// Package catalog manages the module tree of a tenant and the permission
// catalog instantiated into it.
//
// Catalog permissions flagged as default for modules are kept instantiated
// in every module: creating such a permission fans it out to all modules,
// and creating a module pulls in every default permission. Privileges,
// sub-modules and modules are never purged, only soft-deleted or disabled.
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

const tracerName = "siscore/services/catalog"

// Manager runs catalog operations against tenant stores.
type Manager struct {
	stores tenancy.StoreOpener
	log    *zap.Logger
	now    func() time.Time
}

// NewManager creates a catalog manager. log may be nil.
func NewManager(stores tenancy.StoreOpener, log *zap.Logger) *Manager {
	return &Manager{
		stores: stores,
		log:    logger.OrNop(log).Named("catalog"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// PermissionInput describes a new catalog permission.
type PermissionInput struct {
	Code               string `json:"code"`
	Name               string `json:"name"`
	Description        string `json:"description"`
	IsSystem           bool   `json:"isSystem"`
	IsDefaultForModule bool   `json:"isDefaultForModule"`
}

// PermissionPatch changes the non-nil fields of a catalog permission.
type PermissionPatch struct {
	Code               *string `json:"code"`
	Name               *string `json:"name"`
	Description        *string `json:"description"`
	IsSystem           *bool   `json:"isSystem"`
	IsDefaultForModule *bool   `json:"isDefaultForModule"`
}

func (m *Manager) tenantSpan(ctx context.Context, name string, tc tenancy.TenantContext, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	attrs = append(attrs, attribute.Int64(telemetry.AttrTenantCompanyID, tc.CompanyID))
	ctx, span := telemetry.StartSpan(ctx, tracerName, name, attrs...)
	return ctx, func(err error) {
		if err != nil {
			telemetry.RecordError(span, err)
		}
		span.End()
	}
}

// ========================================
// Permission catalog
// ========================================

// ListPermissions returns catalog permissions ordered by code.
func (m *Manager) ListPermissions(ctx context.Context, tc tenancy.TenantContext, filter repository.PermissionFilter) (out []models.Permission, err error) {
	ctx, end := m.tenantSpan(ctx, "catalog.ListPermissions", tc)
	defer func() { end(err) }()

	filter.Code = models.NormalizeCode(filter.Code)
	filter.Name = strings.TrimSpace(filter.Name)
	err = tenancy.WithStore(ctx, m.stores, tc, func(store *tenancy.Store) error {
		var err error
		out, err = store.Repos().Permissions.List(ctx, filter)
		return err
	})
	return out, err
}

// GetPermission returns one catalog permission.
func (m *Manager) GetPermission(ctx context.Context, tc tenancy.TenantContext, id int64) (out *models.Permission, err error) {
	ctx, end := m.tenantSpan(ctx, "catalog.GetPermission", tc, attribute.Int64(telemetry.AttrPermissionID, id))
	defer func() { end(err) }()

	err = tenancy.WithStore(ctx, m.stores, tc, func(store *tenancy.Store) error {
		var err error
		out, err = store.Repos().Permissions.GetByID(ctx, id)
		return err
	})
	return out, err
}

// CreatePermission adds a catalog permission. A permission flagged default
// for modules is instantiated in every module lacking a live privilege for
// it, in the same transaction.
func (m *Manager) CreatePermission(ctx context.Context, tc tenancy.TenantContext, in PermissionInput, actorID *int64) (out *models.Permission, err error) {
	ctx, end := m.tenantSpan(ctx, "catalog.CreatePermission", tc)
	defer func() { end(err) }()

	code := models.NormalizeCode(in.Code)
	name := strings.TrimSpace(in.Name)
	if code == "" {
		return nil, apperr.Conflict("permission code is required")
	}
	if name == "" {
		return nil, apperr.Conflict("permission name is required")
	}

	now := m.now()
	var fannedOut int
	err = tenancy.WithStore(ctx, m.stores, tc, func(store *tenancy.Store) error {
		return store.InTx(ctx, func(ctx context.Context, repos repository.TenantRepositories) error {
			taken, err := repos.Permissions.CodeExists(ctx, code, 0)
			if err != nil {
				return err
			}
			if taken {
				return apperr.Conflict("a permission with code %q already exists", code)
			}

			p := &models.Permission{
				Code:               code,
				Name:               name,
				Description:        strings.TrimSpace(in.Description),
				IsSystem:           in.IsSystem,
				IsDefaultForModule: in.IsDefaultForModule,
				CreatedAt:          now,
				CreatedBy:          actorID,
			}
			if err := repos.Permissions.Create(ctx, p); err != nil {
				return err
			}
			out = p

			if !p.IsDefaultForModule {
				return nil
			}
			fannedOut, err = fanOutDefault(ctx, repos, p, actorID, now)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	logger.WithContext(ctx, m.log).Info("permission created",
		zap.Int64("company_id", tc.CompanyID),
		zap.String("code", out.Code),
		zap.Int("modules", fannedOut),
	)
	return out, nil
}

// fanOutDefault instantiates p in every module without a live privilege for it.
func fanOutDefault(ctx context.Context, repos repository.TenantRepositories, p *models.Permission, actorID *int64, now time.Time) (int, error) {
	moduleIDs, err := repos.Modules.ListIDs(ctx)
	if err != nil {
		return 0, err
	}
	covered, err := repos.Privileges.ModulesWithLivePermission(ctx, p.ID)
	if err != nil {
		return 0, err
	}
	skip := make(map[int64]struct{}, len(covered))
	for _, id := range covered {
		skip[id] = struct{}{}
	}

	var batch []*models.ModulePrivilege
	for _, moduleID := range moduleIDs {
		if _, ok := skip[moduleID]; ok {
			continue
		}
		batch = append(batch, defaultPrivilege(moduleID, p, actorID, now))
	}
	if err := repos.Privileges.CreateMany(ctx, batch); err != nil {
		return 0, err
	}
	return len(batch), nil
}

func defaultPrivilege(moduleID int64, p *models.Permission, actorID *int64, now time.Time) *models.ModulePrivilege {
	return &models.ModulePrivilege{
		ModuleID:     moduleID,
		PermissionID: p.ID,
		Code:         p.Code,
		Name:         p.Name,
		Description:  p.Description,
		IsDefault:    true,
		CreatedAt:    now,
		CreatedBy:    actorID,
	}
}

// UpdatePermission applies patch to a catalog permission.
func (m *Manager) UpdatePermission(ctx context.Context, tc tenancy.TenantContext, id int64, patch PermissionPatch, actorID *int64) (out *models.Permission, err error) {
	ctx, end := m.tenantSpan(ctx, "catalog.UpdatePermission", tc, attribute.Int64(telemetry.AttrPermissionID, id))
	defer func() { end(err) }()

	err = tenancy.WithStore(ctx, m.stores, tc, func(store *tenancy.Store) error {
		return store.InTx(ctx, func(ctx context.Context, repos repository.TenantRepositories) error {
			p, err := repos.Permissions.GetByID(ctx, id)
			if err != nil {
				return err
			}

			if patch.Code != nil {
				code := models.NormalizeCode(*patch.Code)
				if code == "" {
					return apperr.Conflict("permission code cannot be empty")
				}
				taken, err := repos.Permissions.CodeExists(ctx, code, id)
				if err != nil {
					return err
				}
				if taken {
					return apperr.Conflict("another permission already uses code %q", code)
				}
				p.Code = code
			}
			if patch.Name != nil {
				name := strings.TrimSpace(*patch.Name)
				if name == "" {
					return apperr.Conflict("permission name cannot be empty")
				}
				p.Name = name
			}
			if patch.Description != nil {
				p.Description = strings.TrimSpace(*patch.Description)
			}
			if patch.IsSystem != nil {
				p.IsSystem = *patch.IsSystem
			}
			if patch.IsDefaultForModule != nil {
				p.IsDefaultForModule = *patch.IsDefaultForModule
			}

			now := m.now()
			p.UpdatedAt = &now
			p.UpdatedBy = actorID
			if err := repos.Permissions.Update(ctx, p); err != nil {
				return err
			}
			out = p
			return nil
		})
	})
	return out, err
}

// DeletePermission removes a catalog permission that no privilege, live or
// deleted, references. It reports false when the permission does not exist.
func (m *Manager) DeletePermission(ctx context.Context, tc tenancy.TenantContext, id int64) (deleted bool, err error) {
	ctx, end := m.tenantSpan(ctx, "catalog.DeletePermission", tc, attribute.Int64(telemetry.AttrPermissionID, id))
	defer func() { end(err) }()

	err = tenancy.WithStore(ctx, m.stores, tc, func(store *tenancy.Store) error {
		return store.InTx(ctx, func(ctx context.Context, repos repository.TenantRepositories) error {
			p, err := repos.Permissions.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if p.IsSystem {
				return apperr.Conflict("system permissions cannot be deleted")
			}
			n, err := repos.Privileges.CountByPermission(ctx, id)
			if err != nil {
				return err
			}
			if n > 0 {
				return apperr.Conflict("permission %q is used by %d module privileges", p.Code, n)
			}
			if err := repos.Permissions.Delete(ctx, id); err != nil {
				return err
			}
			deleted = true
			return nil
		})
	})
	return absentIsFalse(deleted, err)
}

// absentIsFalse turns NotFound into a plain false for delete and restore.
func absentIsFalse(ok bool, err error) (bool, error) {
	if apperr.Kind(err) == apperr.ErrNotFound {
		return false, nil
	}
	return ok, err
}
