// Package roles manages the roles of a tenant. Roles are never purged;
// deleting one sets its status to inactive.
package roles

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/xaman1990/SisCoreApi/internal/apperr"
	"github.com/xaman1990/SisCoreApi/internal/db/models"
	"github.com/xaman1990/SisCoreApi/internal/logger"
	"github.com/xaman1990/SisCoreApi/internal/repository"
	"github.com/xaman1990/SisCoreApi/internal/telemetry"
	"github.com/xaman1990/SisCoreApi/internal/tenancy"
)

const tracerName = "siscore/services/roles"

// GodRoleName is the role only God master users may see.
const GodRoleName = "God"

// GodChecker tells whether an email belongs to an active God master user.
type GodChecker interface {
	IsGodByEmail(ctx context.Context, email string) bool
}

// RoleInput describes a new role.
type RoleInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// RolePatch changes the non-nil fields of a role.
type RolePatch struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

// Service runs role operations against tenant stores.
type Service struct {
	stores tenancy.StoreOpener
	gods   GodChecker
	log    *zap.Logger
}

// NewService creates a role service. log may be nil.
func NewService(stores tenancy.StoreOpener, gods GodChecker, log *zap.Logger) *Service {
	return &Service{
		stores: stores,
		gods:   gods,
		log:    logger.OrNop(log).Named("roles"),
	}
}

func span(ctx context.Context, name string, tc tenancy.TenantContext, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	attrs = append(attrs, attribute.Int64(telemetry.AttrTenantCompanyID, tc.CompanyID))
	ctx, s := telemetry.StartSpan(ctx, tracerName, name, attrs...)
	return ctx, func(err error) {
		if err != nil {
			telemetry.RecordError(s, err)
		}
		s.End()
	}
}

// List returns the active roles ordered by name. The God role is left out
// unless callerEmail belongs to a God.
func (s *Service) List(ctx context.Context, tc tenancy.TenantContext, callerEmail string) (out []models.Role, err error) {
	ctx, end := span(ctx, "roles.List", tc)
	defer func() { end(err) }()

	var roles []models.Role
	err = tenancy.WithStore(ctx, s.stores, tc, func(store *tenancy.Store) error {
		var err error
		roles, err = store.Repos().Roles.ListActive(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	if s.gods != nil && s.gods.IsGodByEmail(ctx, callerEmail) {
		return roles, nil
	}
	out = roles[:0]
	for _, r := range roles {
		if !strings.EqualFold(r.Name, GodRoleName) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Get returns a role by id, inactive or not.
func (s *Service) Get(ctx context.Context, tc tenancy.TenantContext, id int64) (out *models.Role, err error) {
	ctx, end := span(ctx, "roles.Get", tc, attribute.Int64(telemetry.AttrRoleID, id))
	defer func() { end(err) }()

	err = tenancy.WithStore(ctx, s.stores, tc, func(store *tenancy.Store) error {
		var err error
		out, err = store.Repos().Roles.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Create adds an active, non-system role.
func (s *Service) Create(ctx context.Context, tc tenancy.TenantContext, in RoleInput) (out *models.Role, err error) {
	ctx, end := span(ctx, "roles.Create", tc)
	defer func() { end(err) }()

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.Conflict("role name is required")
	}
	err = tenancy.WithStore(ctx, s.stores, tc, func(store *tenancy.Store) error {
		return store.InTx(ctx, func(ctx context.Context, repos repository.TenantRepositories) error {
			taken, err := repos.Roles.NameExists(ctx, name, 0)
			if err != nil {
				return err
			}
			if taken {
				return apperr.Conflict("role name %q already exists", name)
			}
			out = &models.Role{
				Name:        name,
				Description: strings.TrimSpace(in.Description),
				Status:      models.StatusActive,
			}
			return repos.Roles.Create(ctx, out)
		})
	})
	if err != nil {
		return nil, err
	}
	logger.WithContext(ctx, s.log).Info("role created",
		zap.Int64("company_id", tc.CompanyID),
		zap.Int64("role_id", out.ID),
		zap.String("name", out.Name),
	)
	return out, nil
}

// Update renames or redescribes a non-system role.
func (s *Service) Update(ctx context.Context, tc tenancy.TenantContext, id int64, patch RolePatch) (out *models.Role, err error) {
	ctx, end := span(ctx, "roles.Update", tc, attribute.Int64(telemetry.AttrRoleID, id))
	defer func() { end(err) }()

	err = tenancy.WithStore(ctx, s.stores, tc, func(store *tenancy.Store) error {
		return store.InTx(ctx, func(ctx context.Context, repos repository.TenantRepositories) error {
			role, err := repos.Roles.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if role.IsSystem {
				return apperr.Conflict("system role %q cannot be modified", role.Name)
			}
			if patch.Name != nil {
				name := strings.TrimSpace(*patch.Name)
				if name != "" && name != role.Name {
					taken, err := repos.Roles.NameExists(ctx, name, id)
					if err != nil {
						return err
					}
					if taken {
						return apperr.Conflict("role name %q already exists", name)
					}
					role.Name = name
				}
			}
			if patch.Description != nil {
				role.Description = strings.TrimSpace(*patch.Description)
			}
			if err := repos.Roles.Update(ctx, role, "name", "description"); err != nil {
				return err
			}
			out = role
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete deactivates a non-system role. It reports false when the role does
// not exist.
func (s *Service) Delete(ctx context.Context, tc tenancy.TenantContext, id int64) (deleted bool, err error) {
	ctx, end := span(ctx, "roles.Delete", tc, attribute.Int64(telemetry.AttrRoleID, id))
	defer func() { end(err) }()

	err = tenancy.WithStore(ctx, s.stores, tc, func(store *tenancy.Store) error {
		return store.InTx(ctx, func(ctx context.Context, repos repository.TenantRepositories) error {
			role, err := repos.Roles.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if role.IsSystem {
				return apperr.Conflict("system role %q cannot be deleted", role.Name)
			}
			role.Status = models.StatusInactive
			return repos.Roles.Update(ctx, role, "status")
		})
	})
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	logger.WithContext(ctx, s.log).Info("role deactivated",
		zap.Int64("company_id", tc.CompanyID),
		zap.Int64("role_id", id),
	)
	return true, nil
}
