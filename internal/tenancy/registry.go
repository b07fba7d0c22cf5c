package tenancy

import (
	"context"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/xaman1990/SisCoreApi/internal/apperr"
	"github.com/xaman1990/SisCoreApi/internal/db/models"
	"github.com/xaman1990/SisCoreApi/internal/logger"
	"github.com/xaman1990/SisCoreApi/internal/repository"
)

// CompanyUpdate is a partial update of a company's descriptive fields.
type CompanyUpdate struct {
	Name         *string
	BrandingJSON *string
	SettingsJSON *string
}

// ConnectionUpdate rotates where a company's tenant store lives.
type ConnectionUpdate struct {
	Driver   *string
	Host     *string
	Port     *int // zero clears the port
	Name     *string
	User     *string
	Password *string
	Options  *string
}

// Registry is the master-store view of tenants.
type Registry struct {
	db             *bun.DB
	companies      repository.CompanyRepository
	defaultOptions string
	log            *zap.Logger
}

// NewRegistry creates a registry over the master store. defaultOptions is
// used to validate connection descriptors on write.
func NewRegistry(db *bun.DB, defaultOptions string, log *zap.Logger) *Registry {
	return &Registry{
		db:             db,
		companies:      repository.NewBunCompanyRepository(db),
		defaultOptions: defaultOptions,
		log:            logger.OrNop(log).Named("tenancy.registry"),
	}
}

// ActiveBySubdomain finds an active company by subdomain, case-insensitively.
func (r *Registry) ActiveBySubdomain(ctx context.Context, label string) (*models.Company, error) {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" {
		return nil, apperr.NotFound("empty subdomain")
	}
	return r.companies.GetActiveBySubdomain(ctx, label)
}

// Get retrieves a company by id.
func (r *Registry) Get(ctx context.Context, id int64) (*models.Company, error) {
	return r.companies.GetByID(ctx, id)
}

// GetBySubdomain retrieves a company by subdomain regardless of status.
func (r *Registry) GetBySubdomain(ctx context.Context, label string) (*models.Company, error) {
	return r.companies.GetBySubdomain(ctx, strings.TrimSpace(label))
}

// List returns companies ordered by name.
func (r *Registry) List(ctx context.Context, includeInactive bool) ([]models.Company, error) {
	return r.companies.List(ctx, includeInactive)
}

// Create registers a new active company.
func (r *Registry) Create(ctx context.Context, company *models.Company) error {
	company.Name = strings.TrimSpace(company.Name)
	company.Subdomain = strings.ToLower(strings.TrimSpace(company.Subdomain))
	if company.Name == "" || company.Subdomain == "" {
		return apperr.Conflict("company name and subdomain are required")
	}
	if company.DbDriver == "" {
		company.DbDriver = models.DriverPostgres
	}
	if _, err := BuildConnectionString(company, r.defaultOptions); err != nil {
		return apperr.Conflict("%s", err.Error())
	}

	exists, err := r.companies.SubdomainExists(ctx, company.Subdomain, 0)
	if err != nil {
		return err
	}
	if exists {
		return apperr.Conflict("subdomain %q is already registered", company.Subdomain)
	}

	company.Status = models.CompanyActive
	company.CreatedAt = time.Now().UTC()
	if err := r.companies.Create(ctx, company); err != nil {
		return err
	}
	r.log.Info("company registered",
		zap.Int64("company_id", company.ID),
		zap.String("subdomain", company.Subdomain),
		zap.String("driver", company.DbDriver),
	)
	return nil
}

// Update applies a partial update of descriptive fields.
func (r *Registry) Update(ctx context.Context, id int64, in CompanyUpdate) (*models.Company, error) {
	company, err := r.companies.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, apperr.Conflict("company name is required")
		}
		company.Name = name
	}
	if in.BrandingJSON != nil {
		company.BrandingJSON = *in.BrandingJSON
	}
	if in.SettingsJSON != nil {
		company.SettingsJSON = *in.SettingsJSON
	}
	now := time.Now().UTC()
	company.UpdatedAt = &now
	if err := r.companies.Update(ctx, company, "name", "branding_json", "settings_json", "updated_at"); err != nil {
		return nil, err
	}
	return company, nil
}

// UpdateConnection rotates the connection descriptor of a company. The new
// descriptor must build a valid connection string.
func (r *Registry) UpdateConnection(ctx context.Context, id int64, in ConnectionUpdate) (*models.Company, error) {
	company, err := r.companies.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Driver != nil {
		company.DbDriver = strings.ToLower(strings.TrimSpace(*in.Driver))
	}
	if in.Host != nil {
		company.DbHost = strings.TrimSpace(*in.Host)
	}
	if in.Port != nil {
		if *in.Port > 0 {
			port := *in.Port
			company.DbPort = &port
		} else {
			company.DbPort = nil
		}
	}
	if in.Name != nil {
		company.DbName = strings.TrimSpace(*in.Name)
	}
	if in.User != nil {
		company.DbUser = *in.User
	}
	if in.Password != nil {
		company.DbPassword = *in.Password
	}
	if in.Options != nil {
		company.ConnectionOptions = *in.Options
	}
	if _, err := BuildConnectionString(company, r.defaultOptions); err != nil {
		return nil, apperr.Conflict("%s", err.Error())
	}

	now := time.Now().UTC()
	company.UpdatedAt = &now
	err = r.companies.Update(ctx, company,
		"db_driver", "db_host", "db_port", "db_name", "db_user", "db_password",
		"connection_options", "updated_at")
	if err != nil {
		return nil, err
	}
	r.log.Info("company connection rotated",
		zap.Int64("company_id", company.ID),
		zap.String("driver", company.DbDriver),
	)
	return company, nil
}

// Deactivate stops a company from resolving. Its store is left untouched.
func (r *Registry) Deactivate(ctx context.Context, id int64) error {
	company, err := r.companies.GetByID(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	company.Status = models.CompanyInactive
	company.UpdatedAt = &now
	if err := r.companies.Update(ctx, company, "status", "updated_at"); err != nil {
		return err
	}
	r.log.Info("company deactivated", zap.Int64("company_id", id))
	return nil
}
