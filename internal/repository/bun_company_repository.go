package repository

import (
	"context"
	"strings"

	"github.com/uptrace/bun"
	"github.com/xaman1990/SisCoreApi/internal/apperr"
	"github.com/xaman1990/SisCoreApi/internal/db/models"
)

// BunCompanyRepository implements CompanyRepository using Bun ORM
type BunCompanyRepository struct {
	db bun.IDB
}

// NewBunCompanyRepository creates a new Bun-based company repository
func NewBunCompanyRepository(db bun.IDB) CompanyRepository {
	return &BunCompanyRepository{db: db}
}

// Create inserts a new company
func (r *BunCompanyRepository) Create(ctx context.Context, company *models.Company) error {
	company.Subdomain = strings.ToLower(strings.TrimSpace(company.Subdomain))
	_, err := r.db.NewInsert().
		Model(company).
		Exec(ctx)
	if err != nil {
		return apperr.FromStore("create company", err)
	}
	return nil
}

// GetByID retrieves a company by ID
func (r *BunCompanyRepository) GetByID(ctx context.Context, id int64) (*models.Company, error) {
	company := new(models.Company)
	err := r.db.NewSelect().
		Model(company).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, lookupErr(err, "get company", "company not found: %d", id)
	}
	return company, nil
}

// GetBySubdomain retrieves a company by subdomain, active or not
func (r *BunCompanyRepository) GetBySubdomain(ctx context.Context, subdomain string) (*models.Company, error) {
	company := new(models.Company)
	err := r.db.NewSelect().
		Model(company).
		Where("lower(subdomain) = ?", strings.ToLower(subdomain)).
		Scan(ctx)
	if err != nil {
		return nil, lookupErr(err, "get company by subdomain", "company not found: %s", subdomain)
	}
	return company, nil
}

// GetActiveBySubdomain retrieves an active company by subdomain
func (r *BunCompanyRepository) GetActiveBySubdomain(ctx context.Context, subdomain string) (*models.Company, error) {
	company := new(models.Company)
	err := r.db.NewSelect().
		Model(company).
		Where("lower(subdomain) = ?", strings.ToLower(subdomain)).
		Where("status = ?", models.CompanyActive).
		Scan(ctx)
	if err != nil {
		return nil, lookupErr(err, "resolve company", "active company not found: %s", subdomain)
	}
	return company, nil
}

// SubdomainExists checks whether another company already uses subdomain
func (r *BunCompanyRepository) SubdomainExists(ctx context.Context, subdomain string, excludeID int64) (bool, error) {
	q := r.db.NewSelect().
		Model((*models.Company)(nil)).
		Where("lower(subdomain) = ?", strings.ToLower(subdomain))
	if excludeID > 0 {
		q = q.Where("id <> ?", excludeID)
	}
	exists, err := q.Exists(ctx)
	if err != nil {
		return false, apperr.FromStore("check company subdomain", err)
	}
	return exists, nil
}

// List retrieves companies ordered by name
func (r *BunCompanyRepository) List(ctx context.Context, includeInactive bool) ([]models.Company, error) {
	var companies []models.Company
	q := r.db.NewSelect().
		Model(&companies).
		Order("name ASC", "id ASC")
	if !includeInactive {
		q = q.Where("status = ?", models.CompanyActive)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, apperr.FromStore("list companies", err)
	}
	return companies, nil
}

// Update writes the given columns (all columns when none are given)
func (r *BunCompanyRepository) Update(ctx context.Context, company *models.Company, columns ...string) error {
	q := r.db.NewUpdate().
		Model(company).
		WherePK()
	if len(columns) > 0 {
		q = q.Column(columns...)
	} else {
		q = q.ExcludeColumn("id", "created_at")
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return apperr.FromStore("update company", err)
	}
	return requireAffected(res, "company not found: %d", company.ID)
}
