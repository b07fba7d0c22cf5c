package repository

import (
	"context"
	"strings"

	"github.com/uptrace/bun"
	"github.com/xaman1990/SisCoreApi/internal/apperr"
	"github.com/xaman1990/SisCoreApi/internal/db/models"
)

// ========================================
// MasterUser Repository
// ========================================

// BunMasterUserRepository implements MasterUserRepository using Bun ORM
type BunMasterUserRepository struct {
	db bun.IDB
}

// NewBunMasterUserRepository creates a new Bun-based master user repository
func NewBunMasterUserRepository(db bun.IDB) MasterUserRepository {
	return &BunMasterUserRepository{db: db}
}

// Create inserts a new master user
func (r *BunMasterUserRepository) Create(ctx context.Context, user *models.MasterUser) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	_, err := r.db.NewInsert().
		Model(user).
		Exec(ctx)
	if err != nil {
		return apperr.FromStore("create master user", err)
	}
	return nil
}

// GetByID retrieves a master user by ID
func (r *BunMasterUserRepository) GetByID(ctx context.Context, id int64) (*models.MasterUser, error) {
	user := new(models.MasterUser)
	err := r.db.NewSelect().
		Model(user).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, lookupErr(err, "get master user", "master user not found: %d", id)
	}
	return user, nil
}

// GetByEmail retrieves a master user by email (case-insensitive)
func (r *BunMasterUserRepository) GetByEmail(ctx context.Context, email string) (*models.MasterUser, error) {
	user := new(models.MasterUser)
	err := r.db.NewSelect().
		Model(user).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		Scan(ctx)
	if err != nil {
		return nil, lookupErr(err, "get master user by email", "master user not found: %s", email)
	}
	return user, nil
}

// GetByTenantUser retrieves the master user anchored to a tenant user
func (r *BunMasterUserRepository) GetByTenantUser(ctx context.Context, tenantUserID, companyID int64) (*models.MasterUser, error) {
	user := new(models.MasterUser)
	err := r.db.NewSelect().
		Model(user).
		Where("tenant_user_id = ?", tenantUserID).
		Where("tenant_company_id = ?", companyID).
		Scan(ctx)
	if err != nil {
		return nil, lookupErr(err, "get master user by tenant user",
			"master user not found for tenant user %d in company %d", tenantUserID, companyID)
	}
	return user, nil
}

// EmailExists checks whether a master user already uses email
func (r *BunMasterUserRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	exists, err := r.db.NewSelect().
		Model((*models.MasterUser)(nil)).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		Exists(ctx)
	if err != nil {
		return false, apperr.FromStore("check master user email", err)
	}
	return exists, nil
}

// TenantUserExists checks whether a tenant user is already promoted
func (r *BunMasterUserRepository) TenantUserExists(ctx context.Context, tenantUserID, companyID int64) (bool, error) {
	exists, err := r.db.NewSelect().
		Model((*models.MasterUser)(nil)).
		Where("tenant_user_id = ?", tenantUserID).
		Where("tenant_company_id = ?", companyID).
		Exists(ctx)
	if err != nil {
		return false, apperr.FromStore("check master user tenant user", err)
	}
	return exists, nil
}

// ListActive retrieves active master users ordered by email
func (r *BunMasterUserRepository) ListActive(ctx context.Context, isGod *bool) ([]models.MasterUser, error) {
	var users []models.MasterUser
	q := r.db.NewSelect().
		Model(&users).
		Where("status = ?", models.MasterUserActive).
		Order("email ASC")
	if isGod != nil {
		q = q.Where("is_god = ?", *isGod)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, apperr.FromStore("list master users", err)
	}
	return users, nil
}

// ========================================
// MasterUserCompany Repository
// ========================================

// BunMasterUserCompanyRepository implements MasterUserCompanyRepository using Bun ORM
type BunMasterUserCompanyRepository struct {
	db bun.IDB
}

// NewBunMasterUserCompanyRepository creates a new Bun-based grant repository
func NewBunMasterUserCompanyRepository(db bun.IDB) MasterUserCompanyRepository {
	return &BunMasterUserCompanyRepository{db: db}
}

// Get retrieves the grant of a master user in a company
func (r *BunMasterUserCompanyRepository) Get(ctx context.Context, masterUserID, companyID int64) (*models.MasterUserCompany, error) {
	grant := new(models.MasterUserCompany)
	err := r.db.NewSelect().
		Model(grant).
		Where("master_user_id = ?", masterUserID).
		Where("company_id = ?", companyID).
		Scan(ctx)
	if err != nil {
		return nil, lookupErr(err, "get company grant",
			"company grant not found: master user %d, company %d", masterUserID, companyID)
	}
	return grant, nil
}

// Create inserts a new grant
func (r *BunMasterUserCompanyRepository) Create(ctx context.Context, grant *models.MasterUserCompany) error {
	_, err := r.db.NewInsert().
		Model(grant).
		Exec(ctx)
	if err != nil {
		return apperr.FromStore("create company grant", err)
	}
	return nil
}

// Update rewrites role and grant provenance
func (r *BunMasterUserCompanyRepository) Update(ctx context.Context, grant *models.MasterUserCompany) error {
	res, err := r.db.NewUpdate().
		Model(grant).
		Column("role", "granted_at", "granted_by").
		WherePK().
		Exec(ctx)
	if err != nil {
		return apperr.FromStore("update company grant", err)
	}
	return requireAffected(res, "company grant not found: %d", grant.ID)
}

// Delete removes a grant
func (r *BunMasterUserCompanyRepository) Delete(ctx context.Context, masterUserID, companyID int64) (bool, error) {
	res, err := r.db.NewDelete().
		Model((*models.MasterUserCompany)(nil)).
		Where("master_user_id = ?", masterUserID).
		Where("company_id = ?", companyID).
		Exec(ctx)
	if err != nil {
		return false, apperr.FromStore("delete company grant", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.FromStore("get rows affected", err)
	}
	return n > 0, nil
}

// ListByMasterUser retrieves every grant of a master user
func (r *BunMasterUserCompanyRepository) ListByMasterUser(ctx context.Context, masterUserID int64) ([]models.MasterUserCompany, error) {
	var grants []models.MasterUserCompany
	err := r.db.NewSelect().
		Model(&grants).
		Where("master_user_id = ?", masterUserID).
		Order("company_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, apperr.FromStore("list company grants", err)
	}
	return grants, nil
}
