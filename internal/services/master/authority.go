// Package master manages cross-tenant identities and the God authority.
//
// A master user is anchored to one user of one tenant and holds per-company
// grants (god, owner, admin, viewer). Only an existing God may create
// another God or hand out company grants, and the god grant itself is only
// set when a God is registered.
package master

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/xaman1990/SisCoreApi/internal/apperr"
	"github.com/xaman1990/SisCoreApi/internal/db/models"
	"github.com/xaman1990/SisCoreApi/internal/logger"
	"github.com/xaman1990/SisCoreApi/internal/repository"
	"github.com/xaman1990/SisCoreApi/internal/telemetry"
	"github.com/xaman1990/SisCoreApi/internal/tenancy"
)

const tracerName = "siscore/services/master"

// RegisterInput promotes a tenant user to a master user.
type RegisterInput struct {
	TenantUserID    int64  `json:"tenantUserId"`
	TenantSubdomain string `json:"tenantSubdomain"`
	IsGod           bool   `json:"isGod"`
}

// AssignInput grants a master user a role in a company.
type AssignInput struct {
	MasterUserID int64  `json:"masterUserId"`
	CompanyID    int64  `json:"companyId"`
	Role         string `json:"role"`
}

// CompanyGrant is one company grant of a master user.
type CompanyGrant struct {
	ID          int64     `json:"id"`
	CompanyID   int64     `json:"companyId"`
	CompanyName string    `json:"companyName"`
	Subdomain   string    `json:"subdomain"`
	Role        string    `json:"role"`
	GrantedAt   time.Time `json:"grantedAt"`
}

// MasterUserView is a master user with its home tenant and company grants.
type MasterUserView struct {
	models.MasterUser
	TenantCompanyName string         `json:"tenantCompanyName"`
	TenantSubdomain   string         `json:"tenantSubdomain"`
	Companies         []CompanyGrant `json:"companies"`
}

// Authority gates cross-tenant operations.
type Authority struct {
	db             *bun.DB
	stores         tenancy.StoreOpener
	defaultOptions string
	log            *zap.Logger
	now            func() time.Time
}

// NewAuthority creates an authority over the master store db. stores opens
// tenant stores when a tenant user must be validated; defaultOptions is
// applied to tenant connection strings without their own options.
func NewAuthority(db *bun.DB, stores tenancy.StoreOpener, defaultOptions string, log *zap.Logger) *Authority {
	return &Authority{
		db:             db,
		stores:         stores,
		defaultOptions: defaultOptions,
		log:            logger.OrNop(log).Named("master"),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func (a *Authority) repos() repository.MasterRepositories {
	return repository.NewMasterRepositories(a.db)
}

func isActiveGod(u *models.MasterUser) bool {
	return u != nil && u.IsGod && u.Status == models.MasterUserActive
}

// requireGod fails with Unauthorized unless actingID is an active God.
func requireGod(ctx context.Context, repos repository.MasterRepositories, actingID *int64, action string) error {
	if actingID == nil {
		return apperr.Unauthorized("only God users can %s", action)
	}
	actor, err := repos.MasterUsers.GetByID(ctx, *actingID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	if !isActiveGod(actor) {
		return apperr.Unauthorized("only God users can %s", action)
	}
	return nil
}

// ========================================
// Registration and grants
// ========================================

// RegisterMasterUser promotes a tenant user. Registering a God requires a
// God actor; a nil actingID is only used by operator bootstrap and skips
// the check. The tenant user is validated through a store handle opened
// for this call only.
func (a *Authority) RegisterMasterUser(ctx context.Context, in RegisterInput, actingID *int64) (*MasterUserView, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "master.RegisterMasterUser",
		attribute.String(telemetry.AttrTenantSubdomain, in.TenantSubdomain),
		attribute.Int64(telemetry.AttrUserID, in.TenantUserID),
		attribute.Bool("is_god", in.IsGod),
	)
	defer span.End()

	view, err := a.register(ctx, in, actingID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int64(telemetry.AttrMasterUserID, view.ID))
	logger.WithContext(ctx, a.log).Info("master user registered",
		zap.Int64("master_user_id", view.ID),
		zap.Int64("company_id", view.TenantCompanyID),
		zap.Bool("is_god", view.IsGod),
	)
	return view, nil
}

func (a *Authority) register(ctx context.Context, in RegisterInput, actingID *int64) (*MasterUserView, error) {
	repos := a.repos()
	if in.IsGod && actingID != nil {
		if err := requireGod(ctx, repos, actingID, "register another God"); err != nil {
			return nil, err
		}
	}

	company, err := repos.Companies.GetBySubdomain(ctx, strings.ToLower(strings.TrimSpace(in.TenantSubdomain)))
	if err != nil {
		return nil, err
	}
	tc, err := tenancy.NewTenantContext(company, a.defaultOptions)
	if err != nil {
		return nil, apperr.TenantUnresolved(err)
	}

	var tenantUser *models.User
	err = tenancy.WithStore(ctx, a.stores, tc, func(store *tenancy.Store) error {
		u, err := store.Repos().Users.GetByID(ctx, in.TenantUserID)
		if err != nil {
			return err
		}
		tenantUser = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !tenantUser.IsActive() {
		return nil, apperr.NotFound("user %d not found in company %q", in.TenantUserID, company.Subdomain)
	}
	if strings.TrimSpace(tenantUser.Email) == "" {
		return nil, apperr.Conflict("user %d has no email", in.TenantUserID)
	}

	now := a.now()
	var created *models.MasterUser
	err = a.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		repos := repository.NewMasterRepositories(tx)
		taken, err := repos.MasterUsers.EmailExists(ctx, tenantUser.Email)
		if err != nil {
			return err
		}
		if taken {
			return apperr.Conflict("a master user with email %q already exists", tenantUser.Email)
		}
		promoted, err := repos.MasterUsers.TenantUserExists(ctx, tenantUser.ID, company.ID)
		if err != nil {
			return err
		}
		if promoted {
			return apperr.Conflict("user %d is already a master user of company %q", tenantUser.ID, company.Subdomain)
		}

		mu := &models.MasterUser{
			Email:           tenantUser.Email,
			FullName:        tenantUser.FullName,
			PhoneNumber:     tenantUser.PhoneNumber,
			GoogleID:        tenantUser.GoogleID,
			TenantUserID:    tenantUser.ID,
			TenantCompanyID: company.ID,
			IsGod:           in.IsGod,
			Status:          models.MasterUserActive,
			CreatedAt:       now,
			CreatedBy:       actingID,
		}
		if err := repos.MasterUsers.Create(ctx, mu); err != nil {
			return err
		}
		role := models.CompanyRoleOwner
		if in.IsGod {
			role = models.CompanyRoleGod
		}
		grant := &models.MasterUserCompany{
			MasterUserID: mu.ID,
			CompanyID:    company.ID,
			Role:         role,
			GrantedAt:    now,
			GrantedBy:    actingID,
		}
		if err := repos.Grants.Create(ctx, grant); err != nil {
			return err
		}
		created = mu
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a.view(ctx, a.repos(), created)
}

// AssignCompany upserts the grant of a master user in a company. The actor
// must be God and the god role cannot be granted this way.
func (a *Authority) AssignCompany(ctx context.Context, in AssignInput, actingID *int64) (*MasterUserView, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "master.AssignCompany",
		attribute.Int64(telemetry.AttrMasterUserID, in.MasterUserID),
		attribute.Int64(telemetry.AttrTenantCompanyID, in.CompanyID),
	)
	defer span.End()

	view, err := a.assign(ctx, in, actingID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return view, nil
}

func (a *Authority) assign(ctx context.Context, in AssignInput, actingID *int64) (*MasterUserView, error) {
	repos := a.repos()
	if err := requireGod(ctx, repos, actingID, "assign companies"); err != nil {
		return nil, err
	}
	role := strings.ToLower(strings.TrimSpace(in.Role))
	switch role {
	case models.CompanyRoleGod:
		return nil, apperr.Unauthorized("the god role can only be set when registering a God")
	case models.CompanyRoleOwner, models.CompanyRoleAdmin, models.CompanyRoleViewer:
	default:
		return nil, apperr.Conflict("unknown company role %q", in.Role)
	}

	mu, err := repos.MasterUsers.GetByID(ctx, in.MasterUserID)
	if err != nil {
		return nil, err
	}
	if _, err := repos.Companies.GetByID(ctx, in.CompanyID); err != nil {
		return nil, err
	}

	now := a.now()
	err = a.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		grants := repository.NewMasterRepositories(tx).Grants
		existing, err := grants.Get(ctx, in.MasterUserID, in.CompanyID)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			return grants.Create(ctx, &models.MasterUserCompany{
				MasterUserID: in.MasterUserID,
				CompanyID:    in.CompanyID,
				Role:         role,
				GrantedAt:    now,
				GrantedBy:    actingID,
			})
		case err != nil:
			return err
		}
		existing.Role = role
		existing.GrantedAt = now
		existing.GrantedBy = actingID
		return grants.Update(ctx, existing)
	})
	if err != nil {
		return nil, err
	}

	logger.WithContext(ctx, a.log).Info("company assigned",
		zap.Int64("master_user_id", in.MasterUserID),
		zap.Int64("company_id", in.CompanyID),
		zap.String("role", role),
	)
	return a.view(ctx, repos, mu)
}

// RevokeCompany removes a company grant and reports whether one existed.
func (a *Authority) RevokeCompany(ctx context.Context, masterUserID, companyID int64) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "master.RevokeCompany",
		attribute.Int64(telemetry.AttrMasterUserID, masterUserID),
		attribute.Int64(telemetry.AttrTenantCompanyID, companyID),
	)
	defer span.End()

	removed, err := a.repos().Grants.Delete(ctx, masterUserID, companyID)
	if err != nil {
		telemetry.RecordError(span, err)
		return false, err
	}
	return removed, nil
}

// ========================================
// Queries
// ========================================

// IsGodByEmail reports whether email belongs to an active God. Lookup
// failures are logged and count as not God.
func (a *Authority) IsGodByEmail(ctx context.Context, email string) bool {
	email = strings.TrimSpace(email)
	if email == "" {
		return false
	}
	mu, err := a.repos().MasterUsers.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			logger.WithContext(ctx, a.log).Warn("god lookup failed", zap.Error(err))
		}
		return false
	}
	return isActiveGod(mu)
}

// IsGod reports whether the tenant user of companyID is an active God.
func (a *Authority) IsGod(ctx context.Context, tenantUserID, companyID int64) (bool, error) {
	mu, err := a.repos().MasterUsers.GetByTenantUser(ctx, tenantUserID, companyID)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return isActiveGod(mu), nil
}

// Get returns a master user by id.
func (a *Authority) Get(ctx context.Context, id int64) (*MasterUserView, error) {
	repos := a.repos()
	mu, err := repos.MasterUsers.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.view(ctx, repos, mu)
}

// GetByEmail returns a master user by email.
func (a *Authority) GetByEmail(ctx context.Context, email string) (*MasterUserView, error) {
	repos := a.repos()
	mu, err := repos.MasterUsers.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	return a.view(ctx, repos, mu)
}

// GetByTenantUser returns the master user anchored to a tenant user.
func (a *Authority) GetByTenantUser(ctx context.Context, tenantUserID, companyID int64) (*MasterUserView, error) {
	repos := a.repos()
	mu, err := repos.MasterUsers.GetByTenantUser(ctx, tenantUserID, companyID)
	if err != nil {
		return nil, err
	}
	return a.view(ctx, repos, mu)
}

// List returns active master users, optionally filtered by the God flag.
func (a *Authority) List(ctx context.Context, isGod *bool) ([]MasterUserView, error) {
	repos := a.repos()
	users, err := repos.MasterUsers.ListActive(ctx, isGod)
	if err != nil {
		return nil, err
	}
	out := make([]MasterUserView, 0, len(users))
	for i := range users {
		v, err := a.view(ctx, repos, &users[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

func (a *Authority) view(ctx context.Context, repos repository.MasterRepositories, mu *models.MasterUser) (*MasterUserView, error) {
	companies := make(map[int64]*models.Company)
	company := func(id int64) (*models.Company, error) {
		if c, ok := companies[id]; ok {
			return c, nil
		}
		c, err := repos.Companies.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		companies[id] = c
		return c, nil
	}

	home, err := company(mu.TenantCompanyID)
	if err != nil {
		return nil, err
	}
	grants, err := repos.Grants.ListByMasterUser(ctx, mu.ID)
	if err != nil {
		return nil, err
	}
	out := &MasterUserView{
		MasterUser:        *mu,
		TenantCompanyName: home.Name,
		TenantSubdomain:   home.Subdomain,
		Companies:         make([]CompanyGrant, 0, len(grants)),
	}
	for _, g := range grants {
		c, err := company(g.CompanyID)
		if err != nil {
			return nil, err
		}
		out.Companies = append(out.Companies, CompanyGrant{
			ID:          g.ID,
			CompanyID:   g.CompanyID,
			CompanyName: c.Name,
			Subdomain:   c.Subdomain,
			Role:        g.Role,
			GrantedAt:   g.GrantedAt,
		})
	}
	return out, nil
}
