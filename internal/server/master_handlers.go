package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xaman1990/SisCoreApi/internal/apperr"
	"github.com/xaman1990/SisCoreApi/internal/auth"
	"github.com/xaman1990/SisCoreApi/internal/db/models"
	"github.com/xaman1990/SisCoreApi/internal/services/master"
	"github.com/xaman1990/SisCoreApi/internal/tenancy"
)

// masterHandlers serve the cross-tenant surface. The caller is the tenant
// user of the resolved tenant; its master user, if any, is the acting
// identity. Company mutations require an active God.
type masterHandlers struct {
	authority *master.Authority
	registry  *tenancy.Registry
	log       *zap.Logger
}

type companyRequest struct {
	Name              string `json:"name"`
	Subdomain         string `json:"subdomain"`
	DbDriver          string `json:"dbDriver"`
	DbHost            string `json:"dbHost"`
	DbPort            *int   `json:"dbPort"`
	DbName            string `json:"dbName"`
	DbUser            string `json:"dbUser"`
	DbPassword        string `json:"dbPassword"`
	ConnectionOptions string `json:"connectionOptions"`
	BrandingJSON      string `json:"brandingJson"`
	SettingsJSON      string `json:"settingsJson"`
}

type companyPatch struct {
	Name         *string `json:"name"`
	BrandingJSON *string `json:"brandingJson"`
	SettingsJSON *string `json:"settingsJson"`
}

type connectionPatch struct {
	DbDriver          *string `json:"dbDriver"`
	DbHost            *string `json:"dbHost"`
	DbPort            *int    `json:"dbPort"`
	DbName            *string `json:"dbName"`
	DbUser            *string `json:"dbUser"`
	DbPassword        *string `json:"dbPassword"`
	ConnectionOptions *string `json:"connectionOptions"`
}

func (h *masterHandlers) mount(r chi.Router) {
	r.Route("/companies", func(r chi.Router) {
		r.Get("/", tenantHandler(h.log, h.listCompanies))
		r.Get("/{id}", tenantHandler(h.log, h.getCompany))
		r.Post("/", tenantHandler(h.log, h.godOnly(h.createCompany)))
		r.Put("/{id}", tenantHandler(h.log, h.godOnly(h.updateCompany)))
		r.Put("/{id}/connection", tenantHandler(h.log, h.godOnly(h.updateConnection)))
		r.Delete("/{id}", tenantHandler(h.log, h.godOnly(h.deactivateCompany)))
	})
	r.Route("/users", func(r chi.Router) {
		r.Get("/", tenantHandler(h.log, h.listUsers))
		r.Get("/check-god", tenantHandler(h.log, h.checkGod))
		r.Post("/register", tenantHandler(h.log, h.register))
		r.Post("/assign-company", tenantHandler(h.log, h.assignCompany))
		r.Get("/{id}", tenantHandler(h.log, h.getUser))
		r.Delete("/{masterUserId}/companies/{companyId}", tenantHandler(h.log, h.godOnly(h.revokeCompany)))
	})
}

// actingMasterID maps the caller to its master user id, or nil when the
// caller has none.
func (h *masterHandlers) actingMasterID(ctx context.Context, tc tenancy.TenantContext) (*int64, error) {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return nil, nil
	}
	mu, err := h.authority.GetByTenantUser(ctx, p.UserID, tc.CompanyID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	id := mu.ID
	return &id, nil
}

func (h *masterHandlers) godOnly(next tenantFunc) tenantFunc {
	return func(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
		p, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			return 0, nil, apperr.InvalidCredentials()
		}
		god, err := h.authority.IsGod(r.Context(), p.UserID, tc.CompanyID)
		if err != nil {
			return 0, nil, err
		}
		if !god {
			return 0, nil, apperr.Unauthorized("only God master users may do this")
		}
		return next(r, tc)
	}
}

// ========================================
// Companies
// ========================================

func (h *masterHandlers) listCompanies(r *http.Request, _ tenancy.TenantContext) (int, any, error) {
	out, err := h.registry.List(r.Context(), queryBool(r, "includeInactive"))
	return http.StatusOK, out, err
}

func (h *masterHandlers) getCompany(r *http.Request, _ tenancy.TenantContext) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	out, err := h.registry.Get(r.Context(), id)
	return http.StatusOK, out, err
}

func (h *masterHandlers) createCompany(r *http.Request, _ tenancy.TenantContext) (int, any, error) {
	var in companyRequest
	if err := decodeJSON(r, &in); err != nil {
		return 0, nil, err
	}
	company := &models.Company{
		Name:              in.Name,
		Subdomain:         in.Subdomain,
		DbDriver:          in.DbDriver,
		DbHost:            in.DbHost,
		DbPort:            in.DbPort,
		DbName:            in.DbName,
		DbUser:            in.DbUser,
		DbPassword:        in.DbPassword,
		ConnectionOptions: in.ConnectionOptions,
		BrandingJSON:      in.BrandingJSON,
		SettingsJSON:      in.SettingsJSON,
	}
	if err := h.registry.Create(r.Context(), company); err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, company, nil
}

func (h *masterHandlers) updateCompany(r *http.Request, _ tenancy.TenantContext) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	var in companyPatch
	if err := decodeJSON(r, &in); err != nil {
		return 0, nil, err
	}
	out, err := h.registry.Update(r.Context(), id, tenancy.CompanyUpdate{
		Name:         in.Name,
		BrandingJSON: in.BrandingJSON,
		SettingsJSON: in.SettingsJSON,
	})
	return http.StatusOK, out, err
}

func (h *masterHandlers) updateConnection(r *http.Request, _ tenancy.TenantContext) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	var in connectionPatch
	if err := decodeJSON(r, &in); err != nil {
		return 0, nil, err
	}
	out, err := h.registry.UpdateConnection(r.Context(), id, tenancy.ConnectionUpdate{
		Driver:   in.DbDriver,
		Host:     in.DbHost,
		Port:     in.DbPort,
		Name:     in.DbName,
		User:     in.DbUser,
		Password: in.DbPassword,
		Options:  in.ConnectionOptions,
	})
	return http.StatusOK, out, err
}

func (h *masterHandlers) deactivateCompany(r *http.Request, _ tenancy.TenantContext) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	if err := h.registry.Deactivate(r.Context(), id); err != nil {
		return 0, nil, err
	}
	return http.StatusNoContent, nil, nil
}

// ========================================
// Master users
// ========================================

func (h *masterHandlers) listUsers(r *http.Request, _ tenancy.TenantContext) (int, any, error) {
	var isGod *bool
	if raw := r.URL.Query().Get("isGod"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return 0, nil, badRequest("invalid isGod %q", raw)
		}
		isGod = &v
	}
	out, err := h.authority.List(r.Context(), isGod)
	return http.StatusOK, out, err
}

func (h *masterHandlers) getUser(r *http.Request, _ tenancy.TenantContext) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	out, err := h.authority.Get(r.Context(), id)
	return http.StatusOK, out, err
}

func (h *masterHandlers) checkGod(r *http.Request, _ tenancy.TenantContext) (int, any, error) {
	p, _ := auth.PrincipalFromContext(r.Context())
	return http.StatusOK, map[string]bool{"isGod": h.authority.IsGodByEmail(r.Context(), p.Email)}, nil
}

func (h *masterHandlers) register(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	var in master.RegisterInput
	if err := decodeJSON(r, &in); err != nil {
		return 0, nil, err
	}
	acting, err := h.actingMasterID(r.Context(), tc)
	if err != nil {
		return 0, nil, err
	}
	if in.IsGod && acting == nil {
		return 0, nil, apperr.Unauthorized("only God master users may register a God")
	}
	out, err := h.authority.RegisterMasterUser(r.Context(), in, acting)
	return http.StatusCreated, out, err
}

func (h *masterHandlers) assignCompany(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	var in master.AssignInput
	if err := decodeJSON(r, &in); err != nil {
		return 0, nil, err
	}
	acting, err := h.actingMasterID(r.Context(), tc)
	if err != nil {
		return 0, nil, err
	}
	out, err := h.authority.AssignCompany(r.Context(), in, acting)
	return http.StatusOK, out, err
}

func (h *masterHandlers) revokeCompany(r *http.Request, _ tenancy.TenantContext) (int, any, error) {
	masterUserID, err := pathID(r, "masterUserId")
	if err != nil {
		return 0, nil, err
	}
	companyID, err := pathID(r, "companyId")
	if err != nil {
		return 0, nil, err
	}
	ok, err := h.authority.RevokeCompany(r.Context(), masterUserID, companyID)
	return deletedOr404(ok, err, "company grant not found: master user %d, company %d", masterUserID, companyID)
}
