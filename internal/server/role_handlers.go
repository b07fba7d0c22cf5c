package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xaman1990/SisCoreApi/internal/auth"
	"github.com/xaman1990/SisCoreApi/internal/services/roles"
	"github.com/xaman1990/SisCoreApi/internal/tenancy"
)

type roleHandlers struct {
	roles *roles.Service
	log   *zap.Logger
}

func (h *roleHandlers) mount(r chi.Router) {
	r.Get("/", tenantHandler(h.log, h.list))
	r.Post("/", tenantHandler(h.log, h.create))
	r.Get("/{id}", tenantHandler(h.log, h.get))
	r.Put("/{id}", tenantHandler(h.log, h.update))
	r.Delete("/{id}", tenantHandler(h.log, h.delete))
}

func (h *roleHandlers) list(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	p, _ := auth.PrincipalFromContext(r.Context())
	out, err := h.roles.List(r.Context(), tc, p.Email)
	return http.StatusOK, out, err
}

func (h *roleHandlers) get(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	out, err := h.roles.Get(r.Context(), tc, id)
	return http.StatusOK, out, err
}

func (h *roleHandlers) create(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	var in roles.RoleInput
	if err := decodeJSON(r, &in); err != nil {
		return 0, nil, err
	}
	out, err := h.roles.Create(r.Context(), tc, in)
	return http.StatusCreated, out, err
}

func (h *roleHandlers) update(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	var patch roles.RolePatch
	if err := decodeJSON(r, &patch); err != nil {
		return 0, nil, err
	}
	out, err := h.roles.Update(r.Context(), tc, id, patch)
	return http.StatusOK, out, err
}

func (h *roleHandlers) delete(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	ok, err := h.roles.Delete(r.Context(), tc, id)
	return deletedOr404(ok, err, "role not found: %d", id)
}
