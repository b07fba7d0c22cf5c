package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xaman1990/SisCoreApi/internal/services/users"
	"github.com/xaman1990/SisCoreApi/internal/tenancy"
)

type userHandlers struct {
	users *users.Service
	log   *zap.Logger
}

type assignRolesRequest struct {
	RoleIDs []int64 `json:"roleIds"`
}

func (h *userHandlers) mount(r chi.Router) {
	r.Get("/", tenantHandler(h.log, h.list))
	r.Post("/", tenantHandler(h.log, h.register))
	r.Get("/{id}", tenantHandler(h.log, h.get))
	r.Put("/{id}", tenantHandler(h.log, h.update))
	r.Delete("/{id}", tenantHandler(h.log, h.deactivate))
	r.Put("/{id}/roles", tenantHandler(h.log, h.assignRoles))
}

func (h *userHandlers) list(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	out, err := h.users.List(r.Context(), tc, queryBool(r, "includeInactive"))
	return http.StatusOK, out, err
}

func (h *userHandlers) get(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	out, err := h.users.Get(r.Context(), tc, id)
	return http.StatusOK, out, err
}

func (h *userHandlers) register(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	var in users.RegisterUserInput
	if err := decodeJSON(r, &in); err != nil {
		return 0, nil, err
	}
	out, err := h.users.Register(r.Context(), tc, in, actorOf(r))
	return http.StatusCreated, out, err
}

func (h *userHandlers) update(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	var patch users.UserPatch
	if err := decodeJSON(r, &patch); err != nil {
		return 0, nil, err
	}
	out, err := h.users.Update(r.Context(), tc, id, patch)
	return http.StatusOK, out, err
}

func (h *userHandlers) deactivate(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	ok, err := h.users.Deactivate(r.Context(), tc, id)
	return deletedOr404(ok, err, "user not found: %d", id)
}

func (h *userHandlers) assignRoles(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	var in assignRolesRequest
	if err := decodeJSON(r, &in); err != nil {
		return 0, nil, err
	}
	out, err := h.users.AssignRoles(r.Context(), tc, id, in.RoleIDs, actorOf(r))
	return http.StatusOK, out, err
}
