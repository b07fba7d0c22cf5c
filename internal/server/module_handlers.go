package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xaman1990/SisCoreApi/internal/services/catalog"
	"github.com/xaman1990/SisCoreApi/internal/services/permissions"
	"github.com/xaman1990/SisCoreApi/internal/tenancy"
)

type moduleHandlers struct {
	catalog *catalog.Manager
	engine  *permissions.Engine // optional, serves /{id}/permissions
	log     *zap.Logger
}

func (h *moduleHandlers) mount(r chi.Router) {
	r.Get("/", tenantHandler(h.log, h.list))
	r.Post("/", tenantHandler(h.log, h.create))
	r.Post("/generate", tenantHandler(h.log, h.generate))
	r.Get("/{id}", tenantHandler(h.log, h.get))
	r.Put("/{id}", tenantHandler(h.log, h.update))
	r.Delete("/{id}", tenantHandler(h.log, h.delete))
	if h.engine != nil {
		r.Get("/{id}/permissions", tenantHandler(h.log, h.permissions))
	}

	r.Get("/{id}/sub-modules", tenantHandler(h.log, h.listSubModules))
	r.Post("/{id}/sub-modules", tenantHandler(h.log, h.createSubModule))
	r.Put("/sub-modules/{subId}", tenantHandler(h.log, h.updateSubModule))
	r.Delete("/sub-modules/{subId}", tenantHandler(h.log, h.deleteSubModule))
	r.Post("/sub-modules/{subId}/restore", tenantHandler(h.log, h.restoreSubModule))
}

func (h *moduleHandlers) list(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	out, err := h.catalog.ListModules(r.Context(), tc, queryBool(r, "includeDisabled"))
	return http.StatusOK, out, err
}

func (h *moduleHandlers) get(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	out, err := h.catalog.GetModule(r.Context(), tc, id)
	return http.StatusOK, out, err
}

func (h *moduleHandlers) create(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	var in catalog.ModuleInput
	if err := decodeJSON(r, &in); err != nil {
		return 0, nil, err
	}
	out, err := h.catalog.CreateModule(r.Context(), tc, in, actorOf(r))
	return http.StatusCreated, out, err
}

func (h *moduleHandlers) generate(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	var in catalog.GenerateModuleInput
	if err := decodeJSON(r, &in); err != nil {
		return 0, nil, err
	}
	out, err := h.catalog.GenerateModule(r.Context(), tc, in)
	return http.StatusCreated, out, err
}

func (h *moduleHandlers) update(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	var patch catalog.ModulePatch
	if err := decodeJSON(r, &patch); err != nil {
		return 0, nil, err
	}
	out, err := h.catalog.UpdateModule(r.Context(), tc, id, patch)
	return http.StatusOK, out, err
}

func (h *moduleHandlers) delete(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	ok, err := h.catalog.DeleteModule(r.Context(), tc, id)
	return deletedOr404(ok, err, "module not found: %d", id)
}

func (h *moduleHandlers) permissions(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	userID, err := queryID(r, "userId")
	if err != nil {
		return 0, nil, err
	}
	out, err := h.engine.ModulePermissions(r.Context(), tc, id, userID)
	return http.StatusOK, out, err
}

// ========================================
// Sub-modules
// ========================================

func (h *moduleHandlers) listSubModules(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	m, err := h.catalog.GetModule(r.Context(), tc, id)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, m.SubModules, nil
}

func (h *moduleHandlers) createSubModule(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	var in catalog.SubModuleInput
	if err := decodeJSON(r, &in); err != nil {
		return 0, nil, err
	}
	out, err := h.catalog.CreateSubModule(r.Context(), tc, id, in, actorOf(r))
	return http.StatusCreated, out, err
}

func (h *moduleHandlers) updateSubModule(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	id, err := pathID(r, "subId")
	if err != nil {
		return 0, nil, err
	}
	var patch catalog.SubModulePatch
	if err := decodeJSON(r, &patch); err != nil {
		return 0, nil, err
	}
	out, err := h.catalog.UpdateSubModule(r.Context(), tc, id, patch, actorOf(r))
	return http.StatusOK, out, err
}

func (h *moduleHandlers) deleteSubModule(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	id, err := pathID(r, "subId")
	if err != nil {
		return 0, nil, err
	}
	ok, err := h.catalog.DeleteSubModule(r.Context(), tc, id, actorOf(r))
	return deletedOr404(ok, err, "sub-module not found: %d", id)
}

func (h *moduleHandlers) restoreSubModule(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	id, err := pathID(r, "subId")
	if err != nil {
		return 0, nil, err
	}
	ok, err := h.catalog.RestoreSubModule(r.Context(), tc, id, actorOf(r))
	return deletedOr404(ok, err, "sub-module not found: %d", id)
}
