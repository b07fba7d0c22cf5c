package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xaman1990/SisCoreApi/internal/apperr"
	"github.com/xaman1990/SisCoreApi/internal/repository"
	"github.com/xaman1990/SisCoreApi/internal/services/catalog"
	"github.com/xaman1990/SisCoreApi/internal/services/permissions"
	"github.com/xaman1990/SisCoreApi/internal/tenancy"
)

type permissionHandlers struct {
	engine  *permissions.Engine
	catalog *catalog.Manager
	log     *zap.Logger
}

type checkRequest struct {
	UserID         *int64 `json:"userId"`
	ModuleID       int64  `json:"moduleId"`
	PermissionCode string `json:"permissionCode"`
}

type roleMatrixRequest struct {
	Modules []permissions.ModuleToggles `json:"modules"`
}

func (h *permissionHandlers) mount(r chi.Router) {
	r.Get("/me", tenantHandler(h.log, h.me))
	r.Get("/user/{userId}", tenantHandler(h.log, h.userPermissions))
	r.Post("/check", tenantHandler(h.log, h.check))

	r.Route("/catalog", func(r chi.Router) {
		r.Get("/", tenantHandler(h.log, h.listCatalog))
		r.Post("/", tenantHandler(h.log, h.createCatalog))
		r.Get("/{id}", tenantHandler(h.log, h.getCatalog))
		r.Put("/{id}", tenantHandler(h.log, h.updateCatalog))
		r.Delete("/{id}", tenantHandler(h.log, h.deleteCatalog))
	})

	r.Route("/modules/{moduleId}/privileges", func(r chi.Router) {
		r.Get("/", tenantHandler(h.log, h.listPrivileges))
		r.Post("/", tenantHandler(h.log, h.createPrivilege))
		r.Post("/defaults", tenantHandler(h.log, h.ensureDefaults))
		r.Get("/{privilegeId}", tenantHandler(h.log, h.getPrivilege))
		r.Put("/{privilegeId}", tenantHandler(h.log, h.updatePrivilege))
		r.Delete("/{privilegeId}", tenantHandler(h.log, h.deletePrivilege))
		r.Post("/{privilegeId}/restore", tenantHandler(h.log, h.restorePrivilege))
	})

	r.Get("/roles/{roleId}/modules", tenantHandler(h.log, h.roleMatrix))
	r.Put("/roles/{roleId}/modules", tenantHandler(h.log, h.updateRoleMatrix))

	r.Put("/users/{userId}/privileges/{privilegeId}", tenantHandler(h.log, h.grantToUser))
	r.Delete("/users/{userId}/privileges/{privilegeId}", tenantHandler(h.log, h.revokeFromUser))
}

func (h *permissionHandlers) me(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	actor := actorOf(r)
	if actor == nil {
		return 0, nil, apperr.InvalidCredentials()
	}
	out, err := h.engine.EffectivePermissions(r.Context(), tc, *actor)
	return http.StatusOK, out, err
}

func (h *permissionHandlers) userPermissions(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	userID, err := pathID(r, "userId")
	if err != nil {
		return 0, nil, err
	}
	out, err := h.engine.UserPermissions(r.Context(), tc, userID)
	return http.StatusOK, out, err
}

// check decides for the given user, or for the caller when none is given.
func (h *permissionHandlers) check(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	var in checkRequest
	if err := decodeJSON(r, &in); err != nil {
		return 0, nil, err
	}
	userID := in.UserID
	if userID == nil {
		userID = actorOf(r)
	}
	if userID == nil {
		return 0, nil, badRequest("userId is required")
	}
	out, err := h.engine.CheckPermission(r.Context(), tc, *userID, in.ModuleID, in.PermissionCode)
	return http.StatusOK, out, err
}

// ========================================
// Permission catalog
// ========================================

func (h *permissionHandlers) listCatalog(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	q := r.URL.Query()
	filter := repository.PermissionFilter{
		Code:          q.Get("code"),
		Name:          q.Get("name"),
		IncludeSystem: queryBool(r, "includeSystem"),
	}
	if q.Has("onlyDefaults") {
		v := queryBool(r, "onlyDefaults")
		filter.OnlyDefaults = &v
	}
	out, err := h.catalog.ListPermissions(r.Context(), tc, filter)
	return http.StatusOK, out, err
}

func (h *permissionHandlers) getCatalog(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	out, err := h.catalog.GetPermission(r.Context(), tc, id)
	return http.StatusOK, out, err
}

func (h *permissionHandlers) createCatalog(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	var in catalog.PermissionInput
	if err := decodeJSON(r, &in); err != nil {
		return 0, nil, err
	}
	out, err := h.catalog.CreatePermission(r.Context(), tc, in, actorOf(r))
	return http.StatusCreated, out, err
}

func (h *permissionHandlers) updateCatalog(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	var patch catalog.PermissionPatch
	if err := decodeJSON(r, &patch); err != nil {
		return 0, nil, err
	}
	out, err := h.catalog.UpdatePermission(r.Context(), tc, id, patch, actorOf(r))
	return http.StatusOK, out, err
}

func (h *permissionHandlers) deleteCatalog(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	ok, err := h.catalog.DeletePermission(r.Context(), tc, id)
	return deletedOr404(ok, err, "permission not found: %d", id)
}

// ========================================
// Module privileges
// ========================================

// privilegeInModule loads a privilege and checks it belongs to the module
// named in the path.
func (h *permissionHandlers) privilegeInModule(r *http.Request, tc tenancy.TenantContext) (moduleID, privilegeID int64, err error) {
	if moduleID, err = pathID(r, "moduleId"); err != nil {
		return 0, 0, err
	}
	if privilegeID, err = pathID(r, "privilegeId"); err != nil {
		return 0, 0, err
	}
	p, err := h.catalog.GetPrivilege(r.Context(), tc, privilegeID)
	if err != nil {
		return 0, 0, err
	}
	if p.ModuleID != moduleID {
		return 0, 0, apperr.NotFound("module privilege not found: %d", privilegeID)
	}
	return moduleID, privilegeID, nil
}

func (h *permissionHandlers) listPrivileges(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	moduleID, err := pathID(r, "moduleId")
	if err != nil {
		return 0, nil, err
	}
	filter := repository.PrivilegeFilter{
		IncludeDeleted: queryBool(r, "includeDeleted"),
		PermissionCode: r.URL.Query().Get("permissionCode"),
	}
	if filter.SubModuleID, err = queryID(r, "subModuleId"); err != nil {
		return 0, nil, err
	}
	if filter.PermissionID, err = queryID(r, "permissionId"); err != nil {
		return 0, nil, err
	}
	out, err := h.catalog.ListPrivileges(r.Context(), tc, moduleID, filter)
	return http.StatusOK, out, err
}

func (h *permissionHandlers) getPrivilege(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	_, id, err := h.privilegeInModule(r, tc)
	if err != nil {
		return 0, nil, err
	}
	out, err := h.catalog.GetPrivilege(r.Context(), tc, id)
	return http.StatusOK, out, err
}

func (h *permissionHandlers) createPrivilege(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	moduleID, err := pathID(r, "moduleId")
	if err != nil {
		return 0, nil, err
	}
	var in catalog.PrivilegeInput
	if err := decodeJSON(r, &in); err != nil {
		return 0, nil, err
	}
	out, err := h.catalog.CreatePrivilege(r.Context(), tc, moduleID, in, actorOf(r))
	return http.StatusCreated, out, err
}

func (h *permissionHandlers) updatePrivilege(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	_, id, err := h.privilegeInModule(r, tc)
	if err != nil {
		return 0, nil, err
	}
	var patch catalog.PrivilegePatch
	if err := decodeJSON(r, &patch); err != nil {
		return 0, nil, err
	}
	out, err := h.catalog.UpdatePrivilege(r.Context(), tc, id, patch, actorOf(r))
	return http.StatusOK, out, err
}

func (h *permissionHandlers) deletePrivilege(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	_, id, err := h.privilegeInModule(r, tc)
	if err != nil {
		return 0, nil, err
	}
	ok, err := h.catalog.DeletePrivilege(r.Context(), tc, id, actorOf(r))
	return deletedOr404(ok, err, "module privilege not found: %d", id)
}

func (h *permissionHandlers) restorePrivilege(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	_, id, err := h.privilegeInModule(r, tc)
	if err != nil {
		return 0, nil, err
	}
	ok, err := h.catalog.RestorePrivilege(r.Context(), tc, id, actorOf(r))
	if err != nil || !ok {
		return deletedOr404(ok, err, "module privilege not found: %d", id)
	}
	out, err := h.catalog.GetPrivilege(r.Context(), tc, id)
	return http.StatusOK, out, err
}

func (h *permissionHandlers) ensureDefaults(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	moduleID, err := pathID(r, "moduleId")
	if err != nil {
		return 0, nil, err
	}
	if err := h.catalog.EnsureDefaultPrivileges(r.Context(), tc, moduleID, actorOf(r)); err != nil {
		return 0, nil, err
	}
	out, err := h.catalog.ListPrivileges(r.Context(), tc, moduleID, repository.PrivilegeFilter{})
	return http.StatusOK, out, err
}

// ========================================
// Grants
// ========================================

func (h *permissionHandlers) roleMatrix(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	roleID, err := pathID(r, "roleId")
	if err != nil {
		return 0, nil, err
	}
	moduleID, err := queryID(r, "moduleId")
	if err != nil {
		return 0, nil, err
	}
	out, err := h.engine.RoleMatrix(r.Context(), tc, roleID, moduleID)
	return http.StatusOK, out, err
}

func (h *permissionHandlers) updateRoleMatrix(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	roleID, err := pathID(r, "roleId")
	if err != nil {
		return 0, nil, err
	}
	var in roleMatrixRequest
	if err := decodeJSON(r, &in); err != nil {
		return 0, nil, err
	}
	if err := h.engine.UpdateRoleMatrix(r.Context(), tc, roleID, in.Modules, actorOf(r)); err != nil {
		return 0, nil, err
	}
	return http.StatusOK, messageBody{Message: "role permissions updated"}, nil
}

func (h *permissionHandlers) grantToUser(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	userID, err := pathID(r, "userId")
	if err != nil {
		return 0, nil, err
	}
	privilegeID, err := pathID(r, "privilegeId")
	if err != nil {
		return 0, nil, err
	}
	out, err := h.engine.GrantToUser(r.Context(), tc, userID, privilegeID, actorOf(r))
	return http.StatusOK, out, err
}

func (h *permissionHandlers) revokeFromUser(r *http.Request, tc tenancy.TenantContext) (int, any, error) {
	userID, err := pathID(r, "userId")
	if err != nil {
		return 0, nil, err
	}
	privilegeID, err := pathID(r, "privilegeId")
	if err != nil {
		return 0, nil, err
	}
	ok, err := h.engine.RevokeFromUser(r.Context(), tc, userID, privilegeID, actorOf(r))
	return deletedOr404(ok, err, "no direct grant of privilege %d to user %d", privilegeID, userID)
}
