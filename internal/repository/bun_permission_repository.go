package repository

import (
	"context"

	"github.com/uptrace/bun"
	"github.com/xaman1990/SisCoreApi/internal/apperr"
	"github.com/xaman1990/SisCoreApi/internal/db/models"
)

// ========================================
// Permission catalog Repository
// ========================================

// BunPermissionRepository implements PermissionRepository using Bun ORM
type BunPermissionRepository struct {
	db bun.IDB
}

// NewBunPermissionRepository creates a new Bun-based permission repository
func NewBunPermissionRepository(db bun.IDB) PermissionRepository {
	return &BunPermissionRepository{db: db}
}

// Create inserts a new catalog permission
func (r *BunPermissionRepository) Create(ctx context.Context, permission *models.Permission) error {
	_, err := r.db.NewInsert().
		Model(permission).
		Exec(ctx)
	if err != nil {
		return apperr.FromStore("create permission", err)
	}
	return nil
}

// GetByID retrieves a catalog permission by ID
func (r *BunPermissionRepository) GetByID(ctx context.Context, id int64) (*models.Permission, error) {
	permission := new(models.Permission)
	err := r.db.NewSelect().
		Model(permission).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, lookupErr(err, "get permission", "permission not found: %d", id)
	}
	return permission, nil
}

// CodeExists checks whether another permission uses code
func (r *BunPermissionRepository) CodeExists(ctx context.Context, code string, excludeID int64) (bool, error) {
	q := r.db.NewSelect().
		Model((*models.Permission)(nil)).
		Where("code = ?", code)
	if excludeID > 0 {
		q = q.Where("id <> ?", excludeID)
	}
	exists, err := q.Exists(ctx)
	if err != nil {
		return false, apperr.FromStore("check permission code", err)
	}
	return exists, nil
}

// List retrieves catalog permissions ordered by code
func (r *BunPermissionRepository) List(ctx context.Context, filter PermissionFilter) ([]models.Permission, error) {
	var permissions []models.Permission
	q := r.db.NewSelect().
		Model(&permissions).
		Order("code ASC")
	if filter.Code != "" {
		q = q.Where("code LIKE ?", "%"+filter.Code+"%")
	}
	if filter.Name != "" {
		q = q.Where("name LIKE ?", "%"+filter.Name+"%")
	}
	if !filter.IncludeSystem {
		q = q.Where("is_system = ?", false)
	}
	if filter.OnlyDefaults != nil {
		q = q.Where("is_default_for_module = ?", *filter.OnlyDefaults)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, apperr.FromStore("list permissions", err)
	}
	return permissions, nil
}

// ListDefaults retrieves permissions flagged default for every module
func (r *BunPermissionRepository) ListDefaults(ctx context.Context) ([]models.Permission, error) {
	var permissions []models.Permission
	err := r.db.NewSelect().
		Model(&permissions).
		Where("is_default_for_module = ?", true).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, apperr.FromStore("list default permissions", err)
	}
	return permissions, nil
}

// Update writes the given columns (all columns when none are given)
func (r *BunPermissionRepository) Update(ctx context.Context, permission *models.Permission, columns ...string) error {
	q := r.db.NewUpdate().
		Model(permission).
		WherePK()
	if len(columns) > 0 {
		q = q.Column(columns...)
	} else {
		q = q.ExcludeColumn("id", "created_at", "created_by")
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return apperr.FromStore("update permission", err)
	}
	return requireAffected(res, "permission not found: %d", permission.ID)
}

// Delete removes a catalog permission
func (r *BunPermissionRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.NewDelete().
		Model((*models.Permission)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return apperr.FromStore("delete permission", err)
	}
	return requireAffected(res, "permission not found: %d", id)
}

// ========================================
// Module privilege Repository
// ========================================

// BunPrivilegeRepository implements PrivilegeRepository using Bun ORM
type BunPrivilegeRepository struct {
	db bun.IDB
}

// NewBunPrivilegeRepository creates a new Bun-based privilege repository
func NewBunPrivilegeRepository(db bun.IDB) PrivilegeRepository {
	return &BunPrivilegeRepository{db: db}
}

// Create inserts a new module privilege
func (r *BunPrivilegeRepository) Create(ctx context.Context, privilege *models.ModulePrivilege) error {
	_, err := r.db.NewInsert().
		Model(privilege).
		Exec(ctx)
	if err != nil {
		return apperr.FromStore("create module privilege", err)
	}
	return nil
}

// CreateMany inserts module privileges one by one so every row gets its id
func (r *BunPrivilegeRepository) CreateMany(ctx context.Context, privileges []*models.ModulePrivilege) error {
	for _, p := range privileges {
		if err := r.Create(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// GetByID retrieves a module privilege by ID, deleted or not
func (r *BunPrivilegeRepository) GetByID(ctx context.Context, id int64) (*models.ModulePrivilege, error) {
	privilege := new(models.ModulePrivilege)
	err := r.db.NewSelect().
		Model(privilege).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, lookupErr(err, "get module privilege", "module privilege not found: %d", id)
	}
	return privilege, nil
}

// GetLiveByCode retrieves the live privilege of a module by code
func (r *BunPrivilegeRepository) GetLiveByCode(ctx context.Context, moduleID int64, code string) (*models.ModulePrivilege, error) {
	privilege := new(models.ModulePrivilege)
	err := r.db.NewSelect().
		Model(privilege).
		Where("module_id = ?", moduleID).
		Where("code = ?", code).
		Where("is_deleted = ?", false).
		Order("id ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, lookupErr(err, "get module privilege by code", "module privilege not found: %s", code)
	}
	return privilege, nil
}

// ListByModule retrieves the privileges of a module ordered by code then id
func (r *BunPrivilegeRepository) ListByModule(ctx context.Context, moduleID int64, filter PrivilegeFilter) ([]models.ModulePrivilege, error) {
	var privileges []models.ModulePrivilege
	q := r.db.NewSelect().
		Model(&privileges).
		Where("mp.module_id = ?", moduleID).
		Order("mp.code ASC", "mp.id ASC")
	if !filter.IncludeDeleted {
		q = q.Where("mp.is_deleted = ?", false)
	}
	if filter.SubModuleID != nil {
		q = q.Where("mp.sub_module_id = ?", *filter.SubModuleID)
	}
	if filter.PermissionID != nil {
		q = q.Where("mp.permission_id = ?", *filter.PermissionID)
	}
	if filter.PermissionCode != "" {
		code := filter.PermissionCode
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("mp.code = ?", code).
				WhereOr("EXISTS (SELECT 1 FROM permissions AS p WHERE p.id = mp.permission_id AND p.code = ?)", code)
		})
	}
	if err := q.Scan(ctx); err != nil {
		return nil, apperr.FromStore("list module privileges", err)
	}
	return privileges, nil
}

// ListAllByModule retrieves every privilege of a module, deleted included
func (r *BunPrivilegeRepository) ListAllByModule(ctx context.Context, moduleID int64) ([]models.ModulePrivilege, error) {
	var privileges []models.ModulePrivilege
	err := r.db.NewSelect().
		Model(&privileges).
		Where("module_id = ?", moduleID).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, apperr.FromStore("list module privileges", err)
	}
	return privileges, nil
}

// ListLiveForModules retrieves live privileges of the given modules ordered by code
func (r *BunPrivilegeRepository) ListLiveForModules(ctx context.Context, moduleIDs []int64) ([]models.ModulePrivilege, error) {
	if len(moduleIDs) == 0 {
		return nil, nil
	}
	var privileges []models.ModulePrivilege
	err := r.db.NewSelect().
		Model(&privileges).
		Where("module_id IN (?)", bun.In(moduleIDs)).
		Where("is_deleted = ?", false).
		Order("code ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, apperr.FromStore("list live privileges", err)
	}
	return privileges, nil
}

// ListLiveIDsInModule filters ids down to the live privileges of moduleID
func (r *BunPrivilegeRepository) ListLiveIDsInModule(ctx context.Context, moduleID int64, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var found []int64
	err := r.db.NewSelect().
		Model((*models.ModulePrivilege)(nil)).
		Column("id").
		Where("module_id = ?", moduleID).
		Where("id IN (?)", bun.In(ids)).
		Where("is_deleted = ?", false).
		Scan(ctx, &found)
	if err != nil {
		return nil, apperr.FromStore("check module privileges", err)
	}
	return found, nil
}

// ModulesWithLivePermission lists modules holding a live privilege for permissionID
func (r *BunPrivilegeRepository) ModulesWithLivePermission(ctx context.Context, permissionID int64) ([]int64, error) {
	var ids []int64
	err := r.db.NewSelect().
		Model((*models.ModulePrivilege)(nil)).
		Column("module_id").
		Where("permission_id = ?", permissionID).
		Where("is_deleted = ?", false).
		Scan(ctx, &ids)
	if err != nil {
		return nil, apperr.FromStore("list modules with permission", err)
	}
	return ids, nil
}

// LiveExists checks the live (module, permission) uniqueness
func (r *BunPrivilegeRepository) LiveExists(ctx context.Context, moduleID, permissionID, excludeID int64) (bool, error) {
	return LiveDuplicateExists(ctx, r.db, (*models.ModulePrivilege)(nil), excludeID,
		Eq("module_id", moduleID), Eq("permission_id", permissionID))
}

// CountByPermission counts privileges (deleted included) referencing a permission
func (r *BunPrivilegeRepository) CountByPermission(ctx context.Context, permissionID int64) (int, error) {
	n, err := r.db.NewSelect().
		Model((*models.ModulePrivilege)(nil)).
		Where("permission_id = ?", permissionID).
		Count(ctx)
	if err != nil {
		return 0, apperr.FromStore("count privileges by permission", err)
	}
	return n, nil
}

// CountLiveByModule counts live privileges of a module
func (r *BunPrivilegeRepository) CountLiveByModule(ctx context.Context, moduleID int64) (int, error) {
	n, err := r.db.NewSelect().
		Model((*models.ModulePrivilege)(nil)).
		Where("module_id = ?", moduleID).
		Where("is_deleted = ?", false).
		Count(ctx)
	if err != nil {
		return 0, apperr.FromStore("count module privileges", err)
	}
	return n, nil
}

// CountLiveBySubModule counts live privileges scoped to a sub-module
func (r *BunPrivilegeRepository) CountLiveBySubModule(ctx context.Context, subModuleID int64) (int, error) {
	n, err := r.db.NewSelect().
		Model((*models.ModulePrivilege)(nil)).
		Where("sub_module_id = ?", subModuleID).
		Where("is_deleted = ?", false).
		Count(ctx)
	if err != nil {
		return 0, apperr.FromStore("count sub-module privileges", err)
	}
	return n, nil
}

// Update writes the given columns (all columns when none are given)
func (r *BunPrivilegeRepository) Update(ctx context.Context, privilege *models.ModulePrivilege, columns ...string) error {
	q := r.db.NewUpdate().
		Model(privilege).
		WherePK()
	if len(columns) > 0 {
		q = q.Column(columns...)
	} else {
		q = q.ExcludeColumn("id", "created_at", "created_by")
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return apperr.FromStore("update module privilege", err)
	}
	return requireAffected(res, "module privilege not found: %d", privilege.ID)
}
