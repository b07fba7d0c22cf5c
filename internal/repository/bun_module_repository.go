package repository

import (
	"context"

	"github.com/uptrace/bun"
	"github.com/xaman1990/SisCoreApi/internal/apperr"
	"github.com/xaman1990/SisCoreApi/internal/db/models"
)

// BunModuleRepository implements ModuleRepository using Bun ORM
type BunModuleRepository struct {
	db bun.IDB
}

// NewBunModuleRepository creates a new Bun-based module repository
func NewBunModuleRepository(db bun.IDB) ModuleRepository {
	return &BunModuleRepository{db: db}
}

// Create inserts a new module
func (r *BunModuleRepository) Create(ctx context.Context, module *models.Module) error {
	_, err := r.db.NewInsert().
		Model(module).
		Exec(ctx)
	if err != nil {
		return apperr.FromStore("create module", err)
	}
	return nil
}

// GetByID retrieves a module by ID
func (r *BunModuleRepository) GetByID(ctx context.Context, id int64) (*models.Module, error) {
	module := new(models.Module)
	err := r.db.NewSelect().
		Model(module).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, lookupErr(err, "get module", "module not found: %d", id)
	}
	return module, nil
}

// CodeExists checks whether a module already uses code
func (r *BunModuleRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	exists, err := r.db.NewSelect().
		Model((*models.Module)(nil)).
		Where("code = ?", code).
		Exists(ctx)
	if err != nil {
		return false, apperr.FromStore("check module code", err)
	}
	return exists, nil
}

// List retrieves modules for the menu: enabled or system modules, or all of
// them when includeDisabled is set
func (r *BunModuleRepository) List(ctx context.Context, includeDisabled bool) ([]models.Module, error) {
	var modules []models.Module
	q := r.db.NewSelect().
		Model(&modules).
		Order("menu_order ASC", "name ASC")
	if !includeDisabled {
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("is_enabled = ?", true).WhereOr("is_system = ?", true)
		})
	}
	if err := q.Scan(ctx); err != nil {
		return nil, apperr.FromStore("list modules", err)
	}
	return modules, nil
}

// ListEnabled retrieves enabled modules, optionally only moduleID
func (r *BunModuleRepository) ListEnabled(ctx context.Context, moduleID *int64) ([]models.Module, error) {
	var modules []models.Module
	q := r.db.NewSelect().
		Model(&modules).
		Where("is_enabled = ?", true).
		Order("menu_order ASC", "name ASC")
	if moduleID != nil {
		q = q.Where("id = ?", *moduleID)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, apperr.FromStore("list enabled modules", err)
	}
	return modules, nil
}

// ListIDs retrieves the ids of every module
func (r *BunModuleRepository) ListIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := r.db.NewSelect().
		Model((*models.Module)(nil)).
		Column("id").
		Order("id ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, apperr.FromStore("list module ids", err)
	}
	return ids, nil
}

// Update writes the given columns (all columns when none are given)
func (r *BunModuleRepository) Update(ctx context.Context, module *models.Module, columns ...string) error {
	q := r.db.NewUpdate().
		Model(module).
		WherePK()
	if len(columns) > 0 {
		q = q.Column(columns...)
	} else {
		q = q.ExcludeColumn("id", "created_at")
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return apperr.FromStore("update module", err)
	}
	return requireAffected(res, "module not found: %d", module.ID)
}

// CreateSubModule inserts a new sub-module
func (r *BunModuleRepository) CreateSubModule(ctx context.Context, sub *models.SubModule) error {
	_, err := r.db.NewInsert().
		Model(sub).
		Exec(ctx)
	if err != nil {
		return apperr.FromStore("create sub-module", err)
	}
	return nil
}

// GetSubModule retrieves a sub-module by ID
func (r *BunModuleRepository) GetSubModule(ctx context.Context, id int64) (*models.SubModule, error) {
	sub := new(models.SubModule)
	err := r.db.NewSelect().
		Model(sub).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, lookupErr(err, "get sub-module", "sub-module not found: %d", id)
	}
	return sub, nil
}

// ListSubModules retrieves the sub-modules of a module ordered for the menu
func (r *BunModuleRepository) ListSubModules(ctx context.Context, moduleID int64, includeDeleted bool) ([]models.SubModule, error) {
	var subs []models.SubModule
	q := r.db.NewSelect().
		Model(&subs).
		Where("module_id = ?", moduleID).
		Order("menu_order ASC", "name ASC")
	if !includeDeleted {
		q = q.Where("is_deleted = ?", false)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, apperr.FromStore("list sub-modules", err)
	}
	return subs, nil
}

// UpdateSubModule writes the given columns (all columns when none are given)
func (r *BunModuleRepository) UpdateSubModule(ctx context.Context, sub *models.SubModule, columns ...string) error {
	q := r.db.NewUpdate().
		Model(sub).
		WherePK()
	if len(columns) > 0 {
		q = q.Column(columns...)
	} else {
		q = q.ExcludeColumn("id", "created_at", "created_by")
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return apperr.FromStore("update sub-module", err)
	}
	return requireAffected(res, "sub-module not found: %d", sub.ID)
}

// CountLiveSubModules counts live sub-modules of a module
func (r *BunModuleRepository) CountLiveSubModules(ctx context.Context, moduleID int64) (int, error) {
	n, err := r.db.NewSelect().
		Model((*models.SubModule)(nil)).
		Where("module_id = ?", moduleID).
		Where("is_deleted = ?", false).
		Count(ctx)
	if err != nil {
		return 0, apperr.FromStore("count sub-modules", err)
	}
	return n, nil
}

// LiveSubModuleExists checks that id is a live sub-module of moduleID
func (r *BunModuleRepository) LiveSubModuleExists(ctx context.Context, moduleID, id int64) (bool, error) {
	exists, err := r.db.NewSelect().
		Model((*models.SubModule)(nil)).
		Where("id = ?", id).
		Where("module_id = ?", moduleID).
		Where("is_deleted = ?", false).
		Exists(ctx)
	if err != nil {
		return false, apperr.FromStore("check sub-module", err)
	}
	return exists, nil
}

// SubModuleCodeTaken checks live code uniqueness inside a module
func (r *BunModuleRepository) SubModuleCodeTaken(ctx context.Context, moduleID int64, code string, excludeID int64) (bool, error) {
	return LiveDuplicateExists(ctx, r.db, (*models.SubModule)(nil), excludeID,
		Eq("module_id", moduleID), Eq("code", code))
}
