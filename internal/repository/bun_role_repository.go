package repository

import (
	"context"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/xaman1990/SisCoreApi/internal/apperr"
	"github.com/xaman1990/SisCoreApi/internal/db/models"
)

// BunRoleRepository implements RoleRepository using Bun ORM
type BunRoleRepository struct {
	db bun.IDB
}

// NewBunRoleRepository creates a new Bun-based role repository
func NewBunRoleRepository(db bun.IDB) RoleRepository {
	return &BunRoleRepository{db: db}
}

// Create inserts a new role
func (r *BunRoleRepository) Create(ctx context.Context, role *models.Role) error {
	role.Name = strings.TrimSpace(role.Name)
	_, err := r.db.NewInsert().
		Model(role).
		Exec(ctx)
	if err != nil {
		return apperr.FromStore("create role", err)
	}
	return nil
}

// GetByID retrieves a role by ID
func (r *BunRoleRepository) GetByID(ctx context.Context, id int64) (*models.Role, error) {
	role := new(models.Role)
	err := r.db.NewSelect().
		Model(role).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, lookupErr(err, "get role", "role not found: %d", id)
	}
	return role, nil
}

// GetByIDs retrieves roles by IDs ordered by id
func (r *BunRoleRepository) GetByIDs(ctx context.Context, ids []int64) ([]models.Role, error) {
	if len(ids) == 0 {
		return []models.Role{}, nil
	}
	var roles []models.Role
	err := r.db.NewSelect().
		Model(&roles).
		Where("id IN (?)", bun.In(ids)).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, apperr.FromStore("get roles", err)
	}
	return roles, nil
}

// NameExists checks whether another role uses name (case-insensitive)
func (r *BunRoleRepository) NameExists(ctx context.Context, name string, excludeID int64) (bool, error) {
	q := r.db.NewSelect().
		Model((*models.Role)(nil)).
		Where("lower(name) = ?", strings.ToLower(strings.TrimSpace(name)))
	if excludeID > 0 {
		q = q.Where("id <> ?", excludeID)
	}
	exists, err := q.Exists(ctx)
	if err != nil {
		return false, apperr.FromStore("check role name", err)
	}
	return exists, nil
}

// ListActive retrieves active roles ordered by name
func (r *BunRoleRepository) ListActive(ctx context.Context) ([]models.Role, error) {
	var roles []models.Role
	err := r.db.NewSelect().
		Model(&roles).
		Where("status = ?", models.StatusActive).
		Order("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, apperr.FromStore("list roles", err)
	}
	return roles, nil
}

// Update writes the given columns (all columns when none are given)
func (r *BunRoleRepository) Update(ctx context.Context, role *models.Role, columns ...string) error {
	q := r.db.NewUpdate().
		Model(role).
		WherePK()
	if len(columns) > 0 {
		q = q.Column(columns...)
	} else {
		q = q.ExcludeColumn("id", "created_at")
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return apperr.FromStore("update role", err)
	}
	return requireAffected(res, "role not found: %d", role.ID)
}

// ========================================
// Role membership
// ========================================

// RoleIDsForUser retrieves the role ids of a user in ascending order
func (r *BunRoleRepository) RoleIDsForUser(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	err := r.db.NewSelect().
		Model((*models.UserRole)(nil)).
		Column("role_id").
		Where("user_id = ?", userID).
		Order("role_id ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, apperr.FromStore("list user role ids", err)
	}
	return ids, nil
}

// RolesForUser retrieves the roles of a user ordered by id
func (r *BunRoleRepository) RolesForUser(ctx context.Context, userID int64) ([]models.Role, error) {
	var roles []models.Role
	err := r.db.NewSelect().
		Model(&roles).
		Where("EXISTS (SELECT 1 FROM user_roles AS ur WHERE ur.role_id = r.id AND ur.user_id = ?)", userID).
		Order("r.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, apperr.FromStore("list user roles", err)
	}
	return roles, nil
}

// ReplaceUserRoles rewrites the membership set of a user. Run it inside a
// transaction so readers never observe a partial set.
func (r *BunRoleRepository) ReplaceUserRoles(ctx context.Context, userID int64, roleIDs []int64, actorID *int64, now time.Time) error {
	_, err := r.db.NewDelete().
		Model((*models.UserRole)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return apperr.FromStore("clear user roles", err)
	}
	if len(roleIDs) == 0 {
		return nil
	}

	seen := make(map[int64]struct{}, len(roleIDs))
	rows := make([]models.UserRole, 0, len(roleIDs))
	for _, id := range roleIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		rows = append(rows, models.UserRole{
			UserID:     userID,
			RoleID:     id,
			AssignedAt: now,
			AssignedBy: actorID,
		})
	}
	if _, err := r.db.NewInsert().Model(&rows).Exec(ctx); err != nil {
		return apperr.FromStore("assign user roles", err)
	}
	return nil
}
