package repository

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/xaman1990/SisCoreApi/internal/apperr"
	"github.com/xaman1990/SisCoreApi/internal/db/models"
)

// BunAssignmentRepository implements AssignmentRepository using Bun ORM
type BunAssignmentRepository struct {
	db bun.IDB
}

// NewBunAssignmentRepository creates a new Bun-based assignment repository
func NewBunAssignmentRepository(db bun.IDB) AssignmentRepository {
	return &BunAssignmentRepository{db: db}
}

// granteeColumn maps a grantee to its storage column.
func granteeColumn(g models.Grantee) (string, error) {
	switch g.Kind() {
	case models.GranteeRole:
		return "role_id", nil
	case models.GranteeUser:
		return "user_id", nil
	default:
		return "", fmt.Errorf("invalid grantee %s", g)
	}
}

// Create inserts a new assignment
func (r *BunAssignmentRepository) Create(ctx context.Context, assignment *models.PermissionAssignment) error {
	if !assignment.Grantee().Valid() {
		return fmt.Errorf("create permission assignment: invalid grantee")
	}
	_, err := r.db.NewInsert().
		Model(assignment).
		Exec(ctx)
	if err != nil {
		return apperr.FromStore("create permission assignment", err)
	}
	return nil
}

// Find retrieves the latest assignment of a privilege to a grantee, preferring
// the live one when present
func (r *BunAssignmentRepository) Find(ctx context.Context, privilegeID int64, g models.Grantee) (*models.PermissionAssignment, error) {
	col, err := granteeColumn(g)
	if err != nil {
		return nil, err
	}
	assignment := new(models.PermissionAssignment)
	err = r.db.NewSelect().
		Model(assignment).
		Where("module_privilege_id = ?", privilegeID).
		Where("? = ?", bun.Ident(col), g.ID()).
		OrderExpr("is_deleted ASC, id DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, lookupErr(err, "find permission assignment",
			"permission assignment not found: privilege %d, %s", privilegeID, g)
	}
	return assignment, nil
}

// ListForGrantee retrieves every assignment of g among privilegeIDs, live rows
// first for each privilege
func (r *BunAssignmentRepository) ListForGrantee(ctx context.Context, g models.Grantee, privilegeIDs []int64) ([]models.PermissionAssignment, error) {
	if len(privilegeIDs) == 0 {
		return nil, nil
	}
	col, err := granteeColumn(g)
	if err != nil {
		return nil, err
	}
	var assignments []models.PermissionAssignment
	err = r.db.NewSelect().
		Model(&assignments).
		Where("? = ?", bun.Ident(col), g.ID()).
		Where("module_privilege_id IN (?)", bun.In(privilegeIDs)).
		OrderExpr("module_privilege_id ASC, is_deleted ASC, id DESC").
		Scan(ctx)
	if err != nil {
		return nil, apperr.FromStore("list grantee assignments", err)
	}
	return assignments, nil
}

// ListLiveFor retrieves live assignments held by a user directly or via roles
func (r *BunAssignmentRepository) ListLiveFor(ctx context.Context, privilegeIDs []int64, userID int64, roleIDs []int64) ([]models.PermissionAssignment, error) {
	if len(privilegeIDs) == 0 {
		return nil, nil
	}
	var assignments []models.PermissionAssignment
	q := r.db.NewSelect().
		Model(&assignments).
		Where("is_deleted = ?", false).
		Where("module_privilege_id IN (?)", bun.In(privilegeIDs)).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			q = q.Where("user_id = ?", userID)
			if len(roleIDs) > 0 {
				q = q.WhereOr("role_id IN (?)", bun.In(roleIDs))
			}
			return q
		}).
		OrderExpr("module_privilege_id ASC, role_id ASC, id ASC")
	if err := q.Scan(ctx); err != nil {
		return nil, apperr.FromStore("list effective assignments", err)
	}
	return assignments, nil
}

// CountLiveByPrivilege counts live assignments of a privilege
func (r *BunAssignmentRepository) CountLiveByPrivilege(ctx context.Context, privilegeID int64) (int, error) {
	n, err := r.db.NewSelect().
		Model((*models.PermissionAssignment)(nil)).
		Where("module_privilege_id = ?", privilegeID).
		Where("is_deleted = ?", false).
		Count(ctx)
	if err != nil {
		return 0, apperr.FromStore("count privilege assignments", err)
	}
	return n, nil
}

// Update writes the given columns (all columns when none are given)
func (r *BunAssignmentRepository) Update(ctx context.Context, assignment *models.PermissionAssignment, columns ...string) error {
	q := r.db.NewUpdate().
		Model(assignment).
		WherePK()
	if len(columns) > 0 {
		q = q.Column(columns...)
	} else {
		q = q.ExcludeColumn("id", "created_at", "created_by")
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return apperr.FromStore("update permission assignment", err)
	}
	return requireAffected(res, "permission assignment not found: %d", assignment.ID)
}
