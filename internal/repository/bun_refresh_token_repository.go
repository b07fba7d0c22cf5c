package repository

import (
	"context"
	"time"

	"github.com/uptrace/bun"
	"github.com/xaman1990/SisCoreApi/internal/apperr"
	"github.com/xaman1990/SisCoreApi/internal/db/models"
)

// BunRefreshTokenRepository implements RefreshTokenRepository using Bun ORM
type BunRefreshTokenRepository struct {
	db bun.IDB
}

// NewBunRefreshTokenRepository creates a new Bun-based refresh token repository
func NewBunRefreshTokenRepository(db bun.IDB) RefreshTokenRepository {
	return &BunRefreshTokenRepository{db: db}
}

// Create inserts a new refresh token
func (r *BunRefreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	_, err := r.db.NewInsert().
		Model(token).
		Exec(ctx)
	if err != nil {
		return apperr.FromStore("create refresh token", err)
	}
	return nil
}

// GetByJti retrieves a refresh token by its identifier
func (r *BunRefreshTokenRepository) GetByJti(ctx context.Context, jti string) (*models.RefreshToken, error) {
	token := new(models.RefreshToken)
	err := r.db.NewSelect().
		Model(token).
		Where("jti = ?", jti).
		Scan(ctx)
	if err != nil {
		return nil, lookupErr(err, "get refresh token", "refresh token not found")
	}
	return token, nil
}

// Revoke marks a live token revoked. The revoked_at IS NULL guard makes two
// concurrent rotations of the same token race on a single row update.
func (r *BunRefreshTokenRepository) Revoke(ctx context.Context, jti string, at time.Time, replacedBy *string) (bool, error) {
	q := r.db.NewUpdate().
		Model((*models.RefreshToken)(nil)).
		Set("revoked_at = ?", at).
		Where("jti = ?", jti).
		Where("revoked_at IS NULL")
	if replacedBy != nil {
		q = q.Set("replaced_by_jti = ?", *replacedBy)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return false, apperr.FromStore("revoke refresh token", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.FromStore("get rows affected", err)
	}
	return n == 1, nil
}

// ListByUser retrieves the tokens of a user, newest first
func (r *BunRefreshTokenRepository) ListByUser(ctx context.Context, userID int64) ([]models.RefreshToken, error) {
	var tokens []models.RefreshToken
	err := r.db.NewSelect().
		Model(&tokens).
		Where("user_id = ?", userID).
		Order("id DESC").
		Scan(ctx)
	if err != nil {
		return nil, apperr.FromStore("list refresh tokens", err)
	}
	return tokens, nil
}
