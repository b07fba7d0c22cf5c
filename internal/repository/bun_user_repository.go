package repository

import (
	"context"
	"strings"

	"github.com/uptrace/bun"
	"github.com/xaman1990/SisCoreApi/internal/apperr"
	"github.com/xaman1990/SisCoreApi/internal/db/models"
)

// BunUserRepository implements UserRepository using Bun ORM
type BunUserRepository struct {
	db bun.IDB
}

// NewBunUserRepository creates a new Bun-based user repository
func NewBunUserRepository(db bun.IDB) UserRepository {
	return &BunUserRepository{db: db}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create inserts a new user
func (r *BunUserRepository) Create(ctx context.Context, user *models.User) error {
	user.Email = normalizeEmail(user.Email)
	user.PhoneNumber = strings.TrimSpace(user.PhoneNumber)
	_, err := r.db.NewInsert().
		Model(user).
		Exec(ctx)
	if err != nil {
		return apperr.FromStore("create user", err)
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *BunUserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	user := new(models.User)
	err := r.db.NewSelect().
		Model(user).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, lookupErr(err, "get user", "user not found: %d", id)
	}
	return user, nil
}

// GetActiveByEmail retrieves an active user by email (case-insensitive)
func (r *BunUserRepository) GetActiveByEmail(ctx context.Context, email string) (*models.User, error) {
	user := new(models.User)
	err := r.db.NewSelect().
		Model(user).
		Where("email = ?", normalizeEmail(email)).
		Where("status = ?", models.StatusActive).
		Scan(ctx)
	if err != nil {
		return nil, lookupErr(err, "get user by email", "active user not found: %s", email)
	}
	return user, nil
}

// GetActiveByPhone retrieves an active user by phone number
func (r *BunUserRepository) GetActiveByPhone(ctx context.Context, phone string) (*models.User, error) {
	user := new(models.User)
	err := r.db.NewSelect().
		Model(user).
		Where("phone_number = ?", strings.TrimSpace(phone)).
		Where("status = ?", models.StatusActive).
		Scan(ctx)
	if err != nil {
		return nil, lookupErr(err, "get user by phone", "active user not found: %s", phone)
	}
	return user, nil
}

// EmailExists checks whether a user already uses email
func (r *BunUserRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	exists, err := r.db.NewSelect().
		Model((*models.User)(nil)).
		Where("email = ?", normalizeEmail(email)).
		Exists(ctx)
	if err != nil {
		return false, apperr.FromStore("check user email", err)
	}
	return exists, nil
}

// PhoneExists checks whether a user already uses phone
func (r *BunUserRepository) PhoneExists(ctx context.Context, phone string) (bool, error) {
	exists, err := r.db.NewSelect().
		Model((*models.User)(nil)).
		Where("phone_number = ?", strings.TrimSpace(phone)).
		Exists(ctx)
	if err != nil {
		return false, apperr.FromStore("check user phone", err)
	}
	return exists, nil
}

// List retrieves users ordered by full name
func (r *BunUserRepository) List(ctx context.Context, includeInactive bool) ([]models.User, error) {
	var users []models.User
	q := r.db.NewSelect().
		Model(&users).
		Order("full_name ASC", "id ASC")
	if !includeInactive {
		q = q.Where("status = ?", models.StatusActive)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, apperr.FromStore("list users", err)
	}
	return users, nil
}

// Update writes the given columns (all columns when none are given)
func (r *BunUserRepository) Update(ctx context.Context, user *models.User, columns ...string) error {
	q := r.db.NewUpdate().
		Model(user).
		WherePK()
	if len(columns) > 0 {
		q = q.Column(columns...)
	} else {
		q = q.ExcludeColumn("id", "created_at", "created_by")
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return apperr.FromStore("update user", err)
	}
	return requireAffected(res, "user not found: %d", user.ID)
}
