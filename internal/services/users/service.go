// Package users registers and maintains the users of a tenant.
package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/xaman1990/SisCoreApi/internal/apperr"
	"github.com/xaman1990/SisCoreApi/internal/db/models"
	"github.com/xaman1990/SisCoreApi/internal/logger"
	"github.com/xaman1990/SisCoreApi/internal/repository"
	"github.com/xaman1990/SisCoreApi/internal/telemetry"
	"github.com/xaman1990/SisCoreApi/internal/tenancy"
)

const tracerName = "siscore/services/users"

// PasswordHasher hashes plaintext passwords.
type PasswordHasher interface {
	Hash(plain string) (string, error)
}

// RegisterUserInput describes a new user. Email or PhoneNumber is required.
type RegisterUserInput struct {
	Email          string  `json:"email"`
	PhoneNumber    string  `json:"phoneNumber"`
	Password       string  `json:"password"`
	FullName       string  `json:"fullName"`
	EmployeeNumber string  `json:"employeeNumber"`
	RoleIDs        []int64 `json:"roleIds"`
}

// UserPatch changes the non-empty fields of a user.
type UserPatch struct {
	Email          *string `json:"email"`
	PhoneNumber    *string `json:"phoneNumber"`
	FullName       *string `json:"fullName"`
	EmployeeNumber *string `json:"employeeNumber"`
}

// RoleRef names a role membership.
type RoleRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// UserView is a user with its role memberships.
type UserView struct {
	models.User
	Roles []RoleRef `json:"roles"`
}

// Service runs user operations against tenant stores.
type Service struct {
	stores    tenancy.StoreOpener
	passwords PasswordHasher
	log       *zap.Logger
	now       func() time.Time
}

// NewService creates a user service. log may be nil.
func NewService(stores tenancy.StoreOpener, passwords PasswordHasher, log *zap.Logger) *Service {
	return &Service{
		stores:    stores,
		passwords: passwords,
		log:       logger.OrNop(log).Named("users"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func span(ctx context.Context, name string, tc tenancy.TenantContext, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	attrs = append(attrs, attribute.Int64(telemetry.AttrTenantCompanyID, tc.CompanyID))
	ctx, s := telemetry.StartSpan(ctx, tracerName, name, attrs...)
	return ctx, func(err error) {
		if err != nil {
			telemetry.RecordError(s, err)
		}
		s.End()
	}
}

func view(ctx context.Context, repos repository.TenantRepositories, user *models.User) (*UserView, error) {
	roles, err := repos.Roles.RolesForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	refs := make([]RoleRef, 0, len(roles))
	for _, r := range roles {
		refs = append(refs, RoleRef{ID: r.ID, Name: r.Name})
	}
	return &UserView{User: *user, Roles: refs}, nil
}

// existingRoles keeps the ids that name a role. Unknown ids are dropped.
func existingRoles(ctx context.Context, repos repository.TenantRepositories, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	roles, err := repos.Roles.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(roles))
	for _, r := range roles {
		out = append(out, r.ID)
	}
	return out, nil
}

// Register creates an active user with a hashed password and the given role
// memberships.
func (s *Service) Register(ctx context.Context, tc tenancy.TenantContext, in RegisterUserInput, actorID *int64) (out *UserView, err error) {
	ctx, end := span(ctx, "users.Register", tc)
	defer func() { end(err) }()

	email := strings.TrimSpace(in.Email)
	phone := strings.TrimSpace(in.PhoneNumber)
	fullName := strings.TrimSpace(in.FullName)
	switch {
	case email == "" && phone == "":
		return nil, apperr.Conflict("email or phone number is required")
	case fullName == "":
		return nil, apperr.Conflict("full name is required")
	case in.Password == "":
		return nil, apperr.Conflict("password is required")
	}
	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	err = tenancy.WithStore(ctx, s.stores, tc, func(store *tenancy.Store) error {
		return store.InTx(ctx, func(ctx context.Context, repos repository.TenantRepositories) error {
			if email != "" {
				taken, err := repos.Users.EmailExists(ctx, email)
				if err != nil {
					return err
				}
				if taken {
					return apperr.Conflict("email %q is already registered", email)
				}
			}
			if phone != "" {
				taken, err := repos.Users.PhoneExists(ctx, phone)
				if err != nil {
					return err
				}
				if taken {
					return apperr.Conflict("phone number %q is already registered", phone)
				}
			}

			user := &models.User{
				Email:          email,
				PhoneNumber:    phone,
				PasswordHash:   hash,
				FullName:       fullName,
				EmployeeNumber: strings.TrimSpace(in.EmployeeNumber),
				Status:         models.StatusActive,
				CreatedAt:      now,
				CreatedBy:      actorID,
			}
			if err := repos.Users.Create(ctx, user); err != nil {
				return err
			}
			roleIDs, err := existingRoles(ctx, repos, in.RoleIDs)
			if err != nil {
				return err
			}
			if err := repos.Roles.ReplaceUserRoles(ctx, user.ID, roleIDs, actorID, now); err != nil {
				return err
			}
			out, err = view(ctx, repos, user)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	logger.WithContext(ctx, s.log).Info("user registered",
		zap.Int64("company_id", tc.CompanyID),
		zap.Int64("user_id", out.ID),
		zap.Int("roles", len(out.Roles)),
	)
	return out, nil
}

// Get returns a user with its roles.
func (s *Service) Get(ctx context.Context, tc tenancy.TenantContext, id int64) (out *UserView, err error) {
	ctx, end := span(ctx, "users.Get", tc, attribute.Int64(telemetry.AttrUserID, id))
	defer func() { end(err) }()

	err = tenancy.WithStore(ctx, s.stores, tc, func(store *tenancy.Store) error {
		repos := store.Repos()
		user, err := repos.Users.GetByID(ctx, id)
		if err != nil {
			return err
		}
		out, err = view(ctx, repos, user)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// List returns active users, or every user when includeInactive is set.
func (s *Service) List(ctx context.Context, tc tenancy.TenantContext, includeInactive bool) (out []UserView, err error) {
	ctx, end := span(ctx, "users.List", tc)
	defer func() { end(err) }()

	err = tenancy.WithStore(ctx, s.stores, tc, func(store *tenancy.Store) error {
		repos := store.Repos()
		users, err := repos.Users.List(ctx, includeInactive)
		if err != nil {
			return err
		}
		out = make([]UserView, 0, len(users))
		for i := range users {
			v, err := view(ctx, repos, &users[i])
			if err != nil {
				return err
			}
			out = append(out, *v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update changes contact details and names. Empty values are ignored and a
// contact already used by another user is a conflict.
func (s *Service) Update(ctx context.Context, tc tenancy.TenantContext, id int64, patch UserPatch) (out *UserView, err error) {
	ctx, end := span(ctx, "users.Update", tc, attribute.Int64(telemetry.AttrUserID, id))
	defer func() { end(err) }()

	now := s.now()
	err = tenancy.WithStore(ctx, s.stores, tc, func(store *tenancy.Store) error {
		return store.InTx(ctx, func(ctx context.Context, repos repository.TenantRepositories) error {
			user, err := repos.Users.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if v := trimmed(patch.Email); v != "" && !strings.EqualFold(v, user.Email) {
				taken, err := repos.Users.EmailExists(ctx, v)
				if err != nil {
					return err
				}
				if taken {
					return apperr.Conflict("email %q is already registered", v)
				}
				user.Email = strings.ToLower(v)
			}
			if v := trimmed(patch.PhoneNumber); v != "" && v != user.PhoneNumber {
				taken, err := repos.Users.PhoneExists(ctx, v)
				if err != nil {
					return err
				}
				if taken {
					return apperr.Conflict("phone number %q is already registered", v)
				}
				user.PhoneNumber = v
			}
			if v := trimmed(patch.FullName); v != "" {
				user.FullName = v
			}
			if v := trimmed(patch.EmployeeNumber); v != "" {
				user.EmployeeNumber = v
			}
			user.UpdatedAt = &now
			if err := repos.Users.Update(ctx, user,
				"email", "phone_number", "full_name", "employee_number", "updated_at"); err != nil {
				return err
			}
			out, err = view(ctx, repos, user)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AssignRoles replaces the role memberships of a user. Unknown role ids are
// ignored.
func (s *Service) AssignRoles(ctx context.Context, tc tenancy.TenantContext, userID int64, roleIDs []int64, actorID *int64) (out *UserView, err error) {
	ctx, end := span(ctx, "users.AssignRoles", tc, attribute.Int64(telemetry.AttrUserID, userID))
	defer func() { end(err) }()

	now := s.now()
	err = tenancy.WithStore(ctx, s.stores, tc, func(store *tenancy.Store) error {
		return store.InTx(ctx, func(ctx context.Context, repos repository.TenantRepositories) error {
			user, err := repos.Users.GetByID(ctx, userID)
			if err != nil {
				return err
			}
			ids, err := existingRoles(ctx, repos, roleIDs)
			if err != nil {
				return err
			}
			if err := repos.Roles.ReplaceUserRoles(ctx, userID, ids, actorID, now); err != nil {
				return err
			}
			out, err = view(ctx, repos, user)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	logger.WithContext(ctx, s.log).Info("user roles replaced",
		zap.Int64("company_id", tc.CompanyID),
		zap.Int64("user_id", userID),
		zap.Int("roles", len(out.Roles)),
	)
	return out, nil
}

// Deactivate sets a user inactive. It reports false when the user does not
// exist.
func (s *Service) Deactivate(ctx context.Context, tc tenancy.TenantContext, id int64) (done bool, err error) {
	ctx, end := span(ctx, "users.Deactivate", tc, attribute.Int64(telemetry.AttrUserID, id))
	defer func() { end(err) }()

	now := s.now()
	err = tenancy.WithStore(ctx, s.stores, tc, func(store *tenancy.Store) error {
		return store.InTx(ctx, func(ctx context.Context, repos repository.TenantRepositories) error {
			user, err := repos.Users.GetByID(ctx, id)
			if err != nil {
				return err
			}
			user.Status = models.StatusInactive
			user.UpdatedAt = &now
			return repos.Users.Update(ctx, user, "status", "updated_at")
		})
	})
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func trimmed(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
