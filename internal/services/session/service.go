// Package session logs tenant users in and rotates their refresh tokens.
//
// A refresh token is Active until it is revoked or expires. Refreshing
// revokes the presented token, records the successor's jti on it and
// inserts the successor, all in one transaction, so a rotation chain never
// holds two Active tokens. Every login or refresh miss is reported as
// apperr.ErrInvalidCredentials without saying why.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/xaman1990/SisCoreApi/internal/apperr"
	"github.com/xaman1990/SisCoreApi/internal/db/bunx"
	"github.com/xaman1990/SisCoreApi/internal/db/models"
	"github.com/xaman1990/SisCoreApi/internal/logger"
	"github.com/xaman1990/SisCoreApi/internal/repository"
	"github.com/xaman1990/SisCoreApi/internal/telemetry"
	"github.com/xaman1990/SisCoreApi/internal/tenancy"
)

const tracerName = "siscore/services/session"

// TokenIssuer signs access tokens bound to a tenant.
type TokenIssuer interface {
	IssueForTenant(tenant string, userID int64, email string, roles []string, ttl time.Duration) (string, error)
}

// PasswordVerifier checks a plaintext password against a stored hash.
type PasswordVerifier interface {
	Verify(plain, hash string) bool
}

// Config holds token lifetimes.
type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// LoginInput identifies the user by Email or, when Email is empty, by Phone.
type LoginInput struct {
	Email      string `json:"email"`
	Phone      string `json:"phoneNumber"`
	Password   string `json:"password"`
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
}

// ClientInfo is the network metadata of the caller.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// RefreshInput overrides the metadata carried over from the presented token.
type RefreshInput struct {
	DeviceID  string
	IP        string
	UserAgent string
}

// UserInfo describes the logged in user.
type UserInfo struct {
	ID          int64    `json:"id"`
	FullName    string   `json:"fullName"`
	Email       string   `json:"email,omitempty"`
	PhoneNumber string   `json:"phoneNumber,omitempty"`
	Roles       []string `json:"roles"`
	MfaEnabled  bool     `json:"mfaEnabled"`
}

// Session is the outcome of a login or refresh.
type Session struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	User         UserInfo  `json:"user"`
}

// Service implements login, refresh and logout against tenant stores.
type Service struct {
	stores    tenancy.StoreOpener
	tokens    TokenIssuer
	passwords PasswordVerifier
	cfg       Config
	metrics   *telemetry.Metrics
	log       *zap.Logger
	now       func() time.Time
}

// NewService creates a session service. metrics and log may be nil.
func NewService(stores tenancy.StoreOpener, tokens TokenIssuer, passwords PasswordVerifier, cfg Config, metrics *telemetry.Metrics, log *zap.Logger) *Service {
	return &Service{
		stores:    stores,
		tokens:    tokens,
		passwords: passwords,
		cfg:       cfg,
		metrics:   metrics,
		log:       logger.OrNop(log).Named("session"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// invalid collapses lookup misses into the uniform credentials error and
// lets store failures through.
func invalid(err error) error {
	if err == nil || errors.Is(err, apperr.ErrNotFound) {
		return apperr.InvalidCredentials()
	}
	return err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, apperr.ErrInvalidCredentials):
		return "invalid"
	default:
		return "error"
	}
}

// roleNames returns the names of the user's active roles.
func roleNames(ctx context.Context, repos repository.TenantRepositories, userID int64) ([]string, error) {
	roles, err := repos.Roles.RolesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		if r.Status == models.StatusActive {
			names = append(names, r.Name)
		}
	}
	return names, nil
}

func (s *Service) issue(tc tenancy.TenantContext, user *models.User, roles []string, refresh *models.RefreshToken) (*Session, error) {
	access, err := s.tokens.IssueForTenant(tc.Subdomain, user.ID, user.Email, roles, s.cfg.AccessTTL)
	if err != nil {
		return nil, err
	}
	return &Session{
		AccessToken:  access,
		RefreshToken: refresh.Jti,
		ExpiresAt:    refresh.ExpiresAt,
		User: UserInfo{
			ID:          user.ID,
			FullName:    user.FullName,
			Email:       user.Email,
			PhoneNumber: user.PhoneNumber,
			Roles:       roles,
			MfaEnabled:  user.MfaEnabled,
		},
	}, nil
}

// Login authenticates an active user and opens a new rotation chain.
// Users without a password hash (OAuth-only) are not asked for one.
func (s *Service) Login(ctx context.Context, tc tenancy.TenantContext, in LoginInput, client ClientInfo) (out *Session, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "session.Login",
		attribute.Int64(telemetry.AttrTenantCompanyID, tc.CompanyID),
	)
	defer func() {
		s.metrics.RecordAuth("login", outcome(err))
		if err != nil {
			telemetry.RecordError(span, err)
		}
		span.End()
	}()

	email := strings.TrimSpace(in.Email)
	phone := strings.TrimSpace(in.Phone)
	if email == "" && phone == "" {
		return nil, apperr.InvalidCredentials()
	}

	now := s.now()
	err = tenancy.WithStore(ctx, s.stores, tc, func(store *tenancy.Store) error {
		return store.InTx(ctx, func(ctx context.Context, repos repository.TenantRepositories) error {
			var user *models.User
			var err error
			if email != "" {
				user, err = repos.Users.GetActiveByEmail(ctx, email)
			} else {
				user, err = repos.Users.GetActiveByPhone(ctx, phone)
			}
			if err != nil {
				return invalid(err)
			}
			if !s.passwords.Verify(in.Password, user.PasswordHash) {
				return apperr.InvalidCredentials()
			}

			roles, err := roleNames(ctx, repos, user.ID)
			if err != nil {
				return err
			}
			refresh := &models.RefreshToken{
				UserID:     user.ID,
				Jti:        bunx.NewJTI(),
				DeviceID:   strings.TrimSpace(in.DeviceID),
				DeviceName: strings.TrimSpace(in.DeviceName),
				IPAddress:  client.IP,
				UserAgent:  client.UserAgent,
				ExpiresAt:  now.Add(s.cfg.RefreshTTL),
				CreatedAt:  now,
			}
			if err := repos.Tokens.Create(ctx, refresh); err != nil {
				return err
			}
			user.LastLoginAt = &now
			if err := repos.Users.Update(ctx, user, "last_login_at"); err != nil {
				return err
			}
			out, err = s.issue(tc, user, roles, refresh)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int64(telemetry.AttrUserID, out.User.ID))
	logger.WithContext(ctx, s.log).Info("user logged in",
		zap.Int64("company_id", tc.CompanyID),
		zap.Int64("user_id", out.User.ID),
	)
	return out, nil
}

// Refresh exchanges an Active refresh token for a new session. The
// presented token is revoked only if nobody revoked it first, so two
// concurrent refreshes of the same token cannot both succeed.
func (s *Service) Refresh(ctx context.Context, tc tenancy.TenantContext, jti string, in RefreshInput) (out *Session, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "session.Refresh",
		attribute.Int64(telemetry.AttrTenantCompanyID, tc.CompanyID),
	)
	defer func() {
		s.metrics.RecordAuth("refresh", outcome(err))
		if err != nil {
			telemetry.RecordError(span, err)
		}
		span.End()
	}()

	jti = strings.TrimSpace(jti)
	if jti == "" {
		return nil, apperr.InvalidCredentials()
	}

	now := s.now()
	err = tenancy.WithStore(ctx, s.stores, tc, func(store *tenancy.Store) error {
		return store.InTx(ctx, func(ctx context.Context, repos repository.TenantRepositories) error {
			old, err := repos.Tokens.GetByJti(ctx, jti)
			if err != nil {
				return invalid(err)
			}
			if !old.IsActive(now) {
				return apperr.InvalidCredentials()
			}
			user, err := repos.Users.GetByID(ctx, old.UserID)
			if err != nil {
				return invalid(err)
			}
			if !user.IsActive() {
				return apperr.InvalidCredentials()
			}

			next := &models.RefreshToken{
				UserID:     user.ID,
				Jti:        bunx.NewJTI(),
				DeviceID:   firstNonEmpty(in.DeviceID, old.DeviceID),
				DeviceName: old.DeviceName,
				IPAddress:  firstNonEmpty(in.IP, old.IPAddress),
				UserAgent:  firstNonEmpty(in.UserAgent, old.UserAgent),
				ExpiresAt:  now.Add(s.cfg.RefreshTTL),
				CreatedAt:  now,
			}
			revoked, err := repos.Tokens.Revoke(ctx, old.Jti, now, &next.Jti)
			if err != nil {
				return err
			}
			if !revoked {
				return apperr.InvalidCredentials()
			}
			if err := repos.Tokens.Create(ctx, next); err != nil {
				return err
			}

			roles, err := roleNames(ctx, repos, user.ID)
			if err != nil {
				return err
			}
			out, err = s.issue(tc, user, roles, next)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Logout revokes a refresh token. It reports false when the token does not
// exist or was already revoked.
func (s *Service) Logout(ctx context.Context, tc tenancy.TenantContext, jti string) (revoked bool, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "session.Logout",
		attribute.Int64(telemetry.AttrTenantCompanyID, tc.CompanyID),
	)
	defer func() {
		if err != nil {
			telemetry.RecordError(span, err)
		}
		span.End()
	}()

	jti = strings.TrimSpace(jti)
	if jti == "" {
		return false, nil
	}
	err = tenancy.WithStore(ctx, s.stores, tc, func(store *tenancy.Store) error {
		var err error
		revoked, err = store.Repos().Tokens.Revoke(ctx, jti, s.now(), nil)
		return err
	})
	if err != nil {
		return false, err
	}
	s.metrics.RecordAuth("logout", outcome(nil))
	return revoked, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
