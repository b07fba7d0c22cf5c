package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned for tokens that fail parsing or verification.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned for correctly signed tokens past their expiry.
	ErrTokenExpired = errors.New("token expired")
)

// Claims are the access token claims. The subject carries the tenant user id
// and Tenant the subdomain the user belongs to.
type Claims struct {
	Email  string   `json:"email,omitempty"`
	Roles  []string `json:"roles"`
	Tenant string   `json:"tenant,omitempty"`
	jwt.RegisteredClaims
}

// UserID parses the subject as a tenant user id.
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: subject is not a user id", ErrInvalidToken)
	}
	return id, nil
}

// TokenConfig holds signing parameters.
type TokenConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

// TokenService issues and validates HS256 access tokens.
type TokenService struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

// NewTokenService creates a token service.
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	return &TokenService{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		now:      time.Now,
	}, nil
}

// Issue signs an access token for userID valid for ttl.
func (s *TokenService) Issue(userID int64, email string, roles []string, ttl time.Duration) (string, error) {
	return s.IssueForTenant("", userID, email, roles, ttl)
}

// IssueForTenant is Issue with the token bound to a tenant subdomain.
func (s *TokenService) IssueForTenant(tenant string, userID int64, email string, roles []string, ttl time.Duration) (string, error) {
	if roles == nil {
		roles = []string{}
	}
	now := s.now().UTC()
	claims := Claims{
		Email:  email,
		Roles:  roles,
		Tenant: tenant,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if s.audience != "" {
		claims.Audience = jwt.ClaimStrings{s.audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

func (s *TokenService) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, ErrInvalidToken
	}
	return s.secret, nil
}

func (s *TokenService) parserOptions() []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	if s.audience != "" {
		opts = append(opts, jwt.WithAudience(s.audience))
	}
	return opts
}

// Validate verifies signature, issuer, audience and expiry.
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, s.keyFunc, s.parserOptions()...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ExtractID returns the subject of a correctly signed token, expired or not.
// Logout and audit paths use it to identify a stale session.
func (s *TokenService) ExtractID(tokenString string) (string, error) {
	claims := &Claims{}
	opts := append(s.parserOptions(), jwt.WithoutClaimsValidation())
	if _, err := jwt.ParseWithClaims(tokenString, claims, s.keyFunc, opts...); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}
