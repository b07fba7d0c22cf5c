package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/xaman1990/SisCoreApi/internal/logger"
)

const bearerPrefix = "Bearer "

// TokenValidator validates access tokens.
type TokenValidator interface {
	Validate(tokenString string) (*Claims, error)
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < len(bearerPrefix) || !strings.EqualFold(h[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(h[len(bearerPrefix):])
}

// Authenticator requires a valid bearer access token and stores the
// principal in the request context.
func Authenticator(tokens TokenValidator, log *zap.Logger) func(http.Handler) http.Handler {
	log = logger.OrNop(log)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := BearerToken(r)
			if raw == "" {
				unauthorized(w, "authorization header is required")
				return
			}
			claims, err := tokens.Validate(raw)
			if err != nil {
				logger.WithContext(r.Context(), log).Debug("access token rejected", zap.Error(err))
				unauthorized(w, "invalid or expired access token")
				return
			}
			userID, err := claims.UserID()
			if err != nil {
				unauthorized(w, "invalid or expired access token")
				return
			}
			p := Principal{UserID: userID, Email: claims.Email, Roles: claims.Roles, Tenant: claims.Tenant}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="siscore"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
