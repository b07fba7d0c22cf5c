package tenancy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/xaman1990/SisCoreApi/internal/apperr"
	"github.com/xaman1990/SisCoreApi/internal/logger"
)

// TenantResolver is the subset of Resolver used by Middleware.
type TenantResolver interface {
	Resolve(ctx context.Context, meta RequestMetadata) (TenantContext, error)
}

// Middleware resolves the tenant once per request and stores it in the
// request context. Unresolved tenants get 400, store failures 503; the body
// never names the company that was looked up.
func Middleware(resolver TenantResolver, log *zap.Logger) func(http.Handler) http.Handler {
	log = logger.OrNop(log)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tc, err := resolver.Resolve(r.Context(), MetadataFromRequest(r))
			if err != nil {
				status := http.StatusBadRequest
				msg := apperr.ErrTenantUnresolved.Error()
				if errors.Is(apperr.Kind(err), apperr.ErrUnavailable) {
					status = http.StatusServiceUnavailable
					msg = "service temporarily unavailable"
				}
				logger.WithContext(r.Context(), log).Debug("tenant resolution failed",
					zap.String("path", r.URL.Path), zap.Error(err))
				writeJSONError(w, status, msg)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), tc)))
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
