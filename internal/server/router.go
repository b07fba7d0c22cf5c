// Package server exposes the back-office services over HTTP.
package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/xaman1990/SisCoreApi/internal/apperr"
	"github.com/xaman1990/SisCoreApi/internal/auth"
	"github.com/xaman1990/SisCoreApi/internal/logger"
	"github.com/xaman1990/SisCoreApi/internal/services/catalog"
	"github.com/xaman1990/SisCoreApi/internal/services/master"
	"github.com/xaman1990/SisCoreApi/internal/services/permissions"
	"github.com/xaman1990/SisCoreApi/internal/services/roles"
	"github.com/xaman1990/SisCoreApi/internal/services/session"
	"github.com/xaman1990/SisCoreApi/internal/services/users"
	"github.com/xaman1990/SisCoreApi/internal/telemetry"
	"github.com/xaman1990/SisCoreApi/internal/tenancy"
)

// RouterOptions controls the construction of the HTTP router. Route groups
// whose service is nil are not mounted.
type RouterOptions struct {
	Resolver    tenancy.TenantResolver
	Tokens      auth.TokenValidator
	Registry    *tenancy.Registry
	Sessions    *session.Service
	Permissions *permissions.Engine
	Catalog     *catalog.Manager
	Roles       *roles.Service
	Users       *users.Service
	Master      *master.Authority
	Metrics     *telemetry.Metrics
	Logger      *zap.Logger
	CORSOptions *cors.Options
	// Middleware is applied after the shared middleware and before routing.
	Middleware []func(http.Handler) http.Handler
}

// DefaultCORSOptions returns the development CORS policy for origins.
func DefaultCORSOptions(origins []string) cors.Options {
	return cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Tenant", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// NewRouter assembles the chi router: shared middleware, health and metrics
// endpoints, and the tenant-scoped /api tree.
func NewRouter(opts RouterOptions) chi.Router {
	log := logger.OrNop(opts.Logger).Named("http")
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log, opts.Metrics))
	r.Use(middleware.Recoverer)

	corsCfg := DefaultCORSOptions(nil)
	if opts.CORSOptions != nil {
		corsCfg = *opts.CORSOptions
	}
	r.Use(cors.Handler(corsCfg))

	for _, mw := range opts.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.Get("/healthz", healthHandler)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}
	if opts.Resolver == nil {
		log.Warn("no tenant resolver configured, /api is not mounted")
		return r
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(tenancy.Middleware(opts.Resolver, log))

		authn := func(next http.Handler) http.Handler { return next }
		if opts.Tokens != nil {
			validate := auth.Authenticator(opts.Tokens, log)
			authn = func(next http.Handler) http.Handler { return validate(requireSameTenant(next)) }
		} else {
			log.Warn("no token validator configured, protected routes are not mounted")
		}

		if opts.Sessions != nil {
			h := &authHandlers{sessions: opts.Sessions, log: log}
			api.Route("/auth", func(ar chi.Router) {
				ar.Post("/login", h.login)
				ar.Post("/refresh", h.refresh)
				ar.Post("/logout", h.logout)
				if opts.Tokens != nil {
					ar.With(authn).Get("/me", h.me)
					ar.With(authn).Get("/validate", h.validate)
				}
			})
		}
		if opts.Tokens == nil {
			return
		}

		api.Group(func(p chi.Router) {
			p.Use(authn)
			if opts.Permissions != nil && opts.Catalog != nil {
				h := &permissionHandlers{engine: opts.Permissions, catalog: opts.Catalog, log: log}
				p.Route("/permissions", h.mount)
			}
			if opts.Catalog != nil {
				h := &moduleHandlers{catalog: opts.Catalog, engine: opts.Permissions, log: log}
				p.Route("/modules", h.mount)
			}
			if opts.Roles != nil {
				h := &roleHandlers{roles: opts.Roles, log: log}
				p.Route("/roles", h.mount)
			}
			if opts.Users != nil {
				h := &userHandlers{users: opts.Users, log: log}
				p.Route("/users", h.mount)
			}
			if opts.Master != nil && opts.Registry != nil {
				h := &masterHandlers{authority: opts.Master, registry: opts.Registry, log: log}
				p.Route("/master", h.mount)
			}
		})
	})
	return r
}

// requireSameTenant rejects access tokens issued by another tenant.
func requireSameTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := auth.PrincipalFromContext(r.Context())
		tc, ok := tenancy.FromContext(r.Context())
		if p.Tenant != "" && ok && !strings.EqualFold(p.Tenant, tc.Subdomain) {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: apperr.ErrInvalidCredentials.Error()})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs every request through zap and records it in metrics
// under its route pattern.
func requestLogger(log *zap.Logger, metrics *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			elapsed := time.Since(start)
			metrics.RecordRequest(r.Method, route, status, elapsed)
			logger.WithContext(r.Context(), log).Info("request",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", elapsed),
				zap.String("remote", r.RemoteAddr),
			)
		})
	}
}
