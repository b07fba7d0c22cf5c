package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xaman1990/SisCoreApi/internal/apperr"
	"github.com/xaman1990/SisCoreApi/internal/auth"
	"github.com/xaman1990/SisCoreApi/internal/logger"
	"github.com/xaman1990/SisCoreApi/internal/tenancy"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// errBadRequest marks malformed input detected by the HTTP layer itself.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

type errorBody struct {
	Error string `json:"error"`
}

type messageBody struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// statusFor maps an error kind to its HTTP status. Untagged errors are 500.
func statusFor(err error) int {
	if errors.Is(err, errBadRequest) {
		return http.StatusBadRequest
	}
	switch apperr.Kind(err) {
	case apperr.ErrTenantUnresolved:
		return http.StatusBadRequest
	case apperr.ErrNotFound:
		return http.StatusNotFound
	case apperr.ErrConflict:
		return http.StatusConflict
	case apperr.ErrUnauthorized:
		return http.StatusForbidden
	case apperr.ErrInvalidCredentials:
		return http.StatusUnauthorized
	case apperr.ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err as a JSON error body. Server-side failures never
// expose their text; they are logged instead.
func writeError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		logger.WithContext(r.Context(), log).Error("request failed",
			zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
		msg = "internal server error"
	case http.StatusServiceUnavailable:
		logger.WithContext(r.Context(), log).Warn("store unavailable",
			zap.String("path", r.URL.Path), zap.Error(err))
		msg = "service temporarily unavailable"
	case http.StatusBadRequest:
		if apperr.Kind(err) == apperr.ErrTenantUnresolved {
			msg = apperr.ErrTenantUnresolved.Error()
		}
	case http.StatusUnauthorized:
		msg = apperr.ErrInvalidCredentials.Error()
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid %s %q", name, raw)
	}
	return id, nil
}

func queryID(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, badRequest("invalid %s %q", name, raw)
	}
	return &id, nil
}

func queryBool(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}

// tenantOf returns the tenant resolved by tenancy.Middleware.
func tenantOf(r *http.Request) (tenancy.TenantContext, error) {
	tc, ok := tenancy.FromContext(r.Context())
	if !ok {
		return tenancy.TenantContext{}, apperr.TenantUnresolved(errors.New("no tenant on request"))
	}
	return tc, nil
}

// actorOf returns the authenticated user id, or nil for anonymous requests.
func actorOf(r *http.Request) *int64 {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		return nil
	}
	id := p.UserID
	return &id
}

// tenantFunc serves one tenant-scoped request. A nil body with a 2xx status
// writes no payload.
type tenantFunc func(r *http.Request, tc tenancy.TenantContext) (status int, body any, err error)

func tenantHandler(log *zap.Logger, fn tenantFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tc, err := tenantOf(r)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		status, body, err := fn(r, tc)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		if body == nil {
			w.WriteHeader(status)
			return
		}
		writeJSON(w, status, body)
	}
}

// deletedOr404 turns a false outcome of a delete or restore into NotFound.
func deletedOr404(ok bool, err error, format string, args ...any) (int, any, error) {
	if err != nil {
		return 0, nil, err
	}
	if !ok {
		return 0, nil, apperr.NotFound(format, args...)
	}
	return http.StatusNoContent, nil, nil
}
