package tenancy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xaman1990/SisCoreApi/internal/apperr"
	"github.com/xaman1990/SisCoreApi/internal/config"
	"github.com/xaman1990/SisCoreApi/internal/db/models"
)

type stubLookup struct {
	companies map[string]*models.Company
	err       error
	calls     []string
}

func (s *stubLookup) ActiveBySubdomain(_ context.Context, label string) (*models.Company, error) {
	s.calls = append(s.calls, label)
	if s.err != nil {
		return nil, s.err
	}
	c, ok := s.companies[label]
	if !ok {
		return nil, apperr.NotFound("active company not found: %s", label)
	}
	return c, nil
}

func testTenancyConfig() config.TenancyConfig {
	return config.TenancyConfig{
		Header:         "X-Tenant",
		QueryParam:     "tenant",
		BaseDomain:     "siscore.app",
		DefaultOptions: "sslmode=disable",
	}
}

func acmeLookup() *stubLookup {
	return &stubLookup{companies: map[string]*models.Company{
		"acme": {ID: 7, Subdomain: "acme", DbDriver: models.DriverSQLite, DbName: "acme.db", Status: models.CompanyActive},
	}}
}

func TestResolver_LabelPrecedence(t *testing.T) {
	t.Parallel()
	r := NewResolver(acmeLookup(), testTenancyConfig(), nil, nil)

	tests := []struct {
		name string
		meta RequestMetadata
		want string
	}{
		{
			name: "header first",
			meta: RequestMetadata{
				Header: http.Header{"X-Tenant": {"Acme"}},
				Query:  url.Values{"tenant": {"other"}},
				Host:   "third.siscore.app",
			},
			want: "acme",
		},
		{
			name: "query second",
			meta: RequestMetadata{Query: url.Values{"tenant": {"other"}}, Host: "third.siscore.app"},
			want: "other",
		},
		{
			name: "host subdomain with port",
			meta: RequestMetadata{Host: "third.siscore.app:8080"},
			want: "third",
		},
		{
			name: "nested subdomain takes the label next to the base",
			meta: RequestMetadata{Host: "www.acme.siscore.app"},
			want: "acme",
		},
		{
			name: "bare base domain",
			meta: RequestMetadata{Host: "siscore.app"},
			want: "",
		},
		{
			name: "foreign host",
			meta: RequestMetadata{Host: "acme.example.com"},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Label(tt.meta))
		})
	}
}

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("resolves active company", func(t *testing.T) {
		r := NewResolver(acmeLookup(), testTenancyConfig(), nil, nil)
		tc, err := r.Resolve(ctx, RequestMetadata{Host: "ACME.siscore.app"})
		require.NoError(t, err)
		assert.Equal(t, int64(7), tc.CompanyID)
		assert.Equal(t, "file:acme.db", tc.ConnectionString)
		assert.Equal(t, models.DriverSQLite, tc.Driver)
	})

	t.Run("no label", func(t *testing.T) {
		lookup := acmeLookup()
		r := NewResolver(lookup, testTenancyConfig(), nil, nil)
		_, err := r.Resolve(ctx, RequestMetadata{Host: "localhost"})
		require.ErrorIs(t, err, apperr.ErrTenantUnresolved)
		assert.Empty(t, lookup.calls)
	})

	t.Run("unknown company", func(t *testing.T) {
		r := NewResolver(acmeLookup(), testTenancyConfig(), nil, nil)
		_, err := r.Resolve(ctx, RequestMetadata{Header: http.Header{"X-Tenant": {"ghost"}}})
		require.ErrorIs(t, err, apperr.ErrTenantUnresolved)
		assert.Equal(t, apperr.ErrTenantUnresolved, apperr.Kind(err))
	})

	t.Run("store failure", func(t *testing.T) {
		lookup := &stubLookup{err: errors.New("connection refused")}
		r := NewResolver(lookup, testTenancyConfig(), nil, nil)
		_, err := r.Resolve(ctx, RequestMetadata{Header: http.Header{"X-Tenant": {"acme"}}})
		require.ErrorIs(t, err, apperr.ErrUnavailable)
	})
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	var seen TenantContext
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc, ok := FromContext(r.Context())
		require.True(t, ok)
		seen = tc
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("stores tenant in context", func(t *testing.T) {
		h := Middleware(NewResolver(acmeLookup(), testTenancyConfig(), nil, nil), nil)(next)
		req := httptest.NewRequest(http.MethodGet, "/api/roles?tenant=acme", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, int64(7), seen.CompanyID)
	})

	t.Run("unresolved is 400 without details", func(t *testing.T) {
		h := Middleware(NewResolver(acmeLookup(), testTenancyConfig(), nil, nil), nil)(next)
		req := httptest.NewRequest(http.MethodGet, "/api/roles?tenant=ghost", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.NotContains(t, rec.Body.String(), "ghost")
	})

	t.Run("store failure is 503", func(t *testing.T) {
		lookup := &stubLookup{err: errors.New("boom")}
		h := Middleware(NewResolver(lookup, testTenancyConfig(), nil, nil), nil)(next)
		req := httptest.NewRequest(http.MethodGet, "/api/roles?tenant=acme", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
