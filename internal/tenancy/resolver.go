package tenancy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/xaman1990/SisCoreApi/internal/apperr"
	"github.com/xaman1990/SisCoreApi/internal/config"
	"github.com/xaman1990/SisCoreApi/internal/db/models"
	"github.com/xaman1990/SisCoreApi/internal/logger"
	"github.com/xaman1990/SisCoreApi/internal/telemetry"
)

// CompanyLookup finds active companies by subdomain.
type CompanyLookup interface {
	ActiveBySubdomain(ctx context.Context, label string) (*models.Company, error)
}

// RequestMetadata is the part of an inbound request used to find its tenant.
type RequestMetadata struct {
	Header http.Header
	Query  url.Values
	Host   string
}

// MetadataFromRequest extracts resolution inputs from r.
func MetadataFromRequest(r *http.Request) RequestMetadata {
	return RequestMetadata{Header: r.Header, Query: r.URL.Query(), Host: r.Host}
}

// Resolver maps request metadata to a TenantContext.
type Resolver struct {
	companies CompanyLookup
	cfg       config.TenancyConfig
	metrics   *telemetry.Metrics
	log       *zap.Logger
}

// NewResolver creates a resolver. metrics may be nil.
func NewResolver(companies CompanyLookup, cfg config.TenancyConfig, metrics *telemetry.Metrics, log *zap.Logger) *Resolver {
	return &Resolver{
		companies: companies,
		cfg:       cfg,
		metrics:   metrics,
		log:       logger.OrNop(log).Named("tenancy.resolver"),
	}
}

// Label picks the tenant label from, in order, the configured header, the
// configured query parameter and the host's subdomain.
func (r *Resolver) Label(meta RequestMetadata) string {
	if r.cfg.Header != "" && meta.Header != nil {
		if v := strings.TrimSpace(meta.Header.Get(r.cfg.Header)); v != "" {
			return strings.ToLower(v)
		}
	}
	if r.cfg.QueryParam != "" && meta.Query != nil {
		if v := strings.TrimSpace(meta.Query.Get(r.cfg.QueryParam)); v != "" {
			return strings.ToLower(v)
		}
	}
	return subdomainOf(meta.Host, r.cfg.BaseDomain)
}

// subdomainOf returns the label of host directly left of baseDomain, so
// www.acme.<base> yields "acme". Hosts outside baseDomain yield "".
func subdomainOf(host, baseDomain string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	base := strings.ToLower(strings.Trim(baseDomain, ". "))
	if host == "" || base == "" || host == base {
		return ""
	}
	rest, ok := strings.CutSuffix(host, "."+base)
	if !ok || rest == "" {
		return ""
	}
	if i := strings.LastIndex(rest, "."); i >= 0 {
		rest = rest[i+1:]
	}
	return rest
}

// Resolve establishes the tenant of a request. Failures to find a tenant
// wrap apperr.ErrTenantUnresolved; store failures are apperr.ErrUnavailable.
func (r *Resolver) Resolve(ctx context.Context, meta RequestMetadata) (TenantContext, error) {
	label := r.Label(meta)
	if label == "" {
		r.metrics.RecordTenantResolution("unresolved")
		return TenantContext{}, apperr.TenantUnresolved(apperr.NotFound("no tenant label in request"))
	}

	company, err := r.companies.ActiveBySubdomain(ctx, label)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			r.metrics.RecordTenantResolution("unresolved")
			return TenantContext{}, apperr.TenantUnresolved(err)
		}
		r.metrics.RecordTenantResolution("unavailable")
		r.log.Warn("tenant lookup failed", zap.String("label", label), zap.Error(err))
		if errors.Is(err, apperr.ErrUnavailable) {
			return TenantContext{}, err
		}
		return TenantContext{}, apperr.Unavailable("resolve tenant", err)
	}

	tc, err := NewTenantContext(company, r.cfg.DefaultOptions)
	if err != nil {
		r.metrics.RecordTenantResolution("unresolved")
		r.log.Error("company has an unusable connection descriptor",
			zap.Int64("company_id", company.ID), zap.Error(err))
		return TenantContext{}, apperr.TenantUnresolved(err)
	}
	r.metrics.RecordTenantResolution("resolved")
	return tc, nil
}
