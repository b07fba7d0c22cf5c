// Package tenancy resolves the tenant of a request and opens its isolated
// store.
//
// A TenantContext is an immutable value. It is resolved once per request by
// Middleware, stored in the request context, and then passed explicitly to
// every service call. Nothing in this package keeps per-tenant state between
// calls.
package tenancy

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/xaman1990/SisCoreApi/internal/db/models"
)

const redactedSecret = "***"

// TenantContext identifies a resolved tenant and how to reach its store.
type TenantContext struct {
	CompanyID        int64
	Subdomain        string
	Driver           string
	ConnectionString string
}

// Valid reports whether the context can be used to open a store.
func (tc *TenantContext) Valid() bool {
	return tc != nil && tc.CompanyID > 0 && tc.ConnectionString != ""
}

// Redacted returns the connection string with its password masked.
func (tc TenantContext) Redacted() string {
	if tc.Driver == models.DriverSQLite {
		return tc.ConnectionString
	}
	u, err := url.Parse(tc.ConnectionString)
	if err != nil {
		return redactedSecret
	}
	if _, has := u.User.Password(); !has {
		return u.String()
	}
	return strings.Replace(u.Redacted(), ":xxxxx@", ":"+redactedSecret+"@", 1)
}

// MarshalLogObject makes a TenantContext safe to pass to zap.Object.
func (tc TenantContext) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt64("company_id", tc.CompanyID)
	enc.AddString("subdomain", tc.Subdomain)
	enc.AddString("driver", tc.Driver)
	enc.AddString("connection", tc.Redacted())
	return nil
}

type contextKey struct{}

// WithTenant returns a copy of ctx carrying tc.
func WithTenant(ctx context.Context, tc TenantContext) context.Context {
	return context.WithValue(ctx, contextKey{}, tc)
}

// FromContext extracts the tenant stored by WithTenant.
func FromContext(ctx context.Context) (TenantContext, bool) {
	tc, ok := ctx.Value(contextKey{}).(TenantContext)
	return tc, ok
}
