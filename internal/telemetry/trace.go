package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates a new span for a service operation.
//
// Usage in services:
//
//	ctx, span := telemetry.StartSpan(ctx, tracerName, "permissions.CheckPermission",
//	    attribute.Int64(telemetry.AttrTenantCompanyID, tc.CompanyID),
//	    attribute.Int64(telemetry.AttrUserID, userID),
//	)
//	defer span.End()
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError records an error on the span and sets the span status to error.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// AddEvent adds a named event to the span with optional attributes.
//
//	telemetry.AddEvent(span, "grant.revived",
//	    attribute.Int64(telemetry.AttrPrivilegeID, privilegeID),
//	)
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Common attribute keys
const (
	// Tenancy
	AttrTenantCompanyID = "tenant.company_id"
	AttrTenantSubdomain = "tenant.subdomain"
	AttrTenantDriver    = "tenant.driver"

	// Principals
	AttrUserID       = "user.id"
	AttrRoleID       = "role.id"
	AttrMasterUserID = "master_user.id"

	// Catalog
	AttrModuleID      = "module.id"
	AttrPermissionID  = "permission.id"
	AttrPrivilegeID   = "privilege.id"
	AttrPrivilegeCode = "privilege.code"

	// Decisions
	AttrPermissionGranted = "permission.granted"
	AttrPermissionSource  = "permission.source"
)
