package auth

import "context"

// Principal is the authenticated tenant user of a request.
type Principal struct {
	UserID int64
	Email  string
	Roles  []string
	Tenant string // empty for tokens not bound to a tenant
}

type principalContextKey struct{}

// WithPrincipal stores the authenticated principal on the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext retrieves the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}
