// Package cmdutil builds the services shared by CLI commands.
package cmdutil

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/xaman1990/SisCoreApi/internal/config"
	"github.com/xaman1990/SisCoreApi/internal/db/bunx"
	"github.com/xaman1990/SisCoreApi/internal/logger"
	"github.com/xaman1990/SisCoreApi/internal/services/master"
	"github.com/xaman1990/SisCoreApi/internal/tenancy"
)

// Bundle holds the master store and the services built on it so callers
// can reuse the connection.
type Bundle struct {
	Config    *config.Config
	DB        *bun.DB
	Registry  *tenancy.Registry
	Stores    *tenancy.StoreFactory
	Authority *master.Authority
	Log       *zap.Logger
}

// Close releases the master store connection.
func (b *Bundle) Close() {
	if b == nil || b.DB == nil {
		return
	}
	bunx.Close(b.DB)
}

// NewLogger builds the CLI logger from cfg.
func NewLogger(cfg *config.Config) *zap.Logger {
	return logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: cfg.Observability.ServiceName,
	})
}

// NewBundle connects to the master store and wires the registry, the tenant
// store factory and the master authority.
func NewBundle(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Bundle, error) {
	db, err := bunx.NewDB(ctx, cfg.DatabaseURL, bunx.Options{MaxOpenConns: cfg.MaxDBConnections})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to master database: %w", err)
	}
	log = logger.OrNop(log)
	stores := tenancy.NewStoreFactory(bunx.Options{})
	return &Bundle{
		Config:    cfg,
		DB:        db,
		Registry:  tenancy.NewRegistry(db, cfg.Tenancy.DefaultOptions, log),
		Stores:    stores,
		Authority: master.NewAuthority(db, stores, cfg.Tenancy.DefaultOptions, log),
		Log:       log,
	}, nil
}

// Tenant resolves an active company by subdomain into a tenant context.
func (b *Bundle) Tenant(ctx context.Context, subdomain string) (tenancy.TenantContext, error) {
	if subdomain == "" {
		return tenancy.TenantContext{}, fmt.Errorf("--tenant flag is required")
	}
	company, err := b.Registry.ActiveBySubdomain(ctx, subdomain)
	if err != nil {
		return tenancy.TenantContext{}, fmt.Errorf("tenant %q: %w", subdomain, err)
	}
	return tenancy.NewTenantContext(company, b.Config.Tenancy.DefaultOptions)
}
