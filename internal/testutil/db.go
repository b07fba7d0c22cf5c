// Package testutil builds throwaway SQLite stores migrated with the real
// master and tenant migrations.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
	"github.com/xaman1990/SisCoreApi/internal/db/bunx"
	"github.com/xaman1990/SisCoreApi/internal/migrations/master"
	"github.com/xaman1990/SisCoreApi/internal/migrations/tenant"
)

// TenantStore is a migrated tenant database living in a temp file.
type TenantStore struct {
	DB   *bun.DB
	Path string
}

// NewTenantStore creates and migrates a tenant database. The handle is
// closed when the test ends.
func NewTenantStore(t *testing.T) *TenantStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tenant.db")
	db := migrated(t, path, tenant.Migrations)
	return &TenantStore{DB: db, Path: path}
}

// NewMasterStore creates and migrates a master database.
func NewMasterStore(t *testing.T) *bun.DB {
	t.Helper()
	return migrated(t, filepath.Join(t.TempDir(), "master.db"), master.Migrations)
}

func migrated(t *testing.T, path string, set *migrate.Migrations) *bun.DB {
	t.Helper()
	ctx := context.Background()

	db, err := bunx.NewDB(ctx, "file:"+path, bunx.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	migrator := migrate.NewMigrator(db, set)
	require.NoError(t, migrator.Init(ctx))
	_, err = migrator.Migrate(ctx)
	require.NoError(t, err)
	return db
}
