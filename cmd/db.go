package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"

	"github.com/xaman1990/SisCoreApi/cmd/cmdutil"
	"github.com/xaman1990/SisCoreApi/internal/db/bunx"
	masterMigrations "github.com/xaman1990/SisCoreApi/internal/migrations/master"
	tenantMigrations "github.com/xaman1990/SisCoreApi/internal/migrations/tenant"
)

var dbTenantFlag string

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database management commands",
	Long:  `Commands for managing the master and tenant database migrations.`,
}

var dbMasterCmd = &cobra.Command{
	Use:   "master",
	Short: "Migrate the master database",
}

var dbTenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Migrate the database of one tenant",
}

// migrationTarget opens a database and names the migration set to run on it.
type migrationTarget struct {
	name       string
	migrations *migrate.Migrations
	open       func(ctx context.Context) (*bun.DB, error)
}

func (t migrationTarget) run(ctx context.Context, fn func(m *migrate.Migrator) error) error {
	db, err := t.open(ctx)
	if err != nil {
		return err
	}
	defer bunx.Close(db)
	return fn(migrate.NewMigrator(db, t.migrations))
}

// withLock runs fn holding the migration lock so concurrent runs fail fast.
func withLock(ctx context.Context, m *migrate.Migrator, fn func() error) error {
	if err := m.Lock(ctx); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer func() {
		if err := m.Unlock(ctx); err != nil {
			logger.Warn("failed to release migration lock", zap.Error(err))
		}
	}()
	return fn()
}

var masterTarget = migrationTarget{
	name:       "master",
	migrations: masterMigrations.Migrations,
	open: func(ctx context.Context) (*bun.DB, error) {
		db, err := bunx.NewDB(ctx, cfg.DatabaseURL, bunx.Options{MaxOpenConns: cfg.MaxDBConnections})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to master database: %w", err)
		}
		return db, nil
	},
}

var tenantTarget = migrationTarget{
	name:       "tenant",
	migrations: tenantMigrations.Migrations,
	open: func(ctx context.Context) (*bun.DB, error) {
		b, err := cmdutil.NewBundle(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		defer b.Close()
		tc, err := b.Tenant(ctx, dbTenantFlag)
		if err != nil {
			return nil, err
		}
		db, err := bunx.NewDB(ctx, tc.ConnectionString, bunx.Options{})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to tenant %q database: %w", tc.Subdomain, err)
		}
		return db, nil
	},
}

func initCmd(t migrationTarget) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize migration tables",
		Long:  `Creates the migration tracking tables in the database. Run this once during initial setup.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return t.run(ctx, func(m *migrate.Migrator) error {
				if err := m.Init(ctx); err != nil {
					return fmt.Errorf("failed to initialize migrator: %w", err)
				}
				logger.Info("migration tables initialized", zap.String("target", t.name))
				return nil
			})
		},
	}
}

func migrateCmd(t migrationTarget) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long:  `Applies all pending migrations with locking to prevent concurrent migrations.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return t.run(ctx, func(m *migrate.Migrator) error {
				if err := m.Init(ctx); err != nil {
					return fmt.Errorf("failed to initialize migrator: %w", err)
				}
				return withLock(ctx, m, func() error {
					group, err := m.Migrate(ctx)
					if err != nil {
						return fmt.Errorf("migration failed: %w", err)
					}
					if group.IsZero() {
						logger.Info("no new migrations to apply", zap.String("target", t.name))
						return nil
					}
					logger.Info("applied migration group",
						zap.String("target", t.name), zap.Int64("group", group.ID))
					return nil
				})
			})
		},
	}
}

func statusCmd(t migrationTarget) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return t.run(ctx, func(m *migrate.Migrator) error {
				ms, err := m.MigrationsWithStatus(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s migrations:\n", t.name)
				for _, mig := range ms {
					status := "pending"
					if mig.GroupID > 0 {
						status = fmt.Sprintf("applied (group %d)", mig.GroupID)
					}
					fmt.Fprintf(out, "  %s: %s\n", mig.Name, status)
				}
				return nil
			})
		},
	}
}

func rollbackCmd(t migrationTarget) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback",
		Short: "Rollback last migration group",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return t.run(ctx, func(m *migrate.Migrator) error {
				return withLock(ctx, m, func() error {
					group, err := m.Rollback(ctx)
					if err != nil {
						return fmt.Errorf("rollback failed: %w", err)
					}
					if group.IsZero() {
						logger.Info("no migrations to rollback", zap.String("target", t.name))
						return nil
					}
					logger.Info("rolled back migration group",
						zap.String("target", t.name), zap.Int64("group", group.ID))
					return nil
				})
			})
		},
	}
}

var dbLockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Manually acquire the master migration lock",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return masterTarget.run(ctx, func(m *migrate.Migrator) error {
			if err := m.Lock(ctx); err != nil {
				return fmt.Errorf("failed to acquire migration lock: %w", err)
			}
			logger.Info("migration lock acquired, run 'db master unlock' when finished")
			return nil
		})
	},
}

var dbUnlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Force release the master migration lock",
	Long:  `Force releases the migration lock. Use this if a migration crashed while holding the lock.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return masterTarget.run(ctx, func(m *migrate.Migrator) error {
			if err := m.Unlock(ctx); err != nil {
				return fmt.Errorf("failed to release migration lock: %w", err)
			}
			logger.Info("migration lock released")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbMasterCmd, dbTenantCmd)

	dbMasterCmd.AddCommand(initCmd(masterTarget), migrateCmd(masterTarget), statusCmd(masterTarget),
		rollbackCmd(masterTarget), dbLockCmd, dbUnlockCmd)

	dbTenantCmd.PersistentFlags().StringVar(&dbTenantFlag, "tenant", "", "Subdomain of the tenant to migrate")
	_ = dbTenantCmd.MarkPersistentFlagRequired("tenant")
	dbTenantCmd.AddCommand(initCmd(tenantTarget), migrateCmd(tenantTarget), statusCmd(tenantTarget),
		rollbackCmd(tenantTarget))
}
