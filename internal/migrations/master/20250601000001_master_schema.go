package master

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/xaman1990/SisCoreApi/internal/db/models"
	"github.com/xaman1990/SisCoreApi/internal/migrations"
)

func init() {
	Migrations.MustRegister(up_20250601000001, down_20250601000001)
}

// up_20250601000001 creates the tenant registry and master user tables
func up_20250601000001(ctx context.Context, db *bun.DB) error {
	// 1. Companies
	fmt.Print(" [up] creating companies table...")
	_, err := db.NewCreateTable().
		Model((*models.Company)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create companies table: %w", err)
	}
	_, err = db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_companies_status ON companies(status)`)
	if err != nil {
		return fmt.Errorf("failed to create companies status index: %w", err)
	}
	fmt.Println(" OK")

	// 2. Master users
	fmt.Print(" [up] creating master_users table...")
	q := db.NewCreateTable().
		Model((*models.MasterUser)(nil)).
		IfNotExists()
	if migrations.IsSQLite(db) {
		q = q.ForeignKey(`(tenant_company_id) REFERENCES companies(id) ON DELETE RESTRICT`)
	}
	if _, err = q.Exec(ctx); err != nil {
		return fmt.Errorf("failed to create master_users table: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_master_users_tenant_user
		ON master_users (tenant_user_id, tenant_company_id)
	`)
	if err != nil {
		return fmt.Errorf("failed to create master_users tenant user index: %w", err)
	}
	_, err = db.ExecContext(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS idx_master_users_google_id ON master_users(google_id)`)
	if err != nil {
		return fmt.Errorf("failed to create master_users google_id index: %w", err)
	}

	if migrations.IsPostgreSQL(db) {
		_, err = db.ExecContext(ctx, `
			ALTER TABLE master_users
			ADD CONSTRAINT fk_master_users_tenant_company
			FOREIGN KEY (tenant_company_id) REFERENCES companies(id) ON DELETE RESTRICT
		`)
		if err != nil {
			return fmt.Errorf("failed to add master_users company FK: %w", err)
		}
	}
	fmt.Println(" OK")

	// 3. Per-company grants
	fmt.Print(" [up] creating master_user_companies table...")
	q = db.NewCreateTable().
		Model((*models.MasterUserCompany)(nil)).
		IfNotExists()
	if migrations.IsSQLite(db) {
		q = q.ForeignKey(`(master_user_id) REFERENCES master_users(id) ON DELETE CASCADE`)
		q = q.ForeignKey(`(company_id) REFERENCES companies(id) ON DELETE CASCADE`)
	}
	if _, err = q.Exec(ctx); err != nil {
		return fmt.Errorf("failed to create master_user_companies table: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_master_user_companies_unique
		ON master_user_companies (master_user_id, company_id)
	`)
	if err != nil {
		return fmt.Errorf("failed to create master_user_companies unique index: %w", err)
	}

	if migrations.IsPostgreSQL(db) {
		for _, stmt := range []string{
			`ALTER TABLE master_user_companies ADD CONSTRAINT fk_master_user_companies_master_user FOREIGN KEY (master_user_id) REFERENCES master_users(id) ON DELETE CASCADE`,
			`ALTER TABLE master_user_companies ADD CONSTRAINT fk_master_user_companies_company FOREIGN KEY (company_id) REFERENCES companies(id) ON DELETE CASCADE`,
			`ALTER TABLE master_user_companies ADD CONSTRAINT chk_master_user_companies_role CHECK (role IN ('god', 'owner', 'admin', 'viewer'))`,
		} {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("master_user_companies constraint: %w", err)
			}
		}
	}
	fmt.Println(" OK")

	return nil
}

// down_20250601000001 drops the master tables
func down_20250601000001(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] dropping master tables...")
	for _, model := range []any{
		(*models.MasterUserCompany)(nil),
		(*models.MasterUser)(nil),
		(*models.Company)(nil),
	} {
		if _, err := db.NewDropTable().Model(model).IfExists().Cascade().Exec(ctx); err != nil {
			return fmt.Errorf("failed to drop table: %w", err)
		}
	}
	fmt.Println(" OK")
	return nil
}
