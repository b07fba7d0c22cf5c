package tenant

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

// up_20250601000001 creates the RBAC catalog, users and refresh tokens
func up_20250601000001(ctx context.Context, db *bun.DB) error {
	sqlite := migrations.IsSQLite(db)

	// 1. Modules and sub-modules
	fmt.Print(" [up] creating modules tables...")
	_, err := db.NewCreateTable().Model((*models.Module)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create modules table: %w", err)
	}

	q := db.NewCreateTable().Model((*models.SubModule)(nil)).IfNotExists()
	if sqlite {
		q = q.ForeignKey(`(module_id) REFERENCES modules(id) ON DELETE CASCADE`)
	}
	if _, err = q.Exec(ctx); err != nil {
		return fmt.Errorf("failed to create sub_modules table: %w", err)
	}

	// Codes are unique per module among live sub-modules only
	_, err = db.ExecContext(ctx, `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_sub_modules_module_code
		ON sub_modules (module_id, code)
		WHERE NOT is_deleted
	`)
	if err != nil {
		return fmt.Errorf("failed to create sub_modules code index: %w", err)
	}
	fmt.Println(" OK")

	// 2. Permission catalog and module privileges
	fmt.Print(" [up] creating permissions tables...")
	_, err = db.NewCreateTable().Model((*models.Permission)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create permissions table: %w", err)
	}

	q = db.NewCreateTable().Model((*models.ModulePrivilege)(nil)).IfNotExists()
	if sqlite {
		q = q.ForeignKey(`(module_id) REFERENCES modules(id) ON DELETE CASCADE`)
		q = q.ForeignKey(`(permission_id) REFERENCES permissions(id) ON DELETE CASCADE`)
		q = q.ForeignKey(`(sub_module_id) REFERENCES sub_modules(id) ON DELETE SET NULL`)
	}
	if _, err = q.Exec(ctx); err != nil {
		return fmt.Errorf("failed to create module_privileges table: %w", err)
	}

	for _, stmt := range []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_module_privileges_live ON module_privileges (module_id, permission_id) WHERE NOT is_deleted`,
		`CREATE INDEX IF NOT EXISTS idx_module_privileges_module_code ON module_privileges (module_id, code)`,
		`CREATE INDEX IF NOT EXISTS idx_module_privileges_permission ON module_privileges (permission_id)`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("module_privileges index: %w", err)
		}
	}
	fmt.Println(" OK")

	// 3. Roles, users and memberships
	fmt.Print(" [up] creating users and roles tables...")
	_, err = db.NewCreateTable().Model((*models.Role)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create roles table: %w", err)
	}
	_, err = db.NewCreateTable().Model((*models.User)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}
	for _, stmt := range []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(email)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_phone_number ON users(phone_number)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_google_id ON users(google_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_employee_number ON users(employee_number)`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("users index: %w", err)
		}
	}

	q = db.NewCreateTable().Model((*models.UserRole)(nil)).IfNotExists()
	if sqlite {
		q = q.ForeignKey(`(user_id) REFERENCES users(id) ON DELETE CASCADE`)
		q = q.ForeignKey(`(role_id) REFERENCES roles(id) ON DELETE CASCADE`)
	}
	if _, err = q.Exec(ctx); err != nil {
		return fmt.Errorf("failed to create user_roles table: %w", err)
	}
	_, err = db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_user_roles_role_id ON user_roles(role_id)`)
	if err != nil {
		return fmt.Errorf("failed to create user_roles role_id index: %w", err)
	}
	fmt.Println(" OK")

	// 4. Permission assignments
	fmt.Print(" [up] creating permission_assignments table...")
	q = db.NewCreateTable().Model((*models.PermissionAssignment)(nil)).IfNotExists()
	if sqlite {
		q = q.ForeignKey(`(module_privilege_id) REFERENCES module_privileges(id) ON DELETE CASCADE`)
		q = q.ForeignKey(`(role_id) REFERENCES roles(id) ON DELETE CASCADE`)
		q = q.ForeignKey(`(user_id) REFERENCES users(id) ON DELETE CASCADE`)
		q = q.ForeignKey(`(override_parent_id) REFERENCES permission_assignments(id) ON DELETE SET NULL`)
	}
	if _, err = q.Exec(ctx); err != nil {
		return fmt.Errorf("failed to create permission_assignments table: %w", err)
	}

	// Exactly one of role_id or user_id must be set
	if sqlite {
		// SQLite cannot add constraints after CREATE TABLE; enforce with triggers
		for _, event := range []string{"INSERT", "UPDATE"} {
			_, err = db.ExecContext(ctx, fmt.Sprintf(`
				CREATE TRIGGER IF NOT EXISTS trg_permission_assignments_grantee_%[1]s
				BEFORE %[1]s ON permission_assignments
				WHEN (CASE WHEN NEW.role_id IS NOT NULL THEN 1 ELSE 0 END) +
				     (CASE WHEN NEW.user_id IS NOT NULL THEN 1 ELSE 0 END) <> 1
				BEGIN
					SELECT RAISE(ABORT, 'permission assignment needs exactly one of role_id or user_id');
				END
			`, event))
			if err != nil {
				return fmt.Errorf("failed to create permission_assignments grantee trigger: %w", err)
			}
		}
	} else {
		_, err = db.ExecContext(ctx, `
			ALTER TABLE permission_assignments
			ADD CONSTRAINT chk_permission_assignments_grantee
			CHECK ((role_id IS NOT NULL)::int + (user_id IS NOT NULL)::int = 1)
		`)
		if err != nil {
			return fmt.Errorf("failed to add permission_assignments grantee check: %w", err)
		}
	}

	// At most one live assignment per (privilege, grantee)
	for _, stmt := range []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_permission_assignments_role_live ON permission_assignments (module_privilege_id, role_id) WHERE role_id IS NOT NULL AND NOT is_deleted`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_permission_assignments_user_live ON permission_assignments (module_privilege_id, user_id) WHERE user_id IS NOT NULL AND NOT is_deleted`,
		`CREATE INDEX IF NOT EXISTS idx_permission_assignments_role_id ON permission_assignments(role_id)`,
		`CREATE INDEX IF NOT EXISTS idx_permission_assignments_user_id ON permission_assignments(user_id)`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("permission_assignments index: %w", err)
		}
	}
	fmt.Println(" OK")

	// 5. Refresh tokens
	fmt.Print(" [up] creating refresh_tokens table...")
	q = db.NewCreateTable().Model((*models.RefreshToken)(nil)).IfNotExists()
	if sqlite {
		q = q.ForeignKey(`(user_id) REFERENCES users(id) ON DELETE CASCADE`)
	}
	if _, err = q.Exec(ctx); err != nil {
		return fmt.Errorf("failed to create refresh_tokens table: %w", err)
	}
	_, err = db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user_id ON refresh_tokens(user_id)`)
	if err != nil {
		return fmt.Errorf("failed to create refresh_tokens user_id index: %w", err)
	}
	fmt.Println(" OK")

	// Postgres foreign keys
	if !sqlite {
		fmt.Print(" [up] adding foreign keys...")
		for _, stmt := range []string{
			`ALTER TABLE sub_modules ADD CONSTRAINT fk_sub_modules_module FOREIGN KEY (module_id) REFERENCES modules(id) ON DELETE CASCADE`,
			`ALTER TABLE module_privileges ADD CONSTRAINT fk_module_privileges_module FOREIGN KEY (module_id) REFERENCES modules(id) ON DELETE CASCADE`,
			`ALTER TABLE module_privileges ADD CONSTRAINT fk_module_privileges_permission FOREIGN KEY (permission_id) REFERENCES permissions(id) ON DELETE CASCADE`,
			`ALTER TABLE module_privileges ADD CONSTRAINT fk_module_privileges_sub_module FOREIGN KEY (sub_module_id) REFERENCES sub_modules(id) ON DELETE SET NULL`,
			`ALTER TABLE user_roles ADD CONSTRAINT fk_user_roles_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE`,
			`ALTER TABLE user_roles ADD CONSTRAINT fk_user_roles_role FOREIGN KEY (role_id) REFERENCES roles(id) ON DELETE CASCADE`,
			`ALTER TABLE permission_assignments ADD CONSTRAINT fk_permission_assignments_privilege FOREIGN KEY (module_privilege_id) REFERENCES module_privileges(id) ON DELETE CASCADE`,
			`ALTER TABLE permission_assignments ADD CONSTRAINT fk_permission_assignments_role FOREIGN KEY (role_id) REFERENCES roles(id) ON DELETE CASCADE`,
			`ALTER TABLE permission_assignments ADD CONSTRAINT fk_permission_assignments_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE`,
			`ALTER TABLE permission_assignments ADD CONSTRAINT fk_permission_assignments_parent FOREIGN KEY (override_parent_id) REFERENCES permission_assignments(id) ON DELETE SET NULL`,
			`ALTER TABLE refresh_tokens ADD CONSTRAINT fk_refresh_tokens_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE`,
		} {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("tenant foreign key: %w", err)
			}
		}
		fmt.Println(" OK")
	}

	return nil
}

// down_20250601000001 drops every tenant table
func down_20250601000001(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] dropping tenant tables...")

	tables := []string{
		"refresh_tokens",
		"permission_assignments",
		"user_roles",
		"users",
		"roles",
		"module_privileges",
		"permissions",
		"sub_modules",
		"modules",
	}

	cascade := ""
	if migrations.IsPostgreSQL(db) {
		cascade = " CASCADE"
	}
	for _, table := range tables {
		_, err := db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s%s", table, cascade))
		if err != nil {
			return fmt.Errorf("failed to drop %s: %w", table, err)
		}
	}

	fmt.Println(" OK")
	return nil
}
