// Package master holds the schema migrations of the master store: the tenant
// registry and the cross-tenant master users.
package master

import "github.com/uptrace/bun/migrate"

// Migrations is the registry consumed by `siscore db master ...`.
var Migrations = migrate.NewMigrations()
