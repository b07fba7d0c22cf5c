// Package tenant holds the schema migrations applied to every tenant store.
package tenant

import "github.com/uptrace/bun/migrate"

// Migrations is the registry consumed by `siscore db tenant ...` and by tests
// that build throwaway tenant stores.
var Migrations = migrate.NewMigrations()
