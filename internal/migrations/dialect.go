// Package migrations holds the dialect helpers shared by the master and
// tenant migration sets. The sets themselves live in the master and tenant
// subpackages.
package migrations

import (
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// IsSQLite reports whether db speaks the SQLite dialect.
func IsSQLite(db bun.IDB) bool {
	return db.Dialect().Name() == dialect.SQLite
}

// IsPostgreSQL reports whether db speaks the Postgres dialect.
func IsPostgreSQL(db bun.IDB) bool {
	return db.Dialect().Name() == dialect.PG
}
