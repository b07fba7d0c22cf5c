package bunx

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	_ "modernc.org/sqlite" // SQLite driver
)

// DatabaseType represents the type of database
type DatabaseType string

const (
	DatabaseTypePostgreSQL DatabaseType = "postgres"
	DatabaseTypeSQLite     DatabaseType = "sqlite"
)

// sqlitePragmas are applied by the driver on every new connection, so they
// survive the pool reopening a connection.
var sqlitePragmas = []string{
	"_pragma=foreign_keys(1)",
	"_pragma=journal_mode(WAL)",
	"_pragma=busy_timeout(5000)",
}

// Options tunes the connection pool of a handle. The zero value gives the
// PostgreSQL default of 25 connections.
type Options struct {
	MaxOpenConns int
}

// DetectDatabaseType determines the database type from a DSN string
func DetectDatabaseType(dsn string) DatabaseType {
	// PostgreSQL DSN patterns
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.HasPrefix(dsn, "unix://") {
		return DatabaseTypePostgreSQL
	}
	// SQLite patterns: file:, :memory:, or plain file path
	return DatabaseTypeSQLite
}

// OpenDB creates a Bun handle for the DSN without touching the network or
// the filesystem. Connection problems surface on the first query.
func OpenDB(dsn string, opts Options) (*bun.DB, error) {
	switch DetectDatabaseType(dsn) {
	case DatabaseTypePostgreSQL:
		// Create SQL DB with the pgdriver connector
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))

		// Configure connection pool
		maxOpen := opts.MaxOpenConns
		if maxOpen <= 0 {
			maxOpen = 25
		}
		sqldb.SetMaxOpenConns(maxOpen)
		sqldb.SetMaxIdleConns(maxOpen)
		// Create Bun DB with PostgreSQL dialect
		return bun.NewDB(sqldb, pgdialect.New()), nil
	case DatabaseTypeSQLite:
		// Open SQLite database with foreign keys, WAL and a busy timeout
		sqldb, err := sql.Open("sqlite", withSQLitePragmas(dsn))
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		// SQLite best practices: single writer connection
		sqldb.SetMaxOpenConns(1)

		// Create Bun DB with SQLite dialect
		return bun.NewDB(sqldb, sqlitedialect.New()), nil
	default:
		return nil, fmt.Errorf("unsupported database type for DSN")
	}
}

// NewDB opens a handle and verifies connectivity.
func NewDB(ctx context.Context, dsn string, opts Options) (*bun.DB, error) {
	db, err := OpenDB(dsn, opts)
	if err != nil {
		return nil, err
	}
	// Verify connectivity
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// withSQLitePragmas appends the connection pragmas to a SQLite DSN unless
// the caller already set some.
func withSQLitePragmas(dsn string) string {
	// Explicit pragmas in the DSN replace the defaults entirely
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(sqlitePragmas, "&")
}

// Close closes the database connection
func Close(db *bun.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}
