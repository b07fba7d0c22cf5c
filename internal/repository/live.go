package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"
	"github.com/xaman1990/SisCoreApi/internal/apperr"
)

// Match is one column equality in a live-uniqueness check.
type Match struct {
	Column string
	Value  any
}

// Eq builds a Match.
func Eq(column string, value any) Match {
	return Match{Column: column, Value: value}
}

// LiveDuplicateExists reports whether a live (is_deleted = false) row of
// model other than excludeID matches every column in match. It is the single
// check behind create, update and restore of every soft-deletable entity:
// uniqueness only ever applies to live rows.
func LiveDuplicateExists(ctx context.Context, db bun.IDB, model any, excludeID int64, match ...Match) (bool, error) {
	q := db.NewSelect().
		Model(model).
		Where("?TableAlias.is_deleted = ?", false)
	for _, m := range match {
		q = q.Where("?TableAlias.? = ?", bun.Ident(m.Column), m.Value)
	}
	if excludeID > 0 {
		q = q.Where("?TableAlias.id <> ?", excludeID)
	}
	exists, err := q.Exists(ctx)
	if err != nil {
		return false, apperr.FromStore("check live duplicate", err)
	}
	return exists, nil
}

// lookupErr maps a single-row lookup failure: missing rows become NotFound
// with a readable message, everything else is classified by apperr.
func lookupErr(err error, op, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(format, args...)
	}
	return apperr.FromStore(op, err)
}

// requireAffected turns an update or delete that touched no row into NotFound.
func requireAffected(res sql.Result, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.FromStore("get rows affected", err)
	}
	if n == 0 {
		return apperr.NotFound(format, args...)
	}
	return nil
}
