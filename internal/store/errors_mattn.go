//go:build sqlite_vec

package store

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

// isUniqueConstraint reports whether err is a UNIQUE (or PRIMARY KEY)
// constraint violation from the cgo SQLite driver, checked against the
// driver's typed extended error code rather than by matching error text.
func isUniqueConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
