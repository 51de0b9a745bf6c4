//go:build !sqlite_vec

package store

import (
	"errors"

	"modernc.org/sqlite"
)

// sqlite3ConstraintUnique and sqlite3ConstraintPrimaryKey mirror the SQLite
// extended result codes (sqlite3.h), since modernc.org/sqlite surfaces the raw
// numeric code rather than a typed constant for them.
const (
	sqlite3ConstraintUnique     = 19 | (3 << 8)
	sqlite3ConstraintPrimaryKey = 19 | (6 << 8)
)

// isUniqueConstraint reports whether err is a UNIQUE (or PRIMARY KEY)
// constraint violation from the pure-Go SQLite driver, checked against the
// driver's typed error code rather than by matching error text.
func isUniqueConstraint(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3ConstraintUnique || code == sqlite3ConstraintPrimaryKey
}
