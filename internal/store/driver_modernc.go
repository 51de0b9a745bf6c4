//go:build !sqlite_vec

package store

import _ "modernc.org/sqlite"

// driverName is the database/sql driver registered for this build. The
// default build uses the pure-Go modernc.org/sqlite driver; the sqlite_vec
// build tag swaps in the cgo mattn/go-sqlite3 driver with the vec0 extension
// (see init_vec.go, driver_mattn.go).
const driverName = "sqlite"
