package store

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain ensures no goroutines leak across this package's tests — each
// store opens its own sqlite connection pool, so connectionOpener is the one
// expected long-lived background goroutine per open *Store.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}
