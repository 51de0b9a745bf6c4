package embedding

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain ensures no goroutines leak across this package's tests. Manager's
// Cancel/CancelAll block until their indexing goroutines actually exit, so
// the only expected long-lived background goroutine is the sqlite driver's
// connectionOpener per opened store.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}
