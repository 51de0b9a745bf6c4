package automation

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain ensures no goroutines leak across this package's tests — the
// engine's own cron/retention loops and semaphore are expected to unwind
// fully on Stop, and the sqlite driver's connectionOpener is the one
// expected long-lived background goroutine per opened store.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}
