package automation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSlidingWindowPrunesOldEntries(t *testing.T) {
	w := newSlidingWindow(time.Minute, 1)
	base := time.Now()

	require.True(t, w.allow(base))
	w.record(base)
	require.False(t, w.allow(base.Add(30*time.Second)))

	// Past the window, the old entry is pruned and a new grant is allowed.
	require.True(t, w.allow(base.Add(2*time.Minute)))
}

func TestRateLimiterChecksInOrder(t *testing.T) {
	r := newRateLimiter()
	now := time.Now()

	// Exhaust the per-automation window for "a1"; "a2" in the same domain
	// should still be granted since only the automation counter tripped.
	require.True(t, r.checkAndGrant("a1", "d1", now))
	require.False(t, r.checkAndGrant("a1", "d1", now))
	require.True(t, r.checkAndGrant("a2", "d1", now))
}

func TestRateLimiterDomainLimit(t *testing.T) {
	r := newRateLimiter()
	r.domainLimit = 2
	now := time.Now()

	require.True(t, r.checkAndGrant("a1", "d1", now))
	require.True(t, r.checkAndGrant("a2", "d1", now))
	require.False(t, r.checkAndGrant("a3", "d1", now))
}

func TestRateLimiterGlobalLimit(t *testing.T) {
	r := newRateLimiter()
	r.global = newSlidingWindow(time.Hour, 1)
	now := time.Now()

	require.True(t, r.checkAndGrant("a1", "d1", now))
	require.False(t, r.checkAndGrant("a2", "d2", now))
}

func TestRateLimiterReset(t *testing.T) {
	r := newRateLimiter()
	now := time.Now()
	require.True(t, r.checkAndGrant("a1", "d1", now))
	r.reset()
	require.True(t, r.checkAndGrant("a1", "d1", now))
}
