package automation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMatchesCronOnExactMinute(t *testing.T) {
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	matched, err := matchesCron("0 9 * * *", now)
	require.NoError(t, err)
	require.True(t, matched)
}

func TestMatchesCronMisses(t *testing.T) {
	now := time.Date(2026, 7, 31, 9, 1, 0, 0, time.UTC)
	matched, err := matchesCron("0 9 * * *", now)
	require.NoError(t, err)
	require.False(t, matched)
}

func TestMatchesCronInvalidExpr(t *testing.T) {
	_, err := matchesCron("not a cron expr", time.Now())
	require.Error(t, err)
}

func TestLastCronMatchFindsMostRecent(t *testing.T) {
	now := time.Date(2026, 7, 31, 9, 30, 0, 0, time.UTC)
	last, err := lastCronMatch("0 9 * * *", now, 7*24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC), last)
}

func TestLastCronMatchNoneInWindow(t *testing.T) {
	now := time.Date(2026, 7, 31, 9, 30, 0, 0, time.UTC)
	last, err := lastCronMatch("0 9 * * *", now, 10*time.Minute)
	require.NoError(t, err)
	require.True(t, last.IsZero())
}
