package automation

import (
	"time"

	"github.com/robfig/cron"
)

// matchesCron reports whether expr's schedule lands on the minute
// containing now. The cron tick truncates to minute granularity, so a
// match is detected by asking the schedule for its next activation just
// before that minute and checking it lands exactly on it.
func matchesCron(expr string, now time.Time) (bool, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return false, err
	}
	m := now.Truncate(time.Minute)
	next := schedule.Next(m.Add(-time.Second))
	return next.Equal(m), nil
}

// lastCronMatch returns the most recent activation of expr at or before
// now, searching back at most lookback. It returns the zero Time if the
// schedule has no activation in that window.
func lastCronMatch(expr string, now time.Time, lookback time.Duration) (time.Time, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	cursor := now.Add(-lookback)
	var last time.Time
	for {
		next := schedule.Next(cursor)
		if next.IsZero() || next.After(now) {
			break
		}
		last = next
		cursor = next
	}
	return last, nil
}
