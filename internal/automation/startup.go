package automation

import (
	"context"
	"time"

	"warden/internal/store"
)

// runCrashRecovery fails any run left pending or running across a process
// restart, per the engine's ordered startup jobs.
func (e *Engine) runCrashRecovery() error {
	n, err := e.store.MarkStalePendingAsFailed(crashRecoveryPendingAge, crashRecoveryRunningAge)
	if err != nil {
		return err
	}
	if n > 0 && e.log != nil {
		e.log.Info("crash recovery marked %d stale runs failed", n)
	}
	return nil
}

// runRetentionCleanup deletes runs beyond the age and per-automation-count
// retention policy. It is run once at startup and then every 24h.
func (e *Engine) runRetentionCleanup() error {
	n, err := e.store.PruneRuns(retentionMaxAge, retentionKeepPerAuto)
	if err != nil {
		return err
	}
	if n > 0 && e.log != nil {
		e.log.Info("retention cleanup pruned %d runs", n)
	}
	return nil
}

// runCatchUp fires each catch-up-enabled schedule automation once if its
// cron schedule matched since its last recorded run, searching back up to
// catchUpLookback.
func (e *Engine) runCatchUp(ctx context.Context, now time.Time) error {
	automations, err := e.store.ListEnabledScheduleAutomations()
	if err != nil {
		return err
	}
	for _, a := range automations {
		if !a.CatchUpEnabled || a.TriggerCron == "" {
			continue
		}
		lastMatch, err := lastCronMatch(a.TriggerCron, now, catchUpLookback)
		if err != nil {
			if e.log != nil {
				e.log.Error("catch-up parse cron %q for automation %s: %v", a.TriggerCron, a.ID, err)
			}
			continue
		}
		if lastMatch.IsZero() {
			continue
		}
		if !a.LastRunAt.Before(lastMatch) {
			continue
		}
		key := minuteKey(lastMatch)
		e.recordMinute(a.ID, key)
		e.executeAutomation(ctx, a, store.TriggerSchedule, dedupeInput{MinuteKey: key})
	}
	return nil
}
