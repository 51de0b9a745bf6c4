package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateAutomation inserts a new automation definition.
func (s *Store) CreateAutomation(a Automation) (Automation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a.ID = uuid.NewString()
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now

	_, err := s.db.Exec(
		`INSERT INTO automations (id, domain_id, name, prompt_template, trigger_kind, trigger_cron, trigger_event, action_kind, action_config,
		 enabled, failure_streak, cooldown_until, run_count, last_run_at, store_payloads, catch_up_enabled, deadline_window_days,
		 duplicate_skip_count, last_duplicate_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.DomainID, a.Name, a.PromptTemplate, string(a.TriggerKind), a.TriggerCron, a.TriggerEvent, string(a.ActionKind), a.ActionConfig,
		boolToInt(a.Enabled), a.FailureStreak, nullTime(a.CooldownUntil), a.RunCount, nullTime(a.LastRunAt), boolToInt(a.StorePayloads),
		boolToInt(a.CatchUpEnabled), a.DeadlineWindowDays, a.DuplicateSkipCount, nullTime(a.LastDuplicateAt), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return Automation{}, fmt.Errorf("store: create automation: %w", err)
	}
	return a, nil
}

// GetAutomation loads one automation by id.
func (s *Store) GetAutomation(id string) (Automation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scanAutomation(s.db.QueryRow(automationSelect+" WHERE id = ?", id))
}

// ListEnabledScheduleAutomations returns enabled schedule-triggered automations,
// the working set for the engine's per-minute cron tick.
func (s *Store) ListEnabledScheduleAutomations() ([]Automation, error) {
	return s.listAutomationsWhere("WHERE enabled = 1 AND trigger_kind = ?", string(TriggerSchedule))
}

// ListEnabledEventAutomations returns enabled automations matching a trigger
// event type, the working set for bus-driven dispatch.
func (s *Store) ListEnabledEventAutomations(eventType string) ([]Automation, error) {
	return s.listAutomationsWhere("WHERE enabled = 1 AND trigger_kind = ? AND trigger_event = ?", string(TriggerEvent), eventType)
}

func (s *Store) listAutomationsWhere(where string, args ...any) ([]Automation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(automationSelect+" "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list automations: %w", err)
	}
	defer rows.Close()

	var out []Automation
	for rows.Next() {
		a, err := scanAutomation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const automationSelect = `SELECT id, domain_id, name, prompt_template, trigger_kind, trigger_cron, trigger_event, action_kind, action_config,
	enabled, failure_streak, cooldown_until, run_count, last_run_at, store_payloads, catch_up_enabled, deadline_window_days,
	duplicate_skip_count, last_duplicate_at, created_at, updated_at FROM automations`

func scanAutomation(sc scannable) (Automation, error) {
	var a Automation
	var triggerKind, actionKind string
	var enabled, storePayloads, catchUp int
	var cooldown, lastRun, lastDup sql.NullTime
	err := sc.Scan(&a.ID, &a.DomainID, &a.Name, &a.PromptTemplate, &triggerKind, &a.TriggerCron, &a.TriggerEvent, &actionKind, &a.ActionConfig,
		&enabled, &a.FailureStreak, &cooldown, &a.RunCount, &lastRun, &storePayloads, &catchUp, &a.DeadlineWindowDays,
		&a.DuplicateSkipCount, &lastDup, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return Automation{}, ErrNotFound
	}
	if err != nil {
		return Automation{}, fmt.Errorf("store: scan automation: %w", err)
	}
	a.TriggerKind = TriggerKind(triggerKind)
	a.ActionKind = ActionKind(actionKind)
	a.Enabled = enabled != 0
	a.StorePayloads = storePayloads != 0
	a.CatchUpEnabled = catchUp != 0
	a.CooldownUntil = cooldown.Time
	a.LastRunAt = lastRun.Time
	a.LastDuplicateAt = lastDup.Time
	return a, nil
}

// SetCooldown pushes an automation's cooldown horizon out to until.
func (s *Store) SetCooldown(automationID string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE automations SET cooldown_until = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, until, automationID)
	return err
}

// RecordDuplicateSkip increments the duplicate-skip counter and stamps the
// last-duplicate time, used when InsertAutomationRun reports ErrDuplicateRun.
func (s *Store) RecordDuplicateSkip(automationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`UPDATE automations SET duplicate_skip_count = duplicate_skip_count + 1, last_duplicate_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		automationID,
	)
	return err
}

// ApplyFinalizeResult updates automation bookkeeping after a run reaches a
// terminal status: run count, last-run time, and (on qualifying failure)
// the failure streak and enabled flag, per the engine's finalize rules.
func (s *Store) ApplyFinalizeResult(automationID string, success bool, code RunErrorCode, disableThreshold int) (streak int, disabled bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, false, fmt.Errorf("store: finalize: begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT failure_streak FROM automations WHERE id = ?`, automationID)
	if err := row.Scan(&streak); err != nil {
		if err == sql.ErrNoRows {
			return 0, false, ErrNotFound
		}
		return 0, false, fmt.Errorf("store: finalize: read streak: %w", err)
	}

	switch {
	case success:
		streak = 0
	case !ExemptFromFailureStreak(code):
		streak++
	}

	disabled = !success && streak >= disableThreshold
	_, err = tx.Exec(
		`UPDATE automations SET run_count = run_count + 1, last_run_at = CURRENT_TIMESTAMP, failure_streak = ?, enabled = CASE WHEN ? THEN 0 ELSE enabled END, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		streak, boolToInt(disabled), automationID,
	)
	if err != nil {
		return 0, false, fmt.Errorf("store: finalize: update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("store: finalize: commit: %w", err)
	}
	return streak, disabled, nil
}

// InsertAutomationRun inserts a pending run row. Returns ErrDuplicateRun if
// dedupeKey collides with an existing row, detected via the driver's typed
// constraint-violation code rather than substring matching on the error text.
func (s *Store) InsertAutomationRun(r AutomationRun) (AutomationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.ID = uuid.NewString()
	r.CreatedAt = time.Now().UTC()
	if r.Status == "" {
		r.Status = RunPending
	}

	_, err := s.db.Exec(
		`INSERT INTO automation_runs (id, automation_id, domain_id, trigger_data, dedupe_key, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.AutomationID, r.DomainID, r.TriggerData, r.DedupeKey, string(r.Status), r.CreatedAt,
	)
	if err != nil {
		if isUniqueConstraint(err) {
			return AutomationRun{}, ErrDuplicateRun
		}
		return AutomationRun{}, fmt.Errorf("store: insert automation run: %w", err)
	}
	return r, nil
}

// StartRun transitions a run to running and stamps started_at.
func (s *Store) StartRun(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE automation_runs SET status = ?, started_at = CURRENT_TIMESTAMP WHERE id = ?`, string(RunRunning), id)
	return err
}

// FinalizeRun sets a run's terminal status plus its result fields and duration.
func (s *Store) FinalizeRun(id string, status RunStatus, code RunErrorCode, message, promptHash, responseHash, actionResult, actionExternalID string, durationMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`UPDATE automation_runs SET status = ?, error_code = ?, error_message = ?, prompt_hash = ?, response_hash = ?,
		 action_result = ?, action_external_id = ?, completed_at = CURRENT_TIMESTAMP, duration_ms = ? WHERE id = ?`,
		string(status), string(code), message, promptHash, responseHash, actionResult, actionExternalID, durationMs, id,
	)
	return err
}

// ListRunsForAutomation returns runs for one automation, most recent first.
func (s *Store) ListRunsForAutomation(automationID string, limit int) ([]AutomationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		automationRunSelect+` WHERE automation_id = ? ORDER BY created_at DESC LIMIT ?`, automationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var out []AutomationRun
	for rows.Next() {
		r, err := scanAutomationRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkStalePendingAsFailed implements crash recovery: any run still pending
// older than pendingAge, or still running older than runningAge, becomes
// failed/crash_recovery.
func (s *Store) MarkStalePendingAsFailed(pendingAge, runningAge time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	res1, err := s.db.Exec(
		`UPDATE automation_runs SET status = ?, error_code = ?, completed_at = ? WHERE status = ? AND created_at < ?`,
		string(RunFailed), string(ErrCodeCrashRecovery), now, string(RunPending), now.Add(-pendingAge),
	)
	if err != nil {
		return 0, fmt.Errorf("store: crash recovery pending: %w", err)
	}
	res2, err := s.db.Exec(
		`UPDATE automation_runs SET status = ?, error_code = ?, completed_at = ? WHERE status = ? AND started_at < ?`,
		string(RunFailed), string(ErrCodeCrashRecovery), now, string(RunRunning), now.Add(-runningAge),
	)
	if err != nil {
		return 0, fmt.Errorf("store: crash recovery running: %w", err)
	}
	n1, _ := res1.RowsAffected()
	n2, _ := res2.RowsAffected()
	return n1 + n2, nil
}

// PruneRuns implements retention cleanup: delete runs older than maxAge, and
// beyond the most recent keepPerAutomation per automation.
func (s *Store) PruneRuns(maxAge time.Duration, keepPerAutomation int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-maxAge)
	res, err := s.db.Exec(`DELETE FROM automation_runs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: prune runs by age: %w", err)
	}
	n1, _ := res.RowsAffected()

	res2, err := s.db.Exec(`
		DELETE FROM automation_runs WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (PARTITION BY automation_id ORDER BY created_at DESC) AS rn
				FROM automation_runs
			) WHERE rn > ?
		)`, keepPerAutomation)
	if err != nil {
		return n1, fmt.Errorf("store: prune runs by count: %w", err)
	}
	n2, _ := res2.RowsAffected()
	return n1 + n2, nil
}

const automationRunSelect = `SELECT id, automation_id, domain_id, trigger_data, dedupe_key, status, error_code, error_message,
	prompt_hash, response_hash, action_result, action_external_id, created_at, started_at, completed_at, duration_ms FROM automation_runs`

func scanAutomationRun(sc scannable) (AutomationRun, error) {
	var r AutomationRun
	var status, code string
	var started, completed sql.NullTime
	err := sc.Scan(&r.ID, &r.AutomationID, &r.DomainID, &r.TriggerData, &r.DedupeKey, &status, &code, &r.ErrorMessage,
		&r.PromptHash, &r.ResponseHash, &r.ActionResult, &r.ActionExternalID, &r.CreatedAt, &started, &completed, &r.DurationMs)
	if err == sql.ErrNoRows {
		return AutomationRun{}, ErrNotFound
	}
	if err != nil {
		return AutomationRun{}, fmt.Errorf("store: scan automation run: %w", err)
	}
	r.Status = RunStatus(status)
	r.ErrorCode = RunErrorCode(code)
	r.StartedAt = started.Time
	r.CompletedAt = completed.Time
	return r, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
