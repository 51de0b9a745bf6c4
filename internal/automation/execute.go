package automation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"warden/internal/provider"
	"warden/internal/store"
)

// executeAutomation runs the full pipeline for one firing of a: guard
// check, dedupe, prompt render, concurrency-gated LLM call, action
// dispatch, and finalize.
func (e *Engine) executeAutomation(ctx context.Context, a store.Automation, triggerKind store.TriggerKind, in dedupeInput) {
	now := time.Now().UTC()

	// 1. Guard check, in order: disabled, cooldown, rate limit.
	if !a.Enabled {
		e.insertAndFinalizeSkip(a, triggerKind, in, store.ErrCodeAutomationDisabled)
		return
	}
	if !a.CooldownUntil.IsZero() && a.CooldownUntil.After(now) {
		e.insertAndFinalizeSkip(a, triggerKind, in, store.ErrCodeCooldownActive)
		return
	}
	e.mu.Lock()
	granted := e.rates.checkAndGrant(a.ID, a.DomainID, now)
	e.mu.Unlock()
	if !granted {
		e.insertAndFinalizeSkip(a, triggerKind, in, store.ErrCodeRateLimited)
		if err := e.store.SetCooldown(a.ID, now.Add(rateLimitCooldown)); err != nil && e.log != nil {
			e.log.Error("set cooldown after rate limit for automation %s: %v", a.ID, err)
		}
		return
	}

	// 2. Dedupe key + run insert.
	dedupeKey := generateDedupeKey(a.ID, triggerKind, in)
	run, err := e.store.InsertAutomationRun(store.AutomationRun{
		AutomationID: a.ID,
		DomainID:     a.DomainID,
		TriggerData:  string(in.EventData),
		DedupeKey:    dedupeKey,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateRun) {
			if rerr := e.store.RecordDuplicateSkip(a.ID); rerr != nil && e.log != nil {
				e.log.Error("record duplicate skip for automation %s: %v", a.ID, rerr)
			}
			return
		}
		if e.log != nil {
			e.log.Error("insert automation run for %s: %v", a.ID, err)
		}
		return
	}

	domain, err := e.store.GetDomain(a.DomainID)
	if err != nil {
		e.finalize(run.ID, a, now, store.RunFailed, store.ErrCodeProviderNotConfig, err.Error(), "", "", "", "")
		return
	}

	// 3. Prompt render.
	promptText, err := renderPrompt(a.PromptTemplate, domain.Name, in.EventType, in.EventData, now)
	if err != nil {
		e.finalize(run.ID, a, now, store.RunFailed, store.ErrCodeTemplateRender, err.Error(), "", "", "", "")
		return
	}
	promptHash := hashString(promptText)

	// 4. Concurrency gate.
	if err := e.sem.Acquire(ctx, 1); err != nil {
		e.finalize(run.ID, a, now, store.RunFailed, store.ErrCodeTimeout, "concurrency gate: "+err.Error(), promptHash, "", "", "")
		return
	}
	defer e.sem.Release(1)
	if err := e.store.StartRun(run.ID); err != nil && e.log != nil {
		e.log.Error("mark run %s running: %v", run.ID, err)
	}

	responseText, code, llmErr := e.callProvider(ctx, domain, promptText)

	if llmErr != nil {
		e.finalize(run.ID, a, now, store.RunFailed, code, llmErr.Error(), promptHash, "", "", "")
		return
	}
	responseHash := hashString(responseText)

	// 6. Action dispatch.
	actionResult, externalID, actionCode, actionErr := e.dispatchAction(ctx, a, responseText)
	if actionErr != nil {
		e.finalize(run.ID, a, now, store.RunFailed, actionCode, actionErr.Error(), promptHash, responseHash, actionResult, externalID)
		return
	}

	// 7. Finalize on success.
	e.finalize(run.ID, a, now, store.RunSuccess, "", "", promptHash, responseHash, actionResult, externalID)
}

func (e *Engine) callProvider(ctx context.Context, domain store.Domain, promptText string) (string, store.RunErrorCode, error) {
	name := domain.ProviderOverride
	var p provider.Provider
	var err error
	if name == "" {
		p, err = e.providers.Default()
	} else {
		p, err = e.providers.Get(name)
	}
	if err != nil {
		return "", store.ErrCodeProviderNotConfig, err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.llmTimeout)
	defer cancel()

	text, err := p.ChatComplete(callCtx, []provider.Message{{Role: provider.RoleUser, Content: promptText}}, "")
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", store.ErrCodeTimeout, err
		}
		return "", store.ErrCodeLLMError, err
	}
	return text, "", nil
}

// insertAndFinalizeSkip inserts a run row for a guard-check failure and
// immediately finalizes it as skipped, per the pipeline's step 1.
func (e *Engine) insertAndFinalizeSkip(a store.Automation, triggerKind store.TriggerKind, in dedupeInput, code store.RunErrorCode) {
	dedupeKey := generateDedupeKey(a.ID, triggerKind, in)
	run, err := e.store.InsertAutomationRun(store.AutomationRun{
		AutomationID: a.ID,
		DomainID:     a.DomainID,
		TriggerData:  string(in.EventData),
		DedupeKey:    dedupeKey,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateRun) {
			if rerr := e.store.RecordDuplicateSkip(a.ID); rerr != nil && e.log != nil {
				e.log.Error("record duplicate skip for automation %s: %v", a.ID, rerr)
			}
			return
		}
		if e.log != nil {
			e.log.Error("insert skipped run for %s: %v", a.ID, err)
		}
		return
	}
	if err := e.store.FinalizeRun(run.ID, store.RunSkipped, code, "", "", "", "", "", 0); err != nil && e.log != nil {
		e.log.Error("finalize skipped run %s: %v", run.ID, err)
	}
}

// finalize applies the engine's terminal-status bookkeeping: it writes the
// run's result row, then updates the parent automation's failure streak,
// auto-disable, and backoff-cooldown state.
func (e *Engine) finalize(runID string, a store.Automation, startedAt time.Time, status store.RunStatus, code store.RunErrorCode, message, promptHash, responseHash, actionResult, externalID string) {
	completedAt := time.Now().UTC()
	durationMs := completedAt.Sub(startedAt).Milliseconds()

	if err := e.store.FinalizeRun(runID, status, code, message, promptHash, responseHash, actionResult, externalID, durationMs); err != nil && e.log != nil {
		e.log.Error("finalize run %s: %v", runID, err)
	}

	success := status == store.RunSuccess
	streak, disabled, err := e.store.ApplyFinalizeResult(a.ID, success, code, e.limits.AutomationDisableThreshold)
	if err != nil {
		if e.log != nil {
			e.log.Error("apply finalize result for automation %s: %v", a.ID, err)
		}
		return
	}

	if disabled && e.notifications != nil {
		body := fmt.Sprintf("%s disabled due to %d consecutive failures. Last error: %s", a.Name, streak, code)
		if err := e.notifications.Notify(context.Background(), a.DomainID, "Automation disabled", body); err != nil && e.log != nil {
			e.log.Error("notify automation disabled for %s: %v", a.ID, err)
		}
	}

	if !success && (code == store.ErrCodeLLMError || code == store.ErrCodeTimeout) {
		backoff := store.BackoffFor(streak - 1)
		if err := e.store.SetCooldown(a.ID, completedAt.Add(backoff)); err != nil && e.log != nil {
			e.log.Error("set backoff cooldown for automation %s: %v", a.ID, err)
		}
	}
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
