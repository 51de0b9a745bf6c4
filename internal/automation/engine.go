// Package automation runs the scheduler/dispatcher/dedup pipeline that
// fires prompt-and-action automations on a cron schedule or in response to
// bus events.
package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"warden/internal/bus"
	"warden/internal/config"
	"warden/internal/logging"
	"warden/internal/provider"
	"warden/internal/store"
)

const (
	crashRecoveryPendingAge = 10 * time.Minute
	crashRecoveryRunningAge = 20 * time.Minute
	retentionMaxAge         = 90 * 24 * time.Hour
	retentionKeepPerAuto    = 200
	retentionInterval       = 24 * time.Hour
	catchUpLookback         = 7 * 24 * time.Hour
	rateLimitCooldown       = 5 * time.Minute
)

// Engine owns the automation runtime: the cron tick, bus subscriptions, rate
// limiting, and the executeAutomation pipeline. One Engine is constructed by
// runtime.New and never reached through a package global.
type Engine struct {
	store      *store.Store
	bus        *bus.Bus
	providers  *provider.Registry
	limits     config.RuntimeLimits
	llmTimeout time.Duration
	log        *logging.Logger

	notifications NotificationSink
	gtasks        GTaskClient
	gmail         GmailComposer

	sem *semaphore.Weighted

	mu            sync.Mutex
	lastMinuteKey map[string]string
	rates         *rateLimiter

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New constructs an Engine. notifications, gtasks, and gmail may be nil;
// a nil gtasks or gmail fails its corresponding action with the matching
// not-connected error code rather than panicking, and a nil notifications
// sink makes notification actions succeed without posting anything.
func New(st *store.Store, b *bus.Bus, providers *provider.Registry, limits config.RuntimeLimits, llmTimeout time.Duration, log *logging.Logger, notifications NotificationSink, gtasks GTaskClient, gmail GmailComposer) *Engine {
	permits := int64(limits.MaxConcurrentAPICalls)
	if permits < 1 {
		permits = 1
	}
	if llmTimeout <= 0 {
		llmTimeout = 120 * time.Second
	}
	return &Engine{
		store:         st,
		bus:           b,
		providers:     providers,
		limits:        limits,
		llmTimeout:    llmTimeout,
		log:           log,
		notifications: notifications,
		gtasks:        gtasks,
		gmail:         gmail,
		sem:           semaphore.NewWeighted(permits),
		lastMinuteKey: make(map[string]string),
		rates:         newRateLimiter(),
	}
}

// Start runs the ordered startup jobs, subscribes to bus events, and
// launches the cron and retention tickers. It returns once the startup
// jobs have completed; the tickers run in background goroutines until Stop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("automation: engine already started")
	}
	e.started = true
	e.mu.Unlock()

	if err := e.runCrashRecovery(); err != nil {
		return fmt.Errorf("automation: crash recovery: %w", err)
	}
	if err := e.runRetentionCleanup(); err != nil {
		return fmt.Errorf("automation: retention cleanup: %w", err)
	}
	if err := e.runCatchUp(ctx, time.Now().UTC()); err != nil {
		return fmt.Errorf("automation: catch-up: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.bus.Subscribe(bus.EventIntakeCreated, e.onBusEvent(bus.EventIntakeCreated))
	e.bus.Subscribe(bus.EventIntakeClassified, e.onBusEvent(bus.EventIntakeClassified))
	e.bus.Subscribe(bus.EventKBFileChanged, e.onBusEvent(bus.EventKBFileChanged))
	e.bus.Subscribe(bus.EventMissionGateOpened, e.onBusEvent(bus.EventMissionGateOpened))
	e.bus.Subscribe(bus.EventMissionGateDecided, e.onBusEvent(bus.EventMissionGateDecided))

	e.wg.Add(2)
	go e.runCronLoop(runCtx)
	go e.runRetentionLoop(runCtx)

	return nil
}

// RunNow executes one automation immediately, bypassing its cron schedule
// and event triggers, the pipeline behind `automation run <id>`. It shares
// the dedupe/rate-limit/execute path every other trigger kind goes through;
// a manual run still counts against the per-automation, per-domain, and
// global rate limits.
func (e *Engine) RunNow(ctx context.Context, automationID string) error {
	a, err := e.store.GetAutomation(automationID)
	if err != nil {
		return fmt.Errorf("automation: run now: %w", err)
	}
	e.executeAutomation(ctx, a, store.TriggerManual, dedupeInput{
		MinuteKey: time.Now().UTC().Format("2006-01-02T15:04"),
	})
	return nil
}

// Stop cancels the background tickers, waits for them to exit, and clears
// all in-memory rate-limit state.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()

	e.mu.Lock()
	e.lastMinuteKey = make(map[string]string)
	e.rates.reset()
	e.mu.Unlock()
}

func (e *Engine) runCronLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runCronTick(ctx, time.Now().UTC())
		}
	}
}

func (e *Engine) runRetentionLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.runRetentionCleanup(); err != nil && e.log != nil {
				e.log.Error("retention cleanup failed: %v", err)
			}
		}
	}
}

// runCronTick evaluates every enabled schedule automation against now,
// applying the double-fire guard before matching the cron expression.
func (e *Engine) runCronTick(ctx context.Context, now time.Time) {
	automations, err := e.store.ListEnabledScheduleAutomations()
	if err != nil {
		if e.log != nil {
			e.log.Error("list schedule automations: %v", err)
		}
		return
	}

	key := minuteKey(now)
	for _, a := range automations {
		if a.TriggerCron == "" {
			continue
		}
		if e.sawMinute(a.ID, key) {
			continue
		}
		matched, err := matchesCron(a.TriggerCron, now)
		if err != nil {
			if e.log != nil {
				e.log.Error("parse cron %q for automation %s: %v", a.TriggerCron, a.ID, err)
			}
			continue
		}
		if !matched {
			continue
		}
		e.recordMinute(a.ID, key)
		e.executeAutomation(ctx, a, store.TriggerSchedule, dedupeInput{MinuteKey: key})
	}
}

func (e *Engine) sawMinute(automationID, key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastMinuteKey[automationID] == key
}

func (e *Engine) recordMinute(automationID, key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastMinuteKey[automationID] = key
}

// onBusEvent returns a bus.Handler that dispatches kind to every enabled
// automation whose trigger_event matches, honoring the domain wildcard: an
// event with an empty DomainID reaches automations in every domain.
func (e *Engine) onBusEvent(kind bus.EventKind) bus.Handler {
	return func(event bus.Event) {
		automations, err := e.store.ListEnabledEventAutomations(string(kind))
		if err != nil {
			if e.log != nil {
				e.log.Error("list event automations for %s: %v", kind, err)
			}
			return
		}

		var payload []byte
		if event.Data.Metadata != nil {
			payload, _ = json.Marshal(event.Data.Metadata)
		}

		for _, a := range automations {
			if event.Data.DomainID != "" && a.DomainID != event.Data.DomainID {
				continue
			}
			now := time.Now().UTC()
			e.executeAutomation(context.Background(), a, store.TriggerEvent, dedupeInput{
				MinuteKey: minuteKey(now),
				EventType: string(kind),
				EventData: payload,
			})
		}
	}
}
