package automation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"warden/internal/bus"
	"warden/internal/config"
	"warden/internal/logging"
	"warden/internal/provider"
	"warden/internal/store"
)

type fakeProvider struct {
	text string
	err  error
}

func (f *fakeProvider) CreateToolUseMessage(ctx context.Context, messages []provider.Message, systemPrompt string, tools []provider.ToolSpec) (provider.ToolUseResult, error) {
	return provider.ToolUseResult{}, nil
}
func (f *fakeProvider) Chat(ctx context.Context, messages []provider.Message, systemPrompt string) (provider.Streamer, error) {
	return nil, nil
}
func (f *fakeProvider) ChatComplete(ctx context.Context, messages []provider.Message, systemPrompt string) (string, error) {
	return f.text, f.err
}
func (f *fakeProvider) Serialize(raw any) ([]byte, error)    { return nil, nil }
func (f *fakeProvider) Deserialize(data []byte) (any, error) { return nil, nil }

type fakeNotifier struct {
	notified []string
	bodies   []string
}

func (n *fakeNotifier) Notify(ctx context.Context, domainID, title, body string) error {
	n.notified = append(n.notified, title)
	n.bodies = append(n.bodies, body)
	return nil
}

func newTestEngine(t *testing.T, notif NotificationSink, p provider.Provider) (*Engine, *store.Store) {
	t.Helper()
	reg, err := logging.NewRegistry(t.TempDir(), logging.Config{})
	require.NoError(t, err)
	st, err := store.New(":memory:", reg.Get(logging.CategoryStore))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	providers := provider.NewRegistry("fake")
	providers.Register("fake", p)

	b := bus.New()
	limits := config.DefaultRuntimeLimits()
	e := New(st, b, providers, limits, time.Second, reg.Get(logging.CategoryAutomation), notif, nil, nil)
	return e, st
}

func mustCreateAutomation(t *testing.T, st *store.Store, mutate func(*store.Automation)) store.Automation {
	t.Helper()
	d, err := st.CreateDomain(store.Domain{Name: "d1", KBRootPath: "/kb"})
	require.NoError(t, err)

	a := store.Automation{
		DomainID:       d.ID,
		Name:           "daily digest",
		PromptTemplate: "Summarize {{domain_name}} on {{current_date}}.",
		TriggerKind:    store.TriggerSchedule,
		TriggerCron:    "0 9 * * *",
		ActionKind:     store.ActionNotification,
		Enabled:        true,
	}
	if mutate != nil {
		mutate(&a)
	}
	created, err := st.CreateAutomation(a)
	require.NoError(t, err)
	return created
}

func TestExecuteAutomationDisabledIsSkipped(t *testing.T) {
	notif := &fakeNotifier{}
	e, st := newTestEngine(t, notif, &fakeProvider{text: "hello\nworld"})

	a := mustCreateAutomation(t, st, func(a *store.Automation) { a.Enabled = false })
	e.executeAutomation(context.Background(), a, store.TriggerSchedule, dedupeInput{MinuteKey: "2026-07-31T09:00"})

	runs, err := st.ListRunsForAutomation(a.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, store.RunSkipped, runs[0].Status)
	require.Equal(t, store.ErrCodeAutomationDisabled, runs[0].ErrorCode)
}

func TestExecuteAutomationCooldownIsSkipped(t *testing.T) {
	notif := &fakeNotifier{}
	e, st := newTestEngine(t, notif, &fakeProvider{text: "hi"})

	a := mustCreateAutomation(t, st, func(a *store.Automation) { a.CooldownUntil = time.Now().Add(time.Hour) })
	e.executeAutomation(context.Background(), a, store.TriggerSchedule, dedupeInput{MinuteKey: "2026-07-31T09:00"})

	runs, err := st.ListRunsForAutomation(a.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, store.ErrCodeCooldownActive, runs[0].ErrorCode)
}

func TestExecuteAutomationSuccessNotifies(t *testing.T) {
	notif := &fakeNotifier{}
	e, st := newTestEngine(t, notif, &fakeProvider{text: "digest ready\nhere are the highlights"})

	a := mustCreateAutomation(t, st, nil)
	e.executeAutomation(context.Background(), a, store.TriggerSchedule, dedupeInput{MinuteKey: "2026-07-31T09:00"})

	runs, err := st.ListRunsForAutomation(a.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, store.RunSuccess, runs[0].Status)
	require.Equal(t, []string{"digest ready"}, notif.notified)

	got, err := st.GetAutomation(a.ID)
	require.NoError(t, err)
	require.Equal(t, 0, got.FailureStreak)
	require.Equal(t, 1, got.RunCount)
}

func TestExecuteAutomationLLMErrorIncrementsStreakAndBackoff(t *testing.T) {
	notif := &fakeNotifier{}
	e, st := newTestEngine(t, notif, &fakeProvider{err: errBoom})

	a := mustCreateAutomation(t, st, nil)
	e.executeAutomation(context.Background(), a, store.TriggerSchedule, dedupeInput{MinuteKey: "2026-07-31T09:00"})

	got, err := st.GetAutomation(a.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.FailureStreak)
	require.True(t, got.CooldownUntil.After(time.Now()))
	require.True(t, got.Enabled)
}

func TestExecuteAutomationDuplicateDedupeKeyIsSkippedSilently(t *testing.T) {
	notif := &fakeNotifier{}
	e, st := newTestEngine(t, notif, &fakeProvider{text: "ok"})

	a := mustCreateAutomation(t, st, nil)
	in := dedupeInput{MinuteKey: "2026-07-31T09:00"}
	e.executeAutomation(context.Background(), a, store.TriggerSchedule, in)
	e.executeAutomation(context.Background(), a, store.TriggerSchedule, in)

	runs, err := st.ListRunsForAutomation(a.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	got, err := st.GetAutomation(a.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.DuplicateSkipCount)
}

func TestCronTickSkipsSameMinuteTwice(t *testing.T) {
	notif := &fakeNotifier{}
	e, st := newTestEngine(t, notif, &fakeProvider{text: "ok"})
	a := mustCreateAutomation(t, st, func(a *store.Automation) { a.TriggerCron = "0 9 * * *" })

	now := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	e.runCronTick(context.Background(), now)
	e.runCronTick(context.Background(), now)

	runs, err := st.ListRunsForAutomation(a.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
}

func TestFiveConsecutiveFailuresDisableAutomationAndNotify(t *testing.T) {
	notif := &fakeNotifier{}
	e, st := newTestEngine(t, notif, &fakeProvider{err: errBoom})
	a := mustCreateAutomation(t, st, nil)

	for i := 0; i < 5; i++ {
		// Reset the in-memory rate limiter between attempts: the real guard
		// is a 1-per-60s sliding window, which five back-to-back calls in a
		// test would otherwise trip well before the failure streak does.
		e.rates.reset()
		e.executeAutomation(context.Background(), a, store.TriggerManual, dedupeInput{MinuteKey: time.Now().Add(time.Duration(i) * time.Minute).Format("2006-01-02T15:04")})
		// Clear cooldown between attempts so the next failure isn't skipped as cooldown_active.
		require.NoError(t, st.SetCooldown(a.ID, time.Time{}))
		got, err := st.GetAutomation(a.ID)
		require.NoError(t, err)
		a = got
	}

	got, err := st.GetAutomation(a.ID)
	require.NoError(t, err)
	require.False(t, got.Enabled)
	require.Equal(t, 5, got.FailureStreak)
	require.Len(t, notif.bodies, 1)
	require.Contains(t, notif.bodies[0], "disabled due to 5 consecutive failures")

	runs, err := st.ListRunsForAutomation(a.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 5)
}

var errBoom = &boomError{}

type boomError struct{}

func (e *boomError) Error() string { return "boom" }
