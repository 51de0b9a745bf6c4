package automation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"warden/internal/store"
)

func TestGenerateDedupeKeyStableForSameInputs(t *testing.T) {
	in := dedupeInput{MinuteKey: "2026-07-31T09:00", EventType: "kb_file_changed", EventData: []byte(`{"a":1}`)}
	k1 := generateDedupeKey("auto-1", store.TriggerEvent, in)
	k2 := generateDedupeKey("auto-1", store.TriggerEvent, in)
	require.Equal(t, k1, k2)
}

func TestGenerateDedupeKeyDiffersOnMinute(t *testing.T) {
	a := dedupeInput{MinuteKey: "2026-07-31T09:00"}
	b := dedupeInput{MinuteKey: "2026-07-31T09:01"}
	require.NotEqual(t, generateDedupeKey("auto-1", store.TriggerSchedule, a), generateDedupeKey("auto-1", store.TriggerSchedule, b))
}

func TestGenerateDedupeKeyDiffersOnAutomation(t *testing.T) {
	in := dedupeInput{MinuteKey: "2026-07-31T09:00"}
	require.NotEqual(t, generateDedupeKey("auto-1", store.TriggerSchedule, in), generateDedupeKey("auto-2", store.TriggerSchedule, in))
}

func TestMinuteKeyFormat(t *testing.T) {
	ts := time.Date(2026, 7, 31, 9, 5, 30, 0, time.UTC)
	require.Equal(t, "2026-07-31T09:05", minuteKey(ts))
}
