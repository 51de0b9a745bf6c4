package automation

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"warden/internal/store"
)

// minuteKey formats t to the minute granularity used for double-fire
// detection and dedupe-key derivation.
func minuteKey(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04")
}

// dedupeInput bundles the fields that distinguish one firing of an
// automation from another, per trigger kind.
type dedupeInput struct {
	MinuteKey string
	EventType string
	EventData []byte
	RequestID string
}

// generateDedupeKey derives a stable, collision-resistant key for a single
// firing of automationID under triggerKind. Two firings that would hash to
// the same key are, by construction, the same logical event.
func generateDedupeKey(automationID string, triggerKind store.TriggerKind, in dedupeInput) string {
	h := sha256.New()
	h.Write([]byte(automationID))
	h.Write([]byte{0})
	h.Write([]byte(triggerKind))
	h.Write([]byte{0})
	h.Write([]byte(in.MinuteKey))
	h.Write([]byte{0})
	h.Write([]byte(in.EventType))
	h.Write([]byte{0})
	h.Write(in.EventData)
	h.Write([]byte{0})
	h.Write([]byte(in.RequestID))
	return hex.EncodeToString(h.Sum(nil))
}
