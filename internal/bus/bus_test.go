package bus

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubscribeAndEmitInOrder(t *testing.T) {
	b := New()
	var order []string
	b.Subscribe(EventIntakeCreated, func(e Event) { order = append(order, "first") })
	b.Subscribe(EventIntakeCreated, func(e Event) { order = append(order, "second") })

	b.Emit(Event{Type: EventIntakeCreated, Data: EventData{DomainID: "d1"}})

	require.Equal(t, []string{"first", "second"}, order)
}

func TestEmitOnlyReachesMatchingKind(t *testing.T) {
	b := New()
	calls := 0
	b.Subscribe(EventIntakeCreated, func(e Event) { calls++ })

	b.Emit(Event{Type: EventKBFileChanged})

	require.Equal(t, 0, calls)
}

func TestEmitCapsOversizedMetadata(t *testing.T) {
	b := New()
	var got Event
	b.Subscribe(EventAutomationFinished, func(e Event) { got = e })

	huge := strings.Repeat("x", maxMetadataBytes+1)
	b.Emit(Event{Type: EventAutomationFinished, Data: EventData{Metadata: map[string]any{"blob": huge}}})

	require.Equal(t, true, got.Data.Metadata["_truncated"])
}
