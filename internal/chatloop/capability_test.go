package chatloop

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCapabilityCacheDefaultsNotObserved(t *testing.T) {
	c := NewCapabilityCache()
	require.Equal(t, capNotObserved, c.State("anthropic", "claude", ""))
}

func TestCapabilityCacheMarkSupported(t *testing.T) {
	c := NewCapabilityCache()
	c.MarkSupported("anthropic", "claude", "")
	require.Equal(t, capSupported, c.State("anthropic", "claude", ""))
}

func TestCapabilityCacheMarkNotSupported(t *testing.T) {
	c := NewCapabilityCache()
	c.MarkNotSupported("anthropic", "claude", "")
	require.Equal(t, capNotSupported, c.State("anthropic", "claude", ""))
}

func TestCapabilityCacheTwoConsecutiveToolFreeTurnsSetNotObserved(t *testing.T) {
	c := NewCapabilityCache()
	c.MarkSupported("anthropic", "claude", "")
	c.ObserveToolFreeTurn("anthropic", "claude", "")
	require.Equal(t, capSupported, c.State("anthropic", "claude", ""))
	c.ObserveToolFreeTurn("anthropic", "claude", "")
	require.Equal(t, capNotObserved, c.State("anthropic", "claude", ""))
}

func TestCapabilityCacheSupportedResetsCounter(t *testing.T) {
	c := NewCapabilityCache()
	c.MarkSupported("a", "m", "")
	c.ObserveToolFreeTurn("a", "m", "")
	c.MarkSupported("a", "m", "")
	c.ObserveToolFreeTurn("a", "m", "")
	require.Equal(t, capSupported, c.State("a", "m", ""))
}

func TestCapabilityCacheKeysAreIndependent(t *testing.T) {
	c := NewCapabilityCache()
	c.MarkNotSupported("anthropic", "claude-3", "")
	require.Equal(t, capNotObserved, c.State("anthropic", "claude-4", ""))
	require.Equal(t, capNotObserved, c.State("openai", "claude-3", ""))
}
