package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultRetrievalConfigFallbackProfile(t *testing.T) {
	require.Equal(t, "digest_plus_structural", DefaultRetrievalConfig().FallbackProfile)
}

func TestDefaultConfigIncludesRetrievalSection(t *testing.T) {
	cfg := DefaultConfig()
	require.NotEmpty(t, cfg.Retrieval.FallbackProfile)
}

func TestRetrievalConfigValidateRejectsUnknownProfile(t *testing.T) {
	r := RetrievalConfig{FallbackProfile: "guess-and-check"}
	require.Error(t, r.Validate())
}
