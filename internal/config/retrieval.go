package config

import "fmt"

// RetrievalConfig configures how context is assembled when querying a
// domain's knowledge base.
type RetrievalConfig struct {
	// FallbackProfile selects the string-based KB strategy used when no
	// embedding client is configured or a domain has no embeddings yet:
	// "digest_only", "digest_plus_structural", or "full".
	FallbackProfile string `yaml:"fallback_profile" json:"fallback_profile"`
}

// ValidFallbackProfiles lists every supported fallback strategy.
var ValidFallbackProfiles = []string{"digest_only", "digest_plus_structural", "full"}

// DefaultRetrievalConfig returns digest_plus_structural, the middle ground
// between a bare digest pass and reading every KB file in full.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		FallbackProfile: "digest_plus_structural",
	}
}

// Validate checks FallbackProfile against ValidFallbackProfiles.
func (r RetrievalConfig) Validate() error {
	for _, p := range ValidFallbackProfiles {
		if r.FallbackProfile == p {
			return nil
		}
	}
	return fmt.Errorf("config: invalid retrieval fallback profile %q (valid: %v)", r.FallbackProfile, ValidFallbackProfiles)
}
