package config

import "fmt"

// RuntimeLimits holds system-wide resource limits. The automation engine
// reads MaxConcurrentAPICalls and AutomationDisableThreshold, and the
// ingestion server reads IngestMaxPayloadBytes. The other fields are
// validated and saved but not read by any component: the engine's rate-limit
// windows and retention policy and the ingestion rate limit are fixed
// constants in their own packages, and the mission runner reads no limits.
type RuntimeLimits struct {
	MaxConcurrentAutomationRuns int `yaml:"max_concurrent_automation_runs" json:"max_concurrent_automation_runs"`
	MaxConcurrentAPICalls       int `yaml:"max_concurrent_api_calls" json:"max_concurrent_api_calls"` // automation engine's LLM semaphore permits
	MaxRunsPerAutomationPerHour int `yaml:"max_runs_per_automation_per_hour" json:"max_runs_per_automation_per_hour"`
	AutomationDisableThreshold  int `yaml:"automation_disable_threshold" json:"automation_disable_threshold"` // consecutive failures before auto-disable
	RunRetentionDays            int `yaml:"run_retention_days" json:"run_retention_days"`
	RunsKeptPerAutomation       int `yaml:"runs_kept_per_automation" json:"runs_kept_per_automation"`
	MaxConcurrentMissionRuns    int `yaml:"max_concurrent_mission_runs" json:"max_concurrent_mission_runs"`
	IngestRateLimitPerMinute    int `yaml:"ingest_rate_limit_per_minute" json:"ingest_rate_limit_per_minute"`
	IngestMaxPayloadBytes       int `yaml:"ingest_max_payload_bytes" json:"ingest_max_payload_bytes"`
}

// DefaultRuntimeLimits returns sensible defaults for a single-host desktop
// deployment.
func DefaultRuntimeLimits() RuntimeLimits {
	return RuntimeLimits{
		MaxConcurrentAutomationRuns: 4,
		MaxConcurrentAPICalls:       3,
		MaxRunsPerAutomationPerHour: 12,
		AutomationDisableThreshold:  5,
		RunRetentionDays:            90,
		RunsKeptPerAutomation:       200,
		MaxConcurrentMissionRuns:    1,
		IngestRateLimitPerMinute:    30,
		IngestMaxPayloadBytes:       1 << 20, // 1 MiB
	}
}

// Validate checks that runtime limits are within acceptable ranges.
func (l RuntimeLimits) Validate() error {
	if l.MaxConcurrentAutomationRuns < 1 {
		return fmt.Errorf("max_concurrent_automation_runs must be >= 1")
	}
	if l.MaxConcurrentAPICalls < 1 {
		return fmt.Errorf("max_concurrent_api_calls must be >= 1")
	}
	if l.AutomationDisableThreshold < 1 {
		return fmt.Errorf("automation_disable_threshold must be >= 1")
	}
	if l.MaxConcurrentMissionRuns < 1 {
		return fmt.Errorf("max_concurrent_mission_runs must be >= 1")
	}
	if l.IngestRateLimitPerMinute < 1 {
		return fmt.Errorf("ingest_rate_limit_per_minute must be >= 1")
	}
	if l.IngestMaxPayloadBytes < 1024 {
		return fmt.Errorf("ingest_max_payload_bytes must be >= 1024")
	}
	return nil
}
