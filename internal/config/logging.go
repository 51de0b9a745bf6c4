package config

import "warden/internal/logging"

// LoggingConfig configures the category-scoped file logger.
type LoggingConfig struct {
	Level      string          `yaml:"level" json:"level,omitempty"`           // debug, info, warn, error
	JSONFormat bool            `yaml:"json_format" json:"json_format,omitempty"`
	DebugMode  bool            `yaml:"debug_mode" json:"debug_mode,omitempty"` // master toggle - false = no logging
	Categories map[string]bool `yaml:"categories" json:"categories,omitempty"` // per-category toggles
}

// DefaultLoggingConfig returns the silent-by-default logging configuration.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:     "info",
		DebugMode: false,
	}
}

// ToLoggingConfig translates the on-disk config shape into the logging
// package's own Config, which runtime.New hands to logging.NewRegistry.
func (c LoggingConfig) ToLoggingConfig() logging.Config {
	return logging.Config{
		DebugMode:  c.DebugMode,
		Categories: c.Categories,
		Level:      c.Level,
		JSONFormat: c.JSONFormat,
	}
}
