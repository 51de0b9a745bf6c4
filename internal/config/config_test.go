package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidateRequiresAPIKeyAndToken(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "provider API key")
}

func TestValidateRequiresIngestToken(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Provider.APIKey = "sk-test"
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "ingest auth token")
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Provider.APIKey = "sk-test"
	cfg.Ingest.AuthToken = "tok"
	cfg.Provider.Provider = "made-up"
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid provider")
}

func TestValidateAccepts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Provider.APIKey = "sk-test"
	cfg.Ingest.AuthToken = "tok"
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, "warden", cfg.Name)
	require.Equal(t, "anthropic", cfg.Provider.Provider)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Provider.Model = "claude-opus-4"
	cfg.Limits.MaxConcurrentAutomationRuns = 7
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "claude-opus-4", loaded.Provider.Model)
	require.Equal(t, 7, loaded.Limits.MaxConcurrentAutomationRuns)
}

func TestEnvOverridesSelectProvider(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-openai-test")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, "openai", cfg.Provider.Provider)
	require.Equal(t, "sk-openai-test", cfg.Provider.APIKey)
}

func TestStorePathAndLogDirUnderDataDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/tmp/warden-data"
	require.Equal(t, "/tmp/warden-data/warden.db", cfg.StorePath())
	require.Equal(t, "/tmp/warden-data/logs", cfg.LogDir())
}

func TestRuntimeLimitsValidate(t *testing.T) {
	l := DefaultRuntimeLimits()
	require.NoError(t, l.Validate())

	l.MaxConcurrentAutomationRuns = 0
	require.Error(t, l.Validate())
}
