package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRootCommandRegistersEverySubcommand(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["serve"])
	require.True(t, names["automation"])
	require.True(t, names["mission"])
	require.True(t, names["kb"])
}

func TestAutomationRunRegistersUnderAutomation(t *testing.T) {
	names := map[string]bool{}
	for _, c := range automationCmd.Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["run"])
}

func TestLoadConfigAppliesEnvOverridesWhenConfigFileMissing(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	t.Setenv("WARDEN_INGEST_TOKEN", "test-ingest-token")
	t.Setenv("WARDEN_DATA_DIR", t.TempDir())

	configPath = filepath.Join(t.TempDir(), "does-not-exist.yaml")
	t.Cleanup(func() { configPath = "" })

	cfg, err := loadConfig()
	require.NoError(t, err)
	require.Equal(t, "anthropic", cfg.Provider.Provider)
	require.Equal(t, "test-key", cfg.Provider.APIKey)
}

func TestLoadConfigFailsValidationWithoutAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("WARDEN_INGEST_TOKEN", "test-ingest-token")

	configPath = filepath.Join(t.TempDir(), "does-not-exist.yaml")
	t.Cleanup(func() { configPath = "" })

	_, err := loadConfig()
	require.Error(t, err)
}

func TestListMarkdownFilesReturnsOnlyMarkdown(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "notes.md"), "# hi")
	writeFile(t, filepath.Join(dir, "image.png"), "not markdown")
	writeFile(t, filepath.Join(dir, "sub", "deep.md"), "# deep")

	files, err := listMarkdownFiles(dir)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"notes.md", filepath.Join("sub", "deep.md")}, files)
}
