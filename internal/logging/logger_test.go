package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryProductionModeIsSilent(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRegistry(filepath.Join(dir, "logs"), Config{DebugMode: false})
	require.NoError(t, err)

	l := r.Get(CategoryAutomation)
	l.Info("should not panic or write")

	_, err = os.Stat(filepath.Join(dir, "logs"))
	require.True(t, os.IsNotExist(err), "no log directory should be created in production mode")
}

func TestRegistryWritesCategoryFile(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRegistry(dir, Config{DebugMode: true, Level: "debug"})
	require.NoError(t, err)

	l := r.Get(CategoryMission)
	l.Info("mission run started id=%s", "abc123")
	require.NoError(t, r.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	found := false
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".log" {
			found = true
		}
	}
	require.True(t, found, "expected a .log file to be created")
}

func TestCategoryDisabledIsNoop(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRegistry(dir, Config{
		DebugMode:  true,
		Level:      "debug",
		Categories: map[string]bool{string(CategoryMission): false},
	})
	require.NoError(t, err)

	l := r.Get(CategoryMission)
	l.Info("this should be dropped")
	require.Nil(t, l.out)
}

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRegistry(dir, Config{DebugMode: true, Level: "error"})
	require.NoError(t, err)
	require.Equal(t, LevelError, r.level)
}
