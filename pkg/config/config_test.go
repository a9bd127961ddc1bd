package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Embedding.Provider)
	assert.Equal(t, 60, cfg.Daemon.PollSeconds)
	assert.Equal(t, 300, cfg.Daemon.StaleSeconds)
	assert.Equal(t, 2, cfg.Daemon.MaxConcurrent)
}

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := DefaultConfig()
	cfg.Embedding.Provider = "mock"
	cfg.Daemon.MaxConcurrent = 4
	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "mock", loaded.Embedding.Provider)
	assert.Equal(t, 4, loaded.Daemon.MaxConcurrent)
	// Untouched fields keep defaults.
	assert.Equal(t, 60, loaded.Daemon.PollSeconds)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, SaveConfig(path, DefaultConfig()))

	t.Setenv("MNEMO_EMBEDDING_PROVIDER", "openai")
	t.Setenv("MNEMO_DAEMON_POLL_SECONDS", "15")

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "openai", loaded.Embedding.Provider)
	assert.Equal(t, 15, loaded.Daemon.PollSeconds)
}

func TestExpandHome(t *testing.T) {
	assert.Equal(t, "", expandHome(""))
	assert.Equal(t, "/abs/path", expandHome("/abs/path"))
	assert.NotContains(t, expandHome("~/.mnemo/memory.db"), "~")
}
