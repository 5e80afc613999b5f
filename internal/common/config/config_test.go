package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 3355, cfg.Server.Port)
	assert.Equal(t, 3356, cfg.Server.StaticPort)
	assert.Equal(t, "info", cfg.Logging.Level)

	// Paths resolve under ~/.claude
	assert.Equal(t, "projects", filepath.Base(cfg.Paths.ProjectsDir))
	assert.Equal(t, ".claude", filepath.Base(filepath.Dir(cfg.Paths.PlansDir)))
}

func TestLoad_BareEnvVars(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("THINKING_POLL_INTERVAL", "500")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 500*time.Millisecond, cfg.Watcher.ThinkingPollInterval())
}

func TestLoad_PrefixedEnvVars(t *testing.T) {
	t.Setenv("AGENTHUD_SERVER_PORT", "4455")
	t.Setenv("AGENTHUD_PATHS_PLANS_DIR", "/tmp/plans")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4455, cfg.Server.Port)
	assert.Equal(t, "/tmp/plans", cfg.Paths.PlansDir)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	t.Setenv("LOG_LEVEL", "loud")
	_, err := Load()
	assert.Error(t, err)
}

func TestThinkingPollInterval_Clamped(t *testing.T) {
	w := WatcherConfig{ThinkingPollIntervalMs: 5}
	assert.Equal(t, 100*time.Millisecond, w.ThinkingPollInterval())

	w.ThinkingPollIntervalMs = 60000
	assert.Equal(t, 10*time.Second, w.ThinkingPollInterval())

	w.ThinkingPollIntervalMs = 1000
	assert.Equal(t, time.Second, w.ThinkingPollInterval())
}
