package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "data/tenders.jsonl", cfg.Store.Path)
	assert.Equal(t, 30, cfg.Store.LockTimeoutSecs)
	assert.Equal(t, 30, cfg.Sync.LookbackDays)
	assert.Equal(t, 7, cfg.Sync.RollingWindowDays)
	assert.Equal(t, 4, cfg.Sync.Workers)
	assert.Equal(t, 100, cfg.Sync.RunHistoryKeep)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NotEmpty(t, cfg.Sync.MutableStatuses)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TENDERSYNC_SYNC_WORKERS", "8")
	t.Setenv("TENDERSYNC_STORE_PATH", "/var/lib/tendersync/tenders.jsonl")
	t.Setenv("TENDERSYNC_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Sync.Workers)
	assert.Equal(t, "/var/lib/tendersync/tenders.jsonl", cfg.Store.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestStatusesFileOverridesInlineList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "statuses.yaml")
	content := `mutable:
  - announced
  - bidding
terminal:
  - contract signed
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("TENDERSYNC_SYNC_STATUSES_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"announced", "bidding"}, cfg.Sync.MutableStatuses)
	set := cfg.MutableStatusSet()
	_, ok := set["bidding"]
	assert.True(t, ok)
}

func TestLoadStatusesMissingFile(t *testing.T) {
	t.Setenv("TENDERSYNC_SYNC_STATUSES_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := Load()
	require.Error(t, err)
}

func TestLoadStatusesParsesTerminal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "statuses.yaml")
	require.NoError(t, os.WriteFile(path, []byte("terminal: [done]\n"), 0o644))

	s, err := LoadStatuses(path)
	require.NoError(t, err)
	assert.Empty(t, s.Mutable)
	assert.Equal(t, []string{"done"}, s.Terminal)
}
