package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 9000\n"))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, time.Second, cfg.Clock.Interval)
	assert.Equal(t, 3, cfg.Fault.Threshold)
	assert.Equal(t, 6, cfg.Machines.Washers)
	assert.Equal(t, 6, cfg.Machines.Dryers)
	assert.Equal(t, 30, cfg.Categories["washer"]["normal"])
	assert.Equal(t, 60, cfg.Categories["dryer"]["heavy"])
	assert.Equal(t, time.Second, cfg.Sync.InitialRetryDelay())
	assert.Equal(t, 30*time.Second, cfg.Sync.MaxRetryDelay())
	assert.Equal(t, 5, cfg.Sync.MaxRetries)
	assert.Equal(t, 1, cfg.WorkerPool.Size)
	assert.Equal(t, "postgres", cfg.Database.Driver)
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
clock:
  interval_ms: 250
machines:
  washers: 3
  dryers: 3
categories:
  washer:
    eco: 50
identity:
  tokens:
    - token: abc
      user_id: warden
      admin: true
`))
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Clock.Interval)
	assert.Equal(t, 3, cfg.Machines.Washers)
	assert.Equal(t, map[string]map[string]int{"washer": {"eco": 50}}, cfg.Categories)
	require.Len(t, cfg.Identity.Tokens, 1)
	assert.True(t, cfg.Identity.Tokens[0].Admin)
}

func TestLoad_RejectsBadCategories(t *testing.T) {
	_, err := Load(writeConfig(t, "categories:\n  washer:\n    broken: 0\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "categories:\n  oven:\n    bake: 10\n"))
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
