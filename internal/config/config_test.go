package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app", "config.json")

	cfg, first, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.True(t, first)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Contains(t, cfg.Integrations, "importer")
	assert.FileExists(t, path)

	cfg.Sync.Workers = 7
	require.NoError(t, Save(path, cfg))

	again, first, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.False(t, first)
	assert.Equal(t, 7, again.Sync.Workers)
	assert.Equal(t, 2, again.HTTP.PollIntervalSec, "missing keys keep defaults")

	var jan janitorDefaults
	require.NoError(t, again.UnmarshalIntegration("janitor", &jan))
	assert.Equal(t, 90, jan.KeepHistoryDays)
	assert.Error(t, again.UnmarshalIntegration("nope", &jan))
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"database": {"driver": "sqlite"}}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CATALOG_SYNC_WORKERS=5\n"), 0o644))
	_ = os.Unsetenv("CATALOG_SYNC_WORKERS")
	t.Cleanup(func() { _ = os.Unsetenv("CATALOG_SYNC_WORKERS") })

	t.Setenv("CATALOG_HTTP_LISTEN", "0.0.0.0:9000")
	t.Setenv("CATALOG_REDIS_ADDR", "redis:6379")

	cfg, _, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.HTTP.Listen)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 5, cfg.Sync.Workers)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"unknown driver":    func(c *Config) { c.Database.Driver = "oracle" },
		"mysql without dsn": func(c *Config) { c.Database.Driver = "mysql" },
		"zero workers":      func(c *Config) { c.Sync.Workers = 0 },
		"negative retry":    func(c *Config) { c.Sync.RetryAttempts = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestDurations(t *testing.T) {
	var s SyncConfig
	assert.Equal(t, 30*time.Minute, s.PreviewTTL())
	assert.Equal(t, 30*time.Second, s.RemoteTimeout())
	assert.Equal(t, 500*time.Millisecond, s.RetryBackoff())
	assert.Equal(t, 2*time.Hour, s.RunTimeout())

	s = SyncConfig{PreviewTTLMinutes: 5, RemoteTimeoutSec: 3, RetryBackoffMs: 100, RunTimeoutMinutes: 1}
	assert.Equal(t, 5*time.Minute, s.PreviewTTL())
	assert.Equal(t, 3*time.Second, s.RemoteTimeout())
	assert.Equal(t, 100*time.Millisecond, s.RetryBackoff())
	assert.Equal(t, time.Minute, s.RunTimeout())
}
