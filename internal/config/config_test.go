package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, cfg.Validate())
}

func TestLoadTOMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "memory"
log_level = "debug"

[postgres]
dsn = "postgres://u:p@db:5432/betsats"

[betting]
occ_max_attempts = 8
purge_window = "20m"

[tasks]
purge_interval = "30s"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "postgres://u:p@db:5432/betsats", cfg.Postgres.DSN)
	assert.Equal(t, 8, cfg.Betting.OCCMaxAttempts)
	assert.Equal(t, 20*time.Minute, cfg.Betting.PurgeWindow.Duration)
	assert.Equal(t, 30*time.Second, cfg.Tasks.PurgeInterval.Duration)

	// Untouched sections keep their defaults.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, time.Hour, cfg.Tasks.ArchiveInterval.Duration)

	require.NoError(t, cfg.Validate())
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	t.Setenv("BETSATS_MODE", "memory")
	t.Setenv("BETSATS_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("BETSATS_BETTING_PURGE_WINDOW", "10m")
	t.Setenv("BETSATS_S3_ENABLED", "true")
	t.Setenv("BETSATS_NOTIFY_EVENTS", "settlement, error ,")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Mode)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 10*time.Minute, cfg.Betting.PurgeWindow.Duration)
	assert.True(t, cfg.S3.Enabled)
	assert.Equal(t, []string{"settlement", "error"}, cfg.Notify.Events)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown mode", func(c *Config) { c.Mode = "turbo" }},
		{"unknown log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"empty postgres host", func(c *Config) { c.Postgres.Host = "" }},
		{"bad postgres port", func(c *Config) { c.Postgres.Port = 0 }},
		{"min conns above max", func(c *Config) { c.Postgres.PoolMinConns = 20 }},
		{"empty redis addr", func(c *Config) { c.Redis.Addr = "" }},
		{"zero occ attempts", func(c *Config) { c.Betting.OCCMaxAttempts = 0 }},
		{"negative purge window", func(c *Config) { c.Betting.PurgeWindow.Duration = -time.Minute }},
		{"s3 enabled without bucket", func(c *Config) { c.S3.Enabled = true; c.S3.Bucket = "" }},
		{"telegram token without chat id", func(c *Config) { c.Notify.TelegramToken = "tok" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateSkipsBackendsInMemoryMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "memory"
	cfg.Postgres.Host = ""
	cfg.Redis.Addr = ""
	assert.NoError(t, cfg.Validate())
}
