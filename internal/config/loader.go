package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BETSATS_* environment variable overrides, and
// returns the final Config. An empty path skips the file and uses defaults
// plus environment. The returned Config has NOT been validated; the caller
// should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BETSATS_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BETSATS_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "BETSATS_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BETSATS_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BETSATS_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BETSATS_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BETSATS_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BETSATS_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BETSATS_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BETSATS_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BETSATS_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BETSATS_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BETSATS_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BETSATS_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BETSATS_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BETSATS_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BETSATS_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "BETSATS_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "BETSATS_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BETSATS_S3_REGION")
	setStr(&cfg.S3.Bucket, "BETSATS_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BETSATS_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BETSATS_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BETSATS_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BETSATS_S3_FORCE_PATH_STYLE")

	// ── Betting ──
	setInt(&cfg.Betting.OCCMaxAttempts, "BETSATS_BETTING_OCC_MAX_ATTEMPTS")
	setDuration(&cfg.Betting.OCCBaseBackoff, "BETSATS_BETTING_OCC_BASE_BACKOFF")
	setDuration(&cfg.Betting.OCCMaxBackoff, "BETSATS_BETTING_OCC_MAX_BACKOFF")
	setDuration(&cfg.Betting.PurgeWindow, "BETSATS_BETTING_PURGE_WINDOW")

	// ── Tasks ──
	setDuration(&cfg.Tasks.PurgeInterval, "BETSATS_TASKS_PURGE_INTERVAL")
	setDuration(&cfg.Tasks.ArchiveInterval, "BETSATS_TASKS_ARCHIVE_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BETSATS_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BETSATS_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BETSATS_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BETSATS_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "BETSATS_MODE")
	setStr(&cfg.LogLevel, "BETSATS_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
