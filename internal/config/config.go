// Package config defines the top-level configuration for the betsats service
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BETSATS_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Betting  BettingConfig  `toml:"betting"`
	Tasks    TasksConfig    `toml:"tasks"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters. DSN wins over the
// individual fields when set.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the funding bus and lock
// manager.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the competition
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// BettingConfig tunes the betting core: the optimistic-concurrency retry
// budget and the unfunded-ticket expiry window.
type BettingConfig struct {
	// OCCMaxAttempts bounds how many times a conditional write is retried
	// before surfacing contention to the caller.
	OCCMaxAttempts int      `toml:"occ_max_attempts"`
	OCCBaseBackoff duration `toml:"occ_base_backoff"`
	OCCMaxBackoff  duration `toml:"occ_max_backoff"`

	// PurgeWindow is how long an unpaid INITIAL ticket survives before the
	// purge reclaims its inventory. Defaults to the invoice expiry plus a
	// safety margin.
	PurgeWindow duration `toml:"purge_window"`
}

// TasksConfig holds the background loop intervals.
type TasksConfig struct {
	PurgeInterval   duration `toml:"purge_interval"`
	ArchiveInterval duration `toml:"archive_interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values. These
// match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "betsats",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "betsats-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Betting: BettingConfig{
			OCCMaxAttempts: 16,
			OCCBaseBackoff: duration{2 * time.Millisecond},
			OCCMaxBackoff:  duration{250 * time.Millisecond},
			PurgeWindow:    duration{15*time.Minute + 10*time.Second},
		},
		Tasks: TasksConfig{
			PurgeInterval:   duration{time.Minute},
			ArchiveInterval: duration{time.Hour},
		},
		Notify: NotifyConfig{
			Events: []string{"settlement", "error"},
		},
		Mode:     "postgres",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode. "memory" runs
// everything against in-process stores and a loopback funding bus, for local
// development without Postgres or Redis.
var validModes = map[string]bool{
	"postgres": true,
	"memory":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: postgres, memory)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres and Redis are only reached in postgres mode.
	if strings.ToLower(c.Mode) == "postgres" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}

		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
	}

	if c.Betting.OCCMaxAttempts < 1 {
		errs = append(errs, "betting: occ_max_attempts must be >= 1")
	}
	if c.Betting.OCCBaseBackoff.Duration <= 0 {
		errs = append(errs, "betting: occ_base_backoff must be positive")
	}
	if c.Betting.OCCMaxBackoff.Duration < c.Betting.OCCBaseBackoff.Duration {
		errs = append(errs, "betting: occ_max_backoff must be >= occ_base_backoff")
	}
	if c.Betting.PurgeWindow.Duration <= 0 {
		errs = append(errs, "betting: purge_window must be positive")
	}

	if c.Tasks.PurgeInterval.Duration <= 0 {
		errs = append(errs, "tasks: purge_interval must be positive")
	}
	if c.Tasks.ArchiveInterval.Duration <= 0 {
		errs = append(errs, "tasks: archive_interval must be positive")
	}

	// Telegram needs both halves.
	tt := c.Notify.TelegramToken != ""
	tc := c.Notify.TelegramChatID != ""
	if tt != tc {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
