// Package config defines service configuration and its loading.
//
// Values are layered: defaults from New, then an optional YAML file named by
// DRAFTD_CONFIG, then DRAFTD_* environment variables.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Storage drivers accepted by StorageDriver.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// OTelEndpoint enables OTLP/HTTP trace export when set.
	OTelEndpoint string `koanf:"otel_endpoint"`
	ServiceName  string `koanf:"service_name"`

	// StorageDriver selects the repository: memory, sqlite or redis.
	StorageDriver  string `koanf:"storage_driver"`
	SQLitePath     string `koanf:"sqlite_path"`
	RedisAddr      string `koanf:"redis_addr"`
	RedisPassword  string `koanf:"redis_password"`
	RedisDB        int    `koanf:"redis_db"`
	RedisKeyPrefix string `koanf:"redis_key_prefix"`

	// PersistWorkers is the number of ordered persistence writers.
	PersistWorkers int `koanf:"persist_workers"`
	// PersistQueueSize bounds each writer's backlog.
	PersistQueueSize int `koanf:"persist_queue_size"`

	// MailboxSize bounds each session actor's command backlog.
	MailboxSize int `koanf:"mailbox_size"`

	// CountdownSeconds is the pre-draft countdown length.
	CountdownSeconds int `koanf:"countdown_seconds"`

	// Defaults applied to zero-valued session settings.
	DefaultCaptains       int `koanf:"default_captains"`
	DefaultRosterSize     int `koanf:"default_roster_size"`
	DefaultBudget         int `koanf:"default_budget"`
	DefaultTurnTimeoutSec int `koanf:"default_turn_timeout_sec"`
	DefaultBidResetSec    int `koanf:"default_bid_reset_sec"`

	// DedupeSize sets the size of the idempotency key cache.
	DedupeSize int `koanf:"dedupe_size"`

	// ArchiveRetentionHours is how long terminal sessions stay in storage.
	ArchiveRetentionHours int `koanf:"archive_retention_hours"`
	// ArchiveSweepIntervalSec is how often the retention sweeper runs; 0 disables it.
	ArchiveSweepIntervalSec int `koanf:"archive_sweep_interval_sec"`

	// MaxHistory caps GET /arenas/{arena}/history.
	MaxHistory int `koanf:"max_history"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:                "info",
		LogFormat:               "text",
		Addr:                    ":9080",
		ServiceName:             "draftd",
		StorageDriver:           StorageMemory,
		SQLitePath:              "draftd.db",
		RedisAddr:               "localhost:6379",
		RedisKeyPrefix:          "draftd",
		PersistWorkers:          runtime.NumCPU(),
		PersistQueueSize:        1024,
		MailboxSize:             256,
		CountdownSeconds:        10,
		DefaultCaptains:         2,
		DefaultRosterSize:       5,
		DefaultBudget:           100,
		DefaultTurnTimeoutSec:   30,
		DefaultBidResetSec:      10,
		DedupeSize:              100_000,
		ArchiveRetentionHours:   30 * 24,
		ArchiveSweepIntervalSec: 3600,
		MaxHistory:              50,
	}
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.StorageDriver != StorageMemory && c.StorageDriver != StorageSQLite && c.StorageDriver != StorageRedis:
		return fmt.Errorf("%w: unknown storage_driver %q", ErrInvalidConfig, c.StorageDriver)
	case c.StorageDriver == StorageSQLite && strings.TrimSpace(c.SQLitePath) == "":
		return fmt.Errorf("%w: sqlite_path is required for sqlite storage", ErrInvalidConfig)
	case c.StorageDriver == StorageRedis && strings.TrimSpace(c.RedisAddr) == "":
		return fmt.Errorf("%w: redis_addr is required for redis storage", ErrInvalidConfig)
	case c.PersistWorkers < 1:
		return fmt.Errorf("%w: persist_workers must be positive", ErrInvalidConfig)
	case c.PersistQueueSize < 1:
		return fmt.Errorf("%w: persist_queue_size must be positive", ErrInvalidConfig)
	case c.MailboxSize < 1:
		return fmt.Errorf("%w: mailbox_size must be positive", ErrInvalidConfig)
	case c.CountdownSeconds < 1:
		return fmt.Errorf("%w: countdown_seconds must be positive", ErrInvalidConfig)
	case c.ArchiveSweepIntervalSec < 0 || c.ArchiveRetentionHours < 0:
		return fmt.Errorf("%w: archive settings must not be negative", ErrInvalidConfig)
	case c.MaxHistory < 1:
		return fmt.Errorf("%w: max_history must be positive", ErrInvalidConfig)
	}
	return nil
}

// Countdown returns the countdown length as a duration.
func (c *Config) Countdown() time.Duration {
	return time.Duration(c.CountdownSeconds) * time.Second
}

// ArchiveRetention returns how long archived sessions are kept.
func (c *Config) ArchiveRetention() time.Duration {
	return time.Duration(c.ArchiveRetentionHours) * time.Hour
}

// ArchiveSweepInterval returns the sweeper period.
func (c *Config) ArchiveSweepInterval() time.Duration {
	return time.Duration(c.ArchiveSweepIntervalSec) * time.Second
}
