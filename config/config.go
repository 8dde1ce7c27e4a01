/*
Package config loads service settings from the environment.

SOURCES (highest precedence first):
  1. Process environment
  2. .env file in the working directory (loaded by the binary via godotenv)
  3. Defaults below

KEYS:
  SERVER_PORT                 HTTP port                         (8080)
  STORE_DRIVER                sqlite | bolt | postgres | memory (sqlite)
  DATABASE_PATH               file for sqlite/bolt              (ledger.db)
  DATABASE_URL                postgres connection string
  LEDGER_SNAPSHOT_INTERVAL    events between snapshots          (10)
  LEDGER_APPEND_MAX_RETRIES   optimistic-locking attempts       (5)
  RABBITMQ_URL                domain-event fan-out; empty disables it
  LEDGER_EVENT_EXCHANGE       topic exchange name               (ledger_events)
  LATE_FEE_SCHEDULE           cron schedule for late-fee sweep (0 6 * * *)
  LATE_FEE_AMOUNT_CENTS       late fee in minor units           (5000)
  LATE_FEE_GRACE_DAYS         days past posting before a fee    (5)
  CURRENCY                    ISO currency code                 (USD)
  HISTORY_DEFAULT_LIMIT       history page size                 (50)
  HISTORY_MAX_LIMIT           history page cap                  (200)
*/
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/warp/resident-ledger/ledger"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverBolt     = "bolt"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds every setting the service reads.
type Config struct {
	ServerPort   string `mapstructure:"SERVER_PORT"`
	StoreDriver  string `mapstructure:"STORE_DRIVER"`
	DatabasePath string `mapstructure:"DATABASE_PATH"`
	DatabaseURL  string `mapstructure:"DATABASE_URL"`

	SnapshotInterval int `mapstructure:"LEDGER_SNAPSHOT_INTERVAL"`
	AppendMaxRetries int `mapstructure:"LEDGER_APPEND_MAX_RETRIES"`

	RabbitMQURL   string `mapstructure:"RABBITMQ_URL"`
	EventExchange string `mapstructure:"LEDGER_EVENT_EXCHANGE"`

	LateFeeSchedule    string `mapstructure:"LATE_FEE_SCHEDULE"`
	LateFeeAmountCents int64  `mapstructure:"LATE_FEE_AMOUNT_CENTS"`
	LateFeeGraceDays   int    `mapstructure:"LATE_FEE_GRACE_DAYS"`

	Currency            string `mapstructure:"CURRENCY"`
	HistoryDefaultLimit int    `mapstructure:"HISTORY_DEFAULT_LIMIT"`
	HistoryMaxLimit     int    `mapstructure:"HISTORY_MAX_LIMIT"`
}

var defaults = map[string]any{
	"SERVER_PORT":               "8080",
	"STORE_DRIVER":              DriverSQLite,
	"DATABASE_PATH":             "ledger.db",
	"DATABASE_URL":              "",
	"LEDGER_SNAPSHOT_INTERVAL":  ledger.DefaultSnapshotInterval,
	"LEDGER_APPEND_MAX_RETRIES": ledger.DefaultMaxAttempts,
	"RABBITMQ_URL":              "",
	"LEDGER_EVENT_EXCHANGE":     "ledger_events",
	"LATE_FEE_SCHEDULE":         "0 6 * * *",
	"LATE_FEE_AMOUNT_CENTS":     5000,
	"LATE_FEE_GRACE_DAYS":       5,
	"CURRENCY":                  "USD",
	"HISTORY_DEFAULT_LIMIT":     50,
	"HISTORY_MAX_LIMIT":         200,
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	c.Currency = strings.ToUpper(strings.TrimSpace(c.Currency))

	if c.SnapshotInterval <= 0 {
		slog.Warn("non-positive snapshot interval; using default",
			"component", "config", "value", c.SnapshotInterval, "default", ledger.DefaultSnapshotInterval)
		c.SnapshotInterval = ledger.DefaultSnapshotInterval
	}
	if c.AppendMaxRetries <= 0 {
		slog.Warn("non-positive append retries; using default",
			"component", "config", "value", c.AppendMaxRetries, "default", ledger.DefaultMaxAttempts)
		c.AppendMaxRetries = ledger.DefaultMaxAttempts
	}
	if c.LateFeeAmountCents < 0 {
		c.LateFeeAmountCents = 0
	}
	if c.LateFeeGraceDays < 0 {
		c.LateFeeGraceDays = 0
	}
	if c.HistoryDefaultLimit <= 0 {
		c.HistoryDefaultLimit = 50
	}
	if c.HistoryMaxLimit < c.HistoryDefaultLimit {
		c.HistoryMaxLimit = c.HistoryDefaultLimit
	}
}

// Validate checks cross-field requirements.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverSQLite, DriverBolt, DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for store driver %q", c.StoreDriver)
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	return nil
}

// Ledger returns the ledger tuning derived from c.
func (c Config) Ledger() ledger.Config {
	return ledger.Config{
		SnapshotInterval: c.SnapshotInterval,
		MaxAttempts:      c.AppendMaxRetries,
	}
}
