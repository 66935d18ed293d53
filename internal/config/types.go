// Package config manages application configuration from environment
// variables, config files, and default values.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrConfiguration indicates a problem loading or validating configuration.
var ErrConfiguration = errors.New("configuration error")

// Config defines the application configuration. Values can be set via
// environment variables prefixed with FEEDRELAY_ (e.g.
// FEEDRELAY_WEBHOOK_BASE_URL) or through config.yaml.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string `mapstructure:"level"  validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"             validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"     validate:"min=1s,max=5m"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"    validate:"min=1s,max=5m"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=1s,max=5m"`
}

// WebhookConfig controls webhook registration and request authentication.
type WebhookConfig struct {
	// BaseURL is the public https origin updates are delivered to; the
	// per-bot path is appended at registration time.
	BaseURL string `mapstructure:"base_url" validate:"required,url"`

	// SecretKey signs the per-bot webhook secrets.
	SecretKey string `mapstructure:"secret_key" validate:"required,min=16"`

	// EncryptionKey seals bot tokens at rest. AES-256 requires exactly 32
	// bytes.
	EncryptionKey string `mapstructure:"encryption_key" validate:"required,len=32"`

	// GlobalSecret, when set, is accepted on any webhook path. The shared
	// builder endpoint only accepts this one.
	GlobalSecret string `mapstructure:"global_secret"`

	// SyncOnStart re-registers every enabled bot's webhook at startup.
	SyncOnStart bool `mapstructure:"sync_on_start"`
}

// DatabaseConfig controls SQLite storage.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// SchedulerConfig controls background maintenance jobs.
type SchedulerConfig struct {
	// MaintenanceInterval is how often database maintenance runs.
	MaintenanceInterval time.Duration `mapstructure:"maintenance_interval" validate:"min=1h"`

	// MaintenanceTimeout bounds a single maintenance run.
	MaintenanceTimeout time.Duration `mapstructure:"maintenance_timeout" validate:"min=1s,max=1h"`
}

// Validate checks the complete configuration against its constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return nil
}
