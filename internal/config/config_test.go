package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Server: ServerConfig{
			Addr:            DefaultServerAddr,
			ReadTimeout:     DefaultServerReadTimeout,
			WriteTimeout:    DefaultServerWriteTimeout,
			ShutdownTimeout: DefaultServerShutdownTimeout,
		},
		Webhook: WebhookConfig{
			BaseURL:       "https://relay.example.com",
			SecretKey:     "a-long-enough-signing-key",
			EncryptionKey: "0123456789abcdef0123456789abcdef",
		},
		Database: DatabaseConfig{
			Path: DefaultDBPath,
		},
		Scheduler: SchedulerConfig{
			MaintenanceInterval: DefaultMaintenanceInterval,
			MaintenanceTimeout:  DefaultMaintenanceTimeout,
		},
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing base url", func(c *Config) { c.Webhook.BaseURL = "" }},
		{"base url not a url", func(c *Config) { c.Webhook.BaseURL = "not a url" }},
		{"short secret key", func(c *Config) { c.Webhook.SecretKey = "short" }},
		{"wrong encryption key size", func(c *Config) { c.Webhook.EncryptionKey = "too-short" }},
		{"unknown log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"unknown log format", func(c *Config) { c.Log.Format = "pretty" }},
		{"missing database path", func(c *Config) { c.Database.Path = "" }},
		{"maintenance interval too small", func(c *Config) { c.Scheduler.MaintenanceInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), "configuration error") {
				t.Errorf("error %q does not wrap ErrConfiguration", err)
			}
		})
	}
}
