package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load loads and validates configuration from:
// 1. Default values
// 2. the config file at path (or ./config.yaml when path is empty)
// 3. FEEDRELAY_* environment variables
func Load(path string) (*Config, error) {
	setDefaults()

	cfg := &Config{
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
		Database: DatabaseConfig{
			Path: DefaultDBPath,
		},
		Scheduler: SchedulerConfig{
			MaintenanceInterval: DefaultMaintenanceInterval,
			MaintenanceTimeout:  DefaultMaintenanceTimeout,
		},
	}

	if err := loadConfig(path); err != nil {
		return nil, fmt.Errorf("%w: failed to load config file: %v", ErrConfiguration, err)
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrConfiguration, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadConfig initializes and loads the configuration using viper
func loadConfig(path string) error {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("FEEDRELAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Allow missing config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %v", err)
		}
	}

	return nil
}

// setDefaults sets default values for optional configuration parameters
func setDefaults() {
	viper.SetDefault("log.level", DefaultLogLevel)
	viper.SetDefault("log.format", DefaultLogFormat)

	viper.SetDefault("server.addr", DefaultServerAddr)
	viper.SetDefault("server.read_timeout", DefaultServerReadTimeout)
	viper.SetDefault("server.write_timeout", DefaultServerWriteTimeout)
	viper.SetDefault("server.shutdown_timeout", DefaultServerShutdownTimeout)

	viper.SetDefault("database.path", DefaultDBPath)

	viper.SetDefault("scheduler.maintenance_interval", DefaultMaintenanceInterval)
	viper.SetDefault("scheduler.maintenance_timeout", DefaultMaintenanceTimeout)
}
