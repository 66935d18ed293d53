package config

import "time"

// Default values for configuration
const (
	// Log defaults
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	// Server defaults
	DefaultServerAddr            = ":8080"
	DefaultServerReadTimeout     = 15 * time.Second
	DefaultServerWriteTimeout    = 30 * time.Second
	DefaultServerShutdownTimeout = 15 * time.Second

	// Database defaults
	DefaultDBPath = "feedrelay.db"

	// Scheduler defaults
	DefaultMaintenanceInterval = 24 * time.Hour
	DefaultMaintenanceTimeout  = 10 * time.Minute
)
