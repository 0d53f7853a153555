// Package container provides dependency injection and lifecycle management
// for the approval engine following Clean Architecture principles.
package container

import (
	"fmt"
	"time"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Server configuration
	Server ServerConfig

	// Escalation worker configuration
	Escalation EscalationConfig

	// Identity assignments (actor -> role codes)
	Identity IdentityConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration

	// MigrationsDir is the path to migration files
	MigrationsDir string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// EscalationConfig holds escalation sweep settings.
type EscalationConfig struct {
	// Enabled turns the background sweep on
	Enabled bool

	// PollInterval between sweeps
	PollInterval time.Duration

	// BatchSize caps the pending workflows scanned per sweep
	BatchSize int

	// SweepTimeout bounds one sweep pass
	SweepTimeout time.Duration
}

// IdentityConfig holds the static actor -> role assignments.
type IdentityConfig struct {
	Assignments map[string][]string
}

// Validate checks the configuration for required values.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server port is required")
	}
	if c.Escalation.Enabled && c.Escalation.PollInterval <= 0 {
		return fmt.Errorf("escalation poll interval must be positive")
	}
	return nil
}
