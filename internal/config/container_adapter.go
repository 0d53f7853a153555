package config

import (
	"github.com/procurio/approval-engine/internal/container"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			MigrationsDir:   c.Database.MigrationsDir,
		},
		Server: container.ServerConfig{
			Host:         c.Server.Host,
			Port:         c.Server.Port,
			ReadTimeout:  c.Server.ReadTimeout,
			WriteTimeout: c.Server.WriteTimeout,
		},
		Escalation: container.EscalationConfig{
			Enabled:      c.Escalation.Enabled,
			PollInterval: c.Escalation.PollInterval,
			BatchSize:    c.Escalation.BatchSize,
			SweepTimeout: c.Escalation.SweepTimeout,
		},
		Identity: container.IdentityConfig{
			Assignments: c.Identity.Assignments,
		},
	}
}
