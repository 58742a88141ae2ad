package config

import (
	"github.com/garyjia/recruit-workflow/internal/container"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Driver:          c.Database.Driver,
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			BusyTimeout:     c.Database.BusyTimeout,
			MigrationsDir:   c.Database.MigrationsDir,
		},
		Workflow: container.WorkflowConfig{
			CatalogPath:  c.Workflow.CatalogPath,
			StoreTimeout: c.Workflow.StoreTimeout,
		},
		Broadcast: container.BroadcastConfig{
			SendTimeout:      c.Broadcast.SendTimeout,
			SubscriberBuffer: c.Broadcast.SubscriberBuffer,
			InboxSize:        c.Broadcast.InboxSize,
		},
		Lark: container.LarkConfig{
			Enabled:   c.Lark.Enabled,
			AppID:     c.Lark.AppID,
			AppSecret: c.Lark.AppSecret,
			ChatID:    c.Lark.ChatID,
		},
		Telemetry: container.TelemetryConfig{
			OTLPEndpoint: c.Telemetry.OTLPEndpoint,
			ServiceName:  c.Telemetry.ServiceName,
		},
	}
}
