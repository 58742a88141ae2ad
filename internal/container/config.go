// Package container provides dependency injection and lifecycle management
// for the recruitment workflow service.
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

	// Workflow engine configuration
	Workflow WorkflowConfig

	// Broadcast configuration
	Broadcast BroadcastConfig

	// Lark chat relay configuration
	Lark LarkConfig

	// Telemetry configuration
	Telemetry TelemetryConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Driver selects the store: "sqlite" or "memory"
	Driver string

	// Path to SQLite database file
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration

	// BusyTimeout is how long a writer waits on a locked database
	BusyTimeout time.Duration

	// MigrationsDir overrides the embedded migrations
	MigrationsDir string
}

// WorkflowConfig holds workflow engine settings.
type WorkflowConfig struct {
	// CatalogPath is an optional YAML transition table
	CatalogPath string

	// StoreTimeout bounds every store call made by the engine
	StoreTimeout time.Duration
}

// BroadcastConfig holds update broadcaster settings.
type BroadcastConfig struct {
	SendTimeout      time.Duration
	SubscriberBuffer int
	InboxSize        int
}

// LarkConfig holds Lark API settings.
type LarkConfig struct {
	// Enabled turns on the chat relay worker
	Enabled bool

	// AppID is the Lark application ID
	AppID string

	// AppSecret is the Lark application secret
	AppSecret string

	// ChatID is the group chat receiving status updates
	ChatID string
}

// TelemetryConfig holds tracing settings.
type TelemetryConfig struct {
	OTLPEndpoint string
	ServiceName  string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          "sqlite",
			Path:            "data/recruit.db",
			MaxOpenConns:    8,
			MaxIdleConns:    4,
			ConnMaxLifetime: 5 * time.Minute,
			BusyTimeout:     5 * time.Second,
		},
		Workflow: WorkflowConfig{
			StoreTimeout: 5 * time.Second,
		},
		Broadcast: BroadcastConfig{
			SendTimeout:      250 * time.Millisecond,
			SubscriberBuffer: 16,
			InboxSize:        1024,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "recruit-workflow",
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if c.Workflow.StoreTimeout <= 0 {
		return fmt.Errorf("workflow.store_timeout must be positive")
	}

	// Validate Lark configuration
	if c.Lark.Enabled {
		if c.Lark.AppID == "" {
			return fmt.Errorf("lark.app_id is required")
		}
		if c.Lark.AppSecret == "" {
			return fmt.Errorf("lark.app_secret is required")
		}
		if c.Lark.ChatID == "" {
			return fmt.Errorf("lark.chat_id is required")
		}
	}

	return nil
}
