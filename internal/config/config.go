package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	Lark      LarkConfig      `mapstructure:"lark"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// RequestTimeout bounds non-streaming requests
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// AllowedOrigins restricts WebSocket upgrades; empty allows any origin
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite or memory
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
	// MigrationsDir overrides the embedded migrations when set
	MigrationsDir string `mapstructure:"migrations_dir"`
}

// AuthConfig holds bearer token verification settings
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// WorkflowConfig holds workflow engine settings
type WorkflowConfig struct {
	// CatalogPath points at a YAML transition table; empty uses the built-in table
	CatalogPath  string        `mapstructure:"catalog_path"`
	StoreTimeout time.Duration `mapstructure:"store_timeout"`
}

// BroadcastConfig holds update broadcaster settings
type BroadcastConfig struct {
	SendTimeout      time.Duration `mapstructure:"send_timeout"`
	SubscriberBuffer int           `mapstructure:"subscriber_buffer"`
	InboxSize        int           `mapstructure:"inbox_size"`
	Heartbeat        time.Duration `mapstructure:"heartbeat"`
}

// LarkConfig holds the chat relay configuration
type LarkConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
	ChatID    string `mapstructure:"chat_id"`
}

// TelemetryConfig holds tracing configuration
type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables.
// An empty configPath uses defaults and environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Override with environment variables
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.request_timeout", 30*time.Second)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/recruit.db")
	v.SetDefault("database.max_open_conns", 8)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.busy_timeout", 5*time.Second)

	// Auth defaults
	v.SetDefault("auth.issuer", "recruit-workflow")

	// Workflow defaults
	v.SetDefault("workflow.store_timeout", 5*time.Second)

	// Broadcast defaults
	v.SetDefault("broadcast.send_timeout", 250*time.Millisecond)
	v.SetDefault("broadcast.subscriber_buffer", 16)
	v.SetDefault("broadcast.inbox_size", 1024)
	v.SetDefault("broadcast.heartbeat", 25*time.Second)

	// Telemetry defaults
	v.SetDefault("telemetry.service_name", "recruit-workflow")

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars(v *viper.Viper) {
	// Sensitive credentials from environment
	_ = v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	_ = v.BindEnv("lark.app_id", "LARK_APP_ID")
	_ = v.BindEnv("lark.app_secret", "LARK_APP_SECRET")
	_ = v.BindEnv("lark.chat_id", "LARK_CHAT_ID")
	_ = v.BindEnv("telemetry.otlp_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case "memory":
	default:
		return fmt.Errorf("database.driver must be sqlite or memory, got %q", c.Database.Driver)
	}

	if c.Workflow.StoreTimeout <= 0 {
		return fmt.Errorf("workflow.store_timeout must be positive")
	}

	if c.Broadcast.SendTimeout <= 0 {
		return fmt.Errorf("broadcast.send_timeout must be positive")
	}
	if c.Broadcast.InboxSize <= 0 {
		return fmt.Errorf("broadcast.inbox_size must be positive")
	}
	if c.Broadcast.SubscriberBuffer < 0 {
		return fmt.Errorf("broadcast.subscriber_buffer cannot be negative")
	}

	// Validate Lark credentials only when the relay is on
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

// ValidateAuth checks the settings only the HTTP server needs
func (c *Config) ValidateAuth() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("auth.jwt_secret must be at least 16 characters")
	}
	return nil
}
