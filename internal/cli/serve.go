package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/recruit-workflow/internal/config"
	"github.com/garyjia/recruit-workflow/internal/container"
	httpserver "github.com/garyjia/recruit-workflow/internal/interfaces/http"
)

func newServeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, event streams and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateAuth(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			logger, err := newLogger(cfg, false)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting recruit workflow service",
		zap.Int("port", cfg.Server.Port),
		zap.String("database_driver", cfg.Database.Driver))

	c, err := container.NewContainer(cfg.ToContainerConfig(), logger)
	if err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("Container shutdown failed", zap.Error(err))
		}
	}()

	// Set Gin mode based on logger level
	if cfg.Logger.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	server := httpserver.NewServer(httpserver.ServerConfig{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		ReadTimeout:    cfg.Server.ReadTimeout,
		RequestTimeout: cfg.Server.RequestTimeout,
		Heartbeat:      cfg.Broadcast.Heartbeat,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, httpserver.Deps{
		Engine:        c.WorkflowEngine(),
		Trail:         c.Services().Audit,
		Exporter:      c.Services().Exporter,
		Broadcaster:   c.Broadcaster(),
		Authenticator: httpserver.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		Health: func() (bool, interface{}) {
			status := c.Health()
			return status.Overall, status.Components
		},
		Logger: logger,
	})

	// Blocks until the signal context is cancelled
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("Server exited")
	return nil
}
