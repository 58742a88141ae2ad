// Package cli implements the recruit-workflow command line.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/garyjia/recruit-workflow/internal/config"
	"github.com/garyjia/recruit-workflow/pkg/utils"
)

// options are the persistent flags shared by every command
type options struct {
	configPath string
	envFile    string
	jsonOutput bool

	out io.Writer
}

// NewRootCommand builds the command tree
func NewRootCommand() *cobra.Command {
	opts := &options{out: os.Stdout}

	root := &cobra.Command{
		Use:   "recruit-workflow",
		Short: "Application lifecycle workflow service",
		Long: `recruit-workflow enforces the recruitment status lifecycle of job applications,
records every accepted transition in an append-only audit trail and streams
status changes to connected dashboards.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts.out = cmd.OutOrStdout()
			return loadEnvFile(opts.envFile)
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the YAML config file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "output in JSON format")

	root.AddCommand(
		newServeCommand(opts),
		newMigrateCommand(opts),
		newCatalogCommand(opts),
		newHistoryCommand(opts),
		newTokenCommand(opts),
	)
	return root
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// loadEnvFile applies a dotenv file without overriding variables already set.
// A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := gotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func (o *options) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the configured logger. One-shot commands keep stdout for
// their own output, so a stdout sink is moved to stderr for them.
func newLogger(cfg *config.Config, oneShot bool) (*zap.Logger, error) {
	output := cfg.Logger.OutputPath
	if oneShot && (output == "" || output == "stdout") {
		output = "stderr"
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: output,
		Format:     cfg.Logger.Format,
		Service:    cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// outputJSON prints v as indented JSON
func (o *options) outputJSON(v any) error {
	enc := json.NewEncoder(o.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
