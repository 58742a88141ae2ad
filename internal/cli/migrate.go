package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/garyjia/recruit-workflow/internal/container"
	"github.com/garyjia/recruit-workflow/pkg/database"
)

func newMigrateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Database.Driver != "sqlite" {
				return fmt.Errorf("migrate needs the sqlite driver, configured driver is %q", cfg.Database.Driver)
			}

			logger, err := newLogger(cfg, true)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			cc := cfg.ToContainerConfig()
			db, err := database.Open(cmd.Context(), database.Config{
				Path:        cc.Database.Path,
				BusyTimeout: cc.Database.BusyTimeout,
			}, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := container.Migrate(cmd.Context(), db, &cc.Database, logger)
			if err != nil {
				return err
			}
			version, err := database.NewMigrator(db, logger).Version(cmd.Context())
			if err != nil {
				return err
			}

			if opts.jsonOutput {
				names := make([]string, len(applied))
				for i, m := range applied {
					names[i] = fmt.Sprintf("%03d_%s", m.Version, m.Name)
				}
				return opts.outputJSON(map[string]interface{}{
					"database": db.Path(),
					"version":  version,
					"applied":  names,
				})
			}

			if len(applied) == 0 {
				fmt.Fprintf(opts.out, "%s is up to date (schema version %d)\n", db.Path(), version)
				return nil
			}
			for _, m := range applied {
				fmt.Fprintf(opts.out, "applied %03d_%s\n", m.Version, m.Name)
			}
			fmt.Fprintf(opts.out, "Migrations applied to %s (schema version %d)\n", db.Path(), version)
			return nil
		},
	}
}
