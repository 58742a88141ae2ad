package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/recruit-workflow/internal/application/service"
	"github.com/garyjia/recruit-workflow/internal/container"
)

func newHistoryCommand(opts *options) *cobra.Command {
	var (
		verify bool
		xlsx   string
	)

	cmd := &cobra.Command{
		Use:   "history <application-id>",
		Short: "Show the audit trail of an application",
		Long: `Show the audit trail of an application, oldest entry first.

Examples:
  recruit-workflow history 3f7c...            # Print the trail
  recruit-workflow history 3f7c... --verify   # Replay the trail against the catalog
  recruit-workflow history 3f7c... --xlsx out.xlsx`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			applicationID := args[0]

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg, true)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			cc := cfg.ToContainerConfig()
			store, err := container.ProvideStore(&cc.Database, logger)
			if err != nil {
				return err
			}
			if store.DB != nil {
				defer store.DB.Close()
			}

			catalog, err := container.ProvideCatalog(&cc.Workflow, logger)
			if err != nil {
				return err
			}

			services := container.ProvideServices(store, catalog, logger)
			trail := services.Audit
			ctx := cmd.Context()

			switch {
			case verify:
				return printVerification(opts, trail, cmd, applicationID)
			case xlsx != "":
				f, err := os.Create(xlsx)
				if err != nil {
					return err
				}
				defer f.Close()
				if err := services.Exporter.WriteXLSX(ctx, applicationID, f); err != nil {
					return err
				}
				logger.Info("History exported", zap.String("path", xlsx))
				fmt.Fprintf(opts.out, "Wrote %s\n", xlsx)
				return nil
			}

			entries, err := trail.History(ctx, applicationID)
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return opts.outputJSON(entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(opts.out, "No transitions yet.")
				return nil
			}

			tw := tabwriter.NewWriter(opts.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTIMESTAMP\tFROM\tTO\tACTION\tBY\tNOTE")
			for _, e := range entries {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s:%s\t%s\n",
					e.ID, e.Timestamp.UTC().Format(time.RFC3339), e.FromStatus, e.ToStatus, e.Action,
					e.PerformedByRole, e.PerformedByIdentity, e.NoteText())
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&verify, "verify", false, "replay the trail and compare it with the stored status")
	cmd.Flags().StringVar(&xlsx, "xlsx", "", "write the trail to an XLSX file")
	return cmd
}

func printVerification(opts *options, trail service.AuditTrailService, cmd *cobra.Command, applicationID string) error {
	v, err := trail.Verify(cmd.Context(), applicationID)
	if err != nil {
		return err
	}
	if opts.jsonOutput {
		if err := opts.outputJSON(v); err != nil {
			return err
		}
	} else if v.Consistent {
		fmt.Fprintf(opts.out, "OK: %d entries replay to %s\n", v.Entries, v.CurrentStatus)
	} else {
		fmt.Fprintf(opts.out, "MISMATCH: %s\n", v.Problem)
	}

	if !v.Consistent {
		return fmt.Errorf("audit trail of %s is inconsistent", applicationID)
	}
	return nil
}
