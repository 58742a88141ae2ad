package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/garyjia/recruit-workflow/internal/application/workflow"
	domainwf "github.com/garyjia/recruit-workflow/internal/domain/workflow"
)

type catalogOutput struct {
	InitialState   domainwf.State            `json:"initial_state"`
	TerminalStates []domainwf.State          `json:"terminal_states"`
	Rules          []domainwf.TransitionRule `json:"rules"`
}

func newCatalogCommand(opts *options) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Print and validate the status transition table",
		Long: `Print the transition table the engine enforces.

Without --file the configured workflow.catalog_path is used, falling back to
the built-in table. The table is validated before it is printed.

Examples:
  recruit-workflow catalog
  recruit-workflow catalog --file catalog.yaml --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := file
			if path == "" && opts.configPath != "" {
				cfg, err := opts.loadConfig()
				if err != nil {
					return err
				}
				path = cfg.Workflow.CatalogPath
			}

			catalog, err := workflow.LoadCatalog(path)
			if err != nil {
				return err
			}

			out := catalogOutput{
				InitialState:   catalog.InitialState(),
				TerminalStates: catalog.TerminalStates(),
				Rules:          catalog.Rules(),
			}
			if opts.jsonOutput {
				return opts.outputJSON(out)
			}

			fmt.Fprintf(opts.out, "Initial state:   %s\n", out.InitialState)
			fmt.Fprintf(opts.out, "Terminal states: %s\n\n", joinStates(out.TerminalStates))

			tw := tabwriter.NewWriter(opts.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FROM\tACTION\tTO\tROLES\tNOTE")
			for _, r := range out.Rules {
				note := ""
				if r.RequiresNote {
					note = "required"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.From, r.Action, r.To, joinRoles(r.AllowedRoles), note)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML catalog to validate instead of the configured one")
	return cmd
}

func joinStates(states []domainwf.State) string {
	parts := make([]string, len(states))
	for i, s := range states {
		parts[i] = s.String()
	}
	return strings.Join(parts, ", ")
}

func joinRoles(roles []domainwf.Role) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = r.String()
	}
	return strings.Join(parts, ",")
}
