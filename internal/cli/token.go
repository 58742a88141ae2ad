package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	domainwf "github.com/garyjia/recruit-workflow/internal/domain/workflow"
	httpserver "github.com/garyjia/recruit-workflow/internal/interfaces/http"
)

func newTokenCommand(opts *options) *cobra.Command {
	var (
		role     string
		identity string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateAuth(); err != nil {
				return err
			}

			r, err := domainwf.ParseRole(role)
			if err != nil {
				return err
			}

			token, err := httpserver.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer).Issue(r, identity, ttl)
			if err != nil {
				return err
			}

			if opts.jsonOutput {
				return opts.outputJSON(map[string]string{"token": token, "role": r.String(), "identity": identity})
			}
			fmt.Fprintln(opts.out, token)
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", "", "APPLICANT, HR or ADMIN")
	cmd.Flags().StringVar(&identity, "sub", "", "identity placed in the token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("role")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}
