package cli

import (
	"errors"
	"fmt"
	"time"

	"coach-assessment-service/internal/config"
	transport "coach-assessment-service/internal/transport/http"
	"github.com/spf13/cobra"
)

// NewTokenCmd mints a client token signed with the configured secret, for local testing
// against a running server.
func NewTokenCmd(configPath *string) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <clientId>",
		Short: "Issue a client JWT for local testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwtSecret (COACH_JWT_SECRET) is required")
			}
			tok, err := transport.NewJWTIdentity(cfg.Auth.JWTSecret, cfg.Auth.Issuer).IssueToken(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
