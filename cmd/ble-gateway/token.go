// ABOUTME: token command: signs a client JWT for gateways running in jwt auth mode
// ABOUTME: The subject becomes the principal reported in mcp/auth.ok

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/ble-gateway/internal/auth"
	"github.com/2389/ble-gateway/internal/config"
)

func newTokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a client token (auth.mode: jwt)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if subject == "" {
				return fmt.Errorf("--subject is required")
			}
			cfg, err := config.Load(getConfigPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cfg.Auth.Mode != config.AuthModeJWT {
				return fmt.Errorf("auth.mode is %q; tokens are only issued in %q mode", cfg.Auth.Mode, config.AuthModeJWT)
			}

			verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.Secret))
			if err != nil {
				return err
			}
			token, err := verifier.Generate(subject, ttl)
			if err != nil {
				return fmt.Errorf("signing token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&subject, "subject", "s", "", "principal name carried in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for no expiry)")
	return cmd
}
