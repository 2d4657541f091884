// ABOUTME: init command: writes a starter config with a fresh random secret
// ABOUTME: Includes one simulated heart-rate device so a new install has something to talk to

package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/ble-gateway/internal/config"
)

type initOptions struct {
	force     bool
	port      int
	authMode  string
	journal   bool
	tailscale string
}

func newInitCmd() *cobra.Command {
	opts := initOptions{}
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a starter config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.force, "force", false, "overwrite an existing config file")
	cmd.Flags().IntVar(&opts.port, "port", config.DefaultPort, "MCP listener port")
	cmd.Flags().StringVar(&opts.authMode, "auth-mode", config.AuthModeSecret, "auth mode: secret, bcrypt, or jwt")
	cmd.Flags().BoolVar(&opts.journal, "journal", false, "record executions in a SQLite journal under the data dir")
	cmd.Flags().StringVar(&opts.tailscale, "tailscale-hostname", "", "listen on the tailnet with this hostname")
	return cmd
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func runInit(cmd *cobra.Command, opts initOptions) error {
	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil && !opts.force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}

	token, err := randomSecret()
	if err != nil {
		return err
	}

	// The stored secret is what the gateway verifies against; the token is
	// what clients send. They differ only in bcrypt mode.
	secret := token
	switch opts.authMode {
	case config.AuthModeSecret, config.AuthModeJWT:
	case config.AuthModeBcrypt:
		hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hashing token: %w", err)
		}
		secret = string(hash)
	default:
		return fmt.Errorf("unknown auth mode %q", opts.authMode)
	}

	var b strings.Builder
	b.WriteString("# ble-gateway configuration\n")
	b.WriteString("# Generated by ble-gateway init\n\n")

	b.WriteString("server:\n")
	b.WriteString(fmt.Sprintf("  port: %d\n", opts.port))
	b.WriteString("  write_timeout: \"10s\"\n\n")

	b.WriteString("auth:\n")
	b.WriteString(fmt.Sprintf("  mode: %q\n", opts.authMode))
	b.WriteString(fmt.Sprintf("  secret: %q\n\n", secret))

	if opts.tailscale != "" {
		b.WriteString("tailscale:\n")
		b.WriteString("  enabled: true\n")
		b.WriteString(fmt.Sprintf("  hostname: %q\n\n", opts.tailscale))
	}

	if opts.journal {
		b.WriteString("journal:\n")
		b.WriteString(fmt.Sprintf("  path: %q\n\n", filepath.Join(getDataPath(), "journal.db")))
	}

	b.WriteString("logging:\n")
	b.WriteString("  level: \"info\"\n")
	b.WriteString("  format: \"text\"\n\n")

	b.WriteString("ble:\n")
	b.WriteString("  devices:\n")
	b.WriteString("    - id: \"hrm-1\"\n")
	b.WriteString("      name: \"Heart Rate Monitor\"\n")
	b.WriteString("      rssi: -55\n")
	b.WriteString("      services:\n")
	b.WriteString("        - uuid: \"180d\"\n")
	b.WriteString("          characteristics:\n")
	b.WriteString("            - uuid: \"2a37\"\n")
	b.WriteString("              properties: [\"read\", \"notify\"]\n")
	b.WriteString("              value: \"hex:0048\"\n")
	b.WriteString("              notify_interval: \"1s\"\n")
	b.WriteString("            - uuid: \"2a39\"\n")
	b.WriteString("              properties: [\"write\"]\n")

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Round-trip through the loader so a bad template fails here, not at serve.
	if _, err := config.Load(configPath); err != nil {
		return fmt.Errorf("validating generated config: %w", err)
	}

	out := cmd.OutOrStdout()
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Fprint(out, "✓ ")
	fmt.Fprintf(out, "Config written to %s\n", configPath)
	switch opts.authMode {
	case config.AuthModeJWT:
		fmt.Fprintln(out, "\nIssue client tokens with:")
		fmt.Fprintln(out, "  ble-gateway token --subject NAME")
	default:
		fmt.Fprintln(out, "\nClient token (shown once):")
		yellow.Fprintf(out, "  %s\n", token)
	}
	fmt.Fprintln(out, "\nTo start the server:")
	fmt.Fprintln(out, "  ble-gateway serve")
	return nil
}
