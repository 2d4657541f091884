// ABOUTME: serve command: loads config, prints the banner, and runs the gateway
// ABOUTME: Runs until SIGINT or SIGTERM, then shuts down gracefully

package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/ble-gateway/internal/builtins"
	"github.com/2389/ble-gateway/internal/config"
	"github.com/2389/ble-gateway/internal/gateway"
)

const banner = `
 _     _                        _
| |__ | | ___        __ _  __ _| |_ _____      ____ _ _   _
| '_ \| |/ _ \_____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| |_) | |  __/_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
|_.__/|_|\___|      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                    |___/                             |___/
`

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath := getConfigPath()

			cyan := color.New(color.FgCyan)
			gray := color.New(color.FgHiBlack)
			green := color.New(color.FgGreen)
			yellow := color.New(color.FgYellow)

			cyan.Print(banner)
			gray.Printf("    version: %s\n\n", version)

			cfg, err := config.LoadOrDefault(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			logger := setupLogger(cfg.Logging)

			green.Print("    ▶ ")
			fmt.Printf("Config:    %s\n", configPath)
			green.Print("    ▶ ")
			fmt.Printf("Listen:    %s\n", cfg.Server.Addr())
			green.Print("    ▶ ")
			fmt.Printf("Devices:   %d simulated\n", len(cfg.BLE.Devices))
			green.Print("    ▶ ")
			if cfg.Auth.Secret == "" {
				fmt.Print("Auth:      ")
				yellow.Println("disabled")
			} else {
				fmt.Printf("Auth:      %s\n", cfg.Auth.Mode)
			}
			if cfg.Journal.Path != "" {
				green.Print("    ▶ ")
				fmt.Printf("Journal:   %s\n", cfg.Journal.Path)
			}
			if cfg.Tailscale.Enabled {
				green.Print("    ▶ ")
				fmt.Print("Tailscale: ")
				cyan.Print(cfg.Tailscale.Hostname)
				if cfg.Tailscale.Ephemeral {
					gray.Print(" (ephemeral)")
				}
				fmt.Println()
			}

			gw, err := gateway.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("creating gateway: %w", err)
			}
			var toolIDs []string
			for _, pack := range []string{builtins.BasePackID, builtins.BLEPackID} {
				toolIDs = append(toolIDs, gw.Registry().PackTools(pack)...)
			}
			green.Print("    ▶ ")
			fmt.Printf("Tools:     %s\n", strings.Join(toolIDs, ", "))
			fmt.Println()

			logger.Info("starting ble-gateway",
				"config", configPath,
				"addr", cfg.Server.Addr(),
				"version", version,
			)
			return gw.Run(cmd.Context())
		},
	}
}
