// ABOUTME: Entry point for the ble-gateway MCP server and its companion commands
// ABOUTME: Resolves the config path and dispatches cobra subcommands

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/2389/ble-gateway/internal/gateway"
)

// version is set by goreleaser at build time.
var version = "dev"

const envConfig = "BLE_GATEWAY_CONFIG"

var configFlag string

// getConfigPath returns the path to the gateway config file.
// Priority: --config > BLE_GATEWAY_CONFIG > XDG_CONFIG_HOME/ble-gateway/gateway.yaml > ~/.config/ble-gateway/gateway.yaml
func getConfigPath() string {
	if configFlag != "" {
		return configFlag
	}
	if envPath := os.Getenv(envConfig); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "ble-gateway", "gateway.yaml")
}

// getDataPath returns the ble-gateway data directory.
// Priority: XDG_DATA_HOME/ble-gateway > ~/.local/share/ble-gateway
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "ble-gateway")
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ble-gateway",
		Short:         "MCP gateway bridging BLE peripherals to TCP clients",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "config file (default $"+envConfig+" or XDG config dir)")

	root.AddCommand(
		newServeCmd(),
		newInitCmd(),
		newTokenCmd(),
		newToolsCmd(),
		newExecCmd(),
		newHistoryCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ble-gateway %s\n", version)
		},
	}
}

func main() {
	gateway.Version = version

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}
