// ABOUTME: history command: reads the execution journal without a running gateway
// ABOUTME: Lists recent executions, or every transition of one execution

package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/ble-gateway/internal/config"
	"github.com/2389/ble-gateway/internal/store"
)

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [EXEC_ID]",
		Short: "Show journaled executions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(getConfigPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cfg.Journal.Path == "" {
				return fmt.Errorf("journal.path is not set; executions are not journaled")
			}

			s, err := store.NewSQLiteStore(cfg.Journal.Path)
			if err != nil {
				return err
			}
			defer s.Close()

			var entries []*store.ExecutionEntry
			if len(args) == 1 {
				entries, err = s.ExecutionHistory(cmd.Context(), args[0])
			} else {
				entries, err = s.RecentExecutions(cmd.Context(), limit)
			}
			if err != nil {
				return err
			}
			printEntries(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of executions to list")
	return cmd
}

func printEntries(out io.Writer, entries []*store.ExecutionEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "no executions")
		return
	}
	gray := color.New(color.FgHiBlack)
	for _, e := range entries {
		gray.Fprintf(out, "%s ", e.RecordedAt.Local().Format(time.DateTime))
		fmt.Fprintf(out, "%-36s %-16s ", e.ExecID, e.ToolID)
		statusColor(e.Status).Fprintf(out, "%-10s", e.Status)
		if e.Principal != "" {
			gray.Fprintf(out, " %s", e.Principal)
		}
		if len(e.Result) > 0 {
			fmt.Fprintf(out, " %s", e.Result)
		}
		fmt.Fprintln(out)
	}
}

func statusColor(status string) *color.Color {
	switch status {
	case "completed":
		return color.New(color.FgGreen)
	case "failed":
		return color.New(color.FgRed)
	case "cancelled":
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}
