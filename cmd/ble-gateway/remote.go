// ABOUTME: Commands that talk to a running gateway over the MCP line protocol
// ABOUTME: tools lists the registry; exec runs one tool and streams its events

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/ble-gateway/internal/client"
	"github.com/2389/ble-gateway/internal/config"
	"github.com/2389/ble-gateway/internal/protocol"
)

// remoteFlags locate and authenticate against a running gateway.
type remoteFlags struct {
	addr    string
	token   string
	timeout time.Duration
}

func (f *remoteFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.addr, "addr", "", "gateway address (default from config)")
	cmd.Flags().StringVar(&f.token, "token", "", "auth token (default auth.secret in secret mode)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 10*time.Second, "dial and request timeout")
}

// connect dials the gateway and authenticates when a token is available.
func (f *remoteFlags) connect(ctx context.Context) (*client.Client, error) {
	cfg, err := config.LoadOrDefault(getConfigPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	addr := f.addr
	if addr == "" {
		host := cfg.Server.Host
		if host == "" || host == "0.0.0.0" || host == "::" {
			host = "127.0.0.1"
		}
		addr = net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port))
	}
	token := f.token
	if token == "" && cfg.Auth.Mode == config.AuthModeSecret {
		token = cfg.Auth.Secret
	}

	dialCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	c, err := client.Dial(dialCtx, addr)
	if err != nil {
		return nil, err
	}
	if token != "" {
		if _, err := c.Authenticate(dialCtx, token); err != nil {
			c.Close()
			return nil, fmt.Errorf("authenticating: %w", err)
		}
	}
	return c, nil
}

func newToolsCmd() *cobra.Command {
	var flags remoteFlags
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools a running gateway offers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := flags.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), flags.timeout)
			defer cancel()
			list, err := c.Discover(ctx)
			if err != nil {
				return fmt.Errorf("discovering tools: %w", err)
			}

			out := cmd.OutOrStdout()
			hs := c.Handshake()
			color.New(color.FgHiBlack).Fprintf(out, "%s %s\n\n", hs.Server, hs.Version)
			cyan := color.New(color.FgCyan)
			for _, tool := range list {
				cyan.Fprintf(out, "%-20s", tool.ID)
				fmt.Fprintf(out, " %s", tool.Description)
				if tool.Cancellable {
					color.New(color.FgYellow).Fprint(out, " [cancellable]")
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newExecCmd() *cobra.Command {
	var flags remoteFlags
	cmd := &cobra.Command{
		Use:   "exec TOOL [INPUT_JSON]",
		Short: "Run a tool on a running gateway and stream its events",
		Long: `Run a tool on a running gateway and print every event until the
execution finishes. Ctrl-C asks the gateway to cancel the execution.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var input any
			if len(args) == 2 {
				raw := json.RawMessage(args[1])
				if !json.Valid(raw) {
					return fmt.Errorf("input is not valid JSON")
				}
				input = raw
			}

			c, err := flags.connect(context.WithoutCancel(cmd.Context()))
			if err != nil {
				return err
			}
			defer c.Close()

			return streamExecution(cmd, c, args[0], input, flags.timeout)
		},
	}
	flags.register(cmd)
	return cmd
}

func streamExecution(cmd *cobra.Command, c *client.Client, toolID string, input any, timeout time.Duration) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	execID, err := c.Execute(callCtx, toolID, input)
	cancel()
	if err != nil {
		return fmt.Errorf("executing %s: %w", toolID, err)
	}
	color.New(color.FgHiBlack).Fprintf(out, "exec %s\n", execID)

	interrupted := ctx.Done()
	for {
		select {
		case <-interrupted:
			interrupted = nil
			cancelCtx, done := context.WithTimeout(context.Background(), timeout)
			_, err := c.Call(cancelCtx, protocol.TypeExecCancel, map[string]string{"execId": execID})
			done()
			if err != nil {
				return fmt.Errorf("cancelling %s: %w", execID, err)
			}
			continue
		case env, ok := <-c.Events():
			if !ok {
				return fmt.Errorf("connection closed before %s finished", execID)
			}
			if env.Type != protocol.TypeToolEvent {
				continue
			}
			var ev protocol.ToolEventPayload
			if err := env.Bind(&ev); err != nil || ev.ExecID != execID {
				continue
			}
			data, _ := json.Marshal(ev.Data)
			printEvent(out, ev.Event, string(data))
			switch ev.Event {
			case protocol.EventFailed:
				return fmt.Errorf("%s failed", toolID)
			case protocol.EventCompleted, protocol.EventCancelled:
				return nil
			}
		}
	}
}

func printEvent(out io.Writer, kind protocol.EventKind, data string) {
	var c *color.Color
	switch kind {
	case protocol.EventCompleted:
		c = color.New(color.FgGreen)
	case protocol.EventFailed:
		c = color.New(color.FgRed, color.Bold)
	case protocol.EventCancelled:
		c = color.New(color.FgYellow)
	default:
		c = color.New(color.FgCyan)
	}
	c.Fprintf(out, "%-10s", kind)
	fmt.Fprintf(out, " %s\n", data)
}
