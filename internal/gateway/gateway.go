// ABOUTME: Gateway orchestrates the MCP listener, execution engine, and BLE bridge
// ABOUTME: Accepts TCP (or tailnet) connections and serves newline-delimited JSON envelopes

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/ble-gateway/internal/auth"
	"github.com/2389/ble-gateway/internal/ble"
	"github.com/2389/ble-gateway/internal/builtins"
	"github.com/2389/ble-gateway/internal/config"
	"github.com/2389/ble-gateway/internal/engine"
	"github.com/2389/ble-gateway/internal/fanout"
	"github.com/2389/ble-gateway/internal/store"
	"github.com/2389/ble-gateway/internal/tools"
)

// Version is reported in the handshake. Overridden at build time.
var Version = "dev"

// Gateway owns every long-lived component of the server process.
type Gateway struct {
	config      *config.Config
	logger      *slog.Logger
	store       store.Store
	registry    *tools.Registry
	hub         *fanout.Hub
	engine      *engine.Engine
	ble         ble.Manager
	gate        *auth.Gate
	router      *router
	tsnetServer *tsnet.Server

	// simulator is set when the gateway built its own BLE manager and must close it
	simulator *ble.Simulator

	extraTools []func(*tools.Registry) error

	mu    sync.Mutex
	conns map[string]*Conn
	wg    sync.WaitGroup
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithBLEManager replaces the configured simulator.
func WithBLEManager(m ble.Manager) Option {
	return func(g *Gateway) {
		g.ble = m
	}
}

// WithTools registers additional tools before the registry is sealed.
func WithTools(fn func(*tools.Registry) error) Option {
	return func(g *Gateway) {
		g.extraTools = append(g.extraTools, fn)
	}
}

// WithStore replaces the journal opened from journal.path. The gateway
// closes it on shutdown.
func WithStore(s store.Store) Option {
	return func(g *Gateway) {
		g.store = s
	}
}

// initStore opens the execution journal, or a no-op store when none is configured.
func initStore(cfg *config.Config) (store.Store, error) {
	if cfg.Journal.Path == "" {
		return store.NopStore{}, nil
	}
	s, err := store.NewSQLiteStore(cfg.Journal.Path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	return s, nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	gw := &Gateway{
		config: cfg,
		logger: logger.With("component", "gateway"),
		conns:  make(map[string]*Conn),
	}
	for _, opt := range opts {
		opt(gw)
	}

	gate, err := auth.NewGate(cfg.Auth.Mode, cfg.Auth.Secret)
	if err != nil {
		return nil, fmt.Errorf("configuring auth: %w", err)
	}
	gw.gate = gate

	if gw.ble == nil {
		sim, err := ble.NewSimulator(cfg.BLE, logger)
		if err != nil {
			return nil, fmt.Errorf("creating BLE simulator: %w", err)
		}
		gw.simulator = sim
		gw.ble = sim
	}

	if gw.store == nil {
		s, err := initStore(cfg)
		if err != nil {
			gw.closeOwned()
			return nil, err
		}
		gw.store = s
	}

	gw.registry = tools.NewRegistry(logger.With("component", "tools"))
	if err := builtins.RegisterAll(gw.registry, gw.ble); err != nil {
		gw.closeOwned()
		return nil, fmt.Errorf("registering builtin packs: %w", err)
	}
	for _, fn := range gw.extraTools {
		if err := fn(gw.registry); err != nil {
			gw.closeOwned()
			return nil, fmt.Errorf("registering tools: %w", err)
		}
	}
	gw.registry.Seal()

	gw.hub = fanout.NewHub(logger)
	gw.engine = engine.New(gw.registry, gw.hub,
		engine.WithLogger(logger),
		engine.WithJournal(gw.store),
		engine.WithMaxRetained(cfg.Executions.MaxRetained),
	)
	gw.router = newRouter(gw)

	return gw, nil
}

// Engine returns the execution engine.
func (g *Gateway) Engine() *engine.Engine { return g.engine }

// Registry returns the sealed tool registry.
func (g *Gateway) Registry() *tools.Registry { return g.registry }

// Hub returns the execution fan-out hub.
func (g *Gateway) Hub() *fanout.Hub { return g.hub }

// ConnectionCount returns the number of open connections.
func (g *Gateway) ConnectionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// Run listens on the configured address (or the tailnet) and serves until
// ctx is cancelled, then shuts down.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	serveErr := g.Serve(ctx, ln)
	shutdownErr := g.gracefulShutdown()

	if serveErr != nil {
		return serveErr
	}
	return shutdownErr
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.Host != "" {
			g.logger.Warn("server.host is ignored when tailscale is enabled", "host", g.config.Server.Host)
		}
		return g.setupTailscaleListener(ctx)
	}

	addr := g.config.Server.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	return ln, nil
}

// Serve accepts connections on ln until ctx is cancelled or ln fails, then
// closes every open connection and waits for their teardown.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	g.logger.Info("MCP server listening",
		"addr", ln.Addr().String(),
		"auth_required", g.gate.Required(),
		"auth_mode", g.gate.Mode(),
		"tools", g.registry.Len())

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var serveErr error
	var backoff time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				g.logger.Warn("accept failed, retrying", "error", err, "backoff", backoff)
				time.Sleep(backoff)
				continue
			}
			serveErr = fmt.Errorf("accepting connection: %w", err)
			break
		}
		backoff = 0

		c := newConn(g, nc)
		g.addConn(c)
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			c.serve(ctx)
		}()
	}

	g.closeAllConns()
	g.wg.Wait()
	g.logger.Info("MCP server stopped")
	return serveErr
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}

func (g *Gateway) addConn(c *Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conns[c.id] = c
}

func (g *Gateway) removeConn(c *Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.conns, c.id)
}

func (g *Gateway) closeAllConns() {
	g.mu.Lock()
	conns := make([]*Conn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// closeOwned releases components New created itself.
func (g *Gateway) closeOwned() []error {
	var errs []error
	if g.simulator != nil {
		errs = appendCloseError(errs, "BLE simulator close", g.simulator.Close())
	}
	if g.store != nil {
		errs = appendCloseError(errs, "store close", g.store.Close())
	}
	return errs
}

// Shutdown stops handlers and releases the journal, simulator and tailnet node.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if g.engine != nil {
		stats := g.engine.Stats()
		g.logger.Info("execution stats",
			"running", stats.Running,
			"completed", stats.Completed,
			"failed", stats.Failed,
			"cancelled", stats.Cancelled)
		errs = appendCloseError(errs, "engine shutdown", g.engine.Shutdown(ctx))
	}

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = append(errs, g.closeOwned()...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "ble-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener joins the tailnet and listens on the configured port there.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	ln, err := g.tsnetServer.Listen("tcp", fmt.Sprintf(":%d", g.config.Server.Port))
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale port %d: %w", g.config.Server.Port, err)
	}
	return ln, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}
