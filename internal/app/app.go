// Package app assembles the server from configuration: NEAR clients, the
// capability catalog, authentication, session plumbing and HTTP routes.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/NEARWEEK/MCP/auth"
	"github.com/NEARWEEK/MCP/internal/config"
	"github.com/NEARWEEK/MCP/internal/engine"
	"github.com/NEARWEEK/MCP/internal/metrics"
	"github.com/NEARWEEK/MCP/internal/sessioncore"
	"github.com/NEARWEEK/MCP/mcp"
	"github.com/NEARWEEK/MCP/mcpservice"
	"github.com/NEARWEEK/MCP/near"
	"github.com/NEARWEEK/MCP/nearmcp"
	"github.com/NEARWEEK/MCP/sessions"
	"github.com/NEARWEEK/MCP/sessions/memoryhost"
	"github.com/NEARWEEK/MCP/sessions/redishost"
	"github.com/NEARWEEK/MCP/simplerpc"
	"github.com/NEARWEEK/MCP/streaminghttp"
	"golang.org/x/sync/errgroup"
)

// Version is reported in serverInfo; set with -ldflags at build time.
var Version = "dev"

const (
	serverName   = "near-mcp"
	instructions = "Read-only access to the NEAR blockchain: accounts, access keys, contracts, blocks, validators and transactions. Amounts are shown in NEAR; account IDs follow NEAR naming rules."
)

// Deps lets tests replace the outbound collaborators. Zero fields are built
// from configuration.
type Deps struct {
	Client        near.Client
	Authenticator auth.Authenticator
	Host          sessions.StreamHost
}

// App is a fully wired server.
type App struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *metrics.Metrics
	mgr     *sessioncore.Manager
	handler http.Handler
	closers []func() error
	health  healthInfo
}

// New builds the server. ctx bounds background work such as OIDC discovery
// and secret file watching.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, deps Deps) (*App, error) {
	a := &App{cfg: cfg, log: log, metrics: metrics.New()}
	network := cfg.NearNetwork()

	client := deps.Client
	nearBlocksConfigured := func() bool { return cfg.NearBlocksKey != "" }
	if client == nil {
		svc, err := a.nearService(ctx)
		if err != nil {
			return nil, err
		}
		client = svc
		nearBlocksConfigured = svc.NearBlocksConfigured
	}

	reg, err := nearmcp.New(client, network).Registry()
	if err != nil {
		return nil, fmt.Errorf("build capability registry: %w", err)
	}
	for _, s := range reg.Shadowed() {
		log.Warn("registry.capability.shadowed",
			slog.String("kind", s.Kind), slog.String("name", s.Name),
			slog.String("family", s.Family), slog.String("winner", s.Winner))
	}
	disp := mcpservice.NewDispatcher(reg,
		mcpservice.WithDispatcherLogger(log),
		mcpservice.WithObserver(a.metrics.ObserveDispatch),
	)

	authn := deps.Authenticator
	if authn == nil {
		if authn, err = a.authenticator(ctx); err != nil {
			return nil, err
		}
	}
	gate := auth.NewGate(authn, auth.WithGateLogger(log), auth.WithRealm(serverName))

	host := deps.Host
	if host == nil {
		if host, err = a.streamHost(); err != nil {
			return nil, err
		}
	}

	serverInfo := mcp.ImplementationInfo{Name: serverName, Version: Version, Title: "NEAR Protocol"}
	a.mgr = sessioncore.NewManager(func(newID func() string, cb engine.Callbacks) sessioncore.Engine {
		return engine.New(engine.Config{
			Dispatcher:   disp,
			Host:         host,
			ServerInfo:   serverInfo,
			Instructions: instructions,
			Logger:       log,
			NewSessionID: newID,
			Callbacks:    cb,
		})
	}, sessioncore.WithLogger(log), sessioncore.WithSizeObserver(a.metrics.ObserveSessions))

	streamOpts := []streaminghttp.Option{
		streaminghttp.WithLogger(log),
		streaminghttp.WithTrace(cfg.Trace),
		streaminghttp.WithServerName(serverName),
		streaminghttp.WithMountPath(cfg.MCPPath),
	}
	if cfg.OIDCIssuer != "" {
		streamOpts = append(streamOpts, streaminghttp.WithAuthorizationServer(cfg.OIDCIssuer))
	}
	stream, err := streaminghttp.New(a.publicEndpoint(), a.mgr, gate, streamOpts...)
	if err != nil {
		return nil, fmt.Errorf("build streaming handler: %w", err)
	}

	a.health = healthInfo{
		network:              network,
		rpcURL:               cfg.RPCURL,
		nearBlocksConfigured: nearBlocksConfigured,
		sessions:             a.mgr.Len,
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.MCPPath, stream)
	if p := stream.ProtectedResourceMetadataPath(); p != "" {
		mux.Handle(p, stream)
	}
	mux.Handle(cfg.RPCPath, simplerpc.New(disp, gate, simplerpc.WithLogger(log)))
	mux.Handle("GET /health", a.health)
	mux.Handle("GET /metrics", a.metrics.Handler())
	a.handler = mux

	log.Info("app.init.ok",
		slog.String("network", string(network)),
		slog.String("mcp_path", cfg.MCPPath),
		slog.String("rpc_path", cfg.RPCPath),
		slog.Int("tools", len(reg.Tools())),
		slog.Bool("trace", cfg.Trace),
	)
	return a, nil
}

func (a *App) nearService(ctx context.Context) (*near.Service, error) {
	opts := []near.RPCOption{
		near.WithLogger(a.log),
		near.WithRateLimit(a.cfg.RPCRate),
		near.WithObserver(a.metrics.ObserveUpstream),
	}
	rpc, err := near.NewRPCClient(a.cfg.RPCURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("build near rpc client: %w", err)
	}

	var keys near.KeySource = near.StaticKey(a.cfg.NearBlocksKey)
	if a.cfg.NearBlocksKeyFile != "" {
		ws, err := config.WatchSecret(ctx, a.cfg.NearBlocksKeyFile, a.log)
		if err != nil {
			return nil, fmt.Errorf("load nearblocks key file: %w", err)
		}
		keys = ws
	}
	nb, err := near.NewNearBlocksClient(a.cfg.NearBlocksURL, keys, opts...)
	if err != nil {
		return nil, fmt.Errorf("build nearblocks client: %w", err)
	}
	return near.NewService(a.cfg.NearNetwork(), rpc, nb), nil
}

func (a *App) authenticator(ctx context.Context) (auth.Authenticator, error) {
	if a.cfg.OIDCIssuer != "" {
		var opts []auth.OIDCOption
		if a.cfg.OIDCAudience != "" {
			opts = append(opts, auth.WithAudiences(a.cfg.OIDCAudience))
		}
		authn, err := auth.NewFromDiscovery(ctx, a.cfg.OIDCIssuer, opts...)
		if err != nil {
			return nil, fmt.Errorf("oidc discovery: %w", err)
		}
		return authn, nil
	}
	authn, err := auth.NewAuthorityClient(a.cfg.AuthServiceURL)
	if err != nil {
		return nil, fmt.Errorf("build authority client: %w", err)
	}
	return authn, nil
}

func (a *App) streamHost() (sessions.StreamHost, error) {
	if a.cfg.SessionBackend != config.BackendRedis {
		return memoryhost.New(), nil
	}
	h, err := redishost.New(a.cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect session redis: %w", err)
	}
	a.closers = append(a.closers, h.Close)
	return h, nil
}

// publicEndpoint is the advertised MCP URL; without PUBLIC_URL it is
// derived from the listen address.
func (a *App) publicEndpoint() string {
	if a.cfg.PublicURL != "" {
		return strings.TrimRight(a.cfg.PublicURL, "/") + a.cfg.MCPPath
	}
	host, port, err := net.SplitHostPort(a.cfg.Addr)
	if err != nil || host == "" {
		host = "localhost"
	}
	if port == "" {
		port = "3000"
	}
	return "http://" + net.JoinHostPort(host, port) + a.cfg.MCPPath
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the session manager.
func (a *App) Sessions() *sessioncore.Manager { return a.mgr }

// Run serves until ctx ends, then shuts down within the configured timeout
// and closes every session.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", a.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.Addr, err)
	}
	a.log.Info("http.listen.ok", slog.String("addr", ln.Addr().String()), slog.String("endpoint", a.publicEndpoint()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout)
		defer cancel()
		// Standalone SSE streams only end once their sessions close.
		a.mgr.Close()
		err := srv.Shutdown(shutdownCtx)
		for _, c := range a.closers {
			if cerr := c(); cerr != nil {
				a.log.Warn("app.close.fail", slog.String("err", cerr.Error()))
			}
		}
		if err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		a.log.Info("http.shutdown.ok")
		return nil
	})
	return g.Wait()
}
