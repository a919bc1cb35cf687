// Command near-mcp serves the NEAR MCP server over Streamable HTTP and the
// simple JSON-RPC facade.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/NEARWEEK/MCP/internal/app"
	"github.com/NEARWEEK/MCP/internal/config"
	"github.com/NEARWEEK/MCP/internal/logctx"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

type serveFlags struct {
	addr     string
	network  string
	logLevel string
	trace    bool
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "near-mcp",
		Short:         "MCP server exposing read-only NEAR blockchain tools",
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand())
	return root
}

func newServeCommand() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the MCP endpoint, JSON-RPC facade, health and metrics",
		Long: `Serve the MCP endpoint, the JSON-RPC facade, /health and /metrics.

Configuration is read from the environment (NEAR_NETWORK, NEAR_RPC_URL,
AUTH_SERVICE_URL, SESSION_BACKEND, ...). Flags override the environment.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return err
			}
			log := newLogger(cmd.ErrOrStderr(), cfg.LogFormat, cfg.LogLevel)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, log, app.Deps{})
			if err != nil {
				log.Error("app.start.fail", slog.String("err", err.Error()))
				return err
			}
			if err := a.Run(ctx); err != nil {
				log.Error("app.run.fail", slog.String("err", err.Error()))
				return err
			}
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.addr, "addr", "", "listen address (overrides ADDR)")
	fl.StringVar(&f.network, "network", "", "NEAR network: mainnet or testnet (overrides NEAR_NETWORK)")
	fl.StringVar(&f.logLevel, "log-level", "", "trace, debug, info, warn or error (overrides LOG_LEVEL)")
	fl.BoolVar(&f.trace, "trace", false, "log every protocol frame at trace level (overrides MCP_TRACE)")
	return cmd
}

// loadConfig applies explicitly set flags on top of the environment before
// network defaults are filled in.
func loadConfig(cmd *cobra.Command, f serveFlags) (*config.Config, error) {
	cfg, err := config.Decode()
	if err != nil {
		return nil, err
	}
	fl := cmd.Flags()
	if fl.Changed("addr") {
		cfg.Addr = f.addr
	}
	if fl.Changed("network") {
		cfg.Network = f.network
	}
	if fl.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if fl.Changed("trace") {
		cfg.Trace = f.trace
	}
	if cfg.Trace && logctx.ParseLevel(cfg.LogLevel) > logctx.LevelTrace {
		cfg.LogLevel = "trace"
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(w io.Writer, format, level string) *slog.Logger {
	var lvl slog.LevelVar
	lvl.Set(logctx.ParseLevel(level))
	opts := &slog.HandlerOptions{Level: &lvl, ReplaceAttr: logctx.ReplaceLevelName}

	var h slog.Handler
	if format == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(logctx.Handler{Handler: h})
}

