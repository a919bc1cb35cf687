package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/NEARWEEK/MCP/internal/logctx"
)

func TestServeFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("AUTH_SERVICE_URL", "https://auth.example.com")
	t.Setenv("NEAR_NETWORK", "mainnet")
	t.Setenv("ADDR", ":4000")

	cmd := newServeCommand()
	if err := cmd.ParseFlags([]string{"--network", "testnet", "--trace"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	var f serveFlags
	f.network, _ = cmd.Flags().GetString("network")
	f.trace, _ = cmd.Flags().GetBool("trace")

	cfg, err := loadConfig(cmd, f)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Network != "testnet" || !strings.Contains(cfg.RPCURL, "testnet") {
		t.Fatalf("network not overridden: %q %q", cfg.Network, cfg.RPCURL)
	}
	if cfg.Addr != ":4000" {
		t.Fatalf("addr = %q, want env value", cfg.Addr)
	}
	if !cfg.Trace || cfg.LogLevel != "trace" {
		t.Fatalf("trace not applied: %v %q", cfg.Trace, cfg.LogLevel)
	}
}

func TestServeRejectsInvalidConfiguration(t *testing.T) {
	t.Setenv("AUTH_SERVICE_URL", "")
	t.Setenv("AUTH_OIDC_ISSUER", "")

	root := newRootCommand()
	var stderr bytes.Buffer
	root.SetErr(&stderr)
	root.SetArgs([]string{"serve", "--network", "betanet"})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected configuration error")
	}
	for _, want := range []string{"NEAR_NETWORK", "AUTH_SERVICE_URL"} {
		if !strings.Contains(stderr.String(), want) {
			t.Fatalf("stderr %q missing %s", stderr.String(), want)
		}
	}
}

func TestNewLoggerRendersTrace(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "json", "trace")
	log.Log(t.Context(), logctx.LevelTrace, "mcp.trace")
	if !strings.Contains(buf.String(), `"level":"TRACE"`) {
		t.Fatalf("log = %s", buf.String())
	}
}
