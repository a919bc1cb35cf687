package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/NEARWEEK/MCP/near"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUTH_SERVICE_URL", "https://auth.example")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":3000" || cfg.MCPPath != "/mcp" || cfg.RPCPath != "/jsonrpc" {
		t.Fatalf("unexpected listen defaults: %+v", cfg)
	}
	if cfg.NearNetwork() != near.Mainnet || cfg.RPCURL != near.Mainnet.DefaultRPCURL() {
		t.Fatalf("unexpected network defaults: %s %s", cfg.Network, cfg.RPCURL)
	}
	if cfg.RPCRate != 20 || cfg.SessionBackend != BackendMemory || cfg.ShutdownTimeout != 10*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Redis.RedisAddr != "localhost:6379" {
		t.Fatalf("redis addr = %q", cfg.Redis.RedisAddr)
	}
}

func TestLoadTestnet(t *testing.T) {
	t.Setenv("AUTH_SERVICE_URL", "https://auth.example")
	t.Setenv("NEAR_NETWORK", "Testnet")
	t.Setenv("NEARBLOCKS_API_KEY", "nb")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCURL != near.Testnet.DefaultRPCURL() || cfg.NearBlocksURL != near.Testnet.DefaultNearBlocksURL() {
		t.Fatalf("testnet urls = %s %s", cfg.RPCURL, cfg.NearBlocksURL)
	}
	if cfg.NearBlocksKey != "nb" {
		t.Fatalf("key = %q", cfg.NearBlocksKey)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Config{
		Addr:            ":3000",
		MCPPath:         "/same",
		RPCPath:         "/same",
		Network:         "devnet",
		RPCURL:          "not a url",
		SessionBackend:  "etcd",
		LogFormat:       "json",
		ShutdownTimeout: time.Second,
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected errors")
	}
	for _, want := range []string{"NEAR_NETWORK", "NEAR_RPC_URL", "AUTH_SERVICE_URL or AUTH_OIDC_ISSUER", "must differ", "SESSION_BACKEND"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in %v", want, err)
		}
	}
}

func TestOIDCSatisfiesAuthRequirement(t *testing.T) {
	t.Setenv("AUTH_OIDC_ISSUER", "https://issuer.example")
	if _, err := Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
}

func TestWatchSecretReloads(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "nearblocks.key")
	if err := os.WriteFile(path, []byte("first\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := WatchSecret(ctx, path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if s.Current() != "first" {
		t.Fatalf("current = %q", s.Current())
	}

	// Replace atomically the way secret mounts do.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte("second"), 0o600); err != nil {
		t.Fatalf("write tmp: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}
	waitFor(t, func() bool { return s.Current() == "second" })

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if s.Current() != "second" {
		t.Fatalf("value lost after removal: %q", s.Current())
	}
}

func TestWatchSecretMissingFile(t *testing.T) {
	if _, err := WatchSecret(context.Background(), filepath.Join(t.TempDir(), "absent"), slog.Default()); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

var _ near.KeySource = (*WatchedSecret)(nil)
