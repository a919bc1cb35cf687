// Package config loads the server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/NEARWEEK/MCP/near"
	"github.com/NEARWEEK/MCP/sessions/redishost"
	"github.com/joeshaw/envdecode"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config is decoded with envdecode; zero-valued URLs are filled from the
// selected network by Load.
type Config struct {
	Addr      string `env:"ADDR,default=:3000"`
	PublicURL string `env:"PUBLIC_URL"`
	MCPPath   string `env:"MCP_PATH,default=/mcp"`
	RPCPath   string `env:"RPC_PATH,default=/jsonrpc"`

	Network       string  `env:"NEAR_NETWORK,default=mainnet"`
	RPCURL        string  `env:"NEAR_RPC_URL"`
	RPCRate       float64 `env:"NEAR_RPC_RPS,default=20"`
	NearBlocksURL string  `env:"NEARBLOCKS_API_URL"`
	// NearBlocksKey is the secondary credential for account activity lookups.
	NearBlocksKey     string `env:"NEARBLOCKS_API_KEY"`
	NearBlocksKeyFile string `env:"NEARBLOCKS_API_KEY_FILE"`

	AuthServiceURL string `env:"AUTH_SERVICE_URL"`
	OIDCIssuer     string `env:"AUTH_OIDC_ISSUER"`
	OIDCAudience   string `env:"AUTH_OIDC_AUDIENCE"`

	Trace          bool   `env:"MCP_TRACE,default=false"`
	SessionBackend string `env:"SESSION_BACKEND,default=memory"`
	Redis          redishost.Config

	LogLevel        string        `env:"LOG_LEVEL,default=info"`
	LogFormat       string        `env:"LOG_FORMAT,default=json"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

// Load decodes the environment, applies network defaults and validates.
func Load() (*Config, error) {
	cfg, err := Decode()
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode reads the environment without applying network defaults, so
// callers can override fields before ApplyDefaults.
func Decode() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// ApplyDefaults normalizes Network and fills the URLs left empty from it.
func (c *Config) ApplyDefaults() {
	c.Network = strings.ToLower(strings.TrimSpace(c.Network))
	n := near.Network(c.Network)
	if c.RPCURL == "" {
		c.RPCURL = n.DefaultRPCURL()
	}
	if c.NearBlocksURL == "" {
		c.NearBlocksURL = n.DefaultNearBlocksURL()
	}
}

// NearNetwork returns the configured network.
func (c *Config) NearNetwork() near.Network { return near.Network(c.Network) }

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("ADDR must not be empty"))
	}
	if !c.NearNetwork().Valid() {
		errs = append(errs, fmt.Errorf("NEAR_NETWORK must be mainnet or testnet, got %q", c.Network))
	}
	for _, f := range []struct{ name, v string }{
		{"NEAR_RPC_URL", c.RPCURL},
		{"NEARBLOCKS_API_URL", c.NearBlocksURL},
		{"AUTH_SERVICE_URL", c.AuthServiceURL},
		{"PUBLIC_URL", c.PublicURL},
	} {
		if f.v == "" {
			continue
		}
		if u, err := url.Parse(f.v); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s must be an absolute http(s) URL, got %q", f.name, f.v))
		}
	}
	if c.AuthServiceURL == "" && c.OIDCIssuer == "" {
		errs = append(errs, errors.New("one of AUTH_SERVICE_URL or AUTH_OIDC_ISSUER is required"))
	}
	if !strings.HasPrefix(c.MCPPath, "/") || !strings.HasPrefix(c.RPCPath, "/") {
		errs = append(errs, errors.New("MCP_PATH and RPC_PATH must start with /"))
	} else if c.MCPPath == c.RPCPath {
		errs = append(errs, errors.New("MCP_PATH and RPC_PATH must differ"))
	}
	if c.RPCRate < 0 {
		errs = append(errs, errors.New("NEAR_RPC_RPS must not be negative"))
	}
	if c.SessionBackend != BackendMemory && c.SessionBackend != BackendRedis {
		errs = append(errs, fmt.Errorf("SESSION_BACKEND must be memory or redis, got %q", c.SessionBackend))
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("SHUTDOWN_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}
