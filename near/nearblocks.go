package near

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// KeySource yields the current NearBlocks API key; "" means unconfigured.
type KeySource interface {
	Current() string
}

// StaticKey is a KeySource that never changes.
type StaticKey string

func (k StaticKey) Current() string { return string(k) }

// NearBlocksClient reads indexed account activity from the NearBlocks API.
type NearBlocksClient struct {
	http     *resty.Client
	keys     KeySource
	log      *slog.Logger
	observer Observer
}

// NewNearBlocksClient builds a client rooted at baseURL. Options shared with
// the RPC client (logger, HTTP client, observer) apply here too.
func NewNearBlocksClient(baseURL string, keys KeySource, opts ...RPCOption) (*NearBlocksClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("nearblocks base url is required")
	}
	cfg := rpcConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.log == nil {
		cfg.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if keys == nil {
		keys = StaticKey("")
	}
	rc := resty.New()
	if cfg.httpClient != nil {
		rc = resty.NewWithClient(cfg.httpClient)
	}
	rc.SetBaseURL(baseURL).SetHeader("Accept", "application/json")
	return &NearBlocksClient{http: rc, keys: keys, log: cfg.log, observer: cfg.observer}, nil
}

// Configured reports whether an API key is currently available.
func (c *NearBlocksClient) Configured() bool {
	return c != nil && c.keys.Current() != ""
}

// AccountActivity returns the most recent transactions involving accountID.
func (c *NearBlocksClient) AccountActivity(ctx context.Context, accountID string, limit int) (out []Activity, err error) {
	key := c.keys.Current()
	if key == "" {
		return nil, ErrNearBlocksUnavailable
	}
	start := time.Now()
	defer func() {
		if c.observer != nil {
			c.observer("nearblocks", "account_txns", time.Since(start), err)
		}
	}()

	limit = min(max(limit, 1), 100)
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(key).
		SetQueryParam("per_page", strconv.Itoa(limit)).
		SetQueryParam("order", "desc").
		Get("/v1/account/" + url.PathEscape(accountID) + "/txns")
	if err != nil {
		c.log.WarnContext(ctx, "nearblocks.fail", slog.String("err", err.Error()))
		return nil, fmt.Errorf("nearblocks: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("nearblocks: http status %d", resp.StatusCode())
	}
	var body struct {
		Txns []Activity `json:"txns"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("nearblocks: decode: %w", err)
	}
	c.log.DebugContext(ctx, "nearblocks.ok", slog.Int("count", len(body.Txns)), slog.Duration("dur", time.Since(start)))
	return body.Txns, nil
}
