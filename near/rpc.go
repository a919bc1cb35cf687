package near

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// MaxLatestBlocks bounds LatestBlocks fan-out.
const MaxLatestBlocks = 50

// Observer receives one callback per upstream call.
type Observer func(upstream, method string, dur time.Duration, err error)

// RPCOption configures an RPCClient.
type RPCOption func(*rpcConfig)

type rpcConfig struct {
	log         *slog.Logger
	httpClient  *http.Client
	rps         float64
	observer    Observer
	concurrency int
}

// WithLogger sets the logger used for upstream call events.
func WithLogger(l *slog.Logger) RPCOption {
	return func(c *rpcConfig) { c.log = l }
}

// WithHTTPClient routes upstream calls through hc.
func WithHTTPClient(hc *http.Client) RPCOption {
	return func(c *rpcConfig) { c.httpClient = hc }
}

// WithRateLimit caps outbound requests per second. Zero disables the limit.
func WithRateLimit(rps float64) RPCOption {
	return func(c *rpcConfig) { c.rps = rps }
}

// WithObserver registers a per-call observer (used for metrics).
func WithObserver(o Observer) RPCOption {
	return func(c *rpcConfig) { c.observer = o }
}

// WithFanOut bounds concurrent requests issued by LatestBlocks.
func WithFanOut(n int) RPCOption {
	return func(c *rpcConfig) { c.concurrency = n }
}

// RPCClient talks JSON-RPC to a NEAR node. Failures are returned as-is; the
// client never retries.
type RPCClient struct {
	http        *resty.Client
	url         string
	log         *slog.Logger
	limiter     *rate.Limiter
	observer    Observer
	concurrency int
	seq         atomic.Uint64
}

// NewRPCClient builds a client for the node at url.
func NewRPCClient(url string, opts ...RPCOption) (*RPCClient, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("near rpc url is required")
	}
	cfg := rpcConfig{concurrency: 8}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.log == nil {
		cfg.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	rc := resty.New()
	if cfg.httpClient != nil {
		rc = resty.NewWithClient(cfg.httpClient)
	}
	rc.SetHeader("Content-Type", "application/json")

	c := &RPCClient{
		http:        rc,
		url:         url,
		log:         cfg.log,
		observer:    cfg.observer,
		concurrency: max(cfg.concurrency, 1),
	}
	if cfg.rps > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.rps), max(int(cfg.rps), 1))
	}
	return c, nil
}

// URL returns the node endpoint.
func (c *RPCClient) URL() string { return c.url }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// call performs one JSON-RPC round trip and decodes result into out.
func (c *RPCClient) call(ctx context.Context, method string, params any, out any) (err error) {
	start := time.Now()
	defer func() {
		if c.observer != nil {
			c.observer("near_rpc", method, time.Since(start), err)
		}
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req := rpcRequest{JSONRPC: "2.0", ID: fmt.Sprintf("near-mcp-%d", c.seq.Add(1)), Method: method, Params: params}
	resp, err := c.http.R().SetContext(ctx).SetBody(req).Post(c.url)
	if err != nil {
		c.log.WarnContext(ctx, "near.rpc.fail", slog.String("method", method), slog.String("err", err.Error()))
		return fmt.Errorf("near rpc %s: %w", method, err)
	}
	if !resp.IsSuccess() && len(resp.Body()) == 0 {
		return fmt.Errorf("near rpc %s: http status %d", method, resp.StatusCode())
	}

	var env rpcResponse
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("near rpc %s: decode envelope (status %d): %w", method, resp.StatusCode(), err)
	}
	if env.Error != nil {
		c.log.InfoContext(ctx, "near.rpc.error", slog.String("method", method), slog.String("err", env.Error.Error()))
		return env.Error
	}

	// Older nodes report query failures inside the result object.
	var inline struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(env.Result, &inline) == nil && inline.Error != "" {
		return queryError(inline.Error)
	}

	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("near rpc %s: decode result: %w", method, err)
		}
	}
	c.log.DebugContext(ctx, "near.rpc.ok", slog.String("method", method), slog.Duration("dur", time.Since(start)))
	return nil
}

func queryError(msg string) error {
	e := &RPCError{Name: "HANDLER_ERROR", Message: msg}
	switch {
	case strings.Contains(msg, "does not exist while viewing"):
		e.Cause = &RPCErrorCause{Name: "UNKNOWN_ACCOUNT"}
	case strings.Contains(msg, "MethodNotFound"):
		e.Cause = &RPCErrorCause{Name: "METHOD_NOT_FOUND"}
	}
	return e
}

func (c *RPCClient) query(ctx context.Context, requestType string, fields map[string]any, out any) error {
	params := map[string]any{"request_type": requestType, "finality": "final"}
	for k, v := range fields {
		params[k] = v
	}
	return c.call(ctx, "query", params, out)
}

// ViewAccount returns balance and storage information for accountID.
func (c *RPCClient) ViewAccount(ctx context.Context, accountID string) (*Account, error) {
	var acc Account
	if err := c.query(ctx, "view_account", map[string]any{"account_id": accountID}, &acc); err != nil {
		return nil, err
	}
	acc.AccountID = accountID
	return &acc, nil
}

// ViewAccessKeys lists the access keys of accountID.
func (c *RPCClient) ViewAccessKeys(ctx context.Context, accountID string) ([]AccessKey, error) {
	var out struct {
		Keys []AccessKey `json:"keys"`
	}
	if err := c.query(ctx, "view_access_key_list", map[string]any{"account_id": accountID}, &out); err != nil {
		return nil, err
	}
	return out.Keys, nil
}

// ViewFunction calls a read-only contract method with JSON args.
func (c *RPCClient) ViewFunction(ctx context.Context, contractID, method string, args json.RawMessage) (*FunctionResult, error) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	var res FunctionResult
	err := c.query(ctx, "call_function", map[string]any{
		"account_id":  contractID,
		"method_name": method,
		"args_base64": base64.StdEncoding.EncodeToString(args),
	}, &res)
	if err != nil {
		return nil, err
	}
	res.Result = make([]byte, len(res.RawResult))
	for i, b := range res.RawResult {
		res.Result[i] = byte(b)
	}
	return &res, nil
}

// ViewCode returns the hash and size of the contract deployed on contractID.
func (c *RPCClient) ViewCode(ctx context.Context, contractID string) (*ContractCode, error) {
	var out struct {
		CodeBase64  string `json:"code_base64"`
		Hash        string `json:"hash"`
		BlockHeight uint64 `json:"block_height"`
	}
	if err := c.query(ctx, "view_code", map[string]any{"account_id": contractID}, &out); err != nil {
		return nil, err
	}
	return &ContractCode{
		ContractID:  contractID,
		Hash:        out.Hash,
		SizeBytes:   base64.StdEncoding.DecodedLen(len(out.CodeBase64)),
		BlockHeight: out.BlockHeight,
	}, nil
}

// Block fetches one block.
func (c *RPCClient) Block(ctx context.Context, ref BlockRef) (*Block, error) {
	var b Block
	if err := c.call(ctx, "block", ref.params(), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// LatestBlocks returns up to count of the most recent final blocks, newest
// first. Heights the chain skipped are omitted, so fewer blocks may be returned.
func (c *RPCClient) LatestBlocks(ctx context.Context, count int) ([]Block, error) {
	if count <= 0 {
		return nil, nil
	}
	count = min(count, MaxLatestBlocks)

	head, err := c.Block(ctx, BlockRef{})
	if err != nil {
		return nil, err
	}
	blocks := make([]*Block, count)
	blocks[0] = head

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i := 1; i < count; i++ {
		if uint64(i) > head.Header.Height {
			break
		}
		height := head.Header.Height - uint64(i)
		g.Go(func() error {
			b, err := c.Block(gctx, BlockRef{Height: height})
			if errors.Is(err, ErrUnknownBlock) {
				return nil
			}
			if err != nil {
				return err
			}
			blocks[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Block, 0, count)
	for _, b := range blocks {
		if b != nil {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Header.Height > out[j].Header.Height })
	return out, nil
}

// NetworkStatus returns node and chain status.
func (c *RPCClient) NetworkStatus(ctx context.Context) (*NetworkStatus, error) {
	var st NetworkStatus
	if err := c.call(ctx, "status", []any{}, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// GasPrice returns the gas price of the latest block.
func (c *RPCClient) GasPrice(ctx context.Context) (*GasPrice, error) {
	var gp GasPrice
	if err := c.call(ctx, "gas_price", []any{nil}, &gp); err != nil {
		return nil, err
	}
	return &gp, nil
}

// Validators returns the current epoch's validator set.
func (c *RPCClient) Validators(ctx context.Context) (*Validators, error) {
	var v Validators
	if err := c.call(ctx, "validators", []any{nil}, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// TxStatus returns the execution outcome of a transaction.
func (c *RPCClient) TxStatus(ctx context.Context, hash, senderID string) (*TxStatus, error) {
	var tx TxStatus
	if err := c.call(ctx, "tx", []any{hash, senderID}, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}
