package near

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// fakeNode answers a handful of NEAR RPC methods from canned data.
type fakeNode struct {
	mu      sync.Mutex
	calls   map[string]int
	head    uint64
	skipped map[uint64]bool
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     string          `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	n.mu.Lock()
	n.calls[req.Method]++
	n.mu.Unlock()

	reply := func(result any) {
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}
	fail := func(name, cause string) {
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "error": map[string]any{
			"name": name, "cause": map[string]any{"name": cause}, "code": -32000, "message": "Server error",
		}})
	}

	switch req.Method {
	case "query":
		var p map[string]any
		_ = json.Unmarshal(req.Params, &p)
		switch p["request_type"] {
		case "view_account":
			switch p["account_id"] {
			case "alice.near":
				reply(map[string]any{"amount": "1000000000000000000000000", "locked": "0", "code_hash": "11111111111111111111111111111111", "storage_usage": 182, "block_height": 10})
			case "legacy.near":
				reply(map[string]any{"error": "account legacy.near does not exist while viewing", "logs": []string{}})
			default:
				fail("HANDLER_ERROR", "UNKNOWN_ACCOUNT")
			}
		case "call_function":
			reply(map[string]any{"result": []int{'"', 'o', 'k', '"'}, "logs": []string{}, "block_height": 10})
		}
	case "block":
		var p struct {
			Finality string `json:"finality"`
			BlockID  uint64 `json:"block_id"`
		}
		_ = json.Unmarshal(req.Params, &p)
		height := p.BlockID
		if p.Finality == "final" {
			height = n.head
		}
		if n.skipped[height] {
			fail("HANDLER_ERROR", "UNKNOWN_BLOCK")
			return
		}
		reply(map[string]any{"author": "pool.near", "header": map[string]any{"height": height, "hash": "h"}, "chunks": []any{}})
	case "gas_price":
		reply(map[string]any{"gas_price": "100000000"})
	default:
		fail("REQUEST_VALIDATION_ERROR", "METHOD_NOT_FOUND")
	}
}

func newFakeNode(t *testing.T) (*fakeNode, *httptest.Server) {
	t.Helper()
	n := &fakeNode{calls: map[string]int{}, head: 100, skipped: map[uint64]bool{98: true}}
	srv := httptest.NewServer(n)
	t.Cleanup(srv.Close)
	return n, srv
}

func mustRPC(t *testing.T, url string, opts ...RPCOption) *RPCClient {
	t.Helper()
	c, err := NewRPCClient(url, opts...)
	if err != nil {
		t.Fatalf("NewRPCClient: %v", err)
	}
	return c
}

func TestRPCClient_ViewAccount(t *testing.T) {
	_, srv := newFakeNode(t)
	c := mustRPC(t, srv.URL)

	acc, err := c.ViewAccount(context.Background(), "alice.near")
	if err != nil {
		t.Fatalf("ViewAccount: %v", err)
	}
	if acc.AccountID != "alice.near" || acc.Amount != "1000000000000000000000000" {
		t.Fatalf("unexpected account %+v", acc)
	}
	if acc.HasContract() {
		t.Fatalf("expected no contract for the empty code hash")
	}

	_, err = c.ViewAccount(context.Background(), "ghost.near")
	if !errors.Is(err, ErrUnknownAccount) {
		t.Fatalf("expected ErrUnknownAccount, got %v", err)
	}
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Name != "HANDLER_ERROR" {
		t.Fatalf("expected RPCError, got %T %v", err, err)
	}

	_, err = c.ViewAccount(context.Background(), "legacy.near")
	if !errors.Is(err, ErrUnknownAccount) {
		t.Fatalf("expected inline query error mapped to ErrUnknownAccount, got %v", err)
	}
}

func TestRPCClient_ViewFunctionDecodesBytes(t *testing.T) {
	_, srv := newFakeNode(t)
	c := mustRPC(t, srv.URL)
	res, err := c.ViewFunction(context.Background(), "wrap.near", "ft_metadata", nil)
	if err != nil {
		t.Fatalf("ViewFunction: %v", err)
	}
	if string(res.Result) != `"ok"` {
		t.Fatalf("unexpected result bytes %q", res.Result)
	}
}

func TestRPCClient_LatestBlocksSkipsMissingHeights(t *testing.T) {
	n, srv := newFakeNode(t)
	c := mustRPC(t, srv.URL, WithFanOut(2))

	blocks, err := c.LatestBlocks(context.Background(), 5)
	if err != nil {
		t.Fatalf("LatestBlocks: %v", err)
	}
	want := []uint64{100, 99, 97, 96}
	if len(blocks) != len(want) {
		t.Fatalf("want %d blocks, got %d", len(want), len(blocks))
	}
	for i, b := range blocks {
		if b.Header.Height != want[i] {
			t.Fatalf("block %d: want height %d, got %d", i, want[i], b.Header.Height)
		}
	}
	if n.calls["block"] != 5 {
		t.Fatalf("expected 5 block calls, got %d", n.calls["block"])
	}
}

func TestRPCClient_ObserverAndUnknownMethod(t *testing.T) {
	_, srv := newFakeNode(t)
	var seen []string
	var mu sync.Mutex
	c := mustRPC(t, srv.URL, WithRateLimit(1000), WithObserver(func(upstream, method string, _ time.Duration, err error) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, upstream+"/"+method)
	}))

	if _, err := c.GasPrice(context.Background()); err != nil {
		t.Fatalf("GasPrice: %v", err)
	}
	if _, err := c.Validators(context.Background()); err == nil {
		t.Fatalf("expected error for unsupported method")
	}
	if len(seen) != 2 || seen[0] != "near_rpc/gas_price" {
		t.Fatalf("unexpected observations %v", seen)
	}
}

func TestNearBlocksClient(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/v1/account/alice.near/txns" || r.URL.Query().Get("per_page") != "3" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"txns":[{"transaction_hash":"abc","predecessor_account_id":"alice.near","receiver_account_id":"bob.near","outcomes":{"status":true}}]}`))
	}))
	t.Cleanup(srv.Close)

	unconfigured, err := NewNearBlocksClient(srv.URL, nil)
	if err != nil {
		t.Fatalf("NewNearBlocksClient: %v", err)
	}
	if _, err := unconfigured.AccountActivity(context.Background(), "alice.near", 3); !errors.Is(err, ErrNearBlocksUnavailable) {
		t.Fatalf("expected ErrNearBlocksUnavailable, got %v", err)
	}

	nb, err := NewNearBlocksClient(srv.URL, StaticKey("secret"))
	if err != nil {
		t.Fatalf("NewNearBlocksClient: %v", err)
	}
	txns, err := nb.AccountActivity(context.Background(), "alice.near", 3)
	if err != nil {
		t.Fatalf("AccountActivity: %v", err)
	}
	if len(txns) != 1 || txns[0].TransactionHash != "abc" {
		t.Fatalf("unexpected txns %+v", txns)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
}

func TestParseBlockRef(t *testing.T) {
	if r := ParseBlockRef("final"); r.Height != 0 || r.Hash != "" {
		t.Fatalf("final should be zero ref, got %+v", r)
	}
	if r := ParseBlockRef("12345"); r.Height != 12345 {
		t.Fatalf("expected height, got %+v", r)
	}
	if r := ParseBlockRef("9Zb3A"); r.Hash != "9Zb3A" {
		t.Fatalf("expected hash, got %+v", r)
	}
}
