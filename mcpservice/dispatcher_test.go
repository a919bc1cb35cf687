package mcpservice

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/NEARWEEK/MCP/internal/jsonrpc"
	"github.com/NEARWEEK/MCP/mcp"
)

type accountArgs struct {
	AccountID string `json:"accountId" jsonschema:"description=Account to look up"`
	Limit     int    `json:"limit,omitempty"`
}

func (a accountArgs) Validate() error {
	if strings.ContainsAny(a.AccountID, " /") {
		return errors.New("accountId is not a valid account")
	}
	return nil
}

func newTestDispatcher(t *testing.T, opts ...DispatcherOption) *Dispatcher {
	t.Helper()
	lookup := NewTool[accountArgs]("lookup", func(ctx context.Context, w ToolResponseWriter, r *ToolRequest[accountArgs]) error {
		return w.AppendText("account " + r.Args().AccountID)
	})
	failing := NewTool[noArgs]("upstream", func(ctx context.Context, w ToolResponseWriter, r *ToolRequest[noArgs]) error {
		return errors.New("rpc node unreachable")
	})
	panicky := NewTool[noArgs]("panicky", func(ctx context.Context, w ToolResponseWriter, r *ToolRequest[noArgs]) error {
		panic("boom")
	})
	blocks := NewStaticResource("near://blocks/latest", "latest", func(ctx context.Context, req *ResourceRequest) ([]mcp.ResourceContents, error) {
		count := req.Query.Get("count")
		if count == "" {
			count = "10"
		}
		return []mcp.ResourceContents{{Text: "count=" + count}}, nil
	})
	broken := MustResourceTemplate("near://broken/{id}", "broken", func(ctx context.Context, req *ResourceRequest) ([]mcp.ResourceContents, error) {
		return nil, errors.New("indexer down")
	})
	reg := mustRegistry(t, Family{
		Name:      "test",
		Tools:     []Tool{lookup, failing, panicky},
		Resources: []StaticResource{blocks},
		Templates: []ResourceTemplate{broken},
	})
	return NewDispatcher(reg, opts...)
}

func mustRPCError(t *testing.T, err error, code jsonrpc.ErrorCode) *jsonrpc.Error {
	t.Helper()
	var rpcErr *jsonrpc.Error
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected *jsonrpc.Error, got %T %v", err, err)
	}
	if rpcErr.Code != code {
		t.Fatalf("code = %d, want %d (%s)", rpcErr.Code, code, rpcErr.Message)
	}
	return rpcErr
}

func TestDispatcher_CallTool(t *testing.T) {
	d := newTestDispatcher(t)
	res, err := d.CallTool(context.Background(), &mcp.CallToolRequestReceived{Name: "lookup", Arguments: json.RawMessage(`{"accountId":"alice.near"}`)})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError || res.Content[0].Text != "account alice.near" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestDispatcher_UnknownTool(t *testing.T) {
	d := newTestDispatcher(t)
	_, err := d.CallTool(context.Background(), &mcp.CallToolRequestReceived{Name: "near_nope"})
	rpcErr := mustRPCError(t, err, jsonrpc.ErrorCodeMethodNotFound)
	if !strings.Contains(rpcErr.Message, "near_nope") {
		t.Fatalf("message should name the tool: %q", rpcErr.Message)
	}
}

func TestDispatcher_InvalidArguments(t *testing.T) {
	d := newTestDispatcher(t)
	for _, args := range []string{
		`{}`,
		`{"accountId":"alice.near","extra":1}`,
		`{"accountId":"not valid"}`,
		`[1,2]`,
		`{"accountId":7}`,
	} {
		_, err := d.CallTool(context.Background(), &mcp.CallToolRequestReceived{Name: "lookup", Arguments: json.RawMessage(args)})
		mustRPCError(t, err, jsonrpc.ErrorCodeInvalidParams)
	}
}

func TestDispatcher_UpstreamFailureIsToolError(t *testing.T) {
	d := newTestDispatcher(t)
	res, err := d.CallTool(context.Background(), &mcp.CallToolRequestReceived{Name: "upstream"})
	if err != nil {
		t.Fatalf("expected error result, got %v", err)
	}
	if !res.IsError || !strings.Contains(res.Content[0].Text, "rpc node unreachable") {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestDispatcher_PanicRecovered(t *testing.T) {
	var mu sync.Mutex
	var outcomes []Outcome
	d := newTestDispatcher(t, WithObserver(func(method, target string, dur time.Duration, o Outcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	}))
	_, err := d.CallTool(context.Background(), &mcp.CallToolRequestReceived{Name: "panicky"})
	mustRPCError(t, err, jsonrpc.ErrorCodeInternalError)
	if len(outcomes) != 1 || outcomes[0] != OutcomePanic {
		t.Fatalf("outcomes = %v", outcomes)
	}
}

func TestDispatcher_ReadResource(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	res, err := d.ReadResource(ctx, "near://blocks/latest")
	if err != nil {
		t.Fatalf("ReadResource: %v", err)
	}
	if res.Contents[0].Text != "count=10" || res.Contents[0].URI != "near://blocks/latest" {
		t.Fatalf("unexpected contents: %+v", res.Contents)
	}

	res, err = d.ReadResource(ctx, "near://blocks/latest?count=5")
	if err != nil || res.Contents[0].Text != "count=5" {
		t.Fatalf("query read: %+v %v", res, err)
	}

	_, err = d.ReadResource(ctx, "near://unknown/thing")
	mustRPCError(t, err, jsonrpc.ErrorCodeInvalidParams)

	_, err = d.ReadResource(ctx, "near://broken/x")
	mustRPCError(t, err, jsonrpc.ErrorCodeInternalError)
}

func TestDispatcher_Handle(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	out, err := d.Handle(ctx, "tools/list", nil)
	if err != nil {
		t.Fatalf("tools/list: %v", err)
	}
	if got := len(out.(*mcp.ListToolsResult).Tools); got != 3 {
		t.Fatalf("tools/list returned %d tools", got)
	}

	out, err = d.Handle(ctx, "tools/call", json.RawMessage(`{"name":"lookup","arguments":{"accountId":"bob.near"}}`))
	if err != nil || out.(*mcp.CallToolResult).Content[0].Text != "account bob.near" {
		t.Fatalf("tools/call: %+v %v", out, err)
	}

	_, err = d.Handle(ctx, "tools/call", nil)
	mustRPCError(t, err, jsonrpc.ErrorCodeInvalidParams)

	_, err = d.Handle(ctx, "prompts/list", nil)
	rpcErr := mustRPCError(t, err, jsonrpc.ErrorCodeMethodNotFound)
	if rpcErr.Message != "Method not found: prompts/list" {
		t.Fatalf("message = %q", rpcErr.Message)
	}
	if d.Supports("prompts/list") || !d.Supports("resources/read") {
		t.Fatalf("Supports mismatch")
	}
}

func TestNewTool_SchemaReflectsArgs(t *testing.T) {
	tool := NewTool[accountArgs]("lookup", func(ctx context.Context, w ToolResponseWriter, r *ToolRequest[accountArgs]) error { return nil })
	s := tool.Descriptor.InputSchema
	if s.Type != "object" || s.AdditionalProperties {
		t.Fatalf("schema: %+v", s)
	}
	if len(s.Required) != 1 || s.Required[0] != "accountId" {
		t.Fatalf("required = %v", s.Required)
	}
	if s.Properties["accountId"].Description != "Account to look up" {
		t.Fatalf("description not reflected: %+v", s.Properties["accountId"])
	}
}
