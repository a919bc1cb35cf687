package simplerpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/NEARWEEK/MCP/auth"
	"github.com/NEARWEEK/MCP/auth/authtest"
	"github.com/NEARWEEK/MCP/internal/jsonrpc"
	"github.com/NEARWEEK/MCP/mcp"
	"github.com/NEARWEEK/MCP/mcpservice"
)

const testKey = "k-1"

type greetArgs struct {
	Name string `json:"name" jsonschema:"required"`
}

func newHandler(t *testing.T, opts ...mcpservice.DispatcherOption) (*Handler, *authtest.Keys) {
	t.Helper()
	greet := mcpservice.NewTool("greet", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[greetArgs]) error {
		if r.Args().Name == "nobody" {
			return errors.New("upstream unavailable")
		}
		return w.AppendText("hello " + r.Args().Name)
	})
	status := mcpservice.NewStaticResource("near://network/status", "status", func(ctx context.Context, req *mcpservice.ResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{{Text: "ok"}}, nil
	})
	reg, err := mcpservice.NewRegistry(mcpservice.Family{Name: "test", Tools: []mcpservice.Tool{greet}, Resources: []mcpservice.StaticResource{status}})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	keys := authtest.NewKeys(testKey)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(mcpservice.NewDispatcher(reg, opts...), auth.NewGate(keys), WithLogger(log)), keys
}

func call(t *testing.T, h http.Handler, target, body string) (*httptest.ResponseRecorder, *jsonrpc.Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	if !strings.Contains(target, "api") {
		req.Header.Set("Authorization", "Bearer "+testKey)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var res jsonrpc.Response
	if rec.Header().Get("Content-Type") == "application/json" && rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
			t.Fatalf("decode %q: %v", rec.Body.String(), err)
		}
	}
	return rec, &res
}

func TestMethods(t *testing.T) {
	h, _ := newHandler(t)
	tests := []struct {
		name     string
		body     string
		status   int
		code     jsonrpc.ErrorCode
		contains string
	}{
		{"tools list", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, http.StatusOK, 0, `"greet"`},
		{"tools call", `{"id":"x","method":"tools/call","params":{"name":"greet","arguments":{"name":"near"}}}`, http.StatusOK, 0, `hello near`},
		{"tool upstream failure", `{"id":2,"method":"tools/call","params":{"name":"greet","arguments":{"name":"nobody"}}}`, http.StatusOK, 0, `"isError":true`},
		{"resources list", `{"id":3,"method":"resources/list"}`, http.StatusOK, 0, `near://network/status`},
		{"resources read", `{"id":4,"method":"resources/read","params":{"uri":"near://network/status"}}`, http.StatusOK, 0, `"text":"ok"`},
		{"templates list", `{"id":5,"method":"resources/templates/list"}`, http.StatusOK, 0, `"resourceTemplates":[]`},
		{"unknown tool", `{"id":6,"method":"tools/call","params":{"name":"nope"}}`, http.StatusOK, jsonrpc.ErrorCodeMethodNotFound, `Unknown tool: nope`},
		{"invalid args", `{"id":7,"method":"tools/call","params":{"name":"greet","arguments":{}}}`, http.StatusOK, jsonrpc.ErrorCodeInvalidParams, ``},
		{"unknown resource", `{"id":8,"method":"resources/read","params":{"uri":"near://nope"}}`, http.StatusOK, jsonrpc.ErrorCodeInvalidParams, `Resource not found: near://nope`},
		{"unknown method", `{"id":9,"method":"prompts/list"}`, http.StatusNotFound, jsonrpc.ErrorCodeMethodNotFound, `Method not found: prompts/list`},
		{"session-only method", `{"id":10,"method":"initialize"}`, http.StatusNotFound, jsonrpc.ErrorCodeMethodNotFound, `Method not found: initialize`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, res := call(t, h, "/jsonrpc", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
			if tt.code != 0 {
				if res.Error == nil || res.Error.Code != tt.code {
					t.Fatalf("error = %+v, want code %d", res.Error, tt.code)
				}
			} else if res.Error != nil {
				t.Fatalf("unexpected error: %+v", res.Error)
			}
			if !strings.Contains(rec.Body.String(), tt.contains) {
				t.Fatalf("body %s does not contain %s", rec.Body.String(), tt.contains)
			}
		})
	}
}

func TestEchoesID(t *testing.T) {
	h, _ := newHandler(t)
	for _, body := range []string{
		`{"id":"abc","method":"tools/list"}`,
		`{"id":"abc","method":"nope"}`,
		`{"id":"abc","method":"tools/call","params":{"name":"nope"}}`,
	} {
		_, res := call(t, h, "/jsonrpc", body)
		if res.ID.String() != "abc" {
			t.Fatalf("id = %q for %s", res.ID.String(), body)
		}
	}
}

func TestOnlyPost(t *testing.T) {
	h, _ := newHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/jsonrpc", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMalformedBody(t *testing.T) {
	h, _ := newHandler(t)
	rec, res := call(t, h, "/jsonrpc", `{"id":1,`)
	if rec.Code != http.StatusBadRequest || res.Error == nil {
		t.Fatalf("status = %d error = %+v", rec.Code, res.Error)
	}
}

func TestPanicIsInternalError(t *testing.T) {
	h, _ := newHandler(t, mcpservice.WithObserver(func(method, target string, dur time.Duration, outcome mcpservice.Outcome) {
		panic("observer exploded")
	}))
	rec, res := call(t, h, "/jsonrpc", `{"id":11,"method":"tools/list"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeInternalError || res.ID.String() != "11" {
		t.Fatalf("unexpected response: %s", rec.Body.String())
	}
}

func TestAuthentication(t *testing.T) {
	h, keys := newHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/jsonrpc", strings.NewReader(`{"id":1,"method":"tools/list"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized || keys.Calls() != 0 {
		t.Fatalf("missing credential: status = %d calls = %d", rec.Code, keys.Calls())
	}

	for _, q := range []string{"api_key", "apiKey"} {
		rec, res := call(t, h, "/jsonrpc?"+q+"="+testKey, `{"id":1,"method":"tools/list"}`)
		if rec.Code != http.StatusOK || res.Error != nil {
			t.Fatalf("%s fallback: status = %d", q, rec.Code)
		}
	}

	rec, _ = call(t, h, "/jsonrpc?api_key=wrong", `{"id":1,"method":"tools/list"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("bad key: status = %d", rec.Code)
	}

	keys.SetFail(true)
	rec, _ = call(t, h, "/jsonrpc?api_key="+testKey, `{"id":1,"method":"tools/list"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("authority down: status = %d", rec.Code)
	}
}
