package mcpservice

import (
	"context"
	"strings"
	"testing"

	"github.com/NEARWEEK/MCP/mcp"
)

type noArgs struct{}

func textTool(name, text string) Tool {
	return NewTool[noArgs](name, func(ctx context.Context, w ToolResponseWriter, r *ToolRequest[noArgs]) error {
		return w.AppendText(text)
	})
}

func textResource(text string) ResourceHandler {
	return func(ctx context.Context, req *ResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{{URI: req.URI, Text: text}}, nil
	}
}

func mustRegistry(t *testing.T, fams ...Family) *Registry {
	t.Helper()
	reg, err := NewRegistry(fams...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func TestRegistry_FirstFamilyWins(t *testing.T) {
	reg := mustRegistry(t,
		Family{Name: "account", Tools: []Tool{textTool("shared", "from account"), textTool("a_only", "a")}},
		Family{Name: "chain", Tools: []Tool{textTool("shared", "from chain"), textTool("c_only", "c")}},
	)

	for i := 0; i < 3; i++ {
		tool, family, ok := reg.Tool("shared")
		if !ok || family != "account" {
			t.Fatalf("Tool(shared) = %q, %v; want account", family, ok)
		}
		res, err := tool.Handler(context.Background(), &mcp.CallToolRequestReceived{Name: "shared"})
		if err != nil {
			t.Fatalf("handler: %v", err)
		}
		if got := res.Content[0].Text; got != "from account" {
			t.Fatalf("shared tool text = %q", got)
		}
	}

	names := map[string]int{}
	for _, tl := range reg.Tools() {
		names[tl.Name]++
	}
	if len(names) != 3 {
		t.Fatalf("expected 3 distinct tools, got %v", names)
	}
	for n, c := range names {
		if c != 1 {
			t.Fatalf("tool %q listed %d times", n, c)
		}
	}

	shadowed := reg.Shadowed()
	if len(shadowed) != 1 || shadowed[0].Name != "shared" || shadowed[0].Family != "chain" || shadowed[0].Winner != "account" {
		t.Fatalf("unexpected shadowed: %+v", shadowed)
	}
}

func TestRegistry_DuplicateWithinFamily(t *testing.T) {
	_, err := NewRegistry(Family{Name: "x", Tools: []Tool{textTool("t", "1"), textTool("t", "2")}})
	if err == nil || !strings.Contains(err.Error(), "duplicate tool") {
		t.Fatalf("expected duplicate tool error, got %v", err)
	}
}

func TestRegistry_ResolveResource(t *testing.T) {
	reg := mustRegistry(t,
		Family{
			Name:      "chain",
			Resources: []StaticResource{NewStaticResource("near://blocks/latest", "latest", textResource("blocks"))},
			Templates: []ResourceTemplate{
				MustResourceTemplate("near://account/{accountId}", "account", textResource("account")),
				MustResourceTemplate("near://contract/{contractId}/readme", "readme", textResource("readme")),
			},
		},
	)

	cases := []struct {
		uri       string
		ok        bool
		param     string
		paramName string
	}{
		{uri: "near://account/alice.x", ok: true, paramName: "accountId", param: "alice.x"},
		{uri: "near://contract/bob.y/readme", ok: true, paramName: "contractId", param: "bob.y"},
		{uri: "near://account/bob.y/readme", ok: false},
		{uri: "near://account/", ok: false},
		{uri: "near://blocks/latest?count=5", ok: true},
		{uri: "near://nothing", ok: false},
	}
	for _, tc := range cases {
		_, req, ok := reg.ResolveResource(tc.uri)
		if ok != tc.ok {
			t.Fatalf("ResolveResource(%q) ok=%v want %v", tc.uri, ok, tc.ok)
		}
		if ok && tc.paramName != "" && req.Param(tc.paramName) != tc.param {
			t.Fatalf("ResolveResource(%q) param %s=%q want %q", tc.uri, tc.paramName, req.Param(tc.paramName), tc.param)
		}
	}

	_, req, _ := reg.ResolveResource("near://blocks/latest?count=5")
	if req.Query.Get("count") != "5" {
		t.Fatalf("query not carried: %v", req.Query)
	}
}

func TestRegistry_StaticBeforeTemplate(t *testing.T) {
	reg := mustRegistry(t,
		Family{Name: "a", Templates: []ResourceTemplate{MustResourceTemplate("near://account/{accountId}", "tpl", textResource("template"))}},
		Family{Name: "b", Resources: []StaticResource{NewStaticResource("near://account/special", "static", textResource("static"))}},
	)
	h, req, ok := reg.ResolveResource("near://account/special")
	if !ok {
		t.Fatalf("expected match")
	}
	got, err := h(context.Background(), req)
	if err != nil || got[0].Text != "static" {
		t.Fatalf("expected static resource to win, got %+v %v", got, err)
	}
}
