package mcpservice

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/NEARWEEK/MCP/internal/jsonrpc"
	"github.com/NEARWEEK/MCP/internal/logctx"
	"github.com/NEARWEEK/MCP/mcp"
)

// Outcome classifies a dispatched operation for observers.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeToolError Outcome = "tool_error"
	OutcomeRPCError  Outcome = "rpc_error"
	OutcomePanic     Outcome = "panic"
)

// Observer is notified once per dispatched operation. target is the tool
// name or resource URI, empty for listings.
type Observer func(method, target string, dur time.Duration, outcome Outcome)

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger. Defaults to slog.Default().
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// WithObserver registers an operation observer.
func WithObserver(o Observer) DispatcherOption {
	return func(d *Dispatcher) { d.observe = o }
}

// Dispatcher executes capability operations against a Registry. It holds
// no per-session state and is shared by the session transport and the
// stateless facade.
type Dispatcher struct {
	reg     *Registry
	log     *slog.Logger
	observe Observer
}

// NewDispatcher returns a Dispatcher over reg.
func NewDispatcher(reg *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{reg: reg, log: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the catalog the dispatcher serves.
func (d *Dispatcher) Registry() *Registry { return d.reg }

// Supports reports whether Handle routes method.
func (d *Dispatcher) Supports(method string) bool {
	switch mcp.Method(method) {
	case mcp.ToolsListMethod, mcp.ToolsCallMethod,
		mcp.ResourcesListMethod, mcp.ResourcesTemplatesListMethod, mcp.ResourcesReadMethod:
		return true
	}
	return false
}

// Handle routes a capability method with raw params to the matching
// operation. Errors are *jsonrpc.Error values.
func (d *Dispatcher) Handle(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch mcp.Method(method) {
	case mcp.ToolsListMethod:
		return d.ListTools(ctx), nil
	case mcp.ResourcesListMethod:
		return d.ListResources(ctx), nil
	case mcp.ResourcesTemplatesListMethod:
		return d.ListResourceTemplates(ctx), nil
	case mcp.ToolsCallMethod:
		var req mcp.CallToolRequestReceived
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		if req.Name == "" {
			return nil, InvalidParams("tools/call requires a tool name")
		}
		return d.CallTool(ctx, &req)
	case mcp.ResourcesReadMethod:
		var req mcp.ReadResourceRequest
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		if req.URI == "" {
			return nil, InvalidParams("resources/read requires a uri")
		}
		return d.ReadResource(ctx, req.URI)
	}
	return nil, ErrMethodNotFound(method)
}

func decodeParams(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return InvalidParams("missing params")
	}
	if err := json.Unmarshal(params, v); err != nil {
		return InvalidParams("invalid params: %v", err)
	}
	return nil
}

// ListTools returns every registered tool, each name once.
func (d *Dispatcher) ListTools(ctx context.Context) *mcp.ListToolsResult {
	start := time.Now()
	res := &mcp.ListToolsResult{Tools: d.reg.Tools()}
	d.done(ctx, string(mcp.ToolsListMethod), "", start, OutcomeOK)
	return res
}

// ListResources returns every static resource.
func (d *Dispatcher) ListResources(ctx context.Context) *mcp.ListResourcesResult {
	start := time.Now()
	res := &mcp.ListResourcesResult{Resources: d.reg.Resources()}
	d.done(ctx, string(mcp.ResourcesListMethod), "", start, OutcomeOK)
	return res
}

// ListResourceTemplates returns every resource template.
func (d *Dispatcher) ListResourceTemplates(ctx context.Context) *mcp.ListResourceTemplatesResult {
	start := time.Now()
	res := &mcp.ListResourceTemplatesResult{ResourceTemplates: d.reg.ResourceTemplates()}
	d.done(ctx, string(mcp.ResourcesTemplatesListMethod), "", start, OutcomeOK)
	return res
}

// CallTool runs the named tool. An unknown name is a method-not-found
// error. Handler errors that are not *jsonrpc.Error become an error result
// so the model sees the failure text. Panics become internal errors.
func (d *Dispatcher) CallTool(ctx context.Context, req *mcp.CallToolRequestReceived) (res *mcp.CallToolResult, err error) {
	start := time.Now()
	method := string(mcp.ToolsCallMethod)
	tool, family, ok := d.reg.Tool(req.Name)
	if !ok {
		d.done(ctx, method, req.Name, start, OutcomeRPCError)
		return nil, ErrToolNotFound(req.Name)
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: req.Name})
	defer func() {
		if p := recover(); p != nil {
			d.log.ErrorContext(ctx, "tool.call.panic",
				slog.String("family", family),
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())),
			)
			res, err = nil, InternalError("Internal error executing tool %s", req.Name)
			d.done(ctx, method, req.Name, start, OutcomePanic)
		}
	}()

	res, err = tool.Handler(ctx, req)
	if err != nil {
		var rpcErr *jsonrpc.Error
		if errors.As(err, &rpcErr) {
			d.log.InfoContext(ctx, "tool.call.rejected", slog.Int("code", int(rpcErr.Code)), slog.String("err", rpcErr.Message))
			d.done(ctx, method, req.Name, start, OutcomeRPCError)
			return nil, rpcErr
		}
		d.log.WarnContext(ctx, "tool.call.fail", slog.String("err", err.Error()), slog.Duration("dur", time.Since(start)))
		d.done(ctx, method, req.Name, start, OutcomeToolError)
		return Errorf("Error: %v", err), nil
	}
	if res == nil {
		res = &mcp.CallToolResult{Content: []mcp.ContentBlock{}}
	}
	outcome := OutcomeOK
	if res.IsError {
		outcome = OutcomeToolError
	}
	d.log.DebugContext(ctx, "tool.call.ok", slog.Duration("dur", time.Since(start)))
	d.done(ctx, method, req.Name, start, outcome)
	return res, nil
}

// ReadResource resolves uri against static resources, then templates, and
// invokes the winning handler. No match is an invalid-params error; handler
// failures are internal errors.
func (d *Dispatcher) ReadResource(ctx context.Context, uri string) (res *mcp.ReadResourceResult, err error) {
	start := time.Now()
	method := string(mcp.ResourcesReadMethod)
	h, req, ok := d.reg.ResolveResource(uri)
	if !ok {
		d.done(ctx, method, uri, start, OutcomeRPCError)
		return nil, ErrResourceNotFound(uri)
	}

	defer func() {
		if p := recover(); p != nil {
			d.log.ErrorContext(ctx, "resource.read.panic",
				slog.String("uri", uri),
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())),
			)
			res, err = nil, InternalError("Internal error reading resource %s", uri)
			d.done(ctx, method, uri, start, OutcomePanic)
		}
	}()

	contents, err := h(ctx, req)
	if err != nil {
		var rpcErr *jsonrpc.Error
		if errors.As(err, &rpcErr) {
			d.done(ctx, method, uri, start, OutcomeRPCError)
			return nil, rpcErr
		}
		d.log.WarnContext(ctx, "resource.read.fail", slog.String("uri", uri), slog.String("err", err.Error()))
		d.done(ctx, method, uri, start, OutcomeRPCError)
		return nil, InternalError("Failed to read resource %s: %v", uri, err)
	}
	for i := range contents {
		if contents[i].URI == "" {
			contents[i].URI = uri
		}
	}
	d.done(ctx, method, uri, start, OutcomeOK)
	return &mcp.ReadResourceResult{Contents: contents}, nil
}

func (d *Dispatcher) done(ctx context.Context, method, target string, start time.Time, outcome Outcome) {
	if d.observe != nil {
		d.observe(method, target, time.Since(start), outcome)
	}
}
