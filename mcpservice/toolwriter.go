package mcpservice

import (
	"context"
	"errors"
	"maps"
	"sync"

	"github.com/NEARWEEK/MCP/mcp"
)

// ErrFinalized is returned by writes that arrive after Result.
var ErrFinalized = errors.New("result already finalized")

// ToolResponseWriter accumulates a CallToolResult for one tool call. It is
// safe for concurrent use by the goroutines of a single call.
type ToolResponseWriter interface {
	// AppendText adds a text content block. Empty text is dropped.
	AppendText(text string) error
	// SetError marks the result as a tool-level failure (isError).
	SetError(isError bool)
	// SetMeta records a _meta entry on the result.
	SetMeta(key string, v any)
	// Log forwards a notifications/message to the session, if any.
	Log(level mcp.LoggingLevel, data any)
	// Result finalizes the writer. Repeated calls return equal results.
	Result() *mcp.CallToolResult
}

type toolResponseWriter struct {
	ctx  context.Context
	tool string

	mu     sync.Mutex
	done   bool
	result mcp.CallToolResult
}

func newToolResponseWriter(ctx context.Context, tool string) *toolResponseWriter {
	return &toolResponseWriter{ctx: ctx, tool: tool}
}

func (w *toolResponseWriter) AppendText(text string) error {
	if text == "" {
		return nil
	}
	if err := w.ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return ErrFinalized
	}
	w.result.Content = append(w.result.Content, mcp.ContentBlock{Type: mcp.ContentTypeText, Text: text})
	return nil
}

func (w *toolResponseWriter) SetError(isError bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.done {
		w.result.IsError = isError
	}
}

func (w *toolResponseWriter) SetMeta(key string, v any) {
	if key == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return
	}
	if w.result.Meta == nil {
		w.result.Meta = map[string]any{}
	}
	w.result.Meta[key] = v
}

// Log is a no-op on the stateless facade, which installs no LogSink.
func (w *toolResponseWriter) Log(level mcp.LoggingLevel, data any) {
	if sink, ok := LogSinkFrom(w.ctx); ok {
		sink.Log(w.ctx, level, w.tool, data)
	}
}

func (w *toolResponseWriter) Result() *mcp.CallToolResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.done = true
	out := w.result
	out.Content = append([]mcp.ContentBlock{}, w.result.Content...)
	out.Meta = maps.Clone(w.result.Meta)
	return &out
}
