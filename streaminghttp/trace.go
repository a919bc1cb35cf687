package streaminghttp

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/NEARWEEK/MCP/internal/logctx"
)

// maxTraceLine bounds the partial line TraceWriter buffers between writes.
const maxTraceLine = 1 << 20

// TraceWriter decorates an http.ResponseWriter and logs every JSON-RPC
// payload carried on an SSE data line at logctx.LevelTrace. Bytes reach the
// client unchanged and before any parsing; tracing never fails a write.
type TraceWriter struct {
	w       http.ResponseWriter
	ctx     context.Context
	log     *slog.Logger
	partial []byte
}

var (
	_ http.ResponseWriter = (*TraceWriter)(nil)
	_ http.Flusher        = (*TraceWriter)(nil)
)

func NewTraceWriter(ctx context.Context, w http.ResponseWriter, log *slog.Logger) *TraceWriter {
	return &TraceWriter{w: w, ctx: ctx, log: log}
}

func (t *TraceWriter) Header() http.Header { return t.w.Header() }

func (t *TraceWriter) WriteHeader(status int) { t.w.WriteHeader(status) }

func (t *TraceWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if n > 0 {
		t.observe(p[:n])
	}
	return n, err
}

func (t *TraceWriter) Flush() {
	if f, ok := t.w.(http.Flusher); ok {
		f.Flush()
	}
}

func (t *TraceWriter) Unwrap() http.ResponseWriter { return t.w }

func (t *TraceWriter) observe(p []byte) {
	defer func() { _ = recover() }()

	t.partial = append(t.partial, p...)
	for {
		i := bytes.IndexByte(t.partial, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimRight(t.partial[:i], "\r")
		t.partial = t.partial[i+1:]
		t.traceLine(line)
	}
	if len(t.partial) > maxTraceLine {
		t.partial = nil
	}
}

type tracedMessage struct {
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

func (t *TraceWriter) traceLine(line []byte) {
	payload, ok := bytes.CutPrefix(line, []byte("data:"))
	if !ok {
		return
	}
	payload = bytes.TrimSpace(payload)
	var msg tracedMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return
	}
	kind := "message"
	switch {
	case msg.Error != nil:
		kind = "error"
	case msg.Result != nil:
		kind = "result"
	}
	t.log.Log(t.ctx, logctx.LevelTrace, "mcp.trace",
		slog.String("method", kind),
		slog.String("rpc_method", msg.Method),
		slog.String("payload", string(payload)),
	)
}
