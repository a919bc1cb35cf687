package mcpservice

import (
	"context"

	"github.com/NEARWEEK/MCP/mcp"
)

// LogSink receives log lines emitted by capability handlers. The session
// transport installs one that forwards notifications/message to the client.
type LogSink interface {
	Log(ctx context.Context, level mcp.LoggingLevel, logger string, data any)
}

// LogSinkFunc adapts a function to LogSink.
type LogSinkFunc func(ctx context.Context, level mcp.LoggingLevel, logger string, data any)

func (f LogSinkFunc) Log(ctx context.Context, level mcp.LoggingLevel, logger string, data any) {
	f(ctx, level, logger, data)
}

type logSinkKey struct{}

// WithLogSink returns a context carrying sink.
func WithLogSink(ctx context.Context, sink LogSink) context.Context {
	return context.WithValue(ctx, logSinkKey{}, sink)
}

// LogSinkFrom returns the sink installed on ctx, if any.
func LogSinkFrom(ctx context.Context) (LogSink, bool) {
	s, ok := ctx.Value(logSinkKey{}).(LogSink)
	return s, ok && s != nil
}
