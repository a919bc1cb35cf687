package streaminghttp

import (
	"net/http"
	"sync/atomic"
)

// commitWriter records whether any status line or body byte reached the
// client so a recovered panic knows whether a 500 can still be written.
type commitWriter struct {
	http.ResponseWriter
	committed atomic.Bool
}

func (c *commitWriter) WriteHeader(status int) {
	c.committed.Store(true)
	c.ResponseWriter.WriteHeader(status)
}

func (c *commitWriter) Write(p []byte) (int, error) {
	c.committed.Store(true)
	return c.ResponseWriter.Write(p)
}

func (c *commitWriter) Flush() {
	if f, ok := c.ResponseWriter.(http.Flusher); ok {
		c.committed.Store(true)
		f.Flush()
	}
}

func (c *commitWriter) Unwrap() http.ResponseWriter { return c.ResponseWriter }

func (c *commitWriter) Committed() bool { return c.committed.Load() }

// internalErrorBody is the JSON-RPC error written when a panic escapes the
// engine before anything was committed.
const internalErrorBody = `{"jsonrpc":"2.0","error":{"code":-32603,"message":"Internal server error"},"id":null}` + "\n"

func writeInternalError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write([]byte(internalErrorBody))
}
