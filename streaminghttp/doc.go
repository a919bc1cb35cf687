// Package streaminghttp mounts the MCP Streamable HTTP transport as a
// standard net/http handler.
//
// Every request on the MCP path runs through the same pipeline:
//
//   - the auth.Gate middleware (Authorization header only);
//   - session resolution by Mcp-Session-Id, or a fresh engine from the
//     sessioncore.Manager when the header is absent or unknown;
//   - the engine's ServeHTTP, behind a commit-tracking writer and, when
//     tracing is on, a TraceWriter;
//   - Manager.Store once the request that produced a session ID completed.
//
// Construction
//
//	h, err := streaminghttp.New(
//	    "https://api.example/mcp", // public endpoint; its path is served
//	    manager,                   // *sessioncore.Manager
//	    gate,                      // *auth.Gate
//	    streaminghttp.WithTrace(cfg.Trace),
//	)
//
// # Protected Resource Metadata
//
// With WithAuthorizationServer the handler also serves an RFC 9728
// document at /.well-known/oauth-protected-resource<path> so clients can
// discover the issuer of the access tokens the gate accepts.
//
// # Error Handling
//
// Transport-level rejections map to HTTP status codes with a small JSON
// body; MCP-level errors are JSON-RPC error responses. A panic escaping the
// engine becomes a -32603 response when nothing was written yet.
package streaminghttp
