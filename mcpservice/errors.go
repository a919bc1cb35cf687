package mcpservice

import (
	"github.com/NEARWEEK/MCP/internal/jsonrpc"
)

// Dispatch failures are *jsonrpc.Error values so both transports can frame
// them without translation.

// ErrToolNotFound reports an undeclared tool name.
func ErrToolNotFound(name string) *jsonrpc.Error {
	return jsonrpc.NewError(jsonrpc.ErrorCodeMethodNotFound, "Unknown tool: %s", name)
}

// ErrMethodNotFound reports an unsupported protocol method.
func ErrMethodNotFound(method string) *jsonrpc.Error {
	return jsonrpc.NewError(jsonrpc.ErrorCodeMethodNotFound, "Method not found: %s", method)
}

// ErrResourceNotFound reports a URI no static resource or template resolves.
func ErrResourceNotFound(uri string) *jsonrpc.Error {
	return jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "Resource not found: %s", uri)
}

// InvalidParams reports malformed or invalid arguments.
func InvalidParams(format string, args ...any) *jsonrpc.Error {
	return jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, format, args...)
}

// InternalError reports a failure that is not the caller's fault.
func InternalError(format string, args ...any) *jsonrpc.Error {
	return jsonrpc.NewError(jsonrpc.ErrorCodeInternalError, format, args...)
}
