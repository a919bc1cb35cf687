// Package mcp contains the Model Context Protocol wire types this server
// speaks: method names, capability envelopes, tool and resource descriptors,
// and the request/result shapes for the methods the server answers.
//
// The package is free of transport logic. The streaming HTTP transport and the
// simple JSON-RPC facade both marshal these types; the capability layer in
// mcpservice builds them.
//
// Example (tool result construction):
//
//	res := &mcp.CallToolResult{
//	    Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: "hello"}},
//	}
//
// LoggingLevel values mirror syslog severities. Use IsValidLoggingLevel to
// validate client input and AtLeast to filter notifications.
package mcp
