// Package wellknown serves OAuth 2.0 Protected Resource Metadata (RFC 9728)
// for the MCP endpoint.
package wellknown

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const prmPathPrefix = "/.well-known/oauth-protected-resource"

// ProtectedResourceMetadata is the subset of RFC 9728 fields the server
// advertises.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers,omitempty"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
	ResourceName           string   `json:"resource_name,omitempty"`
	ResourceDocumentation  string   `json:"resource_documentation,omitempty"`
}

// PathFor returns the well-known metadata path for a resource served at
// resourcePath, e.g. /mcp -> /.well-known/oauth-protected-resource/mcp.
func PathFor(resourcePath string) string {
	return prmPathPrefix + strings.TrimSuffix(resourcePath, "/")
}

// Handler answers GET with the document and OPTIONS with a CORS preflight.
// Browser-based clients fetch the document cross-origin.
func (m *ProtectedResourceMetadata) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		switch r.Method {
		case http.MethodOptions:
			h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization")
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
		case http.MethodGet, http.MethodHead:
			h.Set("Vary", "Origin")
			h.Set("Content-Type", "application/json")
			h.Set("Cache-Control", "max-age=300")
			if err := json.NewEncoder(w).Encode(m); err != nil {
				http.Error(w, fmt.Sprintf("encode protected resource metadata: %v", err), http.StatusInternalServerError)
			}
		default:
			h.Set("Allow", "GET, HEAD, OPTIONS")
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
}
