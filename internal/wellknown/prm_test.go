package wellknown

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPathFor(t *testing.T) {
	for in, want := range map[string]string{
		"/mcp":  "/.well-known/oauth-protected-resource/mcp",
		"/mcp/": "/.well-known/oauth-protected-resource/mcp",
		"/":     "/.well-known/oauth-protected-resource",
	} {
		if got := PathFor(in); got != want {
			t.Fatalf("PathFor(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHandler(t *testing.T) {
	m := &ProtectedResourceMetadata{
		Resource:             "https://mcp.example.com/mcp",
		AuthorizationServers: []string{"https://issuer.example.com"},
	}
	h := m.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d", rec.Code)
	}
	var got ProtectedResourceMetadata
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Resource != m.Resource || len(got.AuthorizationServers) != 1 {
		t.Fatalf("unexpected document: %+v", got)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/", nil))
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Fatalf("OPTIONS = %d %v", rec.Code, rec.Header())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST status = %d", rec.Code)
	}
}
