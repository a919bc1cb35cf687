package sessioncore

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/NEARWEEK/MCP/internal/engine"
	"github.com/NEARWEEK/MCP/mcp"
	"github.com/NEARWEEK/MCP/mcpservice"
	"github.com/NEARWEEK/MCP/sessions/memoryhost"
	"github.com/google/go-cmp/cmp"
)

type stubEngine struct {
	id     string
	mu     sync.Mutex
	closed int
}

func (s *stubEngine) ServeHTTP(w http.ResponseWriter, r *http.Request) {}
func (s *stubEngine) SessionID() string                               { return s.id }
func (s *stubEngine) Close() {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func stubFactory(newID func() string, cb engine.Callbacks) Engine { return &stubEngine{} }

func TestStoreGuards(t *testing.T) {
	var sizes []int
	m := NewManager(stubFactory, WithLogger(discardLogger()), WithSizeObserver(func(n int) { sizes = append(sizes, n) }))

	if m.Store(&stubEngine{}) {
		t.Fatalf("stored an engine without a session ID")
	}
	if !m.Store(&stubEngine{id: "a"}) {
		t.Fatalf("first store of a failed")
	}
	if m.Store(&stubEngine{id: "a"}) {
		t.Fatalf("second store of a succeeded")
	}
	if !m.Store(&stubEngine{id: "b"}) {
		t.Fatalf("store of b failed")
	}
	if err := m.Remove("a"); err != nil {
		t.Fatalf("remove a: %v", err)
	}
	if err := m.Remove("a"); err != ErrSessionNotFound {
		t.Fatalf("second remove = %v", err)
	}
	if diff := cmp.Diff([]int{1, 2, 1}, sizes); diff != "" {
		t.Fatalf("size observations (-want +got):\n%s", diff)
	}
	if _, ok := m.Get(""); ok {
		t.Fatalf("empty id resolved")
	}
	if s, ok := m.Get("b"); !ok || s.ID != "b" || s.CreatedAt.IsZero() {
		t.Fatalf("get b = %+v, %v", s, ok)
	}
}

func TestCloseClosesEveryEngine(t *testing.T) {
	m := NewManager(stubFactory, WithLogger(discardLogger()))
	engines := []*stubEngine{{id: "a"}, {id: "b"}, {id: "c"}}
	for _, e := range engines {
		m.Store(e)
	}
	m.Close()
	if m.Len() != 0 {
		t.Fatalf("len after close = %d", m.Len())
	}
	var closed []int
	for _, e := range engines {
		closed = append(closed, e.closed)
	}
	if diff := cmp.Diff([]int{1, 1, 1}, closed); diff != "" {
		t.Fatalf("close counts (-want +got):\n%s", diff)
	}
}

func newEngineManager(t *testing.T) *Manager {
	t.Helper()
	reg, err := mcpservice.NewRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	disp := mcpservice.NewDispatcher(reg)
	host := memoryhost.New()
	factory := func(newID func() string, cb engine.Callbacks) Engine {
		return engine.New(engine.Config{
			Dispatcher:   disp,
			Host:         host,
			ServerInfo:   mcp.ImplementationInfo{Name: "test", Version: "0"},
			Logger:       discardLogger(),
			NewSessionID: newID,
			Callbacks:    cb,
			KeepAlive:    -1,
		})
	}
	ids := []string{"s1", "s2"}
	var mu sync.Mutex
	next := func() string {
		mu.Lock()
		defer mu.Unlock()
		id := ids[0]
		ids = ids[1:]
		return id
	}
	return NewManager(factory, WithLogger(discardLogger()), WithSessionIDGenerator(next))
}

func serve(h http.Handler, method, sessionID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const initBody = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"t","version":"1"}}}`

func TestSessionLifecycleThroughEngine(t *testing.T) {
	m := newEngineManager(t)

	e := m.CreateTransport()
	if m.Store(e) {
		t.Fatalf("stored an uninitialized engine")
	}
	rec := serve(e, http.MethodPost, "", initBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("initialize = %d", rec.Code)
	}
	if !m.Store(e) {
		t.Fatalf("store after initialize failed")
	}
	if got := rec.Header().Get("Mcp-Session-Id"); got != "s1" {
		t.Fatalf("session id = %q", got)
	}

	s, ok := m.Get("s1")
	if !ok {
		t.Fatalf("s1 not found")
	}
	if rec := serve(s.Engine, http.MethodDelete, "s1", ""); rec.Code != http.StatusOK {
		t.Fatalf("delete = %d", rec.Code)
	}
	if _, ok := m.Get("s1"); ok {
		t.Fatalf("s1 still present after delete")
	}
	if m.Len() != 0 {
		t.Fatalf("len = %d", m.Len())
	}

	// A second engine gets the next ID and is tracked independently.
	e2 := m.CreateTransport()
	serve(e2, http.MethodPost, "", initBody)
	if !m.Store(e2) || e2.SessionID() != "s2" {
		t.Fatalf("second session = %q", e2.SessionID())
	}
}
