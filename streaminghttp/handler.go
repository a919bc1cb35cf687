package streaminghttp

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/NEARWEEK/MCP/auth"
	"github.com/NEARWEEK/MCP/internal/logctx"
	"github.com/NEARWEEK/MCP/internal/sessioncore"
	"github.com/NEARWEEK/MCP/internal/wellknown"
	"github.com/google/uuid"
)

const mcpSessionIDHeader = "Mcp-Session-Id"

var _ http.Handler = (*Handler)(nil)

// Option configures a Handler.
type Option func(*config)

type config struct {
	logger     *slog.Logger
	trace      bool
	serverName string
	issuer     string
	scopes     []string
	mountPath  string
}

// WithLogger sets the logger. Records are enriched with request and session
// attributes through logctx.Handler.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithTrace enables the TraceWriter on every session response.
func WithTrace(on bool) Option {
	return func(c *config) { c.trace = on }
}

// WithServerName sets the resource name advertised in protected resource metadata.
func WithServerName(name string) Option {
	return func(c *config) { c.serverName = name }
}

// WithMountPath routes the MCP endpoint at path instead of the path of the
// public endpoint URL. Use it when a proxy strips a prefix before forwarding.
func WithMountPath(path string) Option {
	return func(c *config) { c.mountPath = path }
}

// WithAuthorizationServer advertises issuer in an OAuth 2.0 Protected
// Resource Metadata document (RFC 9728) next to the MCP endpoint.
func WithAuthorizationServer(issuer string, scopes ...string) Option {
	return func(c *config) {
		c.issuer = strings.TrimSpace(issuer)
		c.scopes = scopes
	}
}

// Handler is the Streamable HTTP transport adapter: it authenticates each
// request, routes it to the engine of the addressed session (or a fresh one)
// and stores engines whose initialize handshake completed.
type Handler struct {
	mux   *http.ServeMux
	mgr   *sessioncore.Manager
	gate  *auth.Gate
	log   *slog.Logger
	trace bool

	prm     *wellknown.ProtectedResourceMetadata
	prmPath string
}

// New builds a Handler serving the MCP endpoint at the path of publicEndpoint,
// unless WithMountPath overrides it.
func New(publicEndpoint string, mgr *sessioncore.Manager, gate *auth.Gate, opts ...Option) (*Handler, error) {
	if mgr == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if gate == nil {
		return nil, fmt.Errorf("auth gate is required")
	}
	mcpURL, err := url.Parse(publicEndpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint URL %q: %w", publicEndpoint, err)
	}

	cfg := &config{logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}

	h := &Handler{
		mgr:   mgr,
		gate:  gate,
		log:   slog.New(logctx.Handler{Handler: cfg.logger.Handler()}),
		trace: cfg.trace,
	}

	path := mcpURL.Path
	if cfg.mountPath != "" {
		path = cfg.mountPath
	}
	if path == "" {
		path = "/"
	}
	mux := http.NewServeMux()
	mux.Handle(path, gate.Middleware(false)(http.HandlerFunc(h.handleSession)))

	if cfg.issuer != "" {
		h.prm = &wellknown.ProtectedResourceMetadata{
			Resource:               mcpURL.String(),
			AuthorizationServers:   []string{cfg.issuer},
			ScopesSupported:        cfg.scopes,
			BearerMethodsSupported: []string{"header"},
			ResourceName:           cfg.serverName,
		}
		h.prmPath = wellknown.PathFor(path)
		mux.Handle(h.prmPath, h.prm.Handler())
	}
	h.mux = mux
	return h, nil
}

// ProtectedResourceMetadataPath returns the well-known path served by the
// handler, or "" when no authorization server is advertised.
func (h *Handler) ProtectedResourceMetadataPath() string { return h.prmPath }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var eng sessioncore.Engine
	fresh := false
	if s, ok := h.mgr.Get(r.Header.Get(mcpSessionIDHeader)); ok {
		eng = s.Engine
	} else {
		eng = h.mgr.CreateTransport()
		fresh = true
	}

	cw := &commitWriter{ResponseWriter: w}
	var out http.ResponseWriter = cw
	if h.trace {
		out = NewTraceWriter(ctx, cw, h.log)
	}

	defer func() {
		if rec := recover(); rec != nil {
			h.log.ErrorContext(ctx, "http.handler.panic", slog.String("err", fmt.Sprint(rec)), slog.Bool("committed", cw.Committed()))
			if !cw.Committed() {
				writeInternalError(w)
			}
			if fresh {
				eng.Close()
			}
		}
	}()

	eng.ServeHTTP(out, r)

	if !fresh {
		return
	}
	if !h.mgr.Store(eng) {
		if id := eng.SessionID(); id != "" {
			h.log.ErrorContext(ctx, "session.store.conflict", slog.String("session_id", id))
		}
		eng.Close()
	}
}
