// Package simplerpc is a stateless JSON-RPC facade over the same dispatcher
// that serves MCP sessions. Each POST carries one request and receives one
// response; there is no session, no streaming and no log forwarding.
package simplerpc

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/NEARWEEK/MCP/auth"
	"github.com/NEARWEEK/MCP/internal/jsonrpc"
	"github.com/NEARWEEK/MCP/internal/logctx"
	"github.com/NEARWEEK/MCP/mcpservice"
	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

// Request is the facade's request envelope. The jsonrpc member is optional.
type Request struct {
	JSONRPC string             `json:"jsonrpc,omitempty"`
	Method  string             `json:"method"`
	Params  json.RawMessage    `json:"params,omitempty"`
	ID      *jsonrpc.RequestID `json:"id,omitempty"`
}

// Option configures a Handler.
type Option func(*Handler)

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.log = slog.New(logctx.Handler{Handler: l.Handler()}) }
}

// Handler serves the facade. Credentials may arrive in the Authorization
// header or, as a fallback, the api_key / apiKey query parameters.
type Handler struct {
	disp *mcpservice.Dispatcher
	gate *auth.Gate
	log  *slog.Logger
}

var _ http.Handler = (*Handler)(nil)

func New(disp *mcpservice.Dispatcher, gate *auth.Gate, opts ...Option) *Handler {
	h := &Handler{disp: disp, gate: gate, log: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r = r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	}))
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeResponse(w, http.StatusMethodNotAllowed, jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeInvalidRequest, "Method not allowed", nil))
		return
	}
	ui, err := h.gate.Authenticate(r, true)
	if err != nil {
		h.gate.WriteRejection(w, err)
		return
	}
	h.handle(w, r.WithContext(auth.WithUserInfo(r.Context(), ui)))
}

func (h *Handler) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeResponse(w, http.StatusBadRequest, jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeParseError, "Parse error", nil))
		return
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil || req.Method == "" {
		h.log.InfoContext(ctx, "rpc.request.invalid")
		writeResponse(w, http.StatusBadRequest, jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, "Invalid Request", nil))
		return
	}
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: req.Method, ID: req.ID.String(), Type: "request"})

	defer func() {
		if rec := recover(); rec != nil {
			h.log.ErrorContext(ctx, "rpc.handler.panic", slog.String("err", fmt.Sprint(rec)))
			writeResponse(w, http.StatusInternalServerError, jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "Internal error", nil))
		}
	}()

	if !h.disp.Supports(req.Method) {
		h.log.InfoContext(ctx, "rpc.method.unknown")
		writeResponse(w, http.StatusNotFound, jsonrpc.ResponseFromError(req.ID, mcpservice.ErrMethodNotFound(req.Method)))
		return
	}

	out, err := h.disp.Handle(ctx, req.Method, req.Params)
	if err != nil {
		h.log.InfoContext(ctx, "rpc.request.fail", slog.String("err", err.Error()), slog.Duration("dur", time.Since(start)))
		writeResponse(w, http.StatusOK, jsonrpc.ResponseFromError(req.ID, err))
		return
	}
	res, err := jsonrpc.NewResultResponse(req.ID, out)
	if err != nil {
		h.log.ErrorContext(ctx, "rpc.result.encode.fail", slog.String("err", err.Error()))
		writeResponse(w, http.StatusInternalServerError, jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "Internal error", nil))
		return
	}
	h.log.InfoContext(ctx, "rpc.request.ok", slog.Duration("dur", time.Since(start)))
	writeResponse(w, http.StatusOK, res)
}

func writeResponse(w http.ResponseWriter, status int, res *jsonrpc.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(res)
}
