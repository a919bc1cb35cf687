// Package engine drives the MCP Streamable HTTP protocol for one session.
// An Engine starts without an identity, acquires one from its initialize
// handshake and serves every later GET, POST and DELETE for that session.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/NEARWEEK/MCP/auth"
	"github.com/NEARWEEK/MCP/internal/jsonrpc"
	"github.com/NEARWEEK/MCP/internal/logctx"
	"github.com/NEARWEEK/MCP/mcp"
	"github.com/NEARWEEK/MCP/mcpservice"
	"github.com/NEARWEEK/MCP/sessions"
	"github.com/elnormous/contenttype"
	"github.com/google/uuid"
)

// maxBodyBytes bounds a single POSTed JSON-RPC message.
const maxBodyBytes = 4 << 20

const defaultKeepAlive = 25 * time.Second

// Callbacks observe session lifecycle transitions. Both are optional and
// are invoked without any engine lock held.
type Callbacks struct {
	// OnInitialized fires once, when initialize assigns the session ID.
	OnInitialized func(sessionID string)
	// OnClosed fires once, when the client terminates the session.
	OnClosed func(sessionID string)
}

// Config holds everything an Engine needs. Dispatcher and Host are required.
type Config struct {
	Dispatcher   *mcpservice.Dispatcher
	Host         sessions.StreamHost
	ServerInfo   mcp.ImplementationInfo
	Instructions string
	Logger       *slog.Logger
	// NewSessionID generates session identifiers. Defaults to uuid.NewString.
	NewSessionID func() string
	Callbacks    Callbacks
	// KeepAlive is the comment interval on standalone SSE streams; negative disables.
	KeepAlive time.Duration
}

// Engine is the protocol state machine of a single session.
type Engine struct {
	cfg Config
	log *slog.Logger

	mu              sync.Mutex
	state           sessions.State
	sessionID       string
	principal       string
	protocolVersion string
	clientInfo      mcp.ImplementationInfo
	logLevel        mcp.LoggingLevel
	streamOpen      bool

	// reqMu serializes request handling within the session.
	reqMu sync.Mutex

	closeOnce  sync.Once
	notifyOnce sync.Once
	closed     chan struct{}
}

// New returns an Engine in the absent state.
func New(cfg Config) *Engine {
	if cfg.NewSessionID == nil {
		cfg.NewSessionID = uuid.NewString
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = defaultKeepAlive
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		cfg:      cfg,
		log:      log,
		logLevel: mcp.LoggingLevelInfo,
		closed:   make(chan struct{}),
	}
}

// SessionID returns the identifier assigned by initialize, or "".
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// State returns the current lifecycle state.
func (e *Engine) State() sessions.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Close releases the session: standalone streams end and the stream host
// log is discarded. It does not fire OnClosed and is idempotent.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.state = e.state.Advance(sessions.StateClosed)
		id := e.sessionID
		e.mu.Unlock()
		close(e.closed)
		if id != "" {
			if err := e.cfg.Host.Cleanup(context.Background(), id); err != nil {
				e.log.Warn("engine.session.cleanup.fail", slog.String("session_id", id), slog.String("err", err.Error()))
			}
		}
	})
}

func (e *Engine) terminate() {
	e.Close()
	e.notifyOnce.Do(func() {
		if cb := e.cfg.Callbacks.OnClosed; cb != nil {
			cb(e.SessionID())
		}
	})
}

func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		e.handlePost(w, r)
	case http.MethodGet:
		e.handleGet(w, r)
	case http.MethodDelete:
		e.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func principalOf(r *http.Request) string {
	if ui, ok := auth.UserInfoFrom(r.Context()); ok {
		return ui.UserID()
	}
	return ""
}

func (e *Engine) sessionContext(ctx context.Context) context.Context {
	e.mu.Lock()
	sd := &logctx.SessionData{
		SessionID:       e.sessionID,
		Principal:       e.principal,
		ProtocolVersion: e.protocolVersion,
		State:           e.state.String(),
	}
	e.mu.Unlock()
	return logctx.WithSessionData(ctx, sd)
}

// checkSession validates that r addresses this engine's live session. It
// writes the rejection and returns false otherwise.
func (e *Engine) checkSession(w http.ResponseWriter, r *http.Request) bool {
	ctx := r.Context()
	header := r.Header.Get(mcpSessionIDHeader)

	e.mu.Lock()
	state, id, principal, pv := e.state, e.sessionID, e.principal, e.protocolVersion
	e.mu.Unlock()

	switch {
	case state == sessions.StateAbsent && header == "":
		writeJSONError(w, http.StatusBadRequest, "Bad Request: Server not initialized")
		e.log.InfoContext(ctx, "session.uninitialized")
		return false
	case state == sessions.StateAbsent, state == sessions.StateClosed, header != id:
		writeJSONError(w, http.StatusNotFound, "Session not found")
		e.log.InfoContext(ctx, "session.load.miss", slog.String("state", state.String()))
		return false
	case principal != principalOf(r):
		writeJSONError(w, http.StatusNotFound, "Session not found")
		e.log.WarnContext(ctx, "session.principal.mismatch")
		return false
	}

	if clientPV := r.Header.Get(mcpProtocolVersionHeader); clientPV != "" && pv != "" && clientPV != pv {
		writeJSONError(w, http.StatusBadRequest, "protocol version mismatch")
		e.log.WarnContext(ctx, "protocol.version.mismatch", slog.String("client_version", clientPV))
		return false
	}
	return true
}

// negotiateResponse picks SSE when the client accepts it and JSON otherwise.
func negotiateResponse(r *http.Request) (sse bool, ok bool) {
	if r.Header.Get("Accept") == "" {
		return false, true
	}
	if _, _, err := contenttype.GetAcceptableMediaType(r, []contenttype.MediaType{eventStreamMediaType}); err == nil {
		return true, true
	}
	if _, _, err := contenttype.GetAcceptableMediaType(r, []contenttype.MediaType{jsonMediaType}); err == nil {
		return false, true
	}
	return false, false
}

func (e *Engine) handlePost(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		e.log.WarnContext(ctx, "content_type.unsupported")
		return
	}
	useSSE, ok := negotiateResponse(r)
	if !ok {
		writeJSONError(w, http.StatusNotAcceptable, "client must accept application/json or text/event-stream")
		e.log.WarnContext(ctx, "accept.unsupported", slog.String("accept", r.Header.Get("Accept")))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read body")
		e.log.WarnContext(ctx, "http.body.read.fail", slog.String("err", err.Error()))
		return
	}
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		writeJSONError(w, http.StatusBadRequest, "JSON-RPC batch arrays are not supported")
		e.log.WarnContext(ctx, "jsonrpc.batch.forbidden")
		return
	}
	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON-RPC message: "+err.Error())
		e.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: msg.Method, ID: msg.ID.String(), Type: msg.Type()})
	r = r.WithContext(ctx)

	if req := msg.AsRequest(); req != nil && req.Method == string(mcp.InitializeMethod) {
		e.handleInitialize(w, r, req, useSSE, start)
		return
	}

	if !e.checkSession(w, r) {
		return
	}
	ctx = e.sessionContext(ctx)

	switch msg.Type() {
	case "notification":
		e.handleNotification(ctx, msg.AsRequest())
		e.writeAccepted(w)
		e.log.InfoContext(ctx, "notification.inbound.ok", slog.Duration("dur", time.Since(start)))
		return
	case "response":
		// The server issues no client-bound requests, so responses are dropped.
		e.writeAccepted(w)
		e.log.DebugContext(ctx, "response.inbound.ignored")
		return
	}

	req := msg.AsRequest()
	e.reqMu.Lock()
	defer e.reqMu.Unlock()

	var wf *lockedWriteFlusher
	if useSSE {
		f, ok := w.(http.Flusher)
		if !ok {
			writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
			e.log.ErrorContext(ctx, "flusher.missing")
			return
		}
		wf = &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}
		e.setProtocolHeader(w)
		startSSE(w)
		wf.Flush()
	}

	ctx = mcpservice.WithLogSink(ctx, e.logSink(wf))
	res := e.handleRequest(ctx, req)
	payload, err := json.Marshal(res)
	if err != nil {
		e.log.ErrorContext(ctx, "rpc.response.marshal.fail", slog.String("err", err.Error()))
		payload, _ = json.Marshal(jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "Internal server error", nil))
	}

	if wf != nil {
		if err := writeSSEEvent(wf, "", payload); err != nil {
			e.log.ErrorContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
			return
		}
	} else {
		e.setProtocolHeader(w)
		w.Header().Set("Content-Type", jsonMediaType.String())
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(append(payload, '\n'))
	}
	e.log.InfoContext(ctx, "rpc.inbound.ok", slog.Duration("dur", time.Since(start)))
}

func (e *Engine) handleInitialize(w http.ResponseWriter, r *http.Request, req *jsonrpc.Request, useSSE bool, start time.Time) {
	ctx := r.Context()
	if req.ID.IsNil() {
		writeJSONError(w, http.StatusBadRequest, "initialize must be a request")
		return
	}
	var params mcp.InitializeRequest
	if len(req.Params) == 0 || json.Unmarshal(req.Params, &params) != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid initialize params")
		e.log.InfoContext(ctx, "session.initialize.params.fail")
		return
	}

	e.mu.Lock()
	if e.state != sessions.StateAbsent {
		e.mu.Unlock()
		writeJSONError(w, http.StatusBadRequest, "Invalid Request: Server already initialized")
		e.log.WarnContext(ctx, "session.initialize.redundant")
		return
	}
	newID := e.cfg.NewSessionID()
	if err := e.cfg.Host.Open(ctx, newID); err != nil {
		e.mu.Unlock()
		writeJSONError(w, http.StatusInternalServerError, "failed to open session stream")
		e.log.ErrorContext(ctx, "session.stream.open.fail", slog.String("err", err.Error()))
		return
	}
	e.sessionID = newID
	e.principal = principalOf(r)
	e.protocolVersion = mcp.NegotiateProtocolVersion(params.ProtocolVersion)
	e.clientInfo = params.ClientInfo
	e.state = e.state.Advance(sessions.StateInitializing)
	id, pv := e.sessionID, e.protocolVersion
	e.mu.Unlock()

	ctx = e.sessionContext(ctx)
	if cb := e.cfg.Callbacks.OnInitialized; cb != nil {
		cb(id)
	}

	result := &mcp.InitializeResult{
		ProtocolVersion: pv,
		Capabilities: mcp.ServerCapabilities{
			Logging: &struct{}{},
			Resources: &struct {
				ListChanged bool `json:"listChanged"`
				Subscribe   bool `json:"subscribe"`
			}{},
			Tools: &struct {
				ListChanged bool `json:"listChanged"`
			}{},
		},
		ServerInfo:   e.cfg.ServerInfo,
		Instructions: e.cfg.Instructions,
	}
	resp, err := jsonrpc.NewResultResponse(req.ID, result)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode initialize response")
		e.log.ErrorContext(ctx, "session.initialize.encode.fail", slog.String("err", err.Error()))
		return
	}
	payload, _ := json.Marshal(resp)

	w.Header().Set(mcpSessionIDHeader, id)
	w.Header().Set(mcpProtocolVersionHeader, pv)
	if useSSE {
		if f, ok := w.(http.Flusher); ok {
			startSSE(w)
			if err := writeSSEEvent(&lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}, "", payload); err != nil {
				e.log.ErrorContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
			}
			e.log.InfoContext(ctx, "session.initialize.ok",
				slog.String("client", params.ClientInfo.Name), slog.Duration("dur", time.Since(start)))
			return
		}
	}
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(append(payload, '\n'))
	e.log.InfoContext(ctx, "session.initialize.ok",
		slog.String("client", params.ClientInfo.Name), slog.Duration("dur", time.Since(start)))
}

func (e *Engine) handleNotification(ctx context.Context, note *jsonrpc.Request) {
	switch mcp.Method(note.Method) {
	case mcp.InitializedNotificationMethod:
		e.mu.Lock()
		e.state = e.state.Advance(sessions.StateActive)
		e.mu.Unlock()
		e.log.InfoContext(ctx, "engine.session.initialized")
	case mcp.CancelledNotificationMethod:
		// Requests are answered synchronously on their own POST; nothing to cancel.
		e.log.DebugContext(ctx, "engine.notification.cancelled")
	default:
		e.log.DebugContext(ctx, "engine.notification.ignored")
	}
}

func (e *Engine) handleRequest(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	switch mcp.Method(req.Method) {
	case mcp.PingMethod:
		return e.result(ctx, req, &mcp.EmptyResult{})
	case mcp.LoggingSetLevelMethod:
		var params mcp.SetLevelRequest
		if err := json.Unmarshal(req.Params, &params); err != nil || !mcp.IsValidLoggingLevel(params.Level) {
			return jsonrpc.ResponseFromError(req.ID, mcpservice.InvalidParams("invalid logging level"))
		}
		e.mu.Lock()
		e.logLevel = params.Level
		e.mu.Unlock()
		return e.result(ctx, req, &mcp.EmptyResult{})
	}

	if !e.cfg.Dispatcher.Supports(req.Method) {
		return jsonrpc.ResponseFromError(req.ID, mcpservice.ErrMethodNotFound(req.Method))
	}
	out, err := e.cfg.Dispatcher.Handle(ctx, req.Method, req.Params)
	if err != nil {
		return jsonrpc.ResponseFromError(req.ID, err)
	}
	return e.result(ctx, req, out)
}

func (e *Engine) result(ctx context.Context, req *jsonrpc.Request, v any) *jsonrpc.Response {
	res, err := jsonrpc.NewResultResponse(req.ID, v)
	if err != nil {
		e.log.ErrorContext(ctx, "rpc.result.encode.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "Internal server error", nil)
	}
	return res
}

// logSink forwards tool log lines at or above the session's level. With an
// SSE response in flight they are written inline before the result;
// otherwise they go to the session stream for the standalone GET stream.
func (e *Engine) logSink(wf *lockedWriteFlusher) mcpservice.LogSink {
	return mcpservice.LogSinkFunc(func(ctx context.Context, level mcp.LoggingLevel, logger string, data any) {
		e.mu.Lock()
		threshold, id := e.logLevel, e.sessionID
		e.mu.Unlock()
		if !level.AtLeast(threshold) {
			return
		}
		note, err := jsonrpc.NewNotification(string(mcp.LoggingMessageNotificationMethod), &mcp.LoggingMessageNotification{
			Level: level, Logger: logger, Data: data,
		})
		if err != nil {
			e.log.WarnContext(ctx, "notification.encode.fail", slog.String("err", err.Error()))
			return
		}
		if wf != nil {
			if err := writeSSEEvent(wf, "", note); err == nil {
				return
			}
		}
		_, err = e.cfg.Host.Publish(ctx, id, note)
		switch {
		case errors.Is(err, sessions.ErrUnknownSession):
			e.log.DebugContext(ctx, "notification.publish.closed")
		case err != nil:
			e.log.WarnContext(ctx, "notification.publish.fail", slog.String("err", err.Error()))
		}
	})
}

func (e *Engine) setProtocolHeader(w http.ResponseWriter) {
	e.mu.Lock()
	pv := e.protocolVersion
	e.mu.Unlock()
	if pv != "" {
		w.Header().Set(mcpProtocolVersionHeader, pv)
	}
}

func (e *Engine) writeAccepted(w http.ResponseWriter) {
	e.setProtocolHeader(w)
	w.WriteHeader(http.StatusAccepted)
}

func (e *Engine) handleGet(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if _, _, err := contenttype.GetAcceptableMediaType(r, []contenttype.MediaType{eventStreamMediaType}); err != nil || r.Header.Get("Accept") == "" {
		writeJSONError(w, http.StatusNotAcceptable, "client must accept text/event-stream")
		e.log.WarnContext(ctx, "http.get.unsupported_media_type")
		return
	}
	if !e.checkSession(w, r) {
		return
	}
	ctx = e.sessionContext(ctx)

	f, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		e.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}

	e.mu.Lock()
	if e.streamOpen {
		e.mu.Unlock()
		writeJSONError(w, http.StatusConflict, "Conflict: Only one SSE stream is allowed per session")
		e.log.WarnContext(ctx, "sse.stream.conflict")
		return
	}
	e.streamOpen = true
	id := e.sessionID
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.streamOpen = false
		e.mu.Unlock()
	}()

	// Writers started below must finish before the handler returns.
	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-e.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}
	e.setProtocolHeader(w)
	startSSE(w)
	wf.Flush()
	e.log.InfoContext(ctx, "sse.stream.start")

	if e.cfg.KeepAlive > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.keepAlive(ctx, wf)
		}()
	}

	deliver := func(cbCtx context.Context, eventID string, data []byte) error {
		return writeSSEEvent(wf, eventID, data)
	}
	lastEventID := r.Header.Get(lastEventIDHeader)
	err := e.cfg.Host.Subscribe(ctx, id, lastEventID, deliver)
	if errors.Is(err, sessions.ErrUnknownEventID) {
		// The replay window no longer holds lastEventID: continue live.
		e.log.WarnContext(ctx, "sse.stream.resume.miss", slog.String("last_event_id", lastEventID))
		err = e.cfg.Host.Subscribe(ctx, id, "", deliver)
	}
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, sessions.ErrUnknownSession):
		e.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
	default:
		e.log.ErrorContext(ctx, "sse.stream.fail", slog.String("err", err.Error()))
	}
}

func (e *Engine) keepAlive(ctx context.Context, wf *lockedWriteFlusher) {
	t := time.NewTicker(e.cfg.KeepAlive)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := wf.writeFrame([]byte(": keepalive\n\n")); err != nil {
				return
			}
		}
	}
}

func (e *Engine) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !e.checkSession(w, r) {
		return
	}
	ctx = e.sessionContext(ctx)
	e.terminate()
	e.setProtocolHeader(w)
	w.WriteHeader(http.StatusOK)
	e.log.InfoContext(ctx, "session.delete.ok")
}
