package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	authorizationHeader   = "Authorization"
	wwwAuthenticateHeader = "WWW-Authenticate"
	bearerPrefix          = "Bearer "
)

// QueryParamNames are the query parameters accepted as a credential when the
// header is absent and the caller allows the fallback.
var QueryParamNames = []string{"apiKey", "api_key"}

// Gate authenticates inbound HTTP requests before they reach protocol logic.
type Gate struct {
	authn Authenticator
	log   *slog.Logger
	realm string
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithGateLogger sets the logger used for authentication events.
func WithGateLogger(l *slog.Logger) GateOption {
	return func(g *Gate) { g.log = l }
}

// WithRealm sets the realm advertised in WWW-Authenticate challenges.
func WithRealm(realm string) GateOption {
	return func(g *Gate) { g.realm = strings.TrimSpace(realm) }
}

// NewGate builds a Gate over authn.
func NewGate(authn Authenticator, opts ...GateOption) *Gate {
	g := &Gate{authn: authn, log: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authenticate extracts and validates the request credential. It returns an
// error wrapping ErrMissingCredential when no credential is present (the
// authenticator is not consulted) and one wrapping ErrForbidden for every
// other failure, including authenticator errors of any kind.
func (g *Gate) Authenticate(r *http.Request, allowQuery bool) (UserInfo, error) {
	ctx := r.Context()
	start := time.Now()

	tok, source := extractCredential(r, allowQuery)
	if tok == "" {
		g.log.InfoContext(ctx, "auth.check.missing")
		return nil, ErrMissingCredential
	}
	if source == "query" {
		g.log.WarnContext(ctx, "auth.credential.query_fallback", slog.String("hint", "send the key in the Authorization header"))
	}

	if g.authn == nil {
		g.log.ErrorContext(ctx, "auth.check.err", slog.String("err", "no authenticator configured"))
		return nil, fmt.Errorf("%w: no authenticator configured", ErrForbidden)
	}

	ui, err := g.authn.CheckAuthentication(ctx, tok)
	if err != nil {
		g.log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()), slog.Duration("dur", time.Since(start)))
		return nil, fmt.Errorf("%w: %w", ErrForbidden, err)
	}
	if ui == nil {
		g.log.ErrorContext(ctx, "auth.check.err", slog.String("err", "authenticator returned no principal"))
		return nil, fmt.Errorf("%w: no principal", ErrForbidden)
	}

	g.log.DebugContext(ctx, "auth.check.ok", slog.String("principal", ui.UserID()), slog.Duration("dur", time.Since(start)))
	return ui, nil
}

// Middleware rejects unauthenticated requests and stores the principal on
// the request context for downstream handlers.
func (g *Gate) Middleware(allowQuery bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ui, err := g.Authenticate(r, allowQuery)
			if err != nil {
				g.WriteRejection(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserInfo(r.Context(), ui)))
		})
	}
}

// WriteRejection writes the HTTP response for an Authenticate error: 401 for
// a missing credential, 403 otherwise.
func (g *Gate) WriteRejection(w http.ResponseWriter, err error) {
	status := http.StatusForbidden
	msg := "invalid credential"
	var params map[string]string
	if errors.Is(err, ErrMissingCredential) {
		status = http.StatusUnauthorized
		msg = "missing credential"
	} else {
		params = map[string]string{"error": "invalid_token", "error_description": msg}
	}
	w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(g.realm, params))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

func extractCredential(r *http.Request, allowQuery bool) (string, string) {
	if h := r.Header.Get(authorizationHeader); strings.HasPrefix(h, bearerPrefix) {
		if tok := strings.TrimSpace(h[len(bearerPrefix):]); tok != "" {
			return tok, "header"
		}
	}
	if !allowQuery {
		return "", ""
	}
	q := r.URL.Query()
	for _, name := range QueryParamNames {
		if tok := strings.TrimSpace(q.Get(name)); tok != "" {
			return tok, "query"
		}
	}
	return "", ""
}

// buildBearerChallenge builds a Bearer challenge header value with a stable
// attribute order: realm, error, error_description.
func buildBearerChallenge(realm string, params map[string]string) string {
	esc := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace
	pieces := make([]string, 0, 3)
	if realm != "" {
		pieces = append(pieces, fmt.Sprintf(`realm="%s"`, esc(realm)))
	}
	for _, k := range []string{"error", "error_description"} {
		if v, ok := params[k]; ok {
			pieces = append(pieces, fmt.Sprintf(`%s="%s"`, k, esc(v)))
		}
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}
