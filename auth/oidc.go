package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// OIDCConfig controls validation of RFC 9068 JWT access tokens.
type OIDCConfig struct {
	Issuer string
	// Audiences lists every accepted audience; the token must name at least one.
	Audiences   []string
	AllowedAlgs []string
	Leeway      time.Duration
}

// OIDCOption mutates an OIDCConfig.
type OIDCOption func(*OIDCConfig)

// WithAudiences sets the accepted audiences.
func WithAudiences(aud ...string) OIDCOption {
	return func(c *OIDCConfig) { c.Audiences = append([]string(nil), aud...) }
}

// WithAllowedAlgs overrides the accepted signing algorithms (default RS256).
func WithAllowedAlgs(algs ...string) OIDCOption {
	return func(c *OIDCConfig) { c.AllowedAlgs = append([]string(nil), algs...) }
}

// WithLeeway sets the clock skew tolerance applied to exp, nbf and iat.
func WithLeeway(d time.Duration) OIDCOption {
	return func(c *OIDCConfig) { c.Leeway = d }
}

type jwtUserInfo struct {
	sub    string
	claims jwt.MapClaims
}

func (u *jwtUserInfo) UserID() string { return u.sub }

func (u *jwtUserInfo) Claims(ref any) error {
	return (&keyUserInfo{claims: u.claims}).Claims(ref)
}

// OIDCAuthenticator validates access tokens signed by an OIDC issuer whose
// JWKS is discovered and refreshed automatically.
type OIDCAuthenticator struct {
	cfg     OIDCConfig
	iss     string
	keyfunc jwt.Keyfunc
}

// NewFromDiscovery performs OIDC discovery against issuer and returns an
// authenticator for its access tokens.
func NewFromDiscovery(ctx context.Context, issuer string, opts ...OIDCOption) (*OIDCAuthenticator, error) {
	cfg := OIDCConfig{
		Issuer:      issuer,
		AllowedAlgs: []string{"RS256"},
		Leeway:      60 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if len(cfg.Audiences) == 0 {
		return nil, errors.New("at least one audience is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery failed: %w", err)
	}
	var meta struct {
		Issuer  string `json:"issuer"`
		JwksURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("invalid discovery metadata: %w", err)
	}
	if meta.JwksURI == "" {
		return nil, errors.New("discovery incomplete: missing jwks_uri")
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{meta.JwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}

	return &OIDCAuthenticator{
		cfg: cfg,
		iss: meta.Issuer,
		keyfunc: func(t *jwt.Token) (any, error) {
			if alg := t.Method.Alg(); !slices.Contains(cfg.AllowedAlgs, alg) {
				return nil, fmt.Errorf("disallowed alg: %s", alg)
			}
			return kf.Keyfunc(t)
		},
	}, nil
}

// CheckAuthentication implements Authenticator.
func (a *OIDCAuthenticator) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(a.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(a.iss),
		jwt.WithLeeway(a.cfg.Leeway),
	)

	parsed, err := parser.Parse(tok, a.keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}

	if typ, _ := parsed.Header["typ"].(string); typ != "at+jwt" && typ != "application/at+jwt" {
		return nil, fmt.Errorf("%w: invalid typ; want at+jwt", ErrUnauthorized)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims type", ErrUnauthorized)
	}

	aud, err := claims.GetAudience()
	if err != nil || !slices.ContainsFunc(aud, func(s string) bool { return slices.Contains(a.cfg.Audiences, s) }) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	}

	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		if iat.After(time.Now().Add(a.cfg.Leeway + 5*time.Minute)) {
			return nil, fmt.Errorf("%w: iat too far in future", ErrUnauthorized)
		}
	}

	sub, _ := claims["sub"].(string)
	if strings.TrimSpace(sub) == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrUnauthorized)
	}

	return &jwtUserInfo{sub: sub, claims: claims}, nil
}

var _ Authenticator = (*OIDCAuthenticator)(nil)
