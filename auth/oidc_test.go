package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

type mockOIDC struct {
	srv    *httptest.Server
	issuer string
}

func newMockOIDC(t *testing.T, keysJSON []byte) *mockOIDC {
	t.Helper()
	m := &mockOIDC{}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                   m.issuer,
			"jwks_uri":                 m.issuer + "/keys",
			"authorization_endpoint":   m.issuer + "/oauth2/auth",
			"token_endpoint":           m.issuer + "/oauth2/token",
			"response_types_supported": []string{"code"},
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(keysJSON)
	})
	m.srv = httptest.NewServer(mux)
	m.issuer = m.srv.URL
	t.Cleanup(m.srv.Close)
	return m
}

func genRSA(t *testing.T) (*rsa.PrivateKey, string, []byte) {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	kid := "test-key"
	set := struct {
		Keys []jose.JSONWebKey `json:"keys"`
	}{Keys: []jose.JSONWebKey{{Key: &pk.PublicKey, KeyID: kid, Algorithm: "RS256", Use: "sig"}}}
	b, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	return pk, kid, b
}

func signToken(t *testing.T, pk *rsa.PrivateKey, kid, typ string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	if typ != "" {
		tok.Header["typ"] = typ
	}
	s, err := tok.SignedString(pk)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func mustDiscovery(t *testing.T, issuer string, aud ...string) *OIDCAuthenticator {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	a, err := NewFromDiscovery(ctx, issuer, WithAudiences(aud...), WithLeeway(0))
	if err != nil {
		t.Fatalf("NewFromDiscovery: %v", err)
	}
	return a
}

func TestOIDCAuthenticator_HappyPath(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	idp := newMockOIDC(t, jwks)
	aud := "https://near-mcp.example.com/mcp"
	a := mustDiscovery(t, idp.issuer, aud)

	now := time.Now()
	tok := signToken(t, pk, kid, "at+jwt", jwt.MapClaims{
		"iss":   idp.issuer,
		"sub":   "user-123",
		"aud":   []string{"other", aud},
		"exp":   now.Add(time.Hour).Unix(),
		"iat":   now.Unix(),
		"scope": "near:read",
	})

	ui, err := a.CheckAuthentication(context.Background(), tok)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if ui.UserID() != "user-123" {
		t.Fatalf("want sub user-123, got %s", ui.UserID())
	}
	var out struct {
		Scope string `json:"scope"`
	}
	if err := ui.Claims(&out); err != nil {
		t.Fatalf("claims: %v", err)
	}
	if out.Scope != "near:read" {
		t.Fatalf("scope mismatch: %q", out.Scope)
	}
}

func TestOIDCAuthenticator_Rejections(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	idp := newMockOIDC(t, jwks)
	aud := "https://near-mcp.example.com/mcp"
	a := mustDiscovery(t, idp.issuer, aud)
	now := time.Now()

	base := func() jwt.MapClaims {
		return jwt.MapClaims{
			"iss": idp.issuer,
			"sub": "user-123",
			"aud": aud,
			"exp": now.Add(time.Hour).Unix(),
			"iat": now.Unix(),
		}
	}

	cases := []struct {
		name string
		typ  string
		edit func(jwt.MapClaims)
	}{
		{"wrong typ", "JWT", func(jwt.MapClaims) {}},
		{"issuer mismatch", "at+jwt", func(c jwt.MapClaims) { c["iss"] = "https://evil.example" }},
		{"audience mismatch", "at+jwt", func(c jwt.MapClaims) { c["aud"] = "https://elsewhere" }},
		{"expired", "at+jwt", func(c jwt.MapClaims) { c["exp"] = now.Add(-time.Hour).Unix() }},
		{"missing sub", "at+jwt", func(c jwt.MapClaims) { delete(c, "sub") }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			claims := base()
			tc.edit(claims)
			tok := signToken(t, pk, kid, tc.typ, claims)
			if _, err := a.CheckAuthentication(context.Background(), tok); !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("expected ErrUnauthorized, got %v", err)
			}
		})
	}

	if _, err := a.CheckAuthentication(context.Background(), "not-a-jwt"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for garbage token, got %v", err)
	}
}

func TestNewFromDiscovery_RequiresAudience(t *testing.T) {
	if _, err := NewFromDiscovery(context.Background(), "https://issuer.example"); err == nil {
		t.Fatalf("expected error without audiences")
	}
}
