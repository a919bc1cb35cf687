package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
)

// AuthorityClient validates opaque API keys against an external authority
// service. The contract is POST {base}/validate {"key": "..."} answered with
// {"valid": bool}. Results are never cached: every call reaches the authority.
type AuthorityClient struct {
	client *resty.Client
}

// AuthorityOption configures an AuthorityClient.
type AuthorityOption func(*authorityConfig)

type authorityConfig struct {
	httpClient *http.Client
}

// WithAuthorityHTTPClient routes authority calls through hc.
func WithAuthorityHTTPClient(hc *http.Client) AuthorityOption {
	return func(c *authorityConfig) { c.httpClient = hc }
}

// NewAuthorityClient builds a client for the authority rooted at baseURL.
func NewAuthorityClient(baseURL string, opts ...AuthorityOption) (*AuthorityClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("authority base URL is required")
	}
	cfg := authorityConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	c := resty.New()
	if cfg.httpClient != nil {
		c = resty.NewWithClient(cfg.httpClient)
	}
	c.SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &AuthorityClient{client: c}, nil
}

type validateRequest struct {
	Key string `json:"key"`
}

type validateResponse struct {
	Valid *bool `json:"valid"`
}

// CheckAuthentication implements Authenticator. Non-2xx replies, bodies that
// do not carry a boolean "valid" field, and transport errors all reject.
func (a *AuthorityClient) CheckAuthentication(ctx context.Context, key string) (UserInfo, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty key", ErrUnauthorized)
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(validateRequest{Key: key}).
		Post("/validate")
	if err != nil {
		return nil, fmt.Errorf("%w: authority unreachable: %v", ErrUnauthorized, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: authority returned status %d", ErrUnauthorized, resp.StatusCode())
	}

	var out validateResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("%w: malformed authority response: %v", ErrUnauthorized, err)
	}
	if out.Valid == nil {
		return nil, fmt.Errorf("%w: authority response missing valid flag", ErrUnauthorized)
	}
	if !*out.Valid {
		return nil, fmt.Errorf("%w: key rejected", ErrUnauthorized)
	}

	return newKeyUserInfo(key, map[string]any{"method": "authority"}), nil
}

var _ Authenticator = (*AuthorityClient)(nil)
