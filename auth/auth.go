package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
)

// ErrUnauthorized indicates the authenticator rejected the credential.
var ErrUnauthorized = errors.New("unauthorized")

// ErrMissingCredential indicates the request carried no credential at all.
// The gate rejects these before consulting any authenticator.
var ErrMissingCredential = errors.New("missing credential")

// ErrForbidden is the gate's verdict for a credential that was present but
// could not be validated, whatever the cause.
var ErrForbidden = errors.New("forbidden")

// UserInfo represents an authenticated principal.
// Implementations should be lightweight and safe for concurrent use.
type UserInfo interface {
	// UserID returns a stable identifier for the principal. It never contains
	// the raw credential.
	UserID() string
	// Claims unmarshalls the principal's claims into the provided struct reference.
	Claims(ref any) error
}

// Authenticator validates bearer credentials and returns associated user info.
// Any returned error means the credential must not be trusted.
type Authenticator interface {
	CheckAuthentication(ctx context.Context, tok string) (UserInfo, error)
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(ctx context.Context, tok string) (UserInfo, error)

func (f AuthenticatorFunc) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	return f(ctx, tok)
}

type userInfoKey struct{}

// WithUserInfo stores the authenticated principal on ctx.
func WithUserInfo(ctx context.Context, ui UserInfo) context.Context {
	return context.WithValue(ctx, userInfoKey{}, ui)
}

// UserInfoFrom returns the principal stored by the gate, if any.
func UserInfoFrom(ctx context.Context) (UserInfo, bool) {
	ui, ok := ctx.Value(userInfoKey{}).(UserInfo)
	return ui, ok && ui != nil
}

// keyUserInfo identifies an opaque API key principal by fingerprint.
type keyUserInfo struct {
	id     string
	claims map[string]any
}

func newKeyUserInfo(key string, claims map[string]any) *keyUserInfo {
	return &keyUserInfo{id: Fingerprint(key), claims: claims}
}

func (u *keyUserInfo) UserID() string { return u.id }

func (u *keyUserInfo) Claims(ref any) error {
	b, err := json.Marshal(u.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

// Fingerprint returns a short, non-reversible identifier for a key that is
// safe to log.
func Fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "key:" + hex.EncodeToString(sum[:6])
}
