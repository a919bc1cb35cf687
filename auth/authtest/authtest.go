// Package authtest provides in-memory authenticators for tests.
package authtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/NEARWEEK/MCP/auth"
)

// ErrAuthorityDown is returned by Keys when Fail is set.
var ErrAuthorityDown = errors.New("authority unavailable")

// Keys accepts a fixed set of keys and counts every call it receives.
type Keys struct {
	mu    sync.RWMutex
	valid map[string]bool
	calls atomic.Int64
	fail  atomic.Bool
}

// NewKeys returns an authenticator accepting exactly the given keys.
func NewKeys(valid ...string) *Keys {
	k := &Keys{valid: make(map[string]bool, len(valid))}
	for _, v := range valid {
		k.valid[v] = true
	}
	return k
}

// Calls reports how many times CheckAuthentication ran.
func (k *Keys) Calls() int64 { return k.calls.Load() }

// SetFail makes every subsequent call return ErrAuthorityDown.
func (k *Keys) SetFail(fail bool) { k.fail.Store(fail) }

// CheckAuthentication implements auth.Authenticator.
func (k *Keys) CheckAuthentication(ctx context.Context, tok string) (auth.UserInfo, error) {
	k.calls.Add(1)
	if k.fail.Load() {
		return nil, ErrAuthorityDown
	}
	k.mu.RLock()
	ok := k.valid[tok]
	k.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown key", auth.ErrUnauthorized)
	}
	return user{id: auth.Fingerprint(tok)}, nil
}

type user struct{ id string }

func (u user) UserID() string       { return u.id }
func (u user) Claims(ref any) error { return nil }

var _ auth.Authenticator = (*Keys)(nil)
