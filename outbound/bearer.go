// Package outbound attaches the session's bearer token to every outbound
// call the admin console makes: plain HTTP through a RoundTripper, gRPC
// through a unary client interceptor, and kratos clients through a
// client middleware.
//
// The session manager drives a Bearer through SetToken and ClearToken;
// adapters only read it.
package outbound

import (
	"sync"

	adminauth "github.com/chimerakang/adminauth-go"
)

// Bearer holds the current access token.
type Bearer struct {
	mu    sync.RWMutex
	token string
}

// compile-time check
var _ adminauth.TokenSink = (*Bearer)(nil)

// NewBearer returns a Bearer with no token.
func NewBearer() *Bearer { return &Bearer{} }

// SetToken attaches token to subsequent calls.
func (b *Bearer) SetToken(token string) {
	b.mu.Lock()
	b.token = token
	b.mu.Unlock()
}

// ClearToken stops attaching a token.
func (b *Bearer) ClearToken() { b.SetToken("") }

// Token returns the current token, or "".
func (b *Bearer) Token() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.token
}

// Header returns the Authorization header value, or "" with no token.
func (b *Bearer) Header() string {
	if t := b.Token(); t != "" {
		return "Bearer " + t
	}
	return ""
}
