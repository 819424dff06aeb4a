// Package fake provides an in-memory adminauth.Backend for testing.
//
// Use fake.NewBackend() in unit tests to avoid network calls. Failures and
// slow responses can be injected per operation, and every call is counted.
package fake

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	adminauth "github.com/chimerakang/adminauth-go"
	"github.com/chimerakang/adminauth-go/clock"
	"github.com/chimerakang/adminauth-go/rest"
)

// Operation names used by Calls, Fail and Block.
const (
	OpLogin   = "login"
	OpRefresh = "refresh"
	OpProfile = "profile"
	OpLogout  = "logout"
)

// DefaultTTL is the lifetime of issued tokens.
const DefaultTTL = time.Hour

var signingKey = []byte("fake-backend-signing-key")

type account struct {
	secret  string
	profile adminauth.Profile
	roles   []string
}

// Backend is an in-memory adminauth.Backend.
type Backend struct {
	clock     clock.Clock
	ttl       time.Duration
	jwtTokens bool
	bareGrant bool

	mu       sync.Mutex
	accounts map[string]*account // identifier → account
	tokens   map[string]string   // token → identifier
	calls    map[string]int
	fail     map[string]error
	block    map[string]chan struct{}
	nextID   int
}

// compile-time check
var _ adminauth.Backend = (*Backend)(nil)

// Option configures the fake backend.
type Option func(*Backend)

// WithAccount adds an account that can sign in with identifier and secret.
func WithAccount(identifier, secret string, profile adminauth.Profile, roles []string) Option {
	return func(b *Backend) {
		if profile.Email == "" {
			profile.Email = identifier
		}
		b.accounts[identifier] = &account{secret: secret, profile: profile, roles: roles}
	}
}

// WithClock sets the time source for token expiry. Default: clock.Real().
func WithClock(c clock.Clock) Option {
	return func(b *Backend) { b.clock = c }
}

// WithTTL sets the lifetime of issued tokens.
func WithTTL(d time.Duration) Option {
	return func(b *Backend) { b.ttl = d }
}

// WithJWTTokens issues HS256 JWTs carrying sub, email, roles and exp
// instead of opaque tokens.
func WithJWTTokens() Option {
	return func(b *Backend) { b.jwtTokens = true }
}

// WithBareGrants omits roles and expiry from grants, leaving them to be
// read from the token itself.
func WithBareGrants() Option {
	return func(b *Backend) { b.bareGrant = true }
}

// NewBackend creates an in-memory backend.
func NewBackend(opts ...Option) *Backend {
	b := &Backend{
		clock:    clock.Real(),
		ttl:      DefaultTTL,
		accounts: make(map[string]*account),
		tokens:   make(map[string]string),
		calls:    make(map[string]int),
		fail:     make(map[string]error),
		block:    make(map[string]chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Fail makes every later call to op return err. A nil err clears it.
func (b *Backend) Fail(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.fail, op)
		return
	}
	b.fail[op] = err
}

// Block makes calls to op wait until the returned release func is called
// or the call's context is done.
func (b *Backend) Block(op string) (release func()) {
	ch := make(chan struct{})
	b.mu.Lock()
	b.block[op] = ch
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if b.block[op] == ch {
				delete(b.block, op)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Calls returns how many times op was called.
func (b *Backend) Calls(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

// Valid reports whether token is currently issued and not revoked.
func (b *Backend) Valid(token string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.tokens[token]
	return ok
}

// enter counts the call, waits out any block and returns any injected failure.
func (b *Backend) enter(ctx context.Context, op string) error {
	b.mu.Lock()
	b.calls[op]++
	ch := b.block[op]
	b.mu.Unlock()

	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fail[op]
}

// Login implements adminauth.Backend.
func (b *Backend) Login(ctx context.Context, creds adminauth.Credentials) (*adminauth.Grant, error) {
	if err := b.enter(ctx, OpLogin); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	acct, ok := b.accounts[creds.Identifier]
	if !ok || acct.secret != creds.Secret {
		return nil, &rest.APIError{Status: http.StatusUnauthorized, Message: "Invalid credentials"}
	}
	return b.issueLocked(creds.Identifier, acct)
}

// Refresh implements adminauth.Backend. The old token is revoked.
func (b *Backend) Refresh(ctx context.Context, token string) (*adminauth.Grant, error) {
	if err := b.enter(ctx, OpRefresh); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.tokens[token]
	if !ok {
		return nil, unauthorized()
	}
	delete(b.tokens, token)
	return b.issueLocked(id, b.accounts[id])
}

// Profile implements adminauth.Backend.
func (b *Backend) Profile(ctx context.Context, token string) (*adminauth.Profile, error) {
	if err := b.enter(ctx, OpProfile); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.tokens[token]
	if !ok {
		return nil, unauthorized()
	}
	p := b.accounts[id].profile
	return &p, nil
}

// Logout implements adminauth.Backend. Unknown tokens are accepted.
func (b *Backend) Logout(ctx context.Context, token string) error {
	if err := b.enter(ctx, OpLogout); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tokens, token)
	return nil
}

func (b *Backend) issueLocked(id string, acct *account) (*adminauth.Grant, error) {
	b.nextID++
	exp := b.clock.Now().Add(b.ttl)

	tok := fmt.Sprintf("tok-%d", b.nextID)
	if b.jwtTokens {
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":   acct.profile.ID,
			"email": acct.profile.Email,
			"roles": acct.roles,
			"exp":   exp.Unix(),
			"jti":   tok,
		}).SignedString(signingKey)
		if err != nil {
			return nil, fmt.Errorf("fake: sign token: %w", err)
		}
		tok = signed
	}
	b.tokens[tok] = id

	g := &adminauth.Grant{AccessToken: tok}
	if !b.bareGrant {
		g.Roles = slices.Clone(acct.roles)
		g.ExpiresAt = exp
	}
	return g, nil
}

func unauthorized() error {
	return &rest.APIError{Status: http.StatusUnauthorized, Message: "Unauthorized"}
}
