package adminauth

import (
	"slices"
	"time"
)

// Credentials is what the login form submits.
type Credentials struct {
	Identifier string
	Secret     string
	RememberMe bool
}

// Grant is a token issued by the backend on login or refresh.
type Grant struct {
	AccessToken string
	Roles       []string
	ExpiresAt   time.Time
}

// Profile is the signed-in administrator's profile record.
type Profile struct {
	ID        string `json:"id,omitempty"`
	Email     string `json:"email"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Bio       string `json:"bio,omitempty"`
	Avatar    string `json:"avatar,omitempty"`
}

// DisplayName returns "First Last", falling back to the email.
func (p *Profile) DisplayName() string {
	if p == nil {
		return ""
	}
	switch {
	case p.FirstName != "" && p.LastName != "":
		return p.FirstName + " " + p.LastName
	case p.FirstName != "":
		return p.FirstName
	case p.LastName != "":
		return p.LastName
	}
	return p.Email
}

// Claims is what a TokenVerifier extracts from an access token.
type Claims struct {
	Subject   string
	Email     string
	Roles     []string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Issuer    string
	Extra     map[string]any
}

// State is the authentication state of the running admin console.
// Values returned by the session manager are copies; mutating them has no
// effect on the session.
type State struct {
	Token           string
	User            *Profile
	Roles           []string
	IsAuthenticated bool
	TokenExpiresAt  time.Time
	IsLoading       bool
	Error           string
	IsHydrated      bool
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := s
	out.Roles = slices.Clone(s.Roles)
	if s.User != nil {
		u := *s.User
		out.User = &u
	}
	return out
}

// Persisted returns the durable subset of s.
func (s State) Persisted() Persisted {
	p := Persisted{
		Token:           s.Token,
		Roles:           slices.Clone(s.Roles),
		IsAuthenticated: s.IsAuthenticated,
		TokenExpiresAt:  s.TokenExpiresAt,
	}
	if s.User != nil {
		u := *s.User
		p.User = &u
	}
	return p
}

// ExpiredAt reports whether the token is expired at now. A zero expiry is
// treated as expired.
func (s State) ExpiredAt(now time.Time) bool {
	return s.TokenExpiresAt.IsZero() || !s.TokenExpiresAt.After(now)
}

// Persisted is the subset of State written to durable storage. Loading,
// error and hydration flags are never persisted.
type Persisted struct {
	Token           string    `json:"token,omitempty"`
	User            *Profile  `json:"user,omitempty"`
	Roles           []string  `json:"roles,omitempty"`
	IsAuthenticated bool      `json:"isAuthenticated"`
	TokenExpiresAt  time.Time `json:"tokenExpiresAt,omitzero"`
}

// Empty reports whether p carries no session.
func (p Persisted) Empty() bool {
	return p.Token == "" && p.User == nil && len(p.Roles) == 0 &&
		!p.IsAuthenticated && p.TokenExpiresAt.IsZero()
}

// Equal reports whether p and o describe the same persisted session.
func (p Persisted) Equal(o Persisted) bool {
	if p.Token != o.Token || p.IsAuthenticated != o.IsAuthenticated ||
		!p.TokenExpiresAt.Equal(o.TokenExpiresAt) || !slices.Equal(p.Roles, o.Roles) {
		return false
	}
	switch {
	case p.User == nil && o.User == nil:
		return true
	case p.User == nil || o.User == nil:
		return false
	}
	return *p.User == *o.User
}

// LoginResult is the outcome of a login attempt. Login never returns an
// error; failures are reported here.
type LoginResult struct {
	Success bool
	Error   string
}
