// Package token extracts claims from access tokens issued by the CMS API.
//
// Unverified reads a JWT's claims without checking its signature; the
// session layer only uses it to recover expiry and roles the backend left
// out of its response. JWKSVerifier also checks RS256 signatures against a
// JWKS endpoint.
package token

import (
	"context"
	"fmt"
	"time"

	adminauth "github.com/chimerakang/adminauth-go"
	"github.com/golang-jwt/jwt/v5"
)

type unverified struct{}

// Unverified returns a TokenVerifier that parses claims without checking
// the signature.
func Unverified() adminauth.TokenVerifier { return unverified{} }

func (unverified) Verify(_ context.Context, raw string) (*adminauth.Claims, error) {
	return Inspect(raw)
}

// Inspect parses raw as a JWT without verifying it.
func Inspect(raw string) (*adminauth.Claims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("adminauth/token: %w", err)
	}
	return toClaims(claims), nil
}

var standardClaims = map[string]bool{
	"sub": true, "email": true, "iss": true, "exp": true, "iat": true,
	"roles": true, "role": true, "aud": true, "nbf": true, "jti": true,
}

// toClaims converts jwt.MapClaims to adminauth.Claims.
func toClaims(m jwt.MapClaims) *adminauth.Claims {
	c := &adminauth.Claims{Extra: make(map[string]any)}

	if v, ok := m["sub"].(string); ok {
		c.Subject = v
	}
	if v, ok := m["email"].(string); ok {
		c.Email = v
	}
	if v, ok := m["iss"].(string); ok {
		c.Issuer = v
	}
	if exp, err := m.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time.UTC()
	}
	if iat, err := m.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = iat.Time.UTC()
	}
	switch roles := m["roles"].(type) {
	case []any:
		for _, r := range roles {
			if s, ok := r.(string); ok && s != "" {
				c.Roles = append(c.Roles, s)
			}
		}
	case string:
		if roles != "" {
			c.Roles = []string{roles}
		}
	}
	// Some issuers send a single "role".
	if len(c.Roles) == 0 {
		if r, ok := m["role"].(string); ok && r != "" {
			c.Roles = []string{r}
		}
	}

	for k, v := range m {
		if !standardClaims[k] {
			c.Extra[k] = v
		}
	}
	return c
}

// Expired reports whether claims carry an expiry at or before now.
func Expired(c *adminauth.Claims, now time.Time) bool {
	return c != nil && !c.ExpiresAt.IsZero() && !c.ExpiresAt.After(now)
}
