package token

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	adminauth "github.com/chimerakang/adminauth-go"
	"github.com/golang-jwt/jwt/v5"
)

// JWKSVerifier verifies RS256 access tokens against keys published at a
// JWKS endpoint. Keys are cached and refetched after the refresh interval
// or when an unknown kid shows up.
type JWKSVerifier struct {
	jwksURL         string
	httpClient      *http.Client
	refreshInterval time.Duration

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	lastFetch time.Time
}

// compile-time check
var _ adminauth.TokenVerifier = (*JWKSVerifier)(nil)

// JWKSOption configures the JWKSVerifier.
type JWKSOption func(*JWKSVerifier)

// WithHTTPClient sets the client used to fetch the key set.
func WithHTTPClient(c *http.Client) JWKSOption {
	return func(v *JWKSVerifier) { v.httpClient = c }
}

// WithRefreshInterval sets how long fetched keys are trusted. Default: 1 hour.
func WithRefreshInterval(d time.Duration) JWKSOption {
	return func(v *JWKSVerifier) { v.refreshInterval = d }
}

// NewJWKSVerifier creates a verifier for the key set at jwksURL.
func NewJWKSVerifier(jwksURL string, opts ...JWKSOption) *JWKSVerifier {
	v := &JWKSVerifier{
		jwksURL:         jwksURL,
		httpClient:      &http.Client{Timeout: 10 * time.Second},
		refreshInterval: time.Hour,
		keys:            make(map[string]*rsa.PublicKey),
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Verify checks the signature and expiry of raw and returns its claims.
func (v *JWKSVerifier) Verify(ctx context.Context, raw string) (*adminauth.Claims, error) {
	parser := jwt.NewParser(jwt.WithExpirationRequired(), jwt.WithValidMethods([]string{"RS256"}))

	tok, err := parser.Parse(raw, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return v.key(ctx, kid)
	})
	if err != nil {
		return nil, fmt.Errorf("adminauth/token: %w", err)
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok || !tok.Valid {
		return nil, fmt.Errorf("adminauth/token: invalid token claims")
	}
	return toClaims(claims), nil
}

func (v *JWKSVerifier) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	key, found := v.keys[kid]
	stale := time.Since(v.lastFetch) > v.refreshInterval
	v.mu.RUnlock()

	if found && !stale {
		return key, nil
	}
	if err := v.fetch(ctx); err != nil {
		if found {
			return key, nil
		}
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	if key, ok := v.keys[kid]; ok {
		return key, nil
	}
	if kid == "" && len(v.keys) == 1 {
		for _, k := range v.keys {
			return k, nil
		}
	}
	return nil, fmt.Errorf("adminauth/token: no key for kid %q", kid)
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (v *JWKSVerifier) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return fmt.Errorf("adminauth/token: jwks request: %w", err)
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("adminauth/token: jwks fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("adminauth/token: jwks fetch returned %d", resp.StatusCode)
	}

	var set jwkSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("adminauth/token: jwks decode: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := k.publicKey()
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return fmt.Errorf("adminauth/token: jwks has no RSA signing keys")
	}

	v.mu.Lock()
	v.keys = keys
	v.lastFetch = time.Now()
	v.mu.Unlock()
	return nil
}

func (k jwk) publicKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(n),
		E: int(new(big.Int).SetBytes(e).Int64()),
	}, nil
}
