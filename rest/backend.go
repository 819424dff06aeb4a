// Package rest implements adminauth.Backend against the CMS REST API.
//
// Endpoints, relative to the base URL:
//
//	POST /auth/login          {identifier, secret, grantType} -> {accessToken, roles, expiresAt}
//	POST /auth/refresh-token  (bearer)                        -> {accessToken, roles, expiresAt}
//	GET  /auth/profile        (bearer)                        -> profile
//	POST /auth/logout         (bearer)                        -> ack
//
// Responses may be bare or wrapped in {"data": ...}. Failures carry
// {"message": "..."} (or a list of messages) and surface as *APIError.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	adminauth "github.com/chimerakang/adminauth-go"
)

// GrantTypePassword is sent with every login request.
const GrantTypePassword = "password"

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d", e.Status)
	}
	return e.Message
}

// IsUnauthorized reports whether err is a 401 from the backend.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// Backend talks to the CMS API over HTTP.
type Backend struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

// compile-time check
var _ adminauth.Backend = (*Backend)(nil)

// Option configures the Backend.
type Option func(*Backend)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) { b.httpClient = c }
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(d time.Duration) Option {
	return func(b *Backend) { b.httpClient.Timeout = d }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(b *Backend) { b.userAgent = ua }
}

// New creates a Backend for the API at baseURL.
func New(baseURL string, opts ...Option) *Backend {
	b := &Backend{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: adminauth.DefaultRequestTimeout},
		userAgent:  "adminauth-go",
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
	GrantType  string `json:"grantType"`
}

type grantResponse struct {
	AccessToken string   `json:"accessToken"`
	Roles       []string `json:"roles"`
	ExpiresAt   wireTime `json:"expiresAt"`
}

func (g grantResponse) grant() (*adminauth.Grant, error) {
	if g.AccessToken == "" {
		return nil, fmt.Errorf("adminauth/rest: empty accessToken in response")
	}
	return &adminauth.Grant{
		AccessToken: g.AccessToken,
		Roles:       g.Roles,
		ExpiresAt:   g.ExpiresAt.Time,
	}, nil
}

// Login implements adminauth.Backend.
func (b *Backend) Login(ctx context.Context, creds adminauth.Credentials) (*adminauth.Grant, error) {
	body := loginRequest{
		Identifier: creds.Identifier,
		Secret:     creds.Secret,
		GrantType:  GrantTypePassword,
	}
	var resp grantResponse
	if err := b.do(ctx, http.MethodPost, "/auth/login", "", body, &resp); err != nil {
		return nil, err
	}
	return resp.grant()
}

// Refresh implements adminauth.Backend.
func (b *Backend) Refresh(ctx context.Context, token string) (*adminauth.Grant, error) {
	if token == "" {
		return nil, adminauth.ErrNoToken
	}
	var resp grantResponse
	if err := b.do(ctx, http.MethodPost, "/auth/refresh-token", token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.grant()
}

// Profile implements adminauth.Backend.
func (b *Backend) Profile(ctx context.Context, token string) (*adminauth.Profile, error) {
	if token == "" {
		return nil, adminauth.ErrNoToken
	}
	var p adminauth.Profile
	if err := b.do(ctx, http.MethodGet, "/auth/profile", token, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Logout implements adminauth.Backend.
func (b *Backend) Logout(ctx context.Context, token string) error {
	if token == "" {
		return adminauth.ErrNoToken
	}
	return b.do(ctx, http.MethodPost, "/auth/logout", token, nil, nil)
}

func (b *Backend) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("adminauth/rest: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("adminauth/rest: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", b.userAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("adminauth/rest: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("adminauth/rest: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(data)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(unwrap(data), out); err != nil {
		return fmt.Errorf("adminauth/rest: decode response: %w", err)
	}
	return nil
}

// unwrap returns the "data" member of an enveloped response, or data itself.
func unwrap(data []byte) []byte {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err == nil && len(env.Data) > 0 && env.Data[0] == '{' {
		return env.Data
	}
	return data
}

func errorMessage(data []byte) string {
	var body struct {
		Message json.RawMessage `json:"message"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return strings.TrimSpace(string(data))
	}
	var one string
	if json.Unmarshal(body.Message, &one) == nil && one != "" {
		return one
	}
	var many []string
	if json.Unmarshal(body.Message, &many) == nil && len(many) > 0 {
		return strings.Join(many, "; ")
	}
	return body.Error
}

// wireTime accepts RFC 3339 strings and Unix timestamps in seconds or
// milliseconds.
type wireTime struct {
	time.Time
}

func (w *wireTime) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		if n, err := strconv.ParseInt(str, 10, 64); err == nil {
			w.Time = unixAuto(n)
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, str)
		if err != nil {
			return fmt.Errorf("expiresAt: %w", err)
		}
		w.Time = t.UTC()
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("expiresAt: %w", err)
	}
	w.Time = unixAuto(int64(n))
	return nil
}

func unixAuto(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}
