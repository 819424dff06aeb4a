// Package ginmw serves the admin console's session over Gin: a guard
// middleware for protected views and handlers for signing in and out.
//
// All handlers take the session through small interfaces; session.Manager
// satisfies them.
package ginmw

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	adminauth "github.com/chimerakang/adminauth-go"
	"github.com/chimerakang/adminauth-go/guard"
)

// KeyState is the gin.Context key holding the session snapshot of an
// allowed request.
const KeyState = "adminauth_state"

// Sessions is the session surface the handlers drive.
type Sessions interface {
	guard.Source
	Login(ctx context.Context, creds adminauth.Credentials) adminauth.LoginResult
	Logout(ctx context.Context)
}

// Guard returns Gin middleware that gates the route with g.
//
// A session still loading from storage answers 503 with Retry-After. An
// anonymous visitor is redirected to the guard's fallback with a "next"
// parameter, or gets 401 when the request asks for JSON. A session missing
// a capability gets 403. Allowed requests carry the snapshot in the
// gin.Context and the request context.
func Guard(src guard.Source, g *guard.Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		s := src.Snapshot()
		path := c.Request.URL.Path
		d := g.Decide(c.Request.Context(), s, path)

		switch d.Status {
		case guard.Pending:
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "loading"})
		case guard.Unauthenticated:
			if wantsJSON(c.Request) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not signed in", "redirect": d.Redirect})
				return
			}
			c.Redirect(http.StatusFound, loginURL(d.Redirect, path))
			c.Abort()
		case guard.Forbidden:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "access denied", "missing": d.Missing})
		default:
			c.Set(KeyState, s)
			c.Request = c.Request.WithContext(adminauth.WithState(c.Request.Context(), s))
			c.Next()
		}
	}
}

// GetState returns the session snapshot stored by Guard.
func GetState(c *gin.Context) (adminauth.State, bool) {
	v, ok := c.Get(KeyState)
	if !ok {
		return adminauth.State{}, false
	}
	s, ok := v.(adminauth.State)
	return s, ok
}

// GetRoles returns the session roles stored by Guard.
func GetRoles(c *gin.Context) []string {
	s, _ := GetState(c)
	return s.Roles
}

type loginRequest struct {
	Identifier string `json:"identifier" form:"identifier" binding:"required"`
	Secret     string `json:"secret" form:"secret" binding:"required"`
	RememberMe bool   `json:"rememberMe" form:"rememberMe"`
}

// Login handles the login form. On success it redirects to the "next"
// query parameter (default "/"), or answers 200 for JSON requests.
// Rejected credentials answer 401 with the backend's message.
func Login(sessions Sessions) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBind(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "identifier and secret are required"})
			return
		}

		res := sessions.Login(c.Request.Context(), adminauth.Credentials{
			Identifier: req.Identifier,
			Secret:     req.Secret,
			RememberMe: req.RememberMe,
		})
		if !res.Success {
			c.JSON(http.StatusUnauthorized, gin.H{"error": res.Error})
			return
		}

		if wantsJSON(c.Request) {
			c.JSON(http.StatusOK, gin.H{"success": true})
			return
		}
		c.Redirect(http.StatusSeeOther, safeNext(c.Query("next")))
	}
}

// Logout ends the session and redirects to loginPath.
func Logout(sessions Sessions, loginPath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessions.Logout(c.Request.Context())
		if wantsJSON(c.Request) {
			c.JSON(http.StatusOK, gin.H{"success": true})
			return
		}
		c.Redirect(http.StatusSeeOther, loginPath)
	}
}

// Status reports the session without its token.
func Status(src guard.Source) gin.HandlerFunc {
	return func(c *gin.Context) {
		s := src.Snapshot()
		body := gin.H{
			"isHydrated":      s.IsHydrated,
			"isAuthenticated": s.IsAuthenticated,
			"isLoading":       s.IsLoading,
			"roles":           s.Roles,
		}
		if !s.TokenExpiresAt.IsZero() {
			body["tokenExpiresAt"] = s.TokenExpiresAt
		}
		if s.User != nil {
			body["user"] = s.User
		}
		if s.Error != "" {
			body["error"] = s.Error
		}
		c.JSON(http.StatusOK, body)
	}
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json") ||
		strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

// loginURL adds next to the login path, keeping any query it already has.
func loginURL(loginPath, next string) string {
	u, err := url.Parse(loginPath)
	if err != nil {
		return loginPath
	}
	q := u.Query()
	q.Set("next", next)
	u.RawQuery = q.Encode()
	return u.String()
}

// safeNext only allows local absolute paths. Browsers read a leading
// backslash as a slash, so "/\host" is as protocol-relative as "//host".
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") {
		return "/"
	}
	if len(next) > 1 && (next[1] == '/' || next[1] == '\\') {
		return "/"
	}
	return next
}
