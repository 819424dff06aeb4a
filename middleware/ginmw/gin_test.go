package ginmw

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	adminauth "github.com/chimerakang/adminauth-go"
	"github.com/chimerakang/adminauth-go/capability"
	"github.com/chimerakang/adminauth-go/clock"
	"github.com/chimerakang/adminauth-go/fake"
	"github.com/chimerakang/adminauth-go/guard"
	"github.com/chimerakang/adminauth-go/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type staticSource adminauth.State

func (s staticSource) Snapshot() adminauth.State { return adminauth.State(s) }

func protected(src guard.Source, g *guard.Guard) *gin.Engine {
	r := gin.New()
	r.GET("/admin/orders", Guard(src, g), func(c *gin.Context) {
		s, ok := GetState(c)
		if !ok {
			c.String(http.StatusInternalServerError, "no state")
			return
		}
		if fromCtx, _ := adminauth.StateFromContext(c.Request.Context()); fromCtx.Token != s.Token {
			c.String(http.StatusInternalServerError, "request context not populated")
			return
		}
		c.String(http.StatusOK, "orders for %s", strings.Join(GetRoles(c), ","))
	})
	return r
}

func TestGuard(t *testing.T) {
	signedIn := func(roles ...string) adminauth.State {
		return adminauth.State{IsHydrated: true, IsAuthenticated: true, Token: "tok", Roles: roles}
	}
	g := guard.New(guard.Require(capability.Read(capability.Orders)))

	tests := []struct {
		name     string
		state    adminauth.State
		accept   string
		wantCode int
		wantLoc  string
	}{
		{"pending", adminauth.State{}, "", http.StatusServiceUnavailable, ""},
		{"anonymous html", adminauth.State{IsHydrated: true}, "text/html", http.StatusFound, "/login?next=%2Fadmin%2Forders"},
		{"anonymous json", adminauth.State{IsHydrated: true}, "application/json", http.StatusUnauthorized, ""},
		{"forbidden", signedIn("editor"), "", http.StatusForbidden, ""},
		{"allowed", signedIn("support"), "", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := protected(staticSource(tt.state), g)
			req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantLoc != "" && w.Header().Get("Location") != tt.wantLoc {
				t.Errorf("Location = %q, want %q", w.Header().Get("Location"), tt.wantLoc)
			}
		})
	}
}

func TestGuard_RedirectKeepsLoginQuery(t *testing.T) {
	g := guard.New(guard.WithFallback("/login?lang=en"))
	r := protected(staticSource(adminauth.State{IsHydrated: true}), g)
	req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
	req.Header.Set("Accept", "text/html")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
	}
	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	if loc.Path != "/login" || loc.Query().Get("lang") != "en" || loc.Query().Get("next") != "/admin/orders" {
		t.Errorf("Location = %q", loc)
	}
}

func TestGuard_PendingRetryAfter(t *testing.T) {
	r := protected(staticSource(adminauth.State{}), guard.New())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/orders", nil))

	if w.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q", w.Header().Get("Retry-After"))
	}
}

func TestGuard_ForbiddenListsMissing(t *testing.T) {
	st := adminauth.State{IsHydrated: true, IsAuthenticated: true, Roles: []string{"editor"}}
	r := protected(staticSource(st), guard.New(guard.Require(capability.Read(capability.Orders))))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/orders", nil))

	var body struct {
		Error   string   `json:"error"`
		Missing []string `json:"missing"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Missing) != 1 || body.Missing[0] != "orders:read" {
		t.Errorf("missing = %v", body.Missing)
	}
}

func TestSafeNext(t *testing.T) {
	tests := map[string]string{
		"":                     "/",
		"/admin/orders":        "/admin/orders",
		"//evil.example.com":   "/",
		"/\\evil.example.com":  "/",
		"https://evil.example": "/",
	}
	for in, want := range tests {
		if got := safeNext(in); got != want {
			t.Errorf("safeNext(%q) = %q, want %q", in, got, want)
		}
	}
}

func consoleWithSession(t *testing.T) (*gin.Engine, *session.Manager) {
	t.Helper()
	backend := fake.NewBackend(
		fake.WithAccount("ops@example.com", "pa55", adminauth.Profile{FirstName: "Ops"}, []string{"support"}),
	)
	mgr := session.New(backend, adminauth.Config{}, session.WithClock(clock.NewFake(time.Now())))
	t.Cleanup(func() { mgr.Close() })
	mgr.Rehydrate(context.Background())

	r := gin.New()
	r.POST("/login", Login(mgr))
	r.POST("/logout", Logout(mgr, "/login"))
	r.GET("/session", Status(mgr))
	admin := r.Group("/admin", Guard(mgr, guard.New()))
	admin.GET("/dashboard", func(c *gin.Context) { c.String(http.StatusOK, "dashboard") })
	return r, mgr
}

func postForm(r http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestLoginLogoutFlow(t *testing.T) {
	r, mgr := consoleWithSession(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/dashboard", nil))
	if w.Code != http.StatusFound {
		t.Fatalf("anonymous dashboard: status %d", w.Code)
	}

	w = postForm(r, "/login?next=/admin/dashboard", url.Values{"identifier": {"ops@example.com"}, "secret": {"wrong"}})
	if w.Code != http.StatusUnauthorized || !strings.Contains(w.Body.String(), "Invalid credentials") {
		t.Fatalf("bad login: status %d body %s", w.Code, w.Body.String())
	}

	w = postForm(r, "/login?next=/admin/dashboard", url.Values{"identifier": {"ops@example.com"}, "secret": {"pa55"}})
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/admin/dashboard" {
		t.Fatalf("login: status %d location %q", w.Code, w.Header().Get("Location"))
	}
	mgr.Wait()

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/dashboard", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("signed-in dashboard: status %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/session", nil))
	var status map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status["isAuthenticated"] != true {
		t.Errorf("status = %v", status)
	}
	if _, leaked := status["token"]; leaked {
		t.Error("status leaks the token")
	}

	w = postForm(r, "/logout", nil)
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/login" {
		t.Fatalf("logout: status %d location %q", w.Code, w.Header().Get("Location"))
	}
	if mgr.Snapshot().IsAuthenticated {
		t.Error("still authenticated after logout")
	}
}

func TestLogin_MissingFields(t *testing.T) {
	r, _ := consoleWithSession(t)
	w := postForm(r, "/login", url.Values{"identifier": {"ops@example.com"}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
