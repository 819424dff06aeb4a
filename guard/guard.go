// Package guard gates protected admin views on the session state.
//
// Evaluate is a pure function of the session snapshot. A Gate wraps it for
// one mounted view and makes sure the redirect to the login route is
// issued once, not on every re-render.
package guard

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"

	adminauth "github.com/chimerakang/adminauth-go"
	"github.com/chimerakang/adminauth-go/audit"
	"github.com/chimerakang/adminauth-go/capability"
	"github.com/chimerakang/adminauth-go/metrics"
)

// Status is the resolved access state of a view.
type Status int

const (
	// Pending means the session is not hydrated yet.
	Pending Status = iota
	// Unauthenticated means there is no session; the view redirects.
	Unauthenticated
	// Forbidden means the session lacks a required capability.
	Forbidden
	// Allowed means the view renders.
	Allowed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	case Allowed:
		return "allowed"
	}
	return "unknown"
}

// Decision is the outcome of evaluating a session against a Guard.
type Decision struct {
	Status Status
	// Redirect is the fallback destination when Status is Unauthenticated.
	Redirect string
	// Missing lists the required capabilities no session role grants.
	Missing []string
}

// Source provides session snapshots. session.Manager implements it.
type Source interface {
	Snapshot() adminauth.State
}

// Guard holds the access requirements of a protected view.
type Guard struct {
	requireAuth bool
	required    []string
	fallback    string
	resolver    adminauth.CapabilityResolver
	logger      *slog.Logger
	metrics     *metrics.Metrics
	audit       *audit.Logger
}

// Option configures a Guard.
type Option func(*Guard)

// Public makes the guard inert: the view renders whatever the session.
func Public() Option {
	return func(g *Guard) { g.requireAuth = false }
}

// Require adds capabilities every one of which some session role must grant.
func Require(capabilities ...string) Option {
	return func(g *Guard) { g.required = append(g.required, capabilities...) }
}

// WithFallback sets where unauthenticated visitors are sent.
// Default: adminauth.DefaultLoginPath.
func WithFallback(dest string) Option {
	return func(g *Guard) { g.fallback = dest }
}

// WithResolver sets the role → capability lookup. Default: capability.Default().
func WithResolver(r adminauth.CapabilityResolver) Option {
	return func(g *Guard) { g.resolver = r }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// WithMetrics records guard outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) { g.metrics = m }
}

// WithAudit records denials.
func WithAudit(a *audit.Logger) Option {
	return func(g *Guard) { g.audit = a }
}

// New creates a Guard that requires authentication and no capabilities.
func New(opts ...Option) *Guard {
	g := &Guard{
		requireAuth: true,
		fallback:    adminauth.DefaultLoginPath,
		resolver:    capability.Default(),
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Required returns the capabilities the guard checks.
func (g *Guard) Required() []string { return slices.Clone(g.required) }

// Evaluate decides access for session s.
func (g *Guard) Evaluate(s adminauth.State) Decision {
	if !g.requireAuth {
		return Decision{Status: Allowed}
	}
	if !s.IsHydrated {
		return Decision{Status: Pending}
	}
	if !s.IsAuthenticated {
		return Decision{Status: Unauthenticated, Redirect: g.fallback}
	}
	if len(g.required) > 0 {
		if missing := capability.Missing(g.resolver, s.Roles, g.required); len(missing) > 0 {
			return Decision{Status: Forbidden, Missing: missing}
		}
	}
	return Decision{Status: Allowed}
}

// Decide evaluates s and records the outcome for path.
func (g *Guard) Decide(ctx context.Context, s adminauth.State, path string) Decision {
	d := g.Evaluate(s)
	g.metrics.RecordGuard(d.Status.String())
	if d.Status == Forbidden {
		subject := ""
		if s.User != nil {
			subject = s.User.Email
		}
		reason := "missing " + strings.Join(d.Missing, ", ")
		g.logger.Info("access denied", "path", path, "missing", d.Missing)
		g.audit.Log(ctx, audit.Event{
			Action:  audit.ActionGuard,
			Result:  audit.ResultDenied,
			Subject: subject,
			Path:    path,
			Reason:  reason,
		})
	}
	return d
}

// Render is what a mounted view shows.
type Render int

const (
	RenderLoading Render = iota
	RenderNothing
	RenderDenied
	RenderChildren
)

// View is a Gate's answer for one render.
type View struct {
	Render Render
	// RedirectTo is set on the single render that must navigate away.
	RedirectTo string
	Missing    []string
}

// Gate is a Guard mounted on one view.
type Gate struct {
	guard  *Guard
	source Source
	path   string

	mu         sync.Mutex
	redirected bool
}

// Mount binds g to a view at path reading session state from source.
func (g *Guard) Mount(source Source, path string) *Gate {
	return &Gate{guard: g, source: source, path: path}
}

// Check evaluates the current session for a render of the view.
func (gt *Gate) Check(ctx context.Context) View {
	d := gt.guard.Decide(ctx, gt.source.Snapshot(), gt.path)

	switch d.Status {
	case Pending:
		return View{Render: RenderLoading}
	case Unauthenticated:
		gt.mu.Lock()
		defer gt.mu.Unlock()
		if gt.redirected {
			return View{Render: RenderNothing}
		}
		gt.redirected = true
		return View{Render: RenderNothing, RedirectTo: d.Redirect}
	}

	// A signed-in session re-arms the redirect for the next sign-out.
	gt.mu.Lock()
	gt.redirected = false
	gt.mu.Unlock()
	if d.Status == Forbidden {
		return View{Render: RenderDenied, Missing: d.Missing}
	}
	return View{Render: RenderChildren}
}

// Redirected reports whether the gate has redirected for the current
// signed-out period.
func (gt *Gate) Redirected() bool {
	gt.mu.Lock()
	defer gt.mu.Unlock()
	return gt.redirected
}
