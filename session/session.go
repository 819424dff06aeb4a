// Package session implements the admin console's session store.
//
// A Manager is the only mutator of the session. It signs in against the
// backend, keeps the bearer token attached to outbound calls, refreshes the
// token ahead of expiry through a scheduler, writes the durable subset of
// the session through to storage, and resets everything on logout.
//
// Boot is two steps: construct with New, then call Rehydrate before any
// guard decision. Ready is closed once rehydration has finished.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	adminauth "github.com/chimerakang/adminauth-go"
	"github.com/chimerakang/adminauth-go/audit"
	"github.com/chimerakang/adminauth-go/clock"
	"github.com/chimerakang/adminauth-go/metrics"
	"github.com/chimerakang/adminauth-go/persist"
	"github.com/chimerakang/adminauth-go/rest"
	"github.com/chimerakang/adminauth-go/scheduler"
	"github.com/chimerakang/adminauth-go/token"
)

// Logout reasons reported to metrics and audit.
const (
	ReasonUser          = "user"
	ReasonRefreshFailed = "refresh_failed"
	ReasonExpired       = "expired"
)

// Manager owns the session state and every transition of it.
type Manager struct {
	backend  adminauth.Backend
	cfg      adminauth.Config
	clock    clock.Clock
	sched    *scheduler.Scheduler
	store    *persist.Adapter
	sink     adminauth.TokenSink
	verifier adminauth.TokenVerifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	audit    *audit.Logger
	id       string

	ctx    context.Context
	cancel context.CancelFunc

	refreshes singleflight.Group
	bg        sync.WaitGroup

	// persistMu serializes storage writes and guards saved. Never taken
	// while mu is held.
	persistMu sync.Mutex
	saved     adminauth.Persisted

	mu       sync.Mutex
	state    adminauth.State
	epoch    uint64
	inflight int

	// hydrating is set by the one Rehydrate call that loads storage.
	hydrating bool
	ready     chan struct{}
}

type options struct {
	storage  adminauth.Storage
	sink     adminauth.TokenSink
	verifier adminauth.TokenVerifier
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics
	audit    *audit.Logger
	ctx      context.Context
}

// Option configures the Manager.
type Option func(*options)

// WithStorage enables write-through persistence to s under
// Config.StorageNamespace.
func WithStorage(s adminauth.Storage) Option {
	return func(o *options) { o.storage = s }
}

// WithTokenSink sets the outbound-request layer that carries the bearer.
func WithTokenSink(s adminauth.TokenSink) Option {
	return func(o *options) { o.sink = s }
}

// WithVerifier sets how expiry and roles are read from a token when the
// backend leaves them out. Default: token.Unverified().
func WithVerifier(v adminauth.TokenVerifier) Option {
	return func(o *options) { o.verifier = v }
}

// WithClock sets the time source. Default: clock.Real().
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records session metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithAudit emits session audit events.
func WithAudit(a *audit.Logger) Option {
	return func(o *options) { o.audit = a }
}

// WithContext sets the base context for timer-driven refreshes.
// Close cancels it.
func WithContext(ctx context.Context) Option {
	return func(o *options) { o.ctx = ctx }
}

// New creates a Manager with an empty, not yet hydrated session.
func New(backend adminauth.Backend, cfg adminauth.Config, opts ...Option) *Manager {
	o := options{
		clock:    clock.Real(),
		verifier: token.Unverified(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	cfg = cfg.WithDefaults()

	m := &Manager{
		backend:  backend,
		cfg:      cfg,
		clock:    o.clock,
		sink:     o.sink,
		verifier: o.verifier,
		metrics:  o.metrics,
		audit:    o.audit,
		id:       uuid.NewString(),
		ready:    make(chan struct{}),
	}
	m.logger = o.logger.With("session", m.id)
	m.ctx, m.cancel = context.WithCancel(o.ctx)
	if o.storage != nil {
		m.store = persist.NewAdapter(o.storage, cfg.StorageNamespace, persist.WithLogger(m.logger))
	}
	m.sched = scheduler.New(
		scheduler.WithClock(m.clock),
		scheduler.WithSafetyMargin(cfg.SafetyMargin.Duration),
		scheduler.WithLogger(m.logger),
		scheduler.WithContext(m.ctx),
	)
	return m
}

// ID identifies this Manager instance in logs.
func (m *Manager) ID() string { return m.id }

// Config returns the effective configuration.
func (m *Manager) Config() adminauth.Config { return m.cfg }

// Snapshot returns a copy of the current session. With StrictExpiry set,
// a session whose token has expired reads as unauthenticated.
func (m *Manager) Snapshot() adminauth.State {
	m.mu.Lock()
	s := m.state.Clone()
	m.mu.Unlock()

	if m.cfg.StrictExpiry && s.IsAuthenticated && s.ExpiredAt(m.clock.Now()) {
		s.IsAuthenticated = false
	}
	return s
}

// RefreshAt returns when the pending refresh fires.
func (m *Manager) RefreshAt() (time.Time, bool) { return m.sched.FireAt() }

// Login exchanges credentials for a session. It never returns an error;
// failures are reported in the result and in State.Error, and leave any
// prior session untouched. On success the refresh is armed and the profile
// is fetched in the background.
func (m *Manager) Login(ctx context.Context, creds adminauth.Credentials) adminauth.LoginResult {
	m.mu.Lock()
	m.beginLocked()
	m.state.Error = ""
	m.mu.Unlock()

	grant, err := m.login(ctx, creds)
	if err != nil {
		msg := errorMessage(err)
		m.mu.Lock()
		m.endLocked()
		m.state.Error = msg
		m.mu.Unlock()

		m.logger.Info("login failed", "identifier", creds.Identifier, "error", err)
		m.metrics.RecordLogin("failure")
		m.audit.Log(ctx, audit.Event{Action: audit.ActionLogin, Result: audit.ResultFailure, Subject: creds.Identifier, Error: msg})
		return adminauth.LoginResult{Error: msg}
	}

	m.mu.Lock()
	m.endLocked()
	m.epoch++
	gen := m.epoch
	m.state.Token = grant.AccessToken
	m.state.TokenExpiresAt = grant.ExpiresAt
	m.state.Roles = grant.Roles
	m.state.IsAuthenticated = true
	m.state.User = nil
	m.state.Error = ""
	m.mu.Unlock()

	if m.sink != nil {
		m.sink.SetToken(grant.AccessToken)
	}
	m.persist(ctx)
	m.schedule(grant.ExpiresAt)

	m.logger.Info("login succeeded", "identifier", creds.Identifier, "roles", grant.Roles, "expires_at", grant.ExpiresAt)
	m.metrics.RecordLogin("success")
	m.audit.Log(ctx, audit.Event{Action: audit.ActionLogin, Result: audit.ResultSuccess, Subject: creds.Identifier})

	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		m.fetchProfile(context.WithoutCancel(ctx), gen)
	}()

	return adminauth.LoginResult{Success: true}
}

func (m *Manager) login(ctx context.Context, creds adminauth.Credentials) (*adminauth.Grant, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout.Duration)
	defer cancel()

	grant, err := m.backend.Login(ctx, creds)
	if err != nil {
		return nil, err
	}
	return m.resolve(ctx, grant)
}

// resolve fills a grant's missing expiry and roles from the token's claims
// and rejects grants that are unusable.
func (m *Manager) resolve(ctx context.Context, g *adminauth.Grant) (*adminauth.Grant, error) {
	if g == nil || g.AccessToken == "" {
		return nil, fmt.Errorf("adminauth/session: backend returned no token")
	}
	out := &adminauth.Grant{
		AccessToken: g.AccessToken,
		Roles:       slices.Clone(g.Roles),
		ExpiresAt:   g.ExpiresAt,
	}

	if (out.ExpiresAt.IsZero() || len(out.Roles) == 0) && m.verifier != nil {
		claims, err := m.verifier.Verify(ctx, out.AccessToken)
		switch {
		case err != nil && out.ExpiresAt.IsZero():
			return nil, fmt.Errorf("%w: %w", adminauth.ErrMissingExpiry, err)
		case err != nil:
			m.logger.Debug("token claims unavailable", "error", err)
		default:
			if out.ExpiresAt.IsZero() {
				out.ExpiresAt = claims.ExpiresAt
			}
			if len(out.Roles) == 0 {
				out.Roles = slices.Clone(claims.Roles)
			}
		}
	}

	if out.ExpiresAt.IsZero() {
		return nil, adminauth.ErrMissingExpiry
	}
	if !out.ExpiresAt.After(m.clock.Now()) {
		return nil, adminauth.ErrTokenExpired
	}
	out.ExpiresAt = out.ExpiresAt.UTC()
	return out, nil
}

// Logout ends the session. The backend is told best-effort; whatever it
// answers, the refresh timer is disarmed, the bearer is detached, and the
// session and its persisted copy are reset. Safe to call repeatedly and
// while a refresh is in flight.
func (m *Manager) Logout(ctx context.Context) {
	m.logout(ctx, ReasonUser)
}

func (m *Manager) logout(ctx context.Context, reason string) {
	// The session is reset before any I/O so that a refresh or profile
	// fetch starting during the backend call finds no token.
	m.mu.Lock()
	m.epoch++
	gen := m.epoch
	tok := m.state.Token
	had := tok != "" || m.state.IsAuthenticated || m.state.User != nil
	subject := ""
	if m.state.User != nil {
		subject = m.state.User.Email
	}
	m.state = adminauth.State{IsHydrated: m.state.IsHydrated}
	m.beginLocked()
	if m.sink != nil {
		m.sink.ClearToken()
	}
	m.mu.Unlock()

	m.sched.Disarm()
	m.metrics.SetRefreshArmed(false)
	m.metrics.SetTokenExpiry(0)

	m.mu.Lock()
	relogged := m.epoch != gen && m.state.IsAuthenticated
	exp := m.state.TokenExpiresAt
	m.mu.Unlock()
	if relogged {
		// A login completed between the reset and the disarm.
		m.schedule(exp)
	}

	m.clearPersisted(ctx, gen)

	if tok != "" {
		cctx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout.Duration)
		if err := m.backend.Logout(cctx, tok); err != nil {
			m.logger.Warn("backend logout failed, local session already cleared", "error", err)
		}
		cancel()
	}

	m.mu.Lock()
	m.endLocked()
	m.mu.Unlock()

	if had {
		m.logger.Info("logged out", "reason", reason)
		m.metrics.RecordLogout(reason)
		m.audit.Log(ctx, audit.Event{Action: audit.ActionLogout, Result: audit.ResultSuccess, Subject: subject, Reason: reason})
	}
}

const refreshKey = "refresh"

type refreshResult struct {
	ok    bool
	stale bool
}

// RefreshToken exchanges the held token for a new one and re-arms the
// refresh timer. On failure the session is logged out and false is
// returned. Concurrent calls share one backend request.
func (m *Manager) RefreshToken(ctx context.Context) bool {
	return m.refreshShared(ctx).ok
}

func (m *Manager) refreshShared(ctx context.Context) refreshResult {
	v, _, _ := m.refreshes.Do(refreshKey, func() (any, error) {
		return m.refresh(ctx), nil
	})
	return v.(refreshResult)
}

func (m *Manager) refresh(ctx context.Context) refreshResult {
	m.mu.Lock()
	tok := m.state.Token
	gen := m.epoch
	if tok == "" {
		m.mu.Unlock()
		m.logger.Debug("refresh skipped, no token held")
		m.metrics.RecordRefresh("failure")
		m.logout(ctx, ReasonRefreshFailed)
		return refreshResult{}
	}
	m.beginLocked()
	m.mu.Unlock()

	grant, err := m.refreshGrant(ctx, tok)

	m.mu.Lock()
	m.endLocked()
	if m.epoch != gen {
		m.mu.Unlock()
		m.logger.Debug("discarding refresh result for ended session")
		m.metrics.RecordRefresh("stale")
		return refreshResult{stale: true}
	}
	if err != nil {
		m.mu.Unlock()
		m.logger.Warn("token refresh failed, logging out", "error", err)
		m.metrics.RecordRefresh("failure")
		m.audit.Log(ctx, audit.Event{Action: audit.ActionRefresh, Result: audit.ResultFailure, Error: err.Error()})
		m.logout(ctx, ReasonRefreshFailed)
		return refreshResult{}
	}
	m.state.Token = grant.AccessToken
	m.state.TokenExpiresAt = grant.ExpiresAt
	m.state.IsAuthenticated = true
	if len(grant.Roles) > 0 {
		m.state.Roles = grant.Roles
	}
	m.mu.Unlock()

	if m.sink != nil {
		m.sink.SetToken(grant.AccessToken)
	}
	m.persist(ctx)
	// A timer armed below may fire before this call returns; it must start
	// its own refresh rather than join this one.
	m.refreshes.Forget(refreshKey)
	m.schedule(grant.ExpiresAt)

	m.logger.Info("token refreshed", "expires_at", grant.ExpiresAt)
	m.metrics.RecordRefresh("success")
	m.audit.Log(ctx, audit.Event{Action: audit.ActionRefresh, Result: audit.ResultSuccess})
	return refreshResult{ok: true}
}

func (m *Manager) refreshGrant(ctx context.Context, tok string) (*adminauth.Grant, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout.Duration)
	defer cancel()

	grant, err := m.backend.Refresh(ctx, tok)
	if err != nil {
		return nil, err
	}
	return m.resolve(ctx, grant)
}

// GetProfile fetches the signed-in user's profile and stores it. Failures
// are logged and leave the current profile as is.
func (m *Manager) GetProfile(ctx context.Context) {
	m.mu.Lock()
	gen := m.epoch
	m.mu.Unlock()
	m.fetchProfile(ctx, gen)
}

func (m *Manager) fetchProfile(ctx context.Context, gen uint64) {
	m.mu.Lock()
	tok := m.state.Token
	if tok == "" || m.epoch != gen {
		m.mu.Unlock()
		return
	}
	m.beginLocked()
	m.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout.Duration)
	profile, err := m.backend.Profile(cctx, tok)
	cancel()

	m.mu.Lock()
	m.endLocked()
	if err != nil {
		m.mu.Unlock()
		m.logger.Warn("profile fetch failed", "error", err)
		m.metrics.RecordProfileFailure()
		m.audit.Log(ctx, audit.Event{Action: audit.ActionProfile, Result: audit.ResultFailure, Error: err.Error()})
		return
	}
	if m.epoch != gen || profile == nil {
		m.mu.Unlock()
		return
	}
	p := *profile
	m.state.User = &p
	m.mu.Unlock()

	m.persist(ctx)
	m.logger.Debug("profile loaded", "email", p.Email)
}

// ClearError dismisses the last error.
func (m *Manager) ClearError() {
	m.mu.Lock()
	m.state.Error = ""
	m.mu.Unlock()
}

// SetLoading sets the loading flag. The next operation to settle
// recomputes it.
func (m *Manager) SetLoading(loading bool) {
	m.mu.Lock()
	m.state.IsLoading = loading
	m.mu.Unlock()
}

// Rehydrate loads the persisted session into memory, marks the session
// hydrated and closes Ready. A still-valid session has its refresh armed;
// one that expired while stored is logged out. A missing or unreadable
// record leaves the session empty. Only the first call loads; concurrent
// and later calls wait for it and return the current persisted subset.
func (m *Manager) Rehydrate(ctx context.Context) adminauth.Persisted {
	m.mu.Lock()
	if m.hydrating {
		m.mu.Unlock()
		select {
		case <-m.ready:
		case <-ctx.Done():
		}
		m.mu.Lock()
		p := m.state.Persisted()
		m.mu.Unlock()
		return p
	}
	m.hydrating = true
	m.mu.Unlock()

	var (
		loaded adminauth.Persisted
		ok     bool
	)
	if m.store != nil {
		loaded, ok = m.store.Load(ctx)
	}

	m.persistMu.Lock()
	m.mu.Lock()
	// A login that finished before hydration wins over the stored copy.
	merge := ok && m.epoch == 0
	if merge {
		m.state.Token = loaded.Token
		m.state.User = loaded.User
		m.state.Roles = loaded.Roles
		m.state.IsAuthenticated = loaded.IsAuthenticated
		m.state.TokenExpiresAt = loaded.TokenExpiresAt
		m.saved = m.state.Persisted()
	}
	m.state.IsHydrated = true
	s := m.state.Clone()
	m.mu.Unlock()
	m.persistMu.Unlock()
	close(m.ready)

	if !merge {
		m.logger.Debug("session hydrated empty")
		return adminauth.Persisted{}
	}

	if s.Token != "" && m.sink != nil {
		m.sink.SetToken(s.Token)
	}
	if s.IsAuthenticated && !s.TokenExpiresAt.IsZero() {
		m.schedule(s.TokenExpiresAt)
	}
	m.logger.Info("session rehydrated", "authenticated", s.IsAuthenticated, "expires_at", s.TokenExpiresAt)
	return loaded
}

// Ready is closed once Rehydrate has finished.
func (m *Manager) Ready() <-chan struct{} { return m.ready }

// Hydrated reports whether Rehydrate has finished.
func (m *Manager) Hydrated() bool {
	select {
	case <-m.ready:
		return true
	default:
		return false
	}
}

// Wait blocks until background profile fetches have finished.
func (m *Manager) Wait() { m.bg.Wait() }

// Close disarms the refresh timer, cancels the base context and waits for
// background work. The session itself is left intact, as is its persisted
// copy.
func (m *Manager) Close() error {
	m.sched.Disarm()
	m.metrics.SetRefreshArmed(false)
	m.cancel()
	m.bg.Wait()
	return nil
}

func (m *Manager) schedule(expiresAt time.Time) {
	m.metrics.SetTokenExpiry(expiresAt.Unix())
	m.sched.Schedule(expiresAt, m.onTimer, m.onExpired)
	m.metrics.SetRefreshArmed(m.sched.Armed())
}

// onTimer is the scheduler's refresh callback. A refresh overtaken by a
// logout or a new login counts as handled.
func (m *Manager) onTimer(ctx context.Context) bool {
	r := m.refreshShared(ctx)
	return r.ok || r.stale
}

func (m *Manager) onExpired(ctx context.Context) {
	m.logout(ctx, ReasonExpired)
}

// persist writes the durable subset when it differs from the last write.
func (m *Manager) persist(ctx context.Context) {
	if m.store == nil {
		return
	}
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.Lock()
	p := m.state.Persisted()
	m.mu.Unlock()

	if p.Equal(m.saved) {
		return
	}
	if err := m.store.Save(ctx, p); err != nil {
		m.logger.Warn("persisting session failed", "error", err)
		m.metrics.RecordPersistFailure()
		return
	}
	m.saved = p
}

// clearPersisted removes the stored session unless a login newer than
// epoch gen has already taken its place.
func (m *Manager) clearPersisted(ctx context.Context, gen uint64) {
	if m.store == nil {
		return
	}
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.Lock()
	superseded := m.epoch != gen
	m.mu.Unlock()
	if superseded {
		return
	}

	if err := m.store.Clear(ctx); err != nil {
		m.logger.Warn("clearing persisted session failed", "error", err)
		m.metrics.RecordPersistFailure()
		return
	}
	m.saved = adminauth.Persisted{}
}

func (m *Manager) beginLocked() {
	m.inflight++
	m.state.IsLoading = true
}

func (m *Manager) endLocked() {
	m.inflight--
	m.state.IsLoading = m.inflight > 0
}

// errorMessage is the text shown on the login form.
func errorMessage(err error) string {
	var apiErr *rest.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}
