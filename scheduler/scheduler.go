// Package scheduler refreshes the session token shortly before it expires.
//
// A Scheduler owns at most one pending timer. Every Schedule call first
// disarms the previous timer, so calling it from several places (after
// login, after a refresh, after rehydration) never stacks timers.
package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/chimerakang/adminauth-go/clock"
)

// DefaultSafetyMargin is how long before expiry the refresh fires.
const DefaultSafetyMargin = 5 * time.Minute

// RefreshFunc refreshes the token and reports success.
type RefreshFunc func(ctx context.Context) bool

// LogoutFunc ends the session.
type LogoutFunc func(ctx context.Context)

// Scheduler arms a single one-shot refresh timer.
type Scheduler struct {
	clock  clock.Clock
	margin time.Duration
	logger *slog.Logger
	ctx    context.Context

	mu     sync.Mutex
	timer  clock.Timer
	fireAt time.Time
	// generation invalidates callbacks of timers that were replaced or
	// disarmed after their callback was already running or queued.
	generation uint64
}

// Option configures the Scheduler.
type Option func(*Scheduler)

// WithClock sets the time source. Default: clock.Real().
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithSafetyMargin sets how long before expiry the refresh fires.
func WithSafetyMargin(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.margin = d
		}
	}
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithContext sets the context passed to callbacks fired by the timer.
func WithContext(ctx context.Context) Option {
	return func(s *Scheduler) { s.ctx = ctx }
}

// New creates a Scheduler with no timer armed.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:  clock.Real(),
		margin: DefaultSafetyMargin,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		ctx:    context.Background(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Schedule replaces any armed timer with one that calls refresh at
// expiresAt minus the safety margin. If refresh reports failure, logout is
// called. If expiresAt is not in the future, logout is called before
// Schedule returns and nothing is armed.
func (s *Scheduler) Schedule(expiresAt time.Time, refresh RefreshFunc, logout LogoutFunc) {
	s.mu.Lock()
	s.disarmLocked()
	gen := s.generation

	now := s.clock.Now()
	if !expiresAt.After(now) {
		s.mu.Unlock()
		s.logger.Info("token already expired, logging out", "expires_at", expiresAt)
		logout(s.ctx)
		return
	}

	delay := max(expiresAt.Add(-s.margin).Sub(now), 0)
	s.fireAt = now.Add(delay)
	s.mu.Unlock()

	// The lock is released while arming: a fake clock runs zero-delay
	// callbacks inline, and fire takes the lock.
	timer := s.clock.AfterFunc(delay, func() { s.fire(gen, refresh, logout) })

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		// Fired inline, disarmed, or replaced while arming.
		timer.Stop()
		return
	}
	s.timer = timer
	s.logger.Debug("refresh armed", "expires_at", expiresAt, "fire_in", delay)
}

// Disarm cancels the pending timer, if any. A callback that has not yet
// started will not run. Safe to call with nothing armed.
func (s *Scheduler) Disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disarmLocked()
}

// Armed reports whether a refresh is pending.
func (s *Scheduler) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// FireAt returns when the pending refresh fires.
func (s *Scheduler) FireAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer == nil {
		return time.Time{}, false
	}
	return s.fireAt, true
}

func (s *Scheduler) disarmLocked() {
	s.generation++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.fireAt = time.Time{}
}

func (s *Scheduler) fire(gen uint64, refresh RefreshFunc, logout LogoutFunc) {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	// Consume this arm; anything scheduled from inside refresh starts a new one.
	s.generation++
	s.timer = nil
	s.fireAt = time.Time{}
	s.mu.Unlock()

	if refresh(s.ctx) {
		return
	}
	s.logger.Warn("scheduled refresh failed, logging out")
	logout(s.ctx)
}
