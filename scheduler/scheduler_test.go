package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/chimerakang/adminauth-go/clock"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type counter struct {
	refreshes int
	logouts   int
	result    bool
}

func (c *counter) refresh(context.Context) bool {
	c.refreshes++
	return c.result
}

func (c *counter) logout(context.Context) { c.logouts++ }

func newTestScheduler() (*Scheduler, *clock.Fake) {
	fc := clock.NewFake(epoch)
	return New(WithClock(fc)), fc
}

func TestSchedule_RepeatedCallsFireOnce(t *testing.T) {
	s, fc := newTestScheduler()
	c := &counter{result: true}

	for i := 0; i < 5; i++ {
		s.Schedule(epoch.Add(10*time.Minute), c.refresh, c.logout)
	}
	if fc.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", fc.Pending())
	}

	fc.Advance(time.Hour)
	if c.refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", c.refreshes)
	}
	if c.logouts != 0 {
		t.Errorf("logouts = %d, want 0", c.logouts)
	}
}

func TestSchedule_ExpiredOnArrivalLogsOutImmediately(t *testing.T) {
	s, fc := newTestScheduler()
	c := &counter{result: true}

	s.Schedule(epoch.Add(-time.Second), c.refresh, c.logout)

	if c.logouts != 1 {
		t.Fatalf("logouts = %d, want 1 before any time passes", c.logouts)
	}
	if s.Armed() {
		t.Error("nothing should be armed for an expired token")
	}
	fc.Advance(time.Hour)
	if c.refreshes != 0 {
		t.Errorf("refreshes = %d, want 0", c.refreshes)
	}
}

func TestSchedule_ExpiresExactlyNowCountsAsExpired(t *testing.T) {
	s, _ := newTestScheduler()
	c := &counter{}
	s.Schedule(epoch, c.refresh, c.logout)
	if c.logouts != 1 {
		t.Fatalf("logouts = %d, want 1", c.logouts)
	}
}

func TestSchedule_SafetyMarginHonored(t *testing.T) {
	s, fc := newTestScheduler()
	c := &counter{result: true}

	s.Schedule(epoch.Add(10*time.Minute), c.refresh, c.logout)
	at, ok := s.FireAt()
	if !ok || !at.Equal(epoch.Add(5*time.Minute)) {
		t.Fatalf("FireAt() = %v, %v; want %v", at, ok, epoch.Add(5*time.Minute))
	}

	fc.Advance(5*time.Minute - time.Millisecond)
	if c.refreshes != 0 {
		t.Fatal("refresh fired before expiry minus margin")
	}
	fc.Advance(time.Millisecond)
	if c.refreshes != 1 {
		t.Fatalf("refreshes = %d at expiry minus margin, want 1", c.refreshes)
	}
}

func TestSchedule_WithinMarginFiresImmediately(t *testing.T) {
	s, _ := newTestScheduler()
	c := &counter{result: true}

	s.Schedule(epoch.Add(2*time.Minute), c.refresh, c.logout)

	if c.refreshes != 1 {
		t.Fatalf("refreshes = %d, want 1 (delay clamps to zero)", c.refreshes)
	}
	if s.Armed() {
		t.Error("fired timer should not remain armed")
	}
}

func TestSchedule_CustomMargin(t *testing.T) {
	fc := clock.NewFake(epoch)
	s := New(WithClock(fc), WithSafetyMargin(time.Minute))
	c := &counter{result: true}

	s.Schedule(epoch.Add(10*time.Minute), c.refresh, c.logout)
	if at, _ := s.FireAt(); !at.Equal(epoch.Add(9 * time.Minute)) {
		t.Fatalf("FireAt() = %v, want %v", at, epoch.Add(9*time.Minute))
	}
}

func TestSchedule_RefreshFailureLogsOutOnce(t *testing.T) {
	s, fc := newTestScheduler()
	c := &counter{result: false}

	s.Schedule(epoch.Add(10*time.Minute), c.refresh, c.logout)
	fc.Advance(time.Hour)

	if c.refreshes != 1 {
		t.Errorf("refreshes = %d, want 1 (no retry)", c.refreshes)
	}
	if c.logouts != 1 {
		t.Errorf("logouts = %d, want 1", c.logouts)
	}
}

func TestDisarm_PreventsFire(t *testing.T) {
	s, fc := newTestScheduler()
	c := &counter{result: true}

	s.Schedule(epoch.Add(10*time.Minute), c.refresh, c.logout)
	s.Disarm()
	s.Disarm() // idempotent

	if s.Armed() {
		t.Error("Armed() after Disarm")
	}
	fc.Advance(time.Hour)
	if c.refreshes != 0 || c.logouts != 0 {
		t.Errorf("refreshes=%d logouts=%d after Disarm, want 0", c.refreshes, c.logouts)
	}
}

func TestSchedule_RefreshCanRearm(t *testing.T) {
	s, fc := newTestScheduler()
	expiry := epoch.Add(10 * time.Minute)
	refreshes := 0

	var refresh RefreshFunc
	refresh = func(context.Context) bool {
		refreshes++
		expiry = expiry.Add(10 * time.Minute)
		s.Schedule(expiry, refresh, func(context.Context) {})
		return true
	}
	s.Schedule(expiry, refresh, func(context.Context) { t.Error("unexpected logout") })

	fc.Advance(26 * time.Minute)
	if refreshes != 3 {
		t.Errorf("refreshes = %d, want 3 (at 5m, 15m, 25m)", refreshes)
	}
	if fc.Pending() != 1 || !s.Armed() {
		t.Errorf("Pending() = %d, Armed() = %v; want exactly one armed timer", fc.Pending(), s.Armed())
	}
}

func TestSchedule_ReplacingKeepsLatestExpiry(t *testing.T) {
	s, fc := newTestScheduler()
	first := &counter{result: true}
	second := &counter{result: true}

	s.Schedule(epoch.Add(10*time.Minute), first.refresh, first.logout)
	s.Schedule(epoch.Add(20*time.Minute), second.refresh, second.logout)

	fc.Advance(14 * time.Minute)
	if first.refreshes != 0 || second.refreshes != 0 {
		t.Fatal("replaced timer fired")
	}
	fc.Advance(time.Minute)
	if second.refreshes != 1 {
		t.Errorf("second.refreshes = %d, want 1", second.refreshes)
	}
	if first.refreshes != 0 {
		t.Errorf("first.refreshes = %d, want 0", first.refreshes)
	}
}

func TestSchedule_RealClock(t *testing.T) {
	done := make(chan struct{})
	s := New(WithSafetyMargin(time.Hour))
	s.Schedule(time.Now().Add(time.Hour+10*time.Millisecond),
		func(context.Context) bool { close(done); return true },
		func(context.Context) { t.Error("unexpected logout") })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh did not fire on the real clock")
	}
}
