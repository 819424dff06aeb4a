package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeNowAdvances(t *testing.T) {
	c := NewFake(epoch)
	c.Advance(5 * time.Second)
	if got, want := c.Now(), epoch.Add(5*time.Second); !got.Equal(want) {
		t.Fatalf("Now() = %v, want %v", got, want)
	}
}

func TestFakeAfterFuncFiresAtDeadline(t *testing.T) {
	c := NewFake(epoch)
	fired := 0
	c.AfterFunc(10*time.Second, func() { fired++ })

	c.Advance(9 * time.Second)
	if fired != 0 {
		t.Fatal("fired before deadline")
	}
	c.Advance(time.Second)
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
	c.Advance(time.Hour)
	if fired != 1 {
		t.Fatalf("one-shot timer fired %d times", fired)
	}
}

func TestFakeAfterFuncNonPositiveRunsImmediately(t *testing.T) {
	c := NewFake(epoch)
	fired := false
	timer := c.AfterFunc(0, func() { fired = true })
	if !fired {
		t.Fatal("AfterFunc(0) should run f before returning")
	}
	if timer.Stop() {
		t.Error("Stop() on a fired timer should return false")
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}

func TestFakeStopPreventsFire(t *testing.T) {
	c := NewFake(epoch)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Fatal("Stop() should return true for a pending timer")
	}
	if timer.Stop() {
		t.Error("second Stop() should return false")
	}
	c.Advance(time.Minute)
	if fired {
		t.Fatal("stopped timer fired")
	}
}

func TestFakeCallbackSeesDeadlineAndCanReschedule(t *testing.T) {
	c := NewFake(epoch)
	var seen []time.Time
	var tick func()
	tick = func() {
		seen = append(seen, c.Now())
		if len(seen) < 3 {
			c.AfterFunc(time.Minute, tick)
		}
	}
	c.AfterFunc(time.Minute, tick)

	c.Advance(10 * time.Minute)
	if len(seen) != 3 {
		t.Fatalf("fired %d times, want 3", len(seen))
	}
	for i, at := range seen {
		if want := epoch.Add(time.Duration(i+1) * time.Minute); !at.Equal(want) {
			t.Errorf("fire %d at %v, want %v", i, at, want)
		}
	}
	if got := c.Now(); !got.Equal(epoch.Add(10 * time.Minute)) {
		t.Errorf("Now() = %v after Advance", got)
	}
}

func TestFakeFiresInDeadlineOrder(t *testing.T) {
	c := NewFake(epoch)
	var order []int
	c.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	c.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	c.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	c.Advance(5 * time.Second)
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("order = %v, want [1 2 3]", order)
	}
}

func TestFakeSetDoesNotFire(t *testing.T) {
	c := NewFake(epoch)
	fired := false
	c.AfterFunc(time.Minute, func() { fired = true })
	c.Set(epoch.Add(time.Hour))
	if fired {
		t.Fatal("Set must not fire timers")
	}
	if d, ok := c.NextDeadline(); !ok || !d.Equal(epoch.Add(time.Minute)) {
		t.Errorf("NextDeadline() = %v, %v", d, ok)
	}
}

func TestRealAfterFunc(t *testing.T) {
	done := make(chan struct{})
	Real().AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("real AfterFunc did not fire")
	}
}
