// Package clock abstracts wall-clock time so the refresh scheduler can be
// driven by virtual time in tests.
package clock

import "time"

// Clock is the subset of the time package the session layer uses.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc calls f in its own goroutine after d elapses. The fake
	// clock calls f synchronously from Advance instead, or from AfterFunc
	// itself when d <= 0.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the call from happening. It returns false if the call
	// already happened or the timer was already stopped.
	Stop() bool
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
