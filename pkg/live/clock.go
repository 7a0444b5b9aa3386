package live

import "time"

// Clock abstracts wall-clock time and deferred execution so tests can
// drive settle delays and trailing windows deterministically.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a stoppable deferred call.
type Timer interface {
	// Stop prevents the timer from firing. It reports whether the call
	// was stopped before it ran.
	Stop() bool
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// SystemClock returns the real-time Clock used outside of tests.
func SystemClock() Clock { return systemClock{} }
