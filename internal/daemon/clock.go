package daemon

import "time"

// Clock abstracts time so the controller can be driven by tests.
type Clock interface {
	// Now returns the current time
	Now() time.Time
	// NewTicker creates a ticker that sends on its channel every d
	NewTicker(d time.Duration) Ticker
	// AfterFunc calls f in its own goroutine after d
	AfterFunc(d time.Duration, f func()) Timer
}

// Ticker is the subset of time.Ticker the controller uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Timer is the subset of time.Timer the controller uses.
type Timer interface {
	Stop() bool
}

// RealClock implements Clock using the system time.
type RealClock struct{}

// Now returns the current time
func (RealClock) Now() time.Time {
	return time.Now()
}

// NewTicker wraps time.NewTicker
func (RealClock) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

// AfterFunc wraps time.AfterFunc
func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }
