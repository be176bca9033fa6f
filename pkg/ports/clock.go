package ports

import "time"

// Clock abstracts time so suspension timestamps and timer wake-ups are testable.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// RealClock reads the system clock.
type RealClock struct{}

// NewRealClock returns the system clock.
func NewRealClock() Clock { return RealClock{} }

func (RealClock) Now() time.Time                         { return time.Now() }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
