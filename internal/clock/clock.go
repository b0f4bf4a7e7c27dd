// Package clock provides time sources and a hybrid logical clock used to
// stamp catalog entries.
package clock

import "time"

// Clock abstracts wall time so lifecycle age policies are testable.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock in UTC.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// FakeClock returns a fixed, manually advanced time.
type FakeClock struct {
	Time time.Time
}

func (c *FakeClock) Now() time.Time {
	return c.Time
}

// Advance moves the fake clock forward.
func (c *FakeClock) Advance(d time.Duration) {
	c.Time = c.Time.Add(d)
}
