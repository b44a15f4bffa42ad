// Package clock abstracts wall time so session timestamps, token expiry and
// retention sweeps can be driven deterministically in tests.
package clock

import "time"

// Clock supplies the current time and timer channels.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Real is the production clock.
type Real struct{}

// Now returns the current UTC time.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// After mirrors time.After.
func (Real) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Or returns c when non-nil, otherwise Real.
func Or(c Clock) Clock {
	if c == nil {
		return Real{}
	}
	return c
}
