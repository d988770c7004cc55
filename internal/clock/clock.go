// Package clock abstracts time so schedulers and caches can be tested
// against a fake clock.
package clock

import "time"

// Clock provides the current time and timer channels.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// System is a Clock backed by the wall clock.
type System struct{}

// Now returns the current time.
func (System) Now() time.Time { return time.Now() }

// After wraps time.After.
func (System) After(d time.Duration) <-chan time.Time { return time.After(d) }
