// Package system implements pipeline.Clock with the wall clock.
package system

import "time"

// Clock reads the system time. Checkpoint timestamps always use UTC so
// stored records compare consistently across hosts.
type Clock struct{}

// New returns a Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
