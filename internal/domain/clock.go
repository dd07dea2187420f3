package domain

import "time"

// Clock abstracts the current time so bucket days and timestamps are testable
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock
type SystemClock struct{}

// Now returns time.Now
func (SystemClock) Now() time.Time {
	return time.Now()
}
