package clock

import "time"

// Clock abstracts wall-clock reads so jobs and services can be tested
// against a controlled time source.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
