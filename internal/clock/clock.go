package clock

import "time"

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// Func adapts a plain function, mostly for pinning time in tests.
type Func func() time.Time

func (f Func) Now() time.Time {
	return f()
}
