package ocfl

import "time"

// Clock provides the timestamps recorded in new object versions. The
// repository uses SystemClock unless another Clock is configured; tests use a
// fixed clock.
type Clock interface {
	Now() time.Time
}

// SystemClock is a Clock backed by the system time, in UTC.
var SystemClock Clock = systemClock{}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock returns a Clock that always reports t.
func FixedClock(t time.Time) Clock { return fixedClock{t} }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }
