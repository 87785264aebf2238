package hal

import "time"

// SystemClock reports microseconds elapsed since it was created, using the
// runtime's monotonic clock reading.
type SystemClock struct{ start time.Time }

// NewSystemClock starts a clock at zero.
func NewSystemClock() *SystemClock { return &SystemClock{start: time.Now()} }

func (c *SystemClock) MonotonicMicros() uint64 {
	return uint64(time.Since(c.start).Microseconds())
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() uint64

func (f ClockFunc) MonotonicMicros() uint64 { return f() }
