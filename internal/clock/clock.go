// Package clock provides the monotonic millisecond time base used by the
// registries. Timestamps are 32-bit and wrap; durations are computed with
// unsigned subtraction so a single wrap between two readings is harmless.
package clock

import (
	"sync"
	"time"
)

// Millis is a wrapping millisecond timestamp.
type Millis uint32

// Since returns the elapsed milliseconds from earlier to m, tolerating one
// wrap of the 32-bit counter.
func (m Millis) Since(earlier Millis) Millis {
	return m - earlier
}

// Duration converts a millisecond count to a time.Duration.
func (m Millis) Duration() time.Duration {
	return time.Duration(m) * time.Millisecond
}

// FromDuration converts a time.Duration to whole milliseconds.
func FromDuration(d time.Duration) Millis {
	return Millis(d / time.Millisecond)
}

// Clock supplies monotonic time.
type Clock interface {
	Now() Millis
}

// System counts milliseconds since it was created, using the runtime's
// monotonic clock reading.
type System struct {
	start time.Time
}

// NewSystem creates a System clock starting at zero.
func NewSystem() *System {
	return &System{start: time.Now()}
}

// Now returns milliseconds since the clock was created.
func (s *System) Now() Millis {
	return Millis(uint64(time.Since(s.start) / time.Millisecond))
}

// Fake is a manually driven clock for tests.
type Fake struct {
	mu  sync.Mutex
	now Millis
}

// NewFake creates a Fake clock at the given time.
func NewFake(start Millis) *Fake {
	return &Fake{now: start}
}

// Now returns the current fake time.
func (f *Fake) Now() Millis {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set moves the fake clock to t.
func (f *Fake) Set(t Millis) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// Advance moves the fake clock forward by d milliseconds.
func (f *Fake) Advance(d Millis) Millis {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now += d
	return f.now
}
