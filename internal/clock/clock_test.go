package clock

import (
	"math"
	"testing"
	"time"
)

func TestSinceWrapsAround(t *testing.T) {
	before := Millis(math.MaxUint32 - 99)
	after := Millis(400)

	if got := after.Since(before); got != 500 {
		t.Errorf("Since across wrap: got %d, want 500", got)
	}
}

func TestSinceNoWrap(t *testing.T) {
	if got := Millis(1500).Since(1000); got != 500 {
		t.Errorf("Since: got %d, want 500", got)
	}
}

func TestDurationConversion(t *testing.T) {
	if got := Millis(250).Duration(); got != 250*time.Millisecond {
		t.Errorf("Duration: got %v", got)
	}
	if got := FromDuration(2 * time.Second); got != 2000 {
		t.Errorf("FromDuration: got %d", got)
	}
}

func TestFakeClock(t *testing.T) {
	f := NewFake(100)
	if f.Now() != 100 {
		t.Errorf("start: got %d", f.Now())
	}
	if got := f.Advance(50); got != 150 {
		t.Errorf("Advance: got %d", got)
	}
	f.Set(10)
	if f.Now() != 10 {
		t.Errorf("Set: got %d", f.Now())
	}
}

func TestSystemClockMonotonic(t *testing.T) {
	s := NewSystem()
	a := s.Now()
	time.Sleep(2 * time.Millisecond)
	b := s.Now()
	if b.Since(a) == 0 {
		t.Errorf("expected time to advance: a=%d b=%d", a, b)
	}
}
